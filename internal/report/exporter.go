// Package report produces the final training-result artifact: a CSV summary
// of a campaign's recipient records, written UTF-8 with a byte-order mark so
// spreadsheet tools open the localized labels correctly.
package report

import (
	"context"
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/ignite/phishing-trainer/internal/campaign"
	"github.com/ignite/phishing-trainer/internal/pkg/logger"
)

// Recipient statuses, in precedence order: infected beats viewed beats
// not-viewed.
const (
	StatusInfected  = "감염"
	StatusViewed    = "열람"
	StatusNotViewed = "미열람"
)

var columnLabels = []string{
	"ID", "사번", "이름", "이메일", "부서", "직책",
	"IP", "User-Agent", "Referer", "Accept-Language",
	"열람 시각", "감염 시각",
}

// RecordSource reads a campaign's recipient records.
type RecordSource interface {
	ListRecords(ctx context.Context, campaignID string) ([]*campaign.RecipientRecord, error)
}

// Exporter writes final training reports.
type Exporter struct {
	source    RecordSource
	outputDir string
	now       func() time.Time
}

// NewExporter creates a report exporter writing into outputDir.
func NewExporter(source RecordSource, outputDir string) *Exporter {
	return &Exporter{source: source, outputDir: outputDir, now: time.Now}
}

// Summary holds the computed campaign totals.
type Summary struct {
	Total         int
	Viewed        int
	Infected      int
	InfectionRate float64 // percent, rounded to two decimals
}

// Summarize computes the campaign totals from its records.
func Summarize(records []*campaign.RecipientRecord) Summary {
	s := Summary{Total: len(records)}
	for _, r := range records {
		if r.ClickedAt != nil {
			s.Viewed++
		}
		if r.InfectedAt != nil {
			s.Infected++
		}
	}
	if s.Total > 0 {
		s.InfectionRate = math.Round(float64(s.Infected)/float64(s.Total)*100*100) / 100
	}
	return s
}

// RecordStatus derives the reported status of one record. A record with both
// timestamps set reports only as infected.
func RecordStatus(r *campaign.RecipientRecord) string {
	switch {
	case r.InfectedAt != nil:
		return StatusInfected
	case r.ClickedAt != nil:
		return StatusViewed
	default:
		return StatusNotViewed
	}
}

// Export reads every record of the campaign (locked or active) and writes a
// new timestamp-qualified report file. Prior reports are never overwritten,
// so re-running is safe and auditable. Returns the artifact path.
func (e *Exporter) Export(ctx context.Context, campaignID string) (string, error) {
	records, err := e.source.ListRecords(ctx, campaignID)
	if err != nil {
		return "", err
	}
	summary := Summarize(records)

	if err := os.MkdirAll(e.outputDir, 0o755); err != nil {
		return "", fmt.Errorf("creating report dir: %w", err)
	}

	now := e.now()
	path := filepath.Join(e.outputDir,
		fmt.Sprintf("final_report_%s.csv", now.Format("20060102_1504")))

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("creating report file: %w", err)
	}
	defer f.Close()

	// BOM so spreadsheet tools detect UTF-8.
	if _, err := f.WriteString("\uFEFF"); err != nil {
		return "", err
	}

	w := csv.NewWriter(f)

	// Title row, generation timestamp embedded in the third cell.
	title := make([]string, len(columnLabels))
	title[2] = fmt.Sprintf("(%s) 훈련결과", now.Format("2006-01-02 15:04:05"))
	if err := w.Write(title); err != nil {
		return "", err
	}

	// Summary row.
	if err := w.Write([]string{
		"총 대상자 수", strconv.Itoa(summary.Total),
		"총 열람수", strconv.Itoa(summary.Viewed),
		"총 감염수", strconv.Itoa(summary.Infected),
		"감염률", formatRate(summary.InfectionRate),
	}); err != nil {
		return "", err
	}

	// Blank separator, then the detail header with a trailing status column.
	if err := w.Write([]string{}); err != nil {
		return "", err
	}
	if err := w.Write(append(append([]string{}, columnLabels...), "상태")); err != nil {
		return "", err
	}

	for _, r := range records {
		row := []string{
			r.ID.String(), r.EmployeeNo, r.Name, r.Email, r.Department, r.Title,
			r.IPAddress, r.UserAgent, r.Referer, r.AcceptLanguage,
			formatTime(r.ClickedAt), formatTime(r.InfectedAt),
			RecordStatus(r),
		}
		if err := w.Write(row); err != nil {
			return "", err
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return "", err
	}

	logger.Info("report exported", "campaign", campaignID, "path", path,
		"total", summary.Total, "viewed", summary.Viewed, "infected", summary.Infected)
	return path, nil
}

func formatRate(rate float64) string {
	return strconv.FormatFloat(rate, 'f', -1, 64) + "%"
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format("2006-01-02 15:04:05")
}
