package campaign

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/phishing-trainer/internal/pkg/logger"
)

// Mailer is the external mail transport: one send, ok or error. No retries
// happen here; failure recovery is the caller's responsibility.
type Mailer interface {
	Send(ctx context.Context, to, subject, htmlBody, textBody string) error
}

// Renderer is the external template engine.
type Renderer interface {
	Render(templateID string, vars map[string]interface{}) (string, error)
}

// DispatchEngine drives bulk enrollment and mail sending for a campaign.
// Recipients are processed strictly sequentially; one recipient's failure
// never aborts the batch.
type DispatchEngine struct {
	store       *Store
	mailer      Mailer
	renderer    Renderer
	subject     string
	deliveryDir string
	textBody    string
}

// NewDispatchEngine creates a dispatch engine. deliveryDir receives the
// per-dispatch delivery audit CSV; pass "" to skip writing it.
func NewDispatchEngine(store *Store, mailer Mailer, renderer Renderer, subject, deliveryDir string) *DispatchEngine {
	return &DispatchEngine{
		store:       store,
		mailer:      mailer,
		renderer:    renderer,
		subject:     subject,
		deliveryDir: deliveryDir,
		textBody:    "HTML 미지원 메일입니다.",
	}
}

// Dispatch enrolls each recipient into the campaign and sends the rendered
// mail. campaignID must name the current, active campaign. The returned
// result carries both detailed outcome lists for audit export.
func (e *DispatchEngine) Dispatch(ctx context.Context, campaignID string, recipients []Recipient,
	templateID string, mode StageMode, baseURL string) (*DispatchResult, error) {

	if !mode.Valid() {
		return nil, ErrInvalidStageMode
	}

	cur, err := e.store.Current(ctx)
	if err != nil {
		return nil, err
	}
	if cur == nil {
		return nil, ErrNoActiveCampaign
	}
	if cur.ID != campaignID {
		return nil, fmt.Errorf("dispatch to %s: %w", campaignID, ErrNotCurrent)
	}
	if cur.Locked() {
		return nil, ErrCampaignLocked
	}

	result := &DispatchResult{Total: len(recipients)}

	for _, r := range recipients {
		trackingID := uuid.New()
		rec := DeliveryRecord{Recipient: r, TrackingID: trackingID}

		if err := e.sendOne(ctx, campaignID, trackingID, r, templateID, mode, baseURL); err != nil {
			logger.Error("dispatch failed for recipient", "campaign", campaignID,
				"email", r.Email, "error", err.Error())
			rec.ErrorDetail = err.Error()
			result.FailedList = append(result.FailedList, rec)
			continue
		}
		rec.Delivered = true
		result.SentList = append(result.SentList, rec)
	}

	result.Sent = len(result.SentList)
	result.Fail = len(result.FailedList)

	if e.deliveryDir != "" {
		path, err := e.writeDeliveryLog(result)
		if err != nil {
			// The batch itself succeeded; losing the audit CSV is logged, not fatal.
			logger.Error("writing delivery log failed", "campaign", campaignID, "error", err.Error())
		} else {
			result.SavedCSV = path
		}
	}

	logger.Info("dispatch finished", "campaign", campaignID,
		"total", result.Total, "sent", result.Sent, "fail", result.Fail)
	return result, nil
}

// sendOne enrolls one recipient and sends them the rendered mail.
func (e *DispatchEngine) sendOne(ctx context.Context, campaignID string, trackingID uuid.UUID,
	r Recipient, templateID string, mode StageMode, baseURL string) error {

	if err := e.store.InsertRecipient(ctx, campaignID, trackingID, r); err != nil {
		return err
	}

	html, err := e.renderer.Render(templateID, map[string]interface{}{
		"name":        r.Name,
		"tracking_id": trackingID.String(),
		"stage_mode":  int(mode),
		"base_url":    baseURL,
	})
	if err != nil {
		return fmt.Errorf("rendering %s: %w", templateID, err)
	}

	if err := e.mailer.Send(ctx, r.Email, e.subject, html, e.textBody); err != nil {
		return fmt.Errorf("sending to %s: %w", r.Email, err)
	}
	return nil
}

// writeDeliveryLog saves the batch outcome as a timestamped CSV (UTF-8 with
// BOM for spreadsheet compatibility), successes first.
func (e *DispatchEngine) writeDeliveryLog(result *DispatchResult) (string, error) {
	if err := os.MkdirAll(e.deliveryDir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(e.deliveryDir,
		fmt.Sprintf("수신기록_%s.csv", time.Now().Format("20060102_150405")))

	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	if _, err := f.WriteString("\uFEFF"); err != nil {
		return "", err
	}

	w := csv.NewWriter(f)
	if err := w.Write([]string{"사번", "성명", "이메일", "부서", "직책", "수신", "오류메시지"}); err != nil {
		return "", err
	}
	for _, rec := range append(append([]DeliveryRecord{}, result.SentList...), result.FailedList...) {
		status := "성공"
		if !rec.Delivered {
			status = "실패"
		}
		row := []string{rec.EmployeeNo, rec.Name, rec.Email, rec.Department, rec.Title, status, rec.ErrorDetail}
		if err := w.Write(row); err != nil {
			return "", err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", err
	}
	return path, nil
}
