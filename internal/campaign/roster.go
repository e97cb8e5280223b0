package campaign

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"
)

// Roster column headers as they appear in the HR exports this tool receives.
var rosterHeaders = map[string]string{
	"사번":  "employee_no",
	"성명":  "name",
	"이메일": "email",
	"부서":  "department",
	"직책":  "title",
}

// ParseRoster reads a recipient roster CSV keyed by localized column names.
// Unknown columns are ignored; missing columns leave the field empty. A
// leading UTF-8 BOM (common in spreadsheet exports) is stripped.
func ParseRoster(r io.Reader) ([]Recipient, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("roster is empty")
	}
	if err != nil {
		return nil, fmt.Errorf("reading roster header: %w", err)
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\uFEFF")
	}

	cols := make(map[string]int)
	for i, h := range header {
		if field, ok := rosterHeaders[strings.TrimSpace(h)]; ok {
			cols[field] = i
		}
	}
	if _, ok := cols["email"]; !ok {
		return nil, fmt.Errorf("roster has no 이메일 column")
	}

	get := func(row []string, field string) string {
		i, ok := cols[field]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	var recipients []Recipient
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading roster row: %w", err)
		}
		recipients = append(recipients, Recipient{
			EmployeeNo: get(row, "employee_no"),
			Name:       get(row, "name"),
			Email:      get(row, "email"),
			Department: get(row, "department"),
			Title:      get(row, "title"),
		})
	}
	return recipients, nil
}
