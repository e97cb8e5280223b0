// Package campaign implements the core of the phishing awareness trainer:
// campaign lifecycle, recipient tracking-event recording, and the bulk
// dispatch loop. HTTP handlers and the mail transport live elsewhere and
// call into this package.
package campaign

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a campaign.
type Status string

const (
	// StatusActive accepts enrollment and tracking events.
	StatusActive Status = "active"
	// StatusLocked is terminal: records are read-only forever after.
	StatusLocked Status = "locked"
)

// Campaign is one training run.
type Campaign struct {
	ID        string     `json:"id"`
	Status    Status     `json:"status"`
	CreatedAt time.Time  `json:"created_at"`
	LockedAt  *time.Time `json:"locked_at,omitempty"`
}

// Locked reports whether the campaign has been terminally locked.
func (c *Campaign) Locked() bool {
	return c.Status == StatusLocked
}

// NewCampaignID derives a campaign identifier from its creation time.
func NewCampaignID(t time.Time) string {
	return "training_" + t.Format("20060102_150405")
}

// RecipientRecord is one recipient's row within a campaign: identity fields
// set at enrollment, event fields set by the tracking endpoints. A record
// created by an unsolicited infection event has empty identity fields.
type RecipientRecord struct {
	CampaignID     string     `json:"campaign_id"`
	ID             uuid.UUID  `json:"id"`
	EmployeeNo     string     `json:"employee_no"`
	Name           string     `json:"name"`
	Email          string     `json:"email"`
	Department     string     `json:"department"`
	Title          string     `json:"title"`
	IPAddress      string     `json:"ip_address"`
	UserAgent      string     `json:"user_agent"`
	Referer        string     `json:"referer"`
	AcceptLanguage string     `json:"accept_language"`
	ClickedAt      *time.Time `json:"clicked_at"`
	InfectedAt     *time.Time `json:"infected_at"`
}

// RequestContext captures the inbound request details stored with the most
// recent recorded event.
type RequestContext struct {
	IPAddress      string
	UserAgent      string
	Referer        string
	AcceptLanguage string
}

// Outcome is the tagged result of recording a tracking event.
type Outcome string

const (
	// OutcomeApplied means the event reached a record of the current campaign
	// (including the click no-op against an already-clicked record).
	OutcomeApplied Outcome = "applied"
	// OutcomeIgnored means the event was dropped without mutation: no current
	// campaign, campaign locked, or a click for an unknown identifier.
	OutcomeIgnored Outcome = "ignored"
	// OutcomeRejected means the backing store failed; the accompanying error
	// carries the cause.
	OutcomeRejected Outcome = "rejected"
)

// StageMode selects the simulated landing flow a tracking link points at.
type StageMode int

const (
	// StageModeInfect is the 2-step flow: view then infect.
	StageModeInfect StageMode = 2
	// StageModeCapture is the 3-step flow: view, personal-info capture, infect.
	StageModeCapture StageMode = 3
)

// Valid reports whether the stage mode is a recognized setting.
func (m StageMode) Valid() bool {
	return m == StageModeInfect || m == StageModeCapture
}

// Recipient is one input row for bulk dispatch.
type Recipient struct {
	EmployeeNo string `json:"employee_no"`
	Name       string `json:"name"`
	Email      string `json:"email"`
	Department string `json:"department"`
	Title      string `json:"title"`
}

// DeliveryRecord is the per-recipient outcome of a dispatch batch.
type DeliveryRecord struct {
	Recipient
	TrackingID  uuid.UUID `json:"tracking_id"`
	Delivered   bool      `json:"delivered"`
	ErrorDetail string    `json:"error_detail,omitempty"`
}

// DispatchResult aggregates a whole dispatch batch.
type DispatchResult struct {
	Total      int              `json:"total"`
	Sent       int              `json:"sent"`
	Fail       int              `json:"fail"`
	SentList   []DeliveryRecord `json:"sent_list"`
	FailedList []DeliveryRecord `json:"failed_list"`
	SavedCSV   string           `json:"saved_csv,omitempty"`
}

// Configuration errors: the request targeted a campaign state that cannot
// serve it. No store state changes when these are returned.
var (
	ErrNoActiveCampaign = errors.New("no active campaign")
	ErrCampaignLocked   = errors.New("campaign is locked")
	ErrNotCurrent       = errors.New("campaign is not the current campaign")
	ErrInvalidStageMode = errors.New("stage mode must be 2 or 3")
)
