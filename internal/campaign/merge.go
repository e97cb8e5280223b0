package campaign

import (
	"time"

	"github.com/google/uuid"
)

// InfectionEvent is one inbound infection hit against a tracking identifier.
type InfectionEvent struct {
	TrackingID uuid.UUID
	Context    RequestContext
	At         time.Time
}

// MergeInfection applies an infection event to a recipient record and returns
// the resulting record. existing is nil when no record with the identifier
// exists yet; in that case a sparse record is created with empty identity
// fields and a null clicked_at — unsolicited infection events are accepted,
// not rejected.
//
// The merge rule: infected_at always advances to the event's timestamp and
// the context fields are overwritten, but an already-set clicked_at is
// preserved. The store's upsert encodes the same rule in a single statement
// so concurrent calls stay linearizable per record.
func MergeInfection(existing *RecipientRecord, ev InfectionEvent) RecipientRecord {
	at := ev.At

	if existing == nil {
		return RecipientRecord{
			ID:             ev.TrackingID,
			IPAddress:      ev.Context.IPAddress,
			UserAgent:      ev.Context.UserAgent,
			Referer:        ev.Context.Referer,
			AcceptLanguage: ev.Context.AcceptLanguage,
			InfectedAt:     &at,
		}
	}

	merged := *existing
	merged.InfectedAt = &at
	merged.IPAddress = ev.Context.IPAddress
	merged.UserAgent = ev.Context.UserAgent
	merged.Referer = ev.Context.Referer
	merged.AcceptLanguage = ev.Context.AcceptLanguage
	// clicked_at is first-click-wins and never disturbed by infections.
	return merged
}
