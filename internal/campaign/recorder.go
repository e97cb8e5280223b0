package campaign

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/phishing-trainer/internal/pkg/logger"
)

// EventRecorder applies click and infection events to the current campaign's
// recipient records. Each call is one short transaction against the store;
// the conditional predicate on clicked_at and the upsert's field preservation
// are the only concurrency guards, which keeps concurrent calls for the same
// identifier linearizable per record.
type EventRecorder struct {
	store *Store
}

// NewEventRecorder creates an event recorder backed by the given store.
func NewEventRecorder(store *Store) *EventRecorder {
	return &EventRecorder{store: store}
}

// RecordClick records a link-open for the given tracking identifier.
// Clicks against a missing or locked campaign, or an identifier that was
// never enrolled, are silently dropped: stale links outlive campaigns.
// An already-clicked record is a no-op that still reports OutcomeApplied;
// clicked_at is set at most once.
func (er *EventRecorder) RecordClick(ctx context.Context, trackingID uuid.UUID, rc RequestContext) (Outcome, error) {
	cur, err := er.store.Current(ctx)
	if err != nil {
		return OutcomeRejected, err
	}
	if cur == nil || cur.Locked() {
		return OutcomeIgnored, nil
	}

	res, err := er.store.db.ExecContext(ctx,
		`UPDATE phishing_recipients
		    SET clicked_at      = $1,
		        ip_address      = $2,
		        user_agent      = $3,
		        referer         = $4,
		        accept_language = $5
		  WHERE campaign_id = $6 AND id = $7 AND clicked_at IS NULL`,
		time.Now(), rc.IPAddress, rc.UserAgent, rc.Referer, rc.AcceptLanguage,
		cur.ID, trackingID)
	if err != nil {
		return OutcomeRejected, fmt.Errorf("recording click for %s: %w", trackingID, err)
	}

	rows, _ := res.RowsAffected()
	if rows > 0 {
		return OutcomeApplied, nil
	}

	// Zero rows: either a repeat click (record exists, clicked_at set) or an
	// identifier that was never enrolled. Only the former counts as applied.
	var exists bool
	err = er.store.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM phishing_recipients WHERE campaign_id = $1 AND id = $2)`,
		cur.ID, trackingID).Scan(&exists)
	if err != nil {
		return OutcomeRejected, fmt.Errorf("recording click for %s: %w", trackingID, err)
	}
	if exists {
		logger.Debug("repeat click ignored", "campaign", cur.ID, "tracking_id", trackingID.String())
		return OutcomeApplied, nil
	}
	return OutcomeIgnored, nil
}

// RecordInfection records a simulated compromise for the given tracking
// identifier. Repeated calls keep advancing infected_at to the latest
// timestamp; an existing clicked_at is never disturbed. An identifier that
// was never enrolled gets a sparse record with empty identity fields.
func (er *EventRecorder) RecordInfection(ctx context.Context, trackingID uuid.UUID, rc RequestContext) (Outcome, error) {
	cur, err := er.store.Current(ctx)
	if err != nil {
		return OutcomeRejected, err
	}
	if cur == nil || cur.Locked() {
		return OutcomeIgnored, nil
	}

	rec := MergeInfection(nil, InfectionEvent{
		TrackingID: trackingID,
		Context:    rc,
		At:         time.Now(),
	})

	// ON CONFLICT applies the MergeInfection rule against the existing row:
	// infected_at and context advance, clicked_at keeps its first value.
	_, err = er.store.db.ExecContext(ctx,
		`INSERT INTO phishing_recipients
			(campaign_id, id, ip_address, user_agent, referer, accept_language, infected_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (campaign_id, id) DO UPDATE SET
			infected_at     = EXCLUDED.infected_at,
			ip_address      = EXCLUDED.ip_address,
			user_agent      = EXCLUDED.user_agent,
			referer         = EXCLUDED.referer,
			accept_language = EXCLUDED.accept_language`,
		cur.ID, rec.ID, rec.IPAddress, rec.UserAgent, rec.Referer, rec.AcceptLanguage, rec.InfectedAt)
	if err != nil {
		return OutcomeRejected, fmt.Errorf("recording infection for %s: %w", trackingID, err)
	}

	logger.Info("infection recorded", "campaign", cur.ID, "tracking_id", trackingID.String(), "ip", rc.IPAddress)
	return OutcomeApplied, nil
}
