package campaign

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Store provides database operations for campaigns and recipient records.
// All campaigns share one recipients table keyed by campaign_id; the
// "current campaign" pointer is a single plain-text file so it survives
// restarts, mirroring the single-operator deployment model.
type Store struct {
	db          *sql.DB
	pointerPath string

	mu      sync.Mutex
	current string // cached pointer value, "" until loaded
	loaded  bool
}

// NewStore creates a new campaign store. pointerPath is the plain-text file
// holding the current campaign identifier.
func NewStore(db *sql.DB, pointerPath string) *Store {
	return &Store{db: db, pointerPath: pointerPath}
}

// Migrate creates the campaign tables if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS phishing_campaigns (
			id         TEXT PRIMARY KEY,
			status     TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			locked_at  TIMESTAMPTZ
		)`,
		`CREATE TABLE IF NOT EXISTS phishing_recipients (
			campaign_id     TEXT NOT NULL REFERENCES phishing_campaigns(id),
			id              UUID NOT NULL,
			employee_no     TEXT NOT NULL DEFAULT '',
			name            TEXT NOT NULL DEFAULT '',
			email           TEXT NOT NULL DEFAULT '',
			department      TEXT NOT NULL DEFAULT '',
			title           TEXT NOT NULL DEFAULT '',
			ip_address      TEXT NOT NULL DEFAULT '',
			user_agent      TEXT NOT NULL DEFAULT '',
			referer         TEXT NOT NULL DEFAULT '',
			accept_language TEXT NOT NULL DEFAULT '',
			clicked_at      TIMESTAMPTZ,
			infected_at     TIMESTAMPTZ,
			PRIMARY KEY (campaign_id, id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_phishing_recipients_infected
			ON phishing_recipients (campaign_id) WHERE infected_at IS NOT NULL`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrating campaign tables: %w", err)
		}
	}
	return nil
}

// CreateCampaign starts a new campaign, marks it active, and sets it as the
// current campaign. The identifier is derived from the creation timestamp.
func (s *Store) CreateCampaign(ctx context.Context) (string, error) {
	now := time.Now()
	id := NewCampaignID(now)

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO phishing_campaigns (id, status, created_at) VALUES ($1, $2, $3)`,
		id, StatusActive, now)
	if err != nil {
		return "", fmt.Errorf("creating campaign %s: %w", id, err)
	}

	if err := s.setCurrent(id); err != nil {
		return "", err
	}
	return id, nil
}

// LockCurrentCampaign marks the current campaign locked. The transition is
// terminal; afterwards the campaign only serves reads for reporting. Returns
// ErrNoActiveCampaign if no campaign is current and ErrCampaignLocked if the
// current campaign is already locked.
func (s *Store) LockCurrentCampaign(ctx context.Context) (string, error) {
	cur, err := s.Current(ctx)
	if err != nil {
		return "", err
	}
	if cur == nil {
		return "", ErrNoActiveCampaign
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE phishing_campaigns SET status = $1, locked_at = $2 WHERE id = $3 AND status = $4`,
		StatusLocked, time.Now(), cur.ID, StatusActive)
	if err != nil {
		return "", fmt.Errorf("locking campaign %s: %w", cur.ID, err)
	}
	rows, _ := res.RowsAffected()
	if rows == 0 {
		return "", ErrCampaignLocked
	}

	// Pointer keeps naming the locked campaign: reporting still targets it,
	// writes are refused by the status check.
	if err := s.setCurrent(cur.ID); err != nil {
		return "", err
	}
	return cur.ID, nil
}

// Current returns the current campaign and its state, or nil if no campaign
// has been started yet. The pointer itself is cached in memory; only the
// campaign state is read from the store.
func (s *Store) Current(ctx context.Context) (*Campaign, error) {
	id, err := s.currentID()
	if err != nil {
		return nil, err
	}
	if id == "" {
		return nil, nil
	}

	c := &Campaign{}
	err = s.db.QueryRowContext(ctx,
		`SELECT id, status, created_at, locked_at FROM phishing_campaigns WHERE id = $1`,
		id).Scan(&c.ID, &c.Status, &c.CreatedAt, &c.LockedAt)
	if err == sql.ErrNoRows {
		// Stale pointer file with no matching row; treat as no campaign.
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading campaign %s: %w", id, err)
	}
	return c, nil
}

// IsLocked reports whether the given campaign is locked.
func (s *Store) IsLocked(ctx context.Context, id string) (bool, error) {
	var status Status
	err := s.db.QueryRowContext(ctx,
		`SELECT status FROM phishing_campaigns WHERE id = $1`, id).Scan(&status)
	if err == sql.ErrNoRows {
		return false, fmt.Errorf("campaign %s not found", id)
	}
	if err != nil {
		return false, fmt.Errorf("reading campaign %s: %w", id, err)
	}
	return status == StatusLocked, nil
}

// InsertRecipient enrolls a recipient into a campaign with null event fields.
// Identifier collisions are ignored (insert-if-absent): identifiers are
// freshly generated per dispatch call.
func (s *Store) InsertRecipient(ctx context.Context, campaignID string, trackingID uuid.UUID, r Recipient) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO phishing_recipients (campaign_id, id, employee_no, name, email, department, title)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (campaign_id, id) DO NOTHING`,
		campaignID, trackingID, r.EmployeeNo, r.Name, r.Email, r.Department, r.Title)
	if err != nil {
		return fmt.Errorf("enrolling recipient in %s: %w", campaignID, err)
	}
	return nil
}

// ListRecords returns every recipient record of a campaign, most recent
// clicks first.
func (s *Store) ListRecords(ctx context.Context, campaignID string) ([]*RecipientRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT campaign_id, id, employee_no, name, email, department, title,
			ip_address, user_agent, referer, accept_language, clicked_at, infected_at
		 FROM phishing_recipients WHERE campaign_id = $1
		 ORDER BY clicked_at DESC NULLS LAST`,
		campaignID)
	if err != nil {
		return nil, fmt.Errorf("listing records of %s: %w", campaignID, err)
	}
	defer rows.Close()

	var records []*RecipientRecord
	for rows.Next() {
		rec := &RecipientRecord{}
		err := rows.Scan(&rec.CampaignID, &rec.ID, &rec.EmployeeNo, &rec.Name, &rec.Email,
			&rec.Department, &rec.Title, &rec.IPAddress, &rec.UserAgent, &rec.Referer,
			&rec.AcceptLanguage, &rec.ClickedAt, &rec.InfectedAt)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// ListCurrentEvents returns the records of the current campaign, or an empty
// slice if no campaign is current or the current campaign is locked.
func (s *Store) ListCurrentEvents(ctx context.Context) ([]*RecipientRecord, error) {
	cur, err := s.Current(ctx)
	if err != nil {
		return nil, err
	}
	if cur == nil || cur.Locked() {
		return []*RecipientRecord{}, nil
	}
	return s.ListRecords(ctx, cur.ID)
}

// InfectedCount returns the number of records with a non-null infected_at.
func (s *Store) InfectedCount(ctx context.Context, campaignID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM phishing_recipients WHERE campaign_id = $1 AND infected_at IS NOT NULL`,
		campaignID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting infections of %s: %w", campaignID, err)
	}
	return count, nil
}

// currentID returns the cached pointer, loading the pointer file on first use.
func (s *Store) currentID() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loaded {
		return s.current, nil
	}

	data, err := os.ReadFile(s.pointerPath)
	if os.IsNotExist(err) {
		s.loaded = true
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("reading campaign pointer: %w", err)
	}
	s.current = strings.TrimSpace(string(data))
	s.loaded = true
	return s.current, nil
}

// setCurrent persists the pointer and updates the cache.
func (s *Store) setCurrent(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.WriteFile(s.pointerPath, []byte(id+"\n"), 0o644); err != nil {
		return fmt.Errorf("persisting campaign pointer: %w", err)
	}
	s.current = id
	s.loaded = true
	return nil
}
