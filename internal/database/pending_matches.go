package database

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Pending match confidence tiers as persisted
const (
	PendingConfidenceHigh   = "high"
	PendingConfidenceMedium = "medium"
)

// PendingMatchTTL is how long a proposed match waits for confirmation
const PendingMatchTTL = 24 * time.Hour

// PendingMatch is a proposed (user, activity, external activity) pairing
// awaiting human confirmation. Rows are deleted on confirm/reject/expiry and
// never updated in place, which keeps a second confirmation click from
// re-processing the same match.
type PendingMatch struct {
	ID                 string
	UserID             int64
	ActivityID         int64
	ExternalActivityID int64
	Confidence         string
	Payload            string
	ExpiresAt          time.Time
	CreatedAt          time.Time
}

const pendingMatchColumns = `id, user_id, activity_id, external_activity_id, confidence, payload, expires_at, created_at`

func scanPendingMatch(row interface{ Scan(...any) error }) (*PendingMatch, error) {
	var m PendingMatch
	var expiresAt, createdAt int64
	err := row.Scan(&m.ID, &m.UserID, &m.ActivityID, &m.ExternalActivityID,
		&m.Confidence, &m.Payload, &expiresAt, &createdAt)
	if err != nil {
		return nil, err
	}
	m.ExpiresAt = time.Unix(expiresAt, 0)
	m.CreatedAt = time.Unix(createdAt, 0)
	return &m, nil
}

// CreatePendingMatch inserts a proposed match with a fresh UUID and a 24h TTL
func (d *DB) CreatePendingMatch(m *PendingMatch) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	now := time.Now()
	m.CreatedAt = now
	if m.ExpiresAt.IsZero() {
		m.ExpiresAt = now.Add(PendingMatchTTL)
	}

	_, err := d.conn.Exec(`
		INSERT INTO pending_matches (id, user_id, activity_id, external_activity_id, confidence, payload, expires_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, m.ID, m.UserID, m.ActivityID, m.ExternalActivityID, m.Confidence, m.Payload,
		m.ExpiresAt.Unix(), m.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to create pending match: %w", err)
	}
	return nil
}

// GetPendingMatch retrieves a pending match by ID. Returns nil if not found.
func (d *DB) GetPendingMatch(id string) (*PendingMatch, error) {
	m, err := scanPendingMatch(d.conn.QueryRow(
		`SELECT `+pendingMatchColumns+` FROM pending_matches WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get pending match: %w", err)
	}
	return m, nil
}

// ClaimPendingMatch atomically deletes and returns a pending match. The row
// is gone before any side effect runs, so a concurrent second claim gets nil.
func (d *DB) ClaimPendingMatch(id string) (*PendingMatch, error) {
	m, err := scanPendingMatch(d.conn.QueryRow(
		`DELETE FROM pending_matches WHERE id = ? RETURNING `+pendingMatchColumns, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to claim pending match: %w", err)
	}
	return m, nil
}

// DeleteExpiredPendingMatches removes matches past their expiry
func (d *DB) DeleteExpiredPendingMatches(now time.Time) (int64, error) {
	result, err := d.conn.Exec(`DELETE FROM pending_matches WHERE expires_at < ?`, now.Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired pending matches: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows, nil
}

// CountPendingMatchesForUserActivity reports existing proposals for a
// (user, activity) pair, used to avoid duplicate proposals
func (d *DB) CountPendingMatchesForUserActivity(userID, activityID int64) (int, error) {
	var count int
	err := d.conn.QueryRow(`
		SELECT COUNT(*) FROM pending_matches WHERE user_id = ? AND activity_id = ?
	`, userID, activityID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count pending matches: %w", err)
	}
	return count, nil
}
