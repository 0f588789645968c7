package database

import (
	"database/sql"
	"fmt"
	"time"
)

// Join request statuses. Once non-pending a row is immutable; re-requesting
// purges the old rejected/expired row first.
const (
	JoinRequestPending  = "pending"
	JoinRequestApproved = "approved"
	JoinRequestRejected = "rejected"
	JoinRequestExpired  = "expired"
)

// Join request target types
const (
	JoinTargetClub     = "club"
	JoinTargetActivity = "activity"
)

// JoinRequest is a user's request to join a club or activity
type JoinRequest struct {
	ID         int64
	UserID     int64
	TargetType string
	TargetID   int64
	Status     string
	ExpiresAt  *time.Time
	CreatedAt  time.Time
}

const joinRequestColumns = `id, user_id, target_type, target_id, status, expires_at, created_at`

func scanJoinRequest(row interface{ Scan(...any) error }) (*JoinRequest, error) {
	var r JoinRequest
	var expiresAt *int64
	var createdAt int64
	err := row.Scan(&r.ID, &r.UserID, &r.TargetType, &r.TargetID, &r.Status, &expiresAt, &createdAt)
	if err != nil {
		return nil, err
	}
	r.ExpiresAt = nullableTime(expiresAt)
	r.CreatedAt = time.Unix(createdAt, 0)
	return &r, nil
}

// CreateJoinRequest inserts a pending join request, purging any previous
// rejected/expired rows for the same (user, target) pair
func (d *DB) CreateJoinRequest(r *JoinRequest) error {
	tx, err := d.conn.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		DELETE FROM join_requests
		WHERE user_id = ? AND target_type = ? AND target_id = ?
		  AND status IN (?, ?)
	`, r.UserID, r.TargetType, r.TargetID, JoinRequestRejected, JoinRequestExpired)
	if err != nil {
		return fmt.Errorf("failed to purge stale join requests: %w", err)
	}

	r.Status = JoinRequestPending
	r.CreatedAt = time.Now()

	result, err := tx.Exec(`
		INSERT INTO join_requests (user_id, target_type, target_id, status, expires_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, r.UserID, r.TargetType, r.TargetID, r.Status, unixOrNil(r.ExpiresAt), r.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to create join request: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get join request id: %w", err)
	}
	r.ID = id

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// GetJoinRequest retrieves a join request by ID. Returns nil if not found.
func (d *DB) GetJoinRequest(id int64) (*JoinRequest, error) {
	r, err := scanJoinRequest(d.conn.QueryRow(
		`SELECT `+joinRequestColumns+` FROM join_requests WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get join request: %w", err)
	}
	return r, nil
}

// ListExpiredJoinRequests returns pending requests whose explicit expiry has
// passed or whose target activity's start date has passed
func (d *DB) ListExpiredJoinRequests(now time.Time) ([]*JoinRequest, error) {
	rows, err := d.conn.Query(`
		SELECT r.id, r.user_id, r.target_type, r.target_id, r.status, r.expires_at, r.created_at
		FROM join_requests r
		LEFT JOIN activities a ON r.target_type = ? AND a.id = r.target_id
		WHERE r.status = ?
		  AND (
			(r.expires_at IS NOT NULL AND r.expires_at < ?)
			OR (a.id IS NOT NULL AND a.start_at < ?)
		  )
		ORDER BY r.id ASC
	`, JoinTargetActivity, JoinRequestPending, now.Unix(), now.Unix())
	if err != nil {
		return nil, fmt.Errorf("failed to list expired join requests: %w", err)
	}
	defer rows.Close()

	var out []*JoinRequest
	for rows.Next() {
		r, err := scanJoinRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan join request: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating join requests: %w", err)
	}
	return out, nil
}

// MarkJoinRequestExpired transitions a pending request to expired.
// Returns false when the request was no longer pending.
func (d *DB) MarkJoinRequestExpired(id int64) (bool, error) {
	return d.setJoinRequestStatus(id, JoinRequestExpired)
}

// MarkJoinRequestApproved transitions a pending request to approved
func (d *DB) MarkJoinRequestApproved(id int64) (bool, error) {
	return d.setJoinRequestStatus(id, JoinRequestApproved)
}

// MarkJoinRequestRejected transitions a pending request to rejected
func (d *DB) MarkJoinRequestRejected(id int64) (bool, error) {
	return d.setJoinRequestStatus(id, JoinRequestRejected)
}

func (d *DB) setJoinRequestStatus(id int64, status string) (bool, error) {
	result, err := d.conn.Exec(`
		UPDATE join_requests SET status = ? WHERE id = ? AND status = ?
	`, status, id, JoinRequestPending)
	if err != nil {
		return false, fmt.Errorf("failed to set join request status: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows > 0, nil
}
