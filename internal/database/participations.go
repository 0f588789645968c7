package database

import (
	"database/sql"
	"fmt"
	"time"
)

// Participation statuses. Awaiting is reachable only after the owning
// activity completes; attended and missed are terminal.
const (
	ParticipationRegistered = "registered"
	ParticipationConfirmed  = "confirmed"
	ParticipationAwaiting   = "awaiting"
	ParticipationAttended   = "attended"
	ParticipationMissed     = "missed"
)

// Training link sources
const (
	LinkSourceManual       = "manual"
	LinkSourceExternalAuto = "external_auto"
)

// Participation is an (activity, user) registration with attendance state
type Participation struct {
	ID                 int64
	ActivityID         int64
	UserID             int64
	Status             string
	Attended           *bool
	LinkURL            *string
	LinkSource         *string
	ExternalActivityID *int64
	ExternalPayload    *string
	CreatedAt          time.Time
}

// HasTrainingLink reports whether a training link is already attached
func (p *Participation) HasTrainingLink() bool {
	return p.LinkURL != nil && *p.LinkURL != ""
}

const participationColumns = `id, activity_id, user_id, status, attended, link_url, link_source, external_activity_id, external_payload, created_at`

func scanParticipation(row interface{ Scan(...any) error }) (*Participation, error) {
	var p Participation
	var attended *int64
	var createdAt int64
	err := row.Scan(&p.ID, &p.ActivityID, &p.UserID, &p.Status, &attended,
		&p.LinkURL, &p.LinkSource, &p.ExternalActivityID, &p.ExternalPayload, &createdAt)
	if err != nil {
		return nil, err
	}
	if attended != nil {
		v := *attended != 0
		p.Attended = &v
	}
	p.CreatedAt = time.Unix(createdAt, 0)
	return &p, nil
}

// CreateParticipation registers a user for an activity
func (d *DB) CreateParticipation(p *Participation) error {
	if p.Status == "" {
		p.Status = ParticipationRegistered
	}
	p.CreatedAt = time.Now()

	var attended *int64
	if p.Attended != nil {
		v := int64(0)
		if *p.Attended {
			v = 1
		}
		attended = &v
	}

	result, err := d.conn.Exec(`
		INSERT INTO participations (activity_id, user_id, status, attended, link_url, link_source, external_activity_id, external_payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, p.ActivityID, p.UserID, p.Status, attended, p.LinkURL, p.LinkSource,
		p.ExternalActivityID, p.ExternalPayload, p.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to create participation: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get participation id: %w", err)
	}
	p.ID = id
	return nil
}

// GetParticipation retrieves a participation by (activity, user).
// Returns nil if not found.
func (d *DB) GetParticipation(activityID, userID int64) (*Participation, error) {
	p, err := scanParticipation(d.conn.QueryRow(`
		SELECT `+participationColumns+`
		FROM participations
		WHERE activity_id = ? AND user_id = ?
	`, activityID, userID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get participation: %w", err)
	}
	return p, nil
}

// ListParticipations returns participations for an activity filtered to the
// given statuses (all statuses when empty)
func (d *DB) ListParticipations(activityID int64, statuses ...string) ([]*Participation, error) {
	query := `SELECT ` + participationColumns + ` FROM participations WHERE activity_id = ?`
	args := []any{activityID}
	if len(statuses) > 0 {
		query += ` AND status IN (?` + repeatPlaceholder(len(statuses)-1) + `)`
		for _, s := range statuses {
			args = append(args, s)
		}
	}
	query += ` ORDER BY id ASC`

	rows, err := d.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list participations: %w", err)
	}
	defer rows.Close()

	var out []*Participation
	for rows.Next() {
		p, err := scanParticipation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan participation: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating participations: %w", err)
	}
	return out, nil
}

// MoveParticipationsToAwaiting transitions all registered/confirmed
// participations of an activity to awaiting. Returns the number moved.
func (d *DB) MoveParticipationsToAwaiting(activityID int64) (int64, error) {
	result, err := d.conn.Exec(`
		UPDATE participations SET status = ?
		WHERE activity_id = ? AND status IN (?, ?)
	`, ParticipationAwaiting, activityID, ParticipationRegistered, ParticipationConfirmed)
	if err != nil {
		return 0, fmt.Errorf("failed to move participations to awaiting: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows, nil
}

// AttachTrainingLink attaches a training link to the user's participation and
// marks it attended. Creates the participation when the user was not
// registered (a membership-based match). Returns false when a link is
// already attached.
func (d *DB) AttachTrainingLink(activityID, userID int64, url, source string, externalActivityID *int64, payload *string) (bool, error) {
	p, err := d.GetParticipation(activityID, userID)
	if err != nil {
		return false, err
	}

	if p == nil {
		attended := true
		np := &Participation{
			ActivityID:         activityID,
			UserID:             userID,
			Status:             ParticipationAttended,
			Attended:           &attended,
			LinkURL:            &url,
			LinkSource:         &source,
			ExternalActivityID: externalActivityID,
			ExternalPayload:    payload,
		}
		if err := d.CreateParticipation(np); err != nil {
			return false, err
		}
		return true, nil
	}

	if p.HasTrainingLink() {
		return false, nil
	}

	_, err = d.conn.Exec(`
		UPDATE participations
		SET status = ?, attended = 1, link_url = ?, link_source = ?,
		    external_activity_id = ?, external_payload = ?
		WHERE id = ?
	`, ParticipationAttended, url, source, externalActivityID, payload, p.ID)
	if err != nil {
		return false, fmt.Errorf("failed to attach training link: %w", err)
	}
	return true, nil
}

// MarkParticipationMissed marks a participation missed. A no-op returning
// false when the participation is already terminal.
func (d *DB) MarkParticipationMissed(activityID, userID int64) (bool, error) {
	result, err := d.conn.Exec(`
		UPDATE participations SET status = ?, attended = 0
		WHERE activity_id = ? AND user_id = ? AND status NOT IN (?, ?)
	`, ParticipationMissed, activityID, userID, ParticipationAttended, ParticipationMissed)
	if err != nil {
		return false, fmt.Errorf("failed to mark participation missed: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows > 0, nil
}

func repeatPlaceholder(n int) string {
	s := ""
	for i := 0; i < n; i++ {
		s += ", ?"
	}
	return s
}
