package database

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"clubsync/internal/metrics"
)

// Activity statuses. Transitions are one-way: upcoming -> completed
// (time-driven) or upcoming -> cancelled (user-driven).
const (
	ActivityUpcoming  = "upcoming"
	ActivityCompleted = "completed"
	ActivityCancelled = "cancelled"
)

// DefaultDurationMin is applied when an activity has no explicit duration
const DefaultDurationMin = 60

// Activity is a scheduled run/hike/ride
type Activity struct {
	ID            int64
	ClubID        *int64
	CreatorID     int64
	Title         string
	StartAt       time.Time
	DurationMin   *int
	DistanceKm    *float64
	Status        string
	Demo          bool
	SummarySentAt *time.Time
	CreatedAt     time.Time
}

// EndTime returns the activity end, applying the 60 minute default duration
func (a *Activity) EndTime() time.Time {
	d := DefaultDurationMin
	if a.DurationMin != nil {
		d = *a.DurationMin
	}
	return a.StartAt.Add(time.Duration(d) * time.Minute)
}

const activityColumns = `id, club_id, creator_id, title, start_at, duration_min, distance_km, status, demo, summary_sent_at, created_at`

func scanActivity(row interface{ Scan(...any) error }) (*Activity, error) {
	var a Activity
	var startAt, createdAt int64
	var summarySentAt *int64
	err := row.Scan(&a.ID, &a.ClubID, &a.CreatorID, &a.Title, &startAt, &a.DurationMin,
		&a.DistanceKm, &a.Status, &a.Demo, &summarySentAt, &createdAt)
	if err != nil {
		return nil, err
	}
	a.StartAt = time.Unix(startAt, 0)
	a.SummarySentAt = nullableTime(summarySentAt)
	a.CreatedAt = time.Unix(createdAt, 0)
	return &a, nil
}

func (d *DB) queryActivities(query string, args ...any) ([]*Activity, error) {
	rows, err := d.conn.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Activity
	for rows.Next() {
		a, err := scanActivity(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan activity: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating activities: %w", err)
	}
	return out, nil
}

// CreateActivity inserts a new activity
func (d *DB) CreateActivity(a *Activity) error {
	if a.Status == "" {
		a.Status = ActivityUpcoming
	}
	a.CreatedAt = time.Now()

	result, err := d.conn.Exec(`
		INSERT INTO activities (club_id, creator_id, title, start_at, duration_min, distance_km, status, demo, summary_sent_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, a.ClubID, a.CreatorID, a.Title, a.StartAt.Unix(), a.DurationMin, a.DistanceKm,
		a.Status, a.Demo, unixOrNil(a.SummarySentAt), a.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to create activity: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get activity id: %w", err)
	}
	a.ID = id
	return nil
}

// GetActivity retrieves an activity by ID. Returns nil if not found.
func (d *DB) GetActivity(id int64) (*Activity, error) {
	a, err := scanActivity(d.conn.QueryRow(
		`SELECT `+activityColumns+` FROM activities WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get activity: %w", err)
	}
	return a, nil
}

// ListActivitiesDueCompletion returns upcoming activities whose end time
// (start + duration, defaulting to 60 minutes) has passed
func (d *DB) ListActivitiesDueCompletion(now time.Time) ([]*Activity, error) {
	timer := prometheus.NewTimer(metrics.DBOperationDuration.WithLabelValues(metrics.DBOpListDueCompletion))
	defer timer.ObserveDuration()

	return d.queryActivities(`
		SELECT `+activityColumns+`
		FROM activities
		WHERE status = ?
		  AND start_at + COALESCE(duration_min, ?) * 60 < ?
		ORDER BY start_at ASC
	`, ActivityUpcoming, DefaultDurationMin, now.Unix())
}

// ListActivitiesInReminderWindow returns non-demo upcoming activities starting
// within [from, to)
func (d *DB) ListActivitiesInReminderWindow(from, to time.Time) ([]*Activity, error) {
	return d.queryActivities(`
		SELECT `+activityColumns+`
		FROM activities
		WHERE status = ? AND demo = 0
		  AND start_at >= ? AND start_at < ?
		ORDER BY start_at ASC
	`, ActivityUpcoming, from.Unix(), to.Unix())
}

// ListActivitiesDueSummary returns completed, non-demo, club-owned activities
// with no summary sent whose end time is at least delay in the past
func (d *DB) ListActivitiesDueSummary(now time.Time, delay time.Duration) ([]*Activity, error) {
	return d.queryActivities(`
		SELECT `+activityColumns+`
		FROM activities
		WHERE status = ? AND demo = 0
		  AND club_id IS NOT NULL
		  AND summary_sent_at IS NULL
		  AND start_at + COALESCE(duration_min, ?) * 60 + ? <= ?
		ORDER BY start_at ASC
	`, ActivityCompleted, DefaultDurationMin, int64(delay.Seconds()), now.Unix())
}

// ListParticipantActivitiesInWindow returns activities the user participates
// in with start in [from, to] and status completed or upcoming, ordered by
// start time ascending. The ordering doubles as the matching tie-break.
func (d *DB) ListParticipantActivitiesInWindow(userID int64, from, to time.Time) ([]*Activity, error) {
	return d.queryActivities(`
		SELECT `+activityColumnsPrefixed("a")+`
		FROM activities a
		JOIN participations p ON p.activity_id = a.id
		WHERE p.user_id = ?
		  AND a.start_at >= ? AND a.start_at <= ?
		  AND a.status IN (?, ?)
		ORDER BY a.start_at ASC
	`, userID, from.Unix(), to.Unix(), ActivityCompleted, ActivityUpcoming)
}

// ListMembershipActivitiesInWindow returns activities owned by clubs the user
// actively belongs to, excluding ones the user already participates in, with
// start in [from, to] and status completed or upcoming
func (d *DB) ListMembershipActivitiesInWindow(userID int64, from, to time.Time) ([]*Activity, error) {
	return d.queryActivities(`
		SELECT `+activityColumnsPrefixed("a")+`
		FROM activities a
		JOIN memberships m ON m.club_id = a.club_id
		WHERE m.user_id = ? AND m.active = 1
		  AND a.start_at >= ? AND a.start_at <= ?
		  AND a.status IN (?, ?)
		  AND NOT EXISTS (
			SELECT 1 FROM participations p
			WHERE p.activity_id = a.id AND p.user_id = ?
		  )
		ORDER BY a.start_at ASC
	`, userID, from.Unix(), to.Unix(), ActivityCompleted, ActivityUpcoming, userID)
}

// MarkActivityCompleted transitions an upcoming activity to completed.
// A no-op when the activity is already terminal.
func (d *DB) MarkActivityCompleted(id int64) (bool, error) {
	result, err := d.conn.Exec(`
		UPDATE activities SET status = ? WHERE id = ? AND status = ?
	`, ActivityCompleted, id, ActivityUpcoming)
	if err != nil {
		return false, fmt.Errorf("failed to mark activity completed: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows > 0, nil
}

// MarkActivityCancelled transitions an upcoming activity to cancelled
func (d *DB) MarkActivityCancelled(id int64) (bool, error) {
	result, err := d.conn.Exec(`
		UPDATE activities SET status = ? WHERE id = ? AND status = ?
	`, ActivityCancelled, id, ActivityUpcoming)
	if err != nil {
		return false, fmt.Errorf("failed to mark activity cancelled: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows > 0, nil
}

// SetActivitySummarySent records the summary timestamp. Written once: the
// guard on summary_sent_at IS NULL keeps the summary job from re-evaluating.
func (d *DB) SetActivitySummarySent(id int64, at time.Time) (bool, error) {
	result, err := d.conn.Exec(`
		UPDATE activities SET summary_sent_at = ? WHERE id = ? AND summary_sent_at IS NULL
	`, at.Unix(), id)
	if err != nil {
		return false, fmt.Errorf("failed to set summary sent: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows > 0, nil
}

func activityColumnsPrefixed(alias string) string {
	return alias + ".id, " + alias + ".club_id, " + alias + ".creator_id, " + alias + ".title, " +
		alias + ".start_at, " + alias + ".duration_min, " + alias + ".distance_km, " +
		alias + ".status, " + alias + ".demo, " + alias + ".summary_sent_at, " + alias + ".created_at"
}
