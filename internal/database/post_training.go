package database

import (
	"database/sql"
	"fmt"
	"time"
)

// Post-training notification statuses
const (
	PostTrainingSent          = "sent"
	PostTrainingReminderSent  = "reminder_sent"
	PostTrainingLinkSubmitted = "link_submitted"
	PostTrainingNotAttended   = "not_attended"
)

// PostTrainingNotification tracks the submit-your-training prompt sent to a
// participant when an activity completes
type PostTrainingNotification struct {
	ID            int64
	ActivityID    int64
	UserID        int64
	Status        string
	SentAt        time.Time
	RespondedAt   *time.Time
	ReminderCount int
}

const ptnColumns = `id, activity_id, user_id, status, sent_at, responded_at, reminder_count`

func scanPTN(row interface{ Scan(...any) error }) (*PostTrainingNotification, error) {
	var n PostTrainingNotification
	var sentAt int64
	var respondedAt *int64
	err := row.Scan(&n.ID, &n.ActivityID, &n.UserID, &n.Status, &sentAt, &respondedAt, &n.ReminderCount)
	if err != nil {
		return nil, err
	}
	n.SentAt = time.Unix(sentAt, 0)
	n.RespondedAt = nullableTime(respondedAt)
	return &n, nil
}

// CreatePostTrainingNotification inserts a notification row for a
// participant of a completed activity. Ignores duplicates so the completion
// job can be replayed safely.
func (d *DB) CreatePostTrainingNotification(activityID, userID int64, sentAt time.Time) error {
	_, err := d.conn.Exec(`
		INSERT INTO post_training_notifications (activity_id, user_id, status, sent_at, reminder_count)
		VALUES (?, ?, ?, ?, 0)
		ON CONFLICT(activity_id, user_id) DO NOTHING
	`, activityID, userID, PostTrainingSent, sentAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to create post-training notification: %w", err)
	}
	return nil
}

// GetPostTrainingNotification retrieves a notification by (activity, user).
// Returns nil if not found.
func (d *DB) GetPostTrainingNotification(activityID, userID int64) (*PostTrainingNotification, error) {
	n, err := scanPTN(d.conn.QueryRow(`
		SELECT `+ptnColumns+`
		FROM post_training_notifications
		WHERE activity_id = ? AND user_id = ?
	`, activityID, userID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get post-training notification: %w", err)
	}
	return n, nil
}

// ListPostTrainingDueReminder returns notifications still in sent state whose
// prompt is older than delay and that have reminders left under cap
func (d *DB) ListPostTrainingDueReminder(now time.Time, delay time.Duration, cap int) ([]*PostTrainingNotification, error) {
	rows, err := d.conn.Query(`
		SELECT `+ptnColumns+`
		FROM post_training_notifications
		WHERE status = ? AND sent_at < ? AND reminder_count < ?
		ORDER BY id ASC
	`, PostTrainingSent, now.Add(-delay).Unix(), cap)
	if err != nil {
		return nil, fmt.Errorf("failed to list due post-training reminders: %w", err)
	}
	defer rows.Close()

	var out []*PostTrainingNotification
	for rows.Next() {
		n, err := scanPTN(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan post-training notification: %w", err)
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating post-training notifications: %w", err)
	}
	return out, nil
}

// MarkPostTrainingReminderSent bumps the reminder count and moves the row to
// reminder_sent. Returns false when the row already left the sent state.
func (d *DB) MarkPostTrainingReminderSent(id int64) (bool, error) {
	result, err := d.conn.Exec(`
		UPDATE post_training_notifications
		SET status = ?, reminder_count = reminder_count + 1
		WHERE id = ? AND status = ?
	`, PostTrainingReminderSent, id, PostTrainingSent)
	if err != nil {
		return false, fmt.Errorf("failed to mark reminder sent: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows > 0, nil
}

// ClosePostTrainingNotification moves an open (sent/reminder_sent) row to a
// terminal status. Returns false when the row was already closed.
func (d *DB) ClosePostTrainingNotification(activityID, userID int64, status string, respondedAt time.Time) (bool, error) {
	if status != PostTrainingLinkSubmitted && status != PostTrainingNotAttended {
		return false, fmt.Errorf("invalid terminal post-training status: %s", status)
	}

	result, err := d.conn.Exec(`
		UPDATE post_training_notifications
		SET status = ?, responded_at = ?
		WHERE activity_id = ? AND user_id = ? AND status IN (?, ?)
	`, status, respondedAt.Unix(), activityID, userID, PostTrainingSent, PostTrainingReminderSent)
	if err != nil {
		return false, fmt.Errorf("failed to close post-training notification: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows > 0, nil
}
