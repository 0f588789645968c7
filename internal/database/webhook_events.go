package database

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"clubsync/internal/metrics"
)

// Webhook event results. Transitions are monotonic except
// processing -> pending_retry (stuck recovery) and
// pending_retry -> error (retry exhaustion).
const (
	WebhookProcessing    = "processing"
	WebhookMatched       = "matched"
	WebhookNoMatch       = "no_match"
	WebhookAlreadyLinked = "already_linked"
	WebhookNotFound      = "not_found"
	WebhookPendingRetry  = "pending_retry"
	WebhookError         = "error"
)

// WebhookEvent is a provider notification keyed by external activity id
type WebhookEvent struct {
	ID                  int64
	ExternalActivityID  int64
	ExternalAthleteID   int64
	Result              string
	RetryCount          int
	NextRetryAt         *time.Time
	ProcessingStartedAt *time.Time
	LastError           *string
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// Terminal reports whether the event has reached a final result
func (e *WebhookEvent) Terminal() bool {
	switch e.Result {
	case WebhookMatched, WebhookNoMatch, WebhookAlreadyLinked, WebhookNotFound, WebhookError:
		return true
	}
	return false
}

const webhookEventColumns = `id, external_activity_id, external_athlete_id, result, retry_count, next_retry_at, processing_started_at, last_error, created_at, updated_at`

func scanWebhookEvent(row interface{ Scan(...any) error }) (*WebhookEvent, error) {
	var e WebhookEvent
	var nextRetryAt, processingStartedAt *int64
	var createdAt, updatedAt int64
	err := row.Scan(&e.ID, &e.ExternalActivityID, &e.ExternalAthleteID, &e.Result,
		&e.RetryCount, &nextRetryAt, &processingStartedAt, &e.LastError, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	e.NextRetryAt = nullableTime(nextRetryAt)
	e.ProcessingStartedAt = nullableTime(processingStartedAt)
	e.CreatedAt = time.Unix(createdAt, 0)
	e.UpdatedAt = time.Unix(updatedAt, 0)
	return &e, nil
}

// GetOrCreateWebhookEvent fetches the event for an external activity id,
// creating it in processing state when absent. The unique index on
// external_activity_id is the idempotency key. Returns the event and whether
// it was freshly created.
func (d *DB) GetOrCreateWebhookEvent(externalActivityID, externalAthleteID int64) (*WebhookEvent, bool, error) {
	timer := prometheus.NewTimer(metrics.DBOperationDuration.WithLabelValues(metrics.DBOpGetOrCreateWebhookEvent))
	defer timer.ObserveDuration()

	now := time.Now().Unix()

	result, err := d.conn.Exec(`
		INSERT INTO webhook_events (external_activity_id, external_athlete_id, result, processing_started_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(external_activity_id) DO NOTHING
	`, externalActivityID, externalAthleteID, WebhookProcessing, now, now, now)
	if err != nil {
		metrics.DBOperationErrorsTotal.WithLabelValues(metrics.DBOpGetOrCreateWebhookEvent).Inc()
		return nil, false, fmt.Errorf("failed to create webhook event: %w", err)
	}

	inserted, err := result.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	e, err := d.GetWebhookEventByExternalID(externalActivityID)
	if err != nil {
		return nil, false, err
	}
	if e == nil {
		return nil, false, fmt.Errorf("webhook event vanished after insert")
	}
	return e, inserted > 0, nil
}

// GetWebhookEventByExternalID retrieves an event by its idempotency key.
// Returns nil if not found.
func (d *DB) GetWebhookEventByExternalID(externalActivityID int64) (*WebhookEvent, error) {
	e, err := scanWebhookEvent(d.conn.QueryRow(
		`SELECT `+webhookEventColumns+` FROM webhook_events WHERE external_activity_id = ?`,
		externalActivityID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get webhook event: %w", err)
	}
	return e, nil
}

// SetWebhookEventResult records a terminal result for an event
func (d *DB) SetWebhookEventResult(id int64, result string, lastError *string) error {
	timer := prometheus.NewTimer(metrics.DBOperationDuration.WithLabelValues(metrics.DBOpSetWebhookResult))
	defer timer.ObserveDuration()

	_, err := d.conn.Exec(`
		UPDATE webhook_events
		SET result = ?, last_error = ?, processing_started_at = NULL, updated_at = ?
		WHERE id = ?
	`, result, lastError, time.Now().Unix(), id)
	if err != nil {
		metrics.DBOperationErrorsTotal.WithLabelValues(metrics.DBOpSetWebhookResult).Inc()
		return fmt.Errorf("failed to set webhook event result: %w", err)
	}
	return nil
}

// ScheduleWebhookRetry moves an event to pending_retry, bumping its retry
// count and setting the next attempt time
func (d *DB) ScheduleWebhookRetry(id int64, nextRetryAt time.Time, lastError string) error {
	timer := prometheus.NewTimer(metrics.DBOperationDuration.WithLabelValues(metrics.DBOpScheduleWebhookRetry))
	defer timer.ObserveDuration()

	_, err := d.conn.Exec(`
		UPDATE webhook_events
		SET result = ?, retry_count = retry_count + 1, next_retry_at = ?,
		    processing_started_at = NULL, last_error = ?, updated_at = ?
		WHERE id = ?
	`, WebhookPendingRetry, nextRetryAt.Unix(), lastError, time.Now().Unix(), id)
	if err != nil {
		metrics.DBOperationErrorsTotal.WithLabelValues(metrics.DBOpScheduleWebhookRetry).Inc()
		return fmt.Errorf("failed to schedule webhook retry: %w", err)
	}
	return nil
}

// MarkWebhookEventProcessing claims a pending_retry event for processing.
// Returns false when another pass already claimed it.
func (d *DB) MarkWebhookEventProcessing(id int64) (bool, error) {
	result, err := d.conn.Exec(`
		UPDATE webhook_events
		SET result = ?, processing_started_at = ?, updated_at = ?
		WHERE id = ? AND result = ?
	`, WebhookProcessing, time.Now().Unix(), time.Now().Unix(), id, WebhookPendingRetry)
	if err != nil {
		return false, fmt.Errorf("failed to mark webhook event processing: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows > 0, nil
}

// ListDueWebhookRetries returns pending_retry events whose next attempt time
// has passed
func (d *DB) ListDueWebhookRetries(now time.Time) ([]*WebhookEvent, error) {
	return d.queryWebhookEvents(`
		SELECT `+webhookEventColumns+`
		FROM webhook_events
		WHERE result = ? AND (next_retry_at IS NULL OR next_retry_at <= ?)
		ORDER BY id ASC
	`, WebhookPendingRetry, now.Unix())
}

// RecoverStuckWebhookEvents moves events stuck in processing longer than
// threshold back to pending_retry with immediate retry eligibility.
// Crash recovery: a process that died mid-fetch leaves rows in processing.
func (d *DB) RecoverStuckWebhookEvents(now time.Time, threshold time.Duration) (int64, error) {
	result, err := d.conn.Exec(`
		UPDATE webhook_events
		SET result = ?, next_retry_at = ?, processing_started_at = NULL, updated_at = ?
		WHERE result = ? AND processing_started_at IS NOT NULL AND processing_started_at < ?
	`, WebhookPendingRetry, now.Unix(), now.Unix(), WebhookProcessing, now.Add(-threshold).Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to recover stuck webhook events: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows, nil
}

// ExhaustWebhookRetries moves pending_retry events that reached the retry cap
// to terminal error
func (d *DB) ExhaustWebhookRetries(cap int) (int64, error) {
	result, err := d.conn.Exec(`
		UPDATE webhook_events
		SET result = ?, next_retry_at = NULL, updated_at = ?
		WHERE result = ? AND retry_count >= ?
	`, WebhookError, time.Now().Unix(), WebhookPendingRetry, cap)
	if err != nil {
		return 0, fmt.Errorf("failed to exhaust webhook retries: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows, nil
}

// CountWebhookEventsByResult returns event counts keyed by result, used by
// the queue depth collector
func (d *DB) CountWebhookEventsByResult() (map[string]int, error) {
	rows, err := d.conn.Query(`SELECT result, COUNT(*) FROM webhook_events GROUP BY result`)
	if err != nil {
		return nil, fmt.Errorf("failed to count webhook events: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var result string
		var count int
		if err := rows.Scan(&result, &count); err != nil {
			return nil, fmt.Errorf("failed to scan webhook event count: %w", err)
		}
		out[result] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating webhook event counts: %w", err)
	}
	return out, nil
}

func (d *DB) queryWebhookEvents(query string, args ...any) ([]*WebhookEvent, error) {
	rows, err := d.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query webhook events: %w", err)
	}
	defer rows.Close()

	var out []*WebhookEvent
	for rows.Next() {
		e, err := scanWebhookEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan webhook event: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating webhook events: %w", err)
	}
	return out, nil
}
