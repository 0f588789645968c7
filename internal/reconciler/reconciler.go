// Package reconciler matches inbound provider webhooks against internal
// activities. Processing is idempotent on the external activity id and
// retried with linear backoff on transient failures.
package reconciler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"clubsync/internal/credentials"
	"clubsync/internal/database"
	"clubsync/internal/fitness"
	"clubsync/internal/matcher"
	"clubsync/internal/metrics"
	"clubsync/internal/notify"
)

// Retry policy
const (
	// retryStep is the linear backoff unit: attempt n waits n * retryStep
	retryStep = 15 * time.Minute
	// stuckThreshold is how long an event may sit in processing before the
	// sweep assumes the process died mid-flight
	stuckThreshold = 10 * time.Minute
)

// Reconciler drives webhook events through fetch -> match -> propose
type Reconciler struct {
	db       *database.DB
	creds    *credentials.Manager
	client   *fitness.Client
	notifier notify.Notifier
	logger   *slog.Logger
	retryCap int
	now      func() time.Time
}

// New creates a reconciler
func New(db *database.DB, creds *credentials.Manager, client *fitness.Client, notifier notify.Notifier, retryCap int) *Reconciler {
	return &Reconciler{
		db:       db,
		creds:    creds,
		client:   client,
		notifier: notifier,
		logger:   slog.Default(),
		retryCap: retryCap,
		now:      time.Now,
	}
}

// Ingest records an inbound webhook and processes it. Safe to call any
// number of times for the same external activity id: events already queued
// or terminal are left untouched.
func (r *Reconciler) Ingest(ctx context.Context, externalActivityID, externalAthleteID int64) error {
	ev, created, err := r.db.GetOrCreateWebhookEvent(externalActivityID, externalAthleteID)
	if err != nil {
		return err
	}
	if !created {
		r.logger.Info("Duplicate webhook ignored",
			"external_activity_id", externalActivityID, "result", ev.Result)
		return nil
	}

	r.Process(ctx, ev)
	return nil
}

// Process runs one attempt for an event already in processing state
func (r *Reconciler) Process(ctx context.Context, ev *database.WebhookEvent) {
	r.logger.Info("Processing webhook event",
		"event_id", ev.ID,
		"external_activity_id", ev.ExternalActivityID,
		"retry_count", ev.RetryCount)

	userID, err := r.creds.UserForAthlete(ev.ExternalAthleteID)
	if err != nil {
		if errors.Is(err, credentials.ErrNotConnected) {
			// The athlete may connect later; treat as transient
			r.scheduleRetry(ev, "athlete not linked")
			return
		}
		r.scheduleRetry(ev, err.Error())
		return
	}

	token, err := r.creds.GetValidToken(ctx, userID)
	if err != nil {
		// No valid token is transient: the retry sweep re-attempts later
		r.scheduleRetry(ev, err.Error())
		return
	}

	ext, err := r.client.GetActivity(ctx, token, ev.ExternalActivityID)
	if err != nil {
		if fitness.IsNotFound(err) {
			// The external activity was deleted; terminal, no retry
			r.finish(ev, database.WebhookNotFound, nil)
			return
		}
		if fitness.IsTransient(err) {
			r.scheduleRetry(ev, err.Error())
			return
		}
		msg := err.Error()
		r.finish(ev, database.WebhookError, &msg)
		return
	}

	if err := r.match(ctx, ev, userID, ext); err != nil {
		r.scheduleRetry(ev, err.Error())
	}
}

// match runs the matcher over the user's candidates and records the outcome
func (r *Reconciler) match(ctx context.Context, ev *database.WebhookEvent, userID int64, ext *fitness.Activity) error {
	from := ext.StartAt.Add(-matcher.TimeWindow)
	to := ext.StartAt.Add(matcher.TimeWindow)

	participant, err := r.db.ListParticipantActivitiesInWindow(userID, from, to)
	if err != nil {
		return err
	}
	membership, err := r.db.ListMembershipActivitiesInWindow(userID, from, to)
	if err != nil {
		return err
	}

	activity, confidence := matcher.Match(
		matcher.ExternalActivity{StartAt: ext.StartAt, DistanceKm: ext.DistanceKm()},
		matcher.CandidateSet{Participant: participant, Membership: membership},
	)

	if activity == nil {
		r.finish(ev, database.WebhookNoMatch, nil)
		return nil
	}

	p, err := r.db.GetParticipation(activity.ID, userID)
	if err != nil {
		return err
	}
	if p != nil && p.HasTrainingLink() {
		r.finish(ev, database.WebhookAlreadyLinked, nil)
		return nil
	}

	pm := &database.PendingMatch{
		UserID:             userID,
		ActivityID:         activity.ID,
		ExternalActivityID: ev.ExternalActivityID,
		Confidence:         confidence.String(),
		Payload:            string(ext.Raw),
	}
	if err := r.db.CreatePendingMatch(pm); err != nil {
		return err
	}
	metrics.PendingMatchesCreated.WithLabelValues(pm.Confidence).Inc()

	r.finish(ev, database.WebhookMatched, nil)

	// State is committed; the proposal message comes last
	if chat, ok := r.userChat(userID); ok {
		text := fmt.Sprintf("Looks like %q on %s matches your tracked activity %q. Link them?",
			activity.Title, activity.StartAt.Format("Jan 2"), ext.Name)
		notify.Deliver(ctx, r.notifier, metrics.NotifyMatch, chat, text, []notify.Action{
			{Label: "Yes, link it", Callback: "match_confirm:" + pm.ID},
			{Label: "No", Callback: "match_reject:" + pm.ID},
		})
	}

	r.logger.Info("Created pending match",
		"match_id", pm.ID,
		"activity_id", activity.ID,
		"user_id", userID,
		"confidence", pm.Confidence)
	return nil
}

// finish records a terminal result
func (r *Reconciler) finish(ev *database.WebhookEvent, result string, lastError *string) {
	if err := r.db.SetWebhookEventResult(ev.ID, result, lastError); err != nil {
		r.logger.Error("Failed to record webhook result", "event_id", ev.ID, "error", err)
		return
	}
	metrics.WebhookEventsTotal.WithLabelValues(result).Inc()
	r.logger.Info("Webhook event finished", "event_id", ev.ID, "result", result)
}

// scheduleRetry moves the event to pending_retry with linear backoff:
// the wait grows by retryStep per prior attempt
func (r *Reconciler) scheduleRetry(ev *database.WebhookEvent, cause string) {
	delay := time.Duration(ev.RetryCount) * retryStep
	nextRetryAt := r.now().Add(delay)

	if err := r.db.ScheduleWebhookRetry(ev.ID, nextRetryAt, cause); err != nil {
		r.logger.Error("Failed to schedule webhook retry", "event_id", ev.ID, "error", err)
		return
	}
	metrics.WebhookRetriesTotal.Inc()
	r.logger.Warn("Webhook event scheduled for retry",
		"event_id", ev.ID,
		"retry_count", ev.RetryCount+1,
		"next_retry_at", nextRetryAt,
		"cause", cause)
}

func (r *Reconciler) userChat(userID int64) (int64, bool) {
	u, err := r.db.GetUser(userID)
	if err != nil || u == nil {
		return 0, false
	}
	return u.ChatID, true
}
