package reconciler

import (
	"context"

	"clubsync/internal/database"
)

// Sweep is the periodic retry pass. It recovers events stuck in processing,
// exhausts events past the retry cap, and re-attempts events whose backoff
// has elapsed.
func (r *Reconciler) Sweep(ctx context.Context) error {
	now := r.now()

	recovered, err := r.db.RecoverStuckWebhookEvents(now, stuckThreshold)
	if err != nil {
		return err
	}
	if recovered > 0 {
		r.logger.Warn("Recovered stuck webhook events", "count", recovered)
	}

	exhausted, err := r.db.ExhaustWebhookRetries(r.retryCap)
	if err != nil {
		return err
	}
	if exhausted > 0 {
		r.logger.Warn("Exhausted webhook retries", "count", exhausted, "retry_cap", r.retryCap)
	}

	due, err := r.db.ListDueWebhookRetries(now)
	if err != nil {
		return err
	}
	for _, ev := range due {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		// Claim before processing so concurrent sweeps cannot double-run
		claimed, err := r.db.MarkWebhookEventProcessing(ev.ID)
		if err != nil {
			return err
		}
		if !claimed {
			continue
		}
		ev.Result = database.WebhookProcessing
		r.Process(ctx, ev)
	}
	return nil
}

// ExpirePendingMatches drops match proposals older than the TTL
func (r *Reconciler) ExpirePendingMatches(ctx context.Context) error {
	n, err := r.db.DeleteExpiredPendingMatches(r.now())
	if err != nil {
		return err
	}
	if n > 0 {
		r.logger.Info("Expired pending matches", "count", n)
	}
	return nil
}
