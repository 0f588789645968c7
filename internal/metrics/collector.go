package metrics

import (
	"context"
	"log/slog"
	"time"
)

// EventCounter provides current webhook event counts by result state
type EventCounter interface {
	CountWebhookEventsByResult() (map[string]int, error)
}

// StartEventStateCollector periodically samples webhook event counts into the
// WebhookEventsByState gauge. Runs until ctx is cancelled.
func StartEventStateCollector(ctx context.Context, db EventCounter, interval time.Duration) {
	logger := slog.Default()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	known := []string{"processing", "pending_retry", "matched", "no_match", "already_linked", "not_found", "error"}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			counts, err := db.CountWebhookEventsByResult()
			if err != nil {
				logger.Error("Failed to collect webhook event counts", "error", err)
				continue
			}
			for _, state := range known {
				WebhookEventsByState.WithLabelValues(state).Set(float64(counts[state]))
			}
		}
	}
}
