package jobs

import (
	"context"
	"fmt"

	"clubsync/internal/database"
	"clubsync/internal/metrics"
)

// AutoRejectJob expires pending join requests whose explicit expiry has
// passed or whose target activity date is over
type AutoRejectJob struct {
	Deps
}

// NewAutoRejectJob creates the auto-reject job
func NewAutoRejectJob(deps Deps) *AutoRejectJob {
	deps.fill()
	return &AutoRejectJob{Deps: deps}
}

// Tick expires due requests, committing before notifying each requester
func (j *AutoRejectJob) Tick(ctx context.Context) error {
	now := j.Now()
	expired, err := j.DB.ListExpiredJoinRequests(now)
	if err != nil {
		return err
	}

	for _, r := range expired {
		moved, err := j.DB.MarkJoinRequestExpired(r.ID)
		if err != nil {
			j.Logger.Error("Failed to expire join request", "request_id", r.ID, "error", err)
			continue
		}
		if !moved {
			continue
		}

		j.Logger.Info("Join request expired", "request_id", r.ID, "user_id", r.UserID)

		if chat, ok := j.userChat(r.UserID); ok {
			j.deliver(ctx, metrics.NotifyJoinExpired, chat, j.expiryText(r), nil)
		}
	}
	return nil
}

func (j *AutoRejectJob) expiryText(r *database.JoinRequest) string {
	if r.TargetType == database.JoinTargetActivity {
		return "Your request to join the activity expired because the activity date has passed."
	}
	return fmt.Sprintf("Your request to join %s %d expired without a response.", r.TargetType, r.TargetID)
}
