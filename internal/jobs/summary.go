package jobs

import (
	"context"
	"fmt"
	"time"

	"clubsync/internal/database"
	"clubsync/internal/metrics"
)

// summaryDelay is how long after the activity end the trainer summary goes out
const summaryDelay = 5 * time.Hour

// SummaryJob sends organizers a submitted/pending/missed breakdown for
// completed club activities. summary_sent_at is always written, even with
// zero participants, so an activity is never re-evaluated.
type SummaryJob struct {
	Deps
}

// NewSummaryJob creates the trainer summary job
func NewSummaryJob(deps Deps) *SummaryJob {
	deps.fill()
	return &SummaryJob{Deps: deps}
}

// Tick processes activities due a summary
func (j *SummaryJob) Tick(ctx context.Context) error {
	now := j.Now()
	due, err := j.DB.ListActivitiesDueSummary(now, summaryDelay)
	if err != nil {
		return err
	}

	for _, a := range due {
		if err := j.summarize(ctx, a, now); err != nil {
			j.Logger.Error("Failed to send trainer summary", "activity_id", a.ID, "error", err)
		}
	}
	return nil
}

func (j *SummaryJob) summarize(ctx context.Context, a *database.Activity, now time.Time) error {
	written, err := j.DB.SetActivitySummarySent(a.ID, now)
	if err != nil {
		return err
	}
	if !written {
		return nil
	}

	parts, err := j.DB.ListParticipations(a.ID)
	if err != nil {
		return err
	}
	if len(parts) == 0 {
		j.Logger.Info("Trainer summary skipped, no participants", "activity_id", a.ID)
		return nil
	}

	var submitted, pending, missed int
	for _, p := range parts {
		switch p.Status {
		case database.ParticipationAttended:
			submitted++
		case database.ParticipationMissed:
			missed++
		case database.ParticipationAwaiting:
			pending++
		}
	}

	chat, ok := j.organizerChat(*a.ClubID)
	if !ok {
		return nil
	}

	text := fmt.Sprintf("Summary for %q: %d submitted, %d pending, %d did not attend.",
		a.Title, submitted, pending, missed)
	j.deliver(ctx, metrics.NotifySummary, chat, text, nil)

	j.Logger.Info("Sent trainer summary", "activity_id", a.ID,
		"submitted", submitted, "pending", pending, "missed", missed)
	return nil
}
