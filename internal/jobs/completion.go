package jobs

import (
	"context"
	"fmt"

	"clubsync/internal/database"
	"clubsync/internal/metrics"
	"clubsync/internal/notify"
)

// CompletionJob advances activities whose end time has passed: the activity
// goes to completed, registered/confirmed participations go to awaiting, and
// a post-training notification row is created per participant.
type CompletionJob struct {
	Deps
}

// NewCompletionJob creates the completion job
func NewCompletionJob(deps Deps) *CompletionJob {
	deps.fill()
	return &CompletionJob{Deps: deps}
}

// Tick processes all due activities. Each activity's mutations are committed
// before any of its notifications go out.
func (j *CompletionJob) Tick(ctx context.Context) error {
	now := j.Now()
	due, err := j.DB.ListActivitiesDueCompletion(now)
	if err != nil {
		return err
	}

	for _, a := range due {
		if err := j.complete(ctx, a); err != nil {
			j.Logger.Error("Failed to complete activity", "activity_id", a.ID, "error", err)
			// Continue with other activities
		}
	}
	return nil
}

func (j *CompletionJob) complete(ctx context.Context, a *database.Activity) error {
	moved, err := j.DB.MarkActivityCompleted(a.ID)
	if err != nil {
		return err
	}
	if !moved {
		// Another pass got here first
		return nil
	}

	parts, err := j.DB.ListParticipations(a.ID,
		database.ParticipationRegistered, database.ParticipationConfirmed)
	if err != nil {
		return err
	}

	if _, err := j.DB.MoveParticipationsToAwaiting(a.ID); err != nil {
		return err
	}

	now := j.Now()
	for _, p := range parts {
		if err := j.DB.CreatePostTrainingNotification(a.ID, p.UserID, now); err != nil {
			return err
		}
	}

	// State is committed; now the sends
	j.Logger.Info("Activity completed", "activity_id", a.ID, "participants", len(parts))

	prompt := fmt.Sprintf("%q has finished. How did it go? Share your training link.", a.Title)
	for _, p := range parts {
		if chat, ok := j.userChat(p.UserID); ok {
			j.deliver(ctx, metrics.NotifyCompletion, chat, prompt, []notify.Action{
				{Label: "I did not attend", Callback: fmt.Sprintf("not_attended:%d:%d", a.ID, p.UserID)},
			})
		}
	}

	switch {
	case a.ClubID != nil:
		if chat, ok := j.organizerChat(*a.ClubID); ok {
			text := fmt.Sprintf("%q is complete. %d participant(s) were asked for their trainings.", a.Title, len(parts))
			j.deliver(ctx, metrics.NotifyCompletion, chat, text, nil)
		}
	case len(parts) == 1:
		// Solo activity: the single participant already got the prompt,
		// tell them the activity itself is closed out
		if chat, ok := j.userChat(parts[0].UserID); ok {
			j.deliver(ctx, metrics.NotifyCompletion, chat, fmt.Sprintf("%q is marked complete.", a.Title), nil)
		}
	}

	return nil
}
