package jobs

import (
	"context"
	"fmt"
	"time"

	"clubsync/internal/database"
	"clubsync/internal/metrics"
	"clubsync/internal/notify"
)

// Post-training reminder policy
const (
	// postTrainingDelay is how long after the initial prompt the reminder fires
	postTrainingDelay = 3 * time.Hour
	// PostTrainingReminderCap bounds reminders per participant
	PostTrainingReminderCap = 1
)

// PostTrainingJob nudges participants who have not responded to the
// submit-your-training prompt. Participants who attached a link through
// another path are silently closed out.
type PostTrainingJob struct {
	Deps
}

// NewPostTrainingJob creates the post-training reminder job
func NewPostTrainingJob(deps Deps) *PostTrainingJob {
	deps.fill()
	return &PostTrainingJob{Deps: deps}
}

// Tick processes notifications due a reminder
func (j *PostTrainingJob) Tick(ctx context.Context) error {
	now := j.Now()
	due, err := j.DB.ListPostTrainingDueReminder(now, postTrainingDelay, PostTrainingReminderCap)
	if err != nil {
		return err
	}

	for _, n := range due {
		if err := j.remind(ctx, n); err != nil {
			j.Logger.Error("Failed to process post-training reminder",
				"activity_id", n.ActivityID, "user_id", n.UserID, "error", err)
		}
	}
	return nil
}

func (j *PostTrainingJob) remind(ctx context.Context, n *database.PostTrainingNotification) error {
	p, err := j.DB.GetParticipation(n.ActivityID, n.UserID)
	if err != nil {
		return err
	}

	// A link arrived through another path: close silently, no message
	if p != nil && p.HasTrainingLink() {
		_, err := j.DB.ClosePostTrainingNotification(n.ActivityID, n.UserID,
			database.PostTrainingLinkSubmitted, j.Now())
		return err
	}

	moved, err := j.DB.MarkPostTrainingReminderSent(n.ID)
	if err != nil {
		return err
	}
	if !moved {
		return nil
	}

	chat, ok := j.userChat(n.UserID)
	if !ok {
		return nil
	}

	text := "Still waiting on your training link. Share it when you can."
	j.deliver(ctx, metrics.NotifyPostTraining, chat, text, []notify.Action{
		{Label: "I did not attend", Callback: fmt.Sprintf("not_attended:%d:%d", n.ActivityID, n.UserID)},
	})
	return nil
}
