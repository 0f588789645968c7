package jobs

import (
	"context"
	"fmt"
	"time"

	"clubsync/internal/database"
	"clubsync/internal/metrics"
)

// Reminder lead time: participants are reminded two days before the start
const (
	reminderLead   = 48 * time.Hour
	reminderWindow = time.Hour
)

// ReminderJob notifies participants and the linked channel of activities
// starting in two days. The notified set is a best-effort in-process cache,
// reset on restart; a duplicate reminder after a crash is accepted.
type ReminderJob struct {
	Deps
	notified map[int64]struct{}
}

// NewReminderJob creates the reminder job
func NewReminderJob(deps Deps) *ReminderJob {
	deps.fill()
	return &ReminderJob{Deps: deps, notified: make(map[int64]struct{})}
}

// Tick scans the [now+48h, now+49h) window and sends reminders
func (j *ReminderJob) Tick(ctx context.Context) error {
	now := j.Now()
	from := now.Add(reminderLead)
	to := from.Add(reminderWindow)

	activities, err := j.DB.ListActivitiesInReminderWindow(from, to)
	if err != nil {
		return err
	}

	for _, a := range activities {
		if _, done := j.notified[a.ID]; done {
			continue
		}
		j.remind(ctx, a)
		j.notified[a.ID] = struct{}{}
	}
	return nil
}

func (j *ReminderJob) remind(ctx context.Context, a *database.Activity) {
	parts, err := j.DB.ListParticipations(a.ID,
		database.ParticipationRegistered, database.ParticipationConfirmed)
	if err != nil {
		j.Logger.Error("Failed to list participants for reminder", "activity_id", a.ID, "error", err)
		return
	}

	text := fmt.Sprintf("Reminder: %q starts %s.", a.Title, a.StartAt.Format("Mon 15:04"))

	for _, p := range parts {
		if chat, ok := j.userChat(p.UserID); ok {
			j.deliver(ctx, metrics.NotifyReminder, chat, text, nil)
		}
	}

	if a.ClubID != nil {
		club, err := j.DB.GetClub(*a.ClubID)
		if err != nil {
			j.Logger.Error("Failed to look up club for reminder", "club_id", *a.ClubID, "error", err)
			return
		}
		if club != nil && club.ChatID != nil {
			j.deliver(ctx, metrics.NotifyReminder, *club.ChatID, text, nil)
		}
	}

	j.Logger.Info("Sent activity reminder", "activity_id", a.ID, "participants", len(parts))
}
