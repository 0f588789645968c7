// Package jobs holds the temporal reconciliation jobs. Every job follows the
// same rule: database mutations are committed before the corresponding
// notification is sent, so a crash between commit and send loses a message
// instead of duplicating one.
package jobs

import (
	"context"
	"log/slog"
	"time"

	"clubsync/internal/database"
	"clubsync/internal/notify"
)

// Job intervals
const (
	ReminderInterval     = time.Hour
	CompletionInterval   = 5 * time.Minute
	AutoRejectInterval   = 5 * time.Minute
	PostTrainingInterval = 5 * time.Minute
	SummaryInterval      = 5 * time.Minute
)

// Deps are the collaborators shared by all jobs
type Deps struct {
	DB       *database.DB
	Notifier notify.Notifier
	Logger   *slog.Logger
	Now      func() time.Time
}

func (d *Deps) fill() {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
}

// userChat resolves a user's chat id, returning false when the user is
// unknown (nothing to notify)
func (d *Deps) userChat(userID int64) (int64, bool) {
	u, err := d.DB.GetUser(userID)
	if err != nil {
		d.Logger.Error("Failed to look up user", "user_id", userID, "error", err)
		return 0, false
	}
	if u == nil {
		return 0, false
	}
	return u.ChatID, true
}

// organizerChat resolves the chat of a club's organizer
func (d *Deps) organizerChat(clubID int64) (int64, bool) {
	c, err := d.DB.GetClub(clubID)
	if err != nil {
		d.Logger.Error("Failed to look up club", "club_id", clubID, "error", err)
		return 0, false
	}
	if c == nil {
		return 0, false
	}
	return d.userChat(c.OrganizerID)
}

// deliver is the post-commit notification step shared by all jobs
func (d *Deps) deliver(ctx context.Context, kind string, chatID int64, text string, actions []notify.Action) {
	notify.Deliver(ctx, d.Notifier, kind, chatID, text, actions)
}
