package reconciler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"clubsync/internal/database"
	"clubsync/internal/metrics"
	"clubsync/internal/notify"
)

// ErrAlreadyProcessed means the pending match was confirmed, rejected, or
// expired by someone else first
var ErrAlreadyProcessed = errors.New("match already processed")

// ConfirmPendingMatch links the matched external activity to the user's
// participation. The match row is claimed (deleted) before any write, so a
// repeated confirmation returns ErrAlreadyProcessed instead of re-linking.
func (r *Reconciler) ConfirmPendingMatch(ctx context.Context, matchID string) error {
	pm, err := r.db.ClaimPendingMatch(matchID)
	if err != nil {
		return err
	}
	if pm == nil {
		return ErrAlreadyProcessed
	}

	linked, err := r.db.AttachTrainingLink(pm.ActivityID, pm.UserID,
		linkURLFromPayload(pm), database.LinkSourceExternalAuto,
		&pm.ExternalActivityID, &pm.Payload)
	if err != nil {
		return err
	}
	if !linked {
		// A link already landed through another path; the claim still
		// consumed the proposal, nothing more to do
		r.logger.Info("Pending match confirmed but link already present",
			"match_id", matchID, "activity_id", pm.ActivityID, "user_id", pm.UserID)
		return nil
	}

	// Close out any open post-training prompt for this participation
	if _, err := r.db.ClosePostTrainingNotification(pm.ActivityID, pm.UserID,
		database.PostTrainingLinkSubmitted, r.now()); err != nil {
		r.logger.Error("Failed to close post-training notification",
			"activity_id", pm.ActivityID, "user_id", pm.UserID, "error", err)
	}

	r.logger.Info("Pending match confirmed",
		"match_id", matchID,
		"activity_id", pm.ActivityID,
		"user_id", pm.UserID,
		"confidence", pm.Confidence)

	r.notifyOrganizerLinked(ctx, pm)
	return nil
}

// RejectPendingMatch discards a proposal. Idempotent the same way as confirm.
func (r *Reconciler) RejectPendingMatch(ctx context.Context, matchID string) error {
	pm, err := r.db.ClaimPendingMatch(matchID)
	if err != nil {
		return err
	}
	if pm == nil {
		return ErrAlreadyProcessed
	}
	r.logger.Info("Pending match rejected",
		"match_id", matchID, "activity_id", pm.ActivityID, "user_id", pm.UserID)
	return nil
}

func (r *Reconciler) notifyOrganizerLinked(ctx context.Context, pm *database.PendingMatch) {
	activity, err := r.db.GetActivity(pm.ActivityID)
	if err != nil || activity == nil || activity.ClubID == nil {
		return
	}
	club, err := r.db.GetClub(*activity.ClubID)
	if err != nil || club == nil {
		return
	}
	user, err := r.db.GetUser(pm.UserID)
	if err != nil || user == nil {
		return
	}
	organizer, err := r.db.GetUser(club.OrganizerID)
	if err != nil || organizer == nil {
		return
	}
	text := fmt.Sprintf("%s linked a tracked workout to %q.", user.DisplayName, activity.Title)
	notify.Deliver(ctx, r.notifier, metrics.NotifyMatch, organizer.ChatID, text, nil)
}

// linkURLFromPayload pulls the activity URL out of the cached provider
// payload. An empty URL is stored as-is rather than invented.
func linkURLFromPayload(pm *database.PendingMatch) string {
	var v struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal([]byte(pm.Payload), &v); err == nil && v.URL != "" {
		return v.URL
	}
	return fmt.Sprintf("external:%d", pm.ExternalActivityID)
}
