package database

import (
	"testing"
	"time"
)

func postTrainingFixture(t *testing.T, db *DB) *Activity {
	t.Helper()
	seedUser(t, db, 1, 100, "Creator")
	seedUser(t, db, 2, 101, "Runner")
	return seedActivity(t, db, &Activity{
		CreatorID: 1,
		StartAt:   time.Now().Add(-2 * time.Hour),
		Status:    ActivityCompleted,
	})
}

func TestCreatePostTrainingNotificationIdempotent(t *testing.T) {
	db := setupTestDB(t)
	a := postTrainingFixture(t, db)

	sentAt := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	if err := db.CreatePostTrainingNotification(a.ID, 2, sentAt); err != nil {
		t.Fatalf("Failed to create notification: %v", err)
	}
	// A second create for the same (activity, user) is silently ignored
	if err := db.CreatePostTrainingNotification(a.ID, 2, sentAt.Add(time.Hour)); err != nil {
		t.Fatalf("Failed on second create: %v", err)
	}

	n, err := db.GetPostTrainingNotification(a.ID, 2)
	if err != nil {
		t.Fatalf("Failed to get notification: %v", err)
	}
	if n == nil {
		t.Fatal("Expected notification, got nil")
	}
	if n.Status != PostTrainingSent {
		t.Errorf("Expected status sent, got %s", n.Status)
	}
	if !n.SentAt.Equal(sentAt) {
		t.Errorf("Expected original sent_at preserved, got %v", n.SentAt)
	}
}

func TestPostTrainingReminderFlow(t *testing.T) {
	db := setupTestDB(t)
	a := postTrainingFixture(t, db)

	sentAt := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	if err := db.CreatePostTrainingNotification(a.ID, 2, sentAt); err != nil {
		t.Fatalf("Failed to create notification: %v", err)
	}

	delay := 3 * time.Hour

	// Not yet due at sent + 2h59m
	due, err := db.ListPostTrainingDueReminder(sentAt.Add(delay-time.Minute), delay, 1)
	if err != nil {
		t.Fatalf("Failed to list due reminders: %v", err)
	}
	if len(due) != 0 {
		t.Errorf("Expected no due reminders before delay, got %d", len(due))
	}

	// Due at sent + 3h1m
	due, err = db.ListPostTrainingDueReminder(sentAt.Add(delay+time.Minute), delay, 1)
	if err != nil {
		t.Fatalf("Failed to list due reminders: %v", err)
	}
	if len(due) != 1 {
		t.Fatalf("Expected 1 due reminder, got %d", len(due))
	}

	ok, err := db.MarkPostTrainingReminderSent(due[0].ID)
	if err != nil {
		t.Fatalf("Failed to mark reminder sent: %v", err)
	}
	if !ok {
		t.Error("Expected reminder mark to apply")
	}

	// Reminder cap: the row left the sent state, never listed again
	due, err = db.ListPostTrainingDueReminder(sentAt.Add(6*time.Hour), delay, 1)
	if err != nil {
		t.Fatalf("Failed to re-list due reminders: %v", err)
	}
	if len(due) != 0 {
		t.Errorf("Expected no due reminders after cap, got %d", len(due))
	}

	ok, err = db.MarkPostTrainingReminderSent(due0ID(t, db, a.ID, 2))
	if err != nil {
		t.Fatalf("Failed on second mark: %v", err)
	}
	if ok {
		t.Error("Expected second reminder mark to be a no-op")
	}
}

func due0ID(t *testing.T, db *DB, activityID, userID int64) int64 {
	t.Helper()
	n, err := db.GetPostTrainingNotification(activityID, userID)
	if err != nil || n == nil {
		t.Fatalf("Failed to fetch notification: %v", err)
	}
	return n.ID
}

func TestClosePostTrainingNotification(t *testing.T) {
	db := setupTestDB(t)
	a := postTrainingFixture(t, db)

	sentAt := time.Now().Add(-4 * time.Hour)
	if err := db.CreatePostTrainingNotification(a.ID, 2, sentAt); err != nil {
		t.Fatalf("Failed to create notification: %v", err)
	}

	// Only terminal statuses are accepted
	if _, err := db.ClosePostTrainingNotification(a.ID, 2, PostTrainingSent, time.Now()); err == nil {
		t.Error("Expected close with non-terminal status to fail")
	}

	respondedAt := time.Now()
	ok, err := db.ClosePostTrainingNotification(a.ID, 2, PostTrainingLinkSubmitted, respondedAt)
	if err != nil {
		t.Fatalf("Failed to close notification: %v", err)
	}
	if !ok {
		t.Error("Expected close to apply")
	}

	n, err := db.GetPostTrainingNotification(a.ID, 2)
	if err != nil {
		t.Fatalf("Failed to get notification: %v", err)
	}
	if n.Status != PostTrainingLinkSubmitted {
		t.Errorf("Expected status link_submitted, got %s", n.Status)
	}
	if n.RespondedAt == nil {
		t.Error("Expected responded_at to be set")
	}

	// Closed rows stay closed
	ok, err = db.ClosePostTrainingNotification(a.ID, 2, PostTrainingNotAttended, time.Now())
	if err != nil {
		t.Fatalf("Failed on second close: %v", err)
	}
	if ok {
		t.Error("Expected second close to be a no-op")
	}
}
