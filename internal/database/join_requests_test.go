package database

import (
	"testing"
	"time"
)

func TestCreateJoinRequestPurgesStale(t *testing.T) {
	db := setupTestDB(t)
	seedUser(t, db, 1, 100, "Organizer")
	seedUser(t, db, 2, 101, "Requester")
	seedClub(t, db, 10, 1, nil)

	first := &JoinRequest{UserID: 2, TargetType: JoinTargetClub, TargetID: 10}
	if err := db.CreateJoinRequest(first); err != nil {
		t.Fatalf("Failed to create join request: %v", err)
	}
	if first.Status != JoinRequestPending {
		t.Errorf("Expected pending status, got %s", first.Status)
	}

	ok, err := db.MarkJoinRequestRejected(first.ID)
	if err != nil {
		t.Fatalf("Failed to reject: %v", err)
	}
	if !ok {
		t.Fatal("Expected rejection to apply")
	}

	// Re-requesting replaces the rejected row
	second := &JoinRequest{UserID: 2, TargetType: JoinTargetClub, TargetID: 10}
	if err := db.CreateJoinRequest(second); err != nil {
		t.Fatalf("Failed to re-create join request: %v", err)
	}

	gone, err := db.GetJoinRequest(first.ID)
	if err != nil {
		t.Fatalf("Failed to get old request: %v", err)
	}
	if gone != nil {
		t.Error("Expected rejected request to be purged on re-request")
	}

	fresh, err := db.GetJoinRequest(second.ID)
	if err != nil {
		t.Fatalf("Failed to get new request: %v", err)
	}
	if fresh == nil || fresh.Status != JoinRequestPending {
		t.Errorf("Expected fresh pending request, got %+v", fresh)
	}
}

func TestListExpiredJoinRequests(t *testing.T) {
	db := setupTestDB(t)
	seedUser(t, db, 1, 100, "Organizer")
	seedUser(t, db, 2, 101, "Requester")
	seedUser(t, db, 3, 102, "Other")
	seedClub(t, db, 10, 1, nil)

	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	// Activity that started yesterday: its join requests expire
	past := seedActivity(t, db, &Activity{CreatorID: 1, StartAt: now.Add(-24 * time.Hour)})
	// Activity tomorrow: requests stay pending
	future := seedActivity(t, db, &Activity{CreatorID: 1, StartAt: now.Add(24 * time.Hour)})

	expired := &JoinRequest{UserID: 2, TargetType: JoinTargetActivity, TargetID: past.ID}
	if err := db.CreateJoinRequest(expired); err != nil {
		t.Fatalf("Failed to create join request: %v", err)
	}
	pending := &JoinRequest{UserID: 2, TargetType: JoinTargetActivity, TargetID: future.ID}
	if err := db.CreateJoinRequest(pending); err != nil {
		t.Fatalf("Failed to create join request: %v", err)
	}

	// Club request with an explicit expiry in the past
	expiry := now.Add(-time.Hour)
	clubExpired := &JoinRequest{UserID: 3, TargetType: JoinTargetClub, TargetID: 10, ExpiresAt: &expiry}
	if err := db.CreateJoinRequest(clubExpired); err != nil {
		t.Fatalf("Failed to create join request: %v", err)
	}
	// Club request without expiry never expires on its own
	clubOpen := &JoinRequest{UserID: 2, TargetType: JoinTargetClub, TargetID: 10}
	if err := db.CreateJoinRequest(clubOpen); err != nil {
		t.Fatalf("Failed to create join request: %v", err)
	}

	out, err := db.ListExpiredJoinRequests(now)
	if err != nil {
		t.Fatalf("Failed to list expired requests: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("Expected 2 expired requests, got %d", len(out))
	}
	ids := map[int64]bool{out[0].ID: true, out[1].ID: true}
	if !ids[expired.ID] || !ids[clubExpired.ID] {
		t.Errorf("Expected requests %d and %d, got %v", expired.ID, clubExpired.ID, ids)
	}

	// Marking expired is guarded on pending
	ok, err := db.MarkJoinRequestExpired(expired.ID)
	if err != nil {
		t.Fatalf("Failed to mark expired: %v", err)
	}
	if !ok {
		t.Error("Expected first expiry to apply")
	}
	ok, err = db.MarkJoinRequestExpired(expired.ID)
	if err != nil {
		t.Fatalf("Failed on second expiry: %v", err)
	}
	if ok {
		t.Error("Expected second expiry to be a no-op")
	}

	// An approved request cannot be expired after the fact
	ok, err = db.MarkJoinRequestApproved(pending.ID)
	if err != nil {
		t.Fatalf("Failed to approve: %v", err)
	}
	if !ok {
		t.Fatal("Expected approval to apply")
	}
	ok, err = db.MarkJoinRequestExpired(pending.ID)
	if err != nil {
		t.Fatalf("Failed to expire approved: %v", err)
	}
	if ok {
		t.Error("Expected expiry of approved request to be a no-op")
	}
}
