package database

import (
	"testing"
	"time"
)

func TestCredentialLifecycle(t *testing.T) {
	db := setupTestDB(t)
	seedUser(t, db, 1, 100, "Runner")

	expiresAt := time.Now().Add(6 * time.Hour).Truncate(time.Second)
	cred := &Credential{
		UserID:            1,
		ExternalAthleteID: 42,
		AccessToken:       "enc_access",
		RefreshToken:      "enc_refresh",
		ExpiresAt:         &expiresAt,
	}
	if err := db.UpsertCredential(cred); err != nil {
		t.Fatalf("Failed to upsert credential: %v", err)
	}

	got, err := db.GetCredential(1)
	if err != nil {
		t.Fatalf("Failed to get credential: %v", err)
	}
	if got == nil {
		t.Fatal("Expected credential, got nil")
	}
	if got.AccessToken != "enc_access" {
		t.Errorf("Expected stored access token, got %s", got.AccessToken)
	}
	if got.ExpiresAt == nil || !got.ExpiresAt.Equal(expiresAt) {
		t.Errorf("Expected expiry %v, got %v", expiresAt, got.ExpiresAt)
	}

	byAthlete, err := db.GetCredentialByAthleteID(42)
	if err != nil {
		t.Fatalf("Failed to get by athlete: %v", err)
	}
	if byAthlete == nil || byAthlete.UserID != 1 {
		t.Errorf("Expected athlete 42 linked to user 1, got %+v", byAthlete)
	}

	// Token rotation, including an unknown expiry
	if err := db.UpdateCredentialTokens(1, "enc_access2", "enc_refresh2", nil); err != nil {
		t.Fatalf("Failed to update tokens: %v", err)
	}
	got, err = db.GetCredential(1)
	if err != nil {
		t.Fatalf("Failed to re-get credential: %v", err)
	}
	if got.AccessToken != "enc_access2" || got.RefreshToken != "enc_refresh2" {
		t.Error("Expected rotated tokens")
	}
	if got.ExpiresAt != nil {
		t.Errorf("Expected unknown expiry, got %v", got.ExpiresAt)
	}

	if err := db.DeleteCredential(1); err != nil {
		t.Fatalf("Failed to delete credential: %v", err)
	}
	got, err = db.GetCredential(1)
	if err != nil {
		t.Fatalf("Failed to get deleted credential: %v", err)
	}
	if got != nil {
		t.Error("Expected nil after delete")
	}

	// Deleting again is harmless
	if err := db.DeleteCredential(1); err != nil {
		t.Fatalf("Failed on second delete: %v", err)
	}
}

func TestCredentialAthleteUniqueness(t *testing.T) {
	db := setupTestDB(t)
	seedUser(t, db, 1, 100, "First")
	seedUser(t, db, 2, 101, "Second")

	err := db.UpsertCredential(&Credential{
		UserID: 1, ExternalAthleteID: 42,
		AccessToken: "a", RefreshToken: "b",
	})
	if err != nil {
		t.Fatalf("Failed to upsert first credential: %v", err)
	}

	// The same athlete cannot be linked to a second user
	err = db.UpsertCredential(&Credential{
		UserID: 2, ExternalAthleteID: 42,
		AccessToken: "c", RefreshToken: "d",
	})
	if err == nil {
		t.Error("Expected duplicate athlete link to fail")
	}
}
