package credentials

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"clubsync/internal/database"
	"clubsync/internal/fitness"
	"clubsync/internal/secrets"
)

type tokenServer struct {
	server    *httptest.Server
	refreshes atomic.Int64
	failing   atomic.Bool
}

func newTokenServer(t *testing.T) *tokenServer {
	t.Helper()
	ts := &tokenServer{}
	ts.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ts.refreshes.Add(1)
		if ts.failing.Load() {
			http.Error(w, `{"message":"Bad Request"}`, http.StatusBadRequest)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "refreshed-access",
			"refresh_token": "refreshed-refresh",
			"expires_at":    time.Now().Add(6 * time.Hour).Unix(),
			"athlete":       map[string]any{"id": 42},
		})
	}))
	t.Cleanup(ts.server.Close)
	return ts
}

func setupManager(t *testing.T) (*Manager, *database.DB, *tokenServer) {
	t.Helper()

	db, err := database.Open(t.TempDir() + "/test.db")
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	ts := newTokenServer(t)
	client := fitness.NewClient(fitness.Options{
		TokenURL:     ts.server.URL,
		ClientID:     "client",
		ClientSecret: "secret",
	})

	cipher, err := secrets.New(bytes.Repeat([]byte{0x24}, 32))
	if err != nil {
		t.Fatalf("Failed to create cipher: %v", err)
	}

	if err := db.UpsertUser(&database.User{ID: 1, ChatID: 100, DisplayName: "Runner"}); err != nil {
		t.Fatalf("Failed to seed user: %v", err)
	}

	return NewManager(db, cipher, client), db, ts
}

func connect(t *testing.T, m *Manager, userID, athleteID int64, expiresAt time.Time) {
	t.Helper()
	tok := &fitness.TokenResponse{AccessToken: "stored-access", RefreshToken: "stored-refresh"}
	if !expiresAt.IsZero() {
		tok.ExpiresAt = expiresAt.Unix()
	}
	tok.Athlete.ID = athleteID
	if err := m.Connect(userID, tok); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
}

func TestGetValidTokenFresh(t *testing.T) {
	m, _, ts := setupManager(t)
	connect(t, m, 1, 42, time.Now().Add(6*time.Hour))

	token, err := m.GetValidToken(context.Background(), 1)
	if err != nil {
		t.Fatalf("GetValidToken failed: %v", err)
	}
	if token != "stored-access" {
		t.Errorf("Expected stored token, got %q", token)
	}
	if ts.refreshes.Load() != 0 {
		t.Errorf("Expected no refresh for a fresh token, got %d", ts.refreshes.Load())
	}
}

func TestGetValidTokenRefreshesNearExpiry(t *testing.T) {
	m, db, ts := setupManager(t)
	// Expires inside the 5 minute refresh buffer
	connect(t, m, 1, 42, time.Now().Add(2*time.Minute))

	token, err := m.GetValidToken(context.Background(), 1)
	if err != nil {
		t.Fatalf("GetValidToken failed: %v", err)
	}
	if token != "refreshed-access" {
		t.Errorf("Expected refreshed token, got %q", token)
	}
	if ts.refreshes.Load() != 1 {
		t.Errorf("Expected 1 refresh, got %d", ts.refreshes.Load())
	}

	// The rotated pair lands encrypted; the stored blobs are not plaintext
	cred, err := db.GetCredential(1)
	if err != nil {
		t.Fatalf("Failed to get credential: %v", err)
	}
	if cred.AccessToken == "refreshed-access" || cred.RefreshToken == "refreshed-refresh" {
		t.Error("Expected stored tokens to be encrypted")
	}

	// The new expiry is recorded, so a second call skips the refresh
	if _, err := m.GetValidToken(context.Background(), 1); err != nil {
		t.Fatalf("Second GetValidToken failed: %v", err)
	}
	if ts.refreshes.Load() != 1 {
		t.Errorf("Expected no second refresh, got %d", ts.refreshes.Load())
	}
}

func TestGetValidTokenRefreshesUnknownExpiry(t *testing.T) {
	m, _, ts := setupManager(t)
	connect(t, m, 1, 42, time.Time{})

	token, err := m.GetValidToken(context.Background(), 1)
	if err != nil {
		t.Fatalf("GetValidToken failed: %v", err)
	}
	if token != "refreshed-access" {
		t.Errorf("Expected refreshed token, got %q", token)
	}
	if ts.refreshes.Load() != 1 {
		t.Errorf("Expected 1 refresh, got %d", ts.refreshes.Load())
	}
}

func TestGetValidTokenNotConnected(t *testing.T) {
	m, _, _ := setupManager(t)

	_, err := m.GetValidToken(context.Background(), 1)
	if !errors.Is(err, ErrNotConnected) {
		t.Errorf("Expected ErrNotConnected, got %v", err)
	}
}

func TestGetValidTokenRefreshFailure(t *testing.T) {
	m, _, ts := setupManager(t)
	connect(t, m, 1, 42, time.Now().Add(-time.Hour))
	ts.failing.Store(true)

	_, err := m.GetValidToken(context.Background(), 1)
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("Expected ErrUnavailable, got %v", err)
	}
}

func TestConnectRejectsLinkedAthlete(t *testing.T) {
	m, db, _ := setupManager(t)
	if err := db.UpsertUser(&database.User{ID: 2, ChatID: 200, DisplayName: "Other"}); err != nil {
		t.Fatalf("Failed to seed user: %v", err)
	}
	connect(t, m, 1, 42, time.Now().Add(6*time.Hour))

	tok := &fitness.TokenResponse{AccessToken: "a", RefreshToken: "r",
		ExpiresAt: time.Now().Add(6 * time.Hour).Unix()}
	tok.Athlete.ID = 42
	if err := m.Connect(2, tok); err == nil {
		t.Error("Expected error linking athlete 42 to a second user")
	}

	// Re-connecting the same user is fine (token rotation)
	if err := m.Connect(1, tok); err != nil {
		t.Errorf("Expected re-connect of the same user to succeed, got %v", err)
	}
}

func TestUserForAthlete(t *testing.T) {
	m, _, _ := setupManager(t)
	connect(t, m, 1, 42, time.Now().Add(6*time.Hour))

	userID, err := m.UserForAthlete(42)
	if err != nil {
		t.Fatalf("UserForAthlete failed: %v", err)
	}
	if userID != 1 {
		t.Errorf("Expected user 1, got %d", userID)
	}

	_, err = m.UserForAthlete(999)
	if !errors.Is(err, ErrNotConnected) {
		t.Errorf("Expected ErrNotConnected for unknown athlete, got %v", err)
	}
}

func TestDisconnect(t *testing.T) {
	m, _, _ := setupManager(t)
	connect(t, m, 1, 42, time.Now().Add(6*time.Hour))

	if err := m.Disconnect(1); err != nil {
		t.Fatalf("Disconnect failed: %v", err)
	}
	_, err := m.GetValidToken(context.Background(), 1)
	if !errors.Is(err, ErrNotConnected) {
		t.Errorf("Expected ErrNotConnected after disconnect, got %v", err)
	}
}
