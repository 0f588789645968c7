// Package oauth runs the provider authorization flow: short-lived CSRF
// states, code exchange, and credential linking.
package oauth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"clubsync/internal/credentials"
	"clubsync/internal/database"
	"clubsync/internal/fitness"
	"clubsync/internal/metrics"
	"clubsync/internal/notify"
)

const stateTTL = 10 * time.Minute

type pendingState struct {
	userID    int64
	expiresAt time.Time
}

// Manager issues authorization URLs and completes callbacks
type Manager struct {
	db       *database.DB
	creds    *credentials.Manager
	client   *fitness.Client
	notifier notify.Notifier
	logger   *slog.Logger

	authURL     string
	clientID    string
	redirectURL string

	mu     sync.Mutex
	states map[string]pendingState
}

// New creates a Manager. redirectURL is the absolute callback URL registered
// with the provider.
func New(db *database.DB, creds *credentials.Manager, client *fitness.Client, notifier notify.Notifier, authURL, clientID, redirectURL string) *Manager {
	return &Manager{
		db:          db,
		creds:       creds,
		client:      client,
		notifier:    notifier,
		logger:      slog.Default(),
		authURL:     authURL,
		clientID:    clientID,
		redirectURL: redirectURL,
		states:      make(map[string]pendingState),
	}
}

// AuthURL creates a one-time state for the user and returns the provider
// authorization URL to redirect them to
func (m *Manager) AuthURL(userID int64) (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate state: %w", err)
	}
	state := hex.EncodeToString(buf)

	m.mu.Lock()
	m.pruneLocked()
	m.states[state] = pendingState{userID: userID, expiresAt: time.Now().Add(stateTTL)}
	m.mu.Unlock()

	q := url.Values{}
	q.Set("client_id", m.clientID)
	q.Set("redirect_uri", m.redirectURL)
	q.Set("response_type", "code")
	q.Set("scope", "activity:read_all")
	q.Set("state", state)
	return m.authURL + "?" + q.Encode(), nil
}

// HandleCallback consumes the state, exchanges the code, and links the
// athlete's credentials to the user
func (m *Manager) HandleCallback(ctx context.Context, code, state string) error {
	m.mu.Lock()
	pending, ok := m.states[state]
	delete(m.states, state)
	m.mu.Unlock()

	if !ok || time.Now().After(pending.expiresAt) {
		return fmt.Errorf("unknown or expired state")
	}

	tok, err := m.client.ExchangeCode(ctx, code)
	if err != nil {
		return fmt.Errorf("code exchange failed: %w", err)
	}

	if err := m.creds.Connect(pending.userID, tok); err != nil {
		return err
	}

	m.logger.Info("Provider account connected",
		"user_id", pending.userID, "athlete_id", tok.Athlete.ID)

	if u, err := m.db.GetUser(pending.userID); err == nil && u != nil {
		notify.Deliver(ctx, m.notifier, metrics.NotifyConnected, u.ChatID,
			"Your fitness account is connected. Tracked activities will now be matched automatically.", nil)
	}
	return nil
}

// pruneLocked drops expired states; caller holds mu
func (m *Manager) pruneLocked() {
	now := time.Now()
	for s, p := range m.states {
		if now.After(p.expiresAt) {
			delete(m.states, s)
		}
	}
}
