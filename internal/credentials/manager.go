// Package credentials owns the encrypted provider token lifecycle.
package credentials

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"clubsync/internal/database"
	"clubsync/internal/fitness"
	"clubsync/internal/metrics"
	"clubsync/internal/secrets"
)

// refreshBuffer refreshes tokens this long before their recorded expiry
const refreshBuffer = 5 * time.Minute

var (
	// ErrNotConnected is returned when the user has no provider credential
	ErrNotConnected = errors.New("user is not connected to the fitness provider")

	// ErrUnavailable is returned when a token refresh fails. Callers must
	// not retry synchronously; the webhook retry sweep re-attempts later.
	ErrUnavailable = errors.New("provider token is unavailable")
)

// Manager holds encrypted token pairs and refreshes them on demand
type Manager struct {
	db     *database.DB
	cipher *secrets.Cipher
	client *fitness.Client
	logger *slog.Logger
	now    func() time.Time
}

// NewManager creates a credential manager
func NewManager(db *database.DB, cipher *secrets.Cipher, client *fitness.Client) *Manager {
	return &Manager{
		db:     db,
		cipher: cipher,
		client: client,
		logger: slog.Default(),
		now:    time.Now,
	}
}

// GetValidToken returns a currently-valid decrypted access token for a user,
// refreshing the pair first when the recorded expiry is unknown or within
// the refresh buffer
func (m *Manager) GetValidToken(ctx context.Context, userID int64) (string, error) {
	cred, err := m.db.GetCredential(userID)
	if err != nil {
		return "", err
	}
	if cred == nil || cred.RefreshToken == "" {
		return "", ErrNotConnected
	}

	needsRefresh := cred.ExpiresAt == nil || m.now().Add(refreshBuffer).After(*cred.ExpiresAt)
	if !needsRefresh {
		access, err := m.cipher.Decrypt(cred.AccessToken)
		if err != nil {
			// A corrupted token is not "no token": surface it
			m.logger.Error("Failed to decrypt access token", "user_id", userID, "error", err)
			return "", fmt.Errorf("decrypt access token for user %d: %w", userID, err)
		}
		return access, nil
	}

	return m.refresh(ctx, cred)
}

// refresh performs a provider token refresh and persists the new pair
func (m *Manager) refresh(ctx context.Context, cred *database.Credential) (string, error) {
	refreshToken, err := m.cipher.Decrypt(cred.RefreshToken)
	if err != nil {
		m.logger.Error("Failed to decrypt refresh token", "user_id", cred.UserID, "error", err)
		return "", fmt.Errorf("decrypt refresh token for user %d: %w", cred.UserID, err)
	}

	tokenResp, err := m.client.RefreshToken(ctx, refreshToken)
	if err != nil {
		metrics.TokenRefreshesTotal.WithLabelValues(metrics.ResultFailure).Inc()
		m.logger.Warn("Token refresh failed", "user_id", cred.UserID, "error", err)
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	encAccess, err := m.cipher.Encrypt(tokenResp.AccessToken)
	if err != nil {
		return "", fmt.Errorf("encrypt access token: %w", err)
	}
	encRefresh, err := m.cipher.Encrypt(tokenResp.RefreshToken)
	if err != nil {
		return "", fmt.Errorf("encrypt refresh token: %w", err)
	}

	var expiresAt *time.Time
	if tokenResp.ExpiresAt > 0 {
		t := time.Unix(tokenResp.ExpiresAt, 0)
		expiresAt = &t
	}

	if err := m.db.UpdateCredentialTokens(cred.UserID, encAccess, encRefresh, expiresAt); err != nil {
		return "", err
	}

	metrics.TokenRefreshesTotal.WithLabelValues(metrics.ResultSuccess).Inc()
	m.logger.Info("Refreshed provider token", "user_id", cred.UserID)

	return tokenResp.AccessToken, nil
}

// Connect stores an encrypted token pair from an OAuth exchange. Fails when
// the external athlete is already linked to a different internal user.
func (m *Manager) Connect(userID int64, tokenResp *fitness.TokenResponse) error {
	existing, err := m.db.GetCredentialByAthleteID(tokenResp.Athlete.ID)
	if err != nil {
		return err
	}
	if existing != nil && existing.UserID != userID {
		return fmt.Errorf("athlete %d is already linked to another user", tokenResp.Athlete.ID)
	}

	encAccess, err := m.cipher.Encrypt(tokenResp.AccessToken)
	if err != nil {
		return fmt.Errorf("encrypt access token: %w", err)
	}
	encRefresh, err := m.cipher.Encrypt(tokenResp.RefreshToken)
	if err != nil {
		return fmt.Errorf("encrypt refresh token: %w", err)
	}

	var expiresAt *time.Time
	if tokenResp.ExpiresAt > 0 {
		t := time.Unix(tokenResp.ExpiresAt, 0)
		expiresAt = &t
	}

	return m.db.UpsertCredential(&database.Credential{
		UserID:            userID,
		ExternalAthleteID: tokenResp.Athlete.ID,
		AccessToken:       encAccess,
		RefreshToken:      encRefresh,
		ExpiresAt:         expiresAt,
	})
}

// Disconnect clears the user's credential
func (m *Manager) Disconnect(userID int64) error {
	return m.db.DeleteCredential(userID)
}

// UserForAthlete resolves which internal user an external athlete id belongs
// to. Returns ErrNotConnected when no user is linked.
func (m *Manager) UserForAthlete(athleteID int64) (int64, error) {
	cred, err := m.db.GetCredentialByAthleteID(athleteID)
	if err != nil {
		return 0, err
	}
	if cred == nil {
		return 0, ErrNotConnected
	}
	return cred.UserID, nil
}
