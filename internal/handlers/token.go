package handlers

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"clubsync/internal/config"
	"clubsync/internal/credentials"
)

// TokenHandler serves decrypted access tokens to trusted sibling services
type TokenHandler struct {
	creds  *credentials.Manager
	config *config.Config
	logger *slog.Logger
}

// NewTokenHandler creates a new internal token handler
func NewTokenHandler(creds *credentials.Manager, cfg *config.Config) *TokenHandler {
	return &TokenHandler{
		creds:  creds,
		config: cfg,
		logger: slog.Default(),
	}
}

// HandleGetToken returns a valid access token for a connected user.
// Requires the internal API key; 404 when the user is not connected.
func (h *TokenHandler) HandleGetToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	key := r.Header.Get("X-API-Key")
	if subtle.ConstantTimeCompare([]byte(key), []byte(h.config.InternalAPIKey)) != 1 {
		h.logger.Warn("Rejected internal token request", "remote", r.RemoteAddr)
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	userID, err := strconv.ParseInt(r.URL.Query().Get("user_id"), 10, 64)
	if err != nil || userID <= 0 {
		http.Error(w, "Missing or invalid user_id", http.StatusBadRequest)
		return
	}

	token, err := h.creds.GetValidToken(r.Context(), userID)
	if err != nil {
		if errors.Is(err, credentials.ErrNotConnected) {
			http.Error(w, "User is not connected", http.StatusNotFound)
			return
		}
		h.logger.Error("Failed to get token", "user_id", userID, "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]string{"access_token": token}); err != nil {
		h.logger.Error("Failed to encode token response", "error", err)
	}
}
