package handlers

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"clubsync/internal/config"
	"clubsync/internal/credentials"
	"clubsync/internal/oauth"
)

// OAuthHandler handles the provider authorization endpoints
type OAuthHandler struct {
	oauthManager *oauth.Manager
	creds        *credentials.Manager
	config       *config.Config
	logger       *slog.Logger
}

// NewOAuthHandler creates a new OAuth handler
func NewOAuthHandler(oauthManager *oauth.Manager, creds *credentials.Manager, cfg *config.Config) *OAuthHandler {
	return &OAuthHandler{
		oauthManager: oauthManager,
		creds:        creds,
		config:       cfg,
		logger:       slog.Default(),
	}
}

// HandleAuthStart initiates the OAuth flow by redirecting to the provider
func (h *OAuthHandler) HandleAuthStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	userID, err := strconv.ParseInt(r.URL.Query().Get("user_id"), 10, 64)
	if err != nil || userID <= 0 {
		http.Error(w, "Missing or invalid user_id", http.StatusBadRequest)
		return
	}

	authURL, err := h.oauthManager.AuthURL(userID)
	if err != nil {
		h.logger.Error("Failed to generate auth URL", "error", err)
		http.Error(w, "Failed to start authorization", http.StatusInternalServerError)
		return
	}

	h.logger.Info("Starting OAuth flow", "user_id", userID)
	http.Redirect(w, r, authURL, http.StatusTemporaryRedirect)
}

// HandleCallback processes the OAuth callback from the provider
func (h *OAuthHandler) HandleCallback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	code := r.URL.Query().Get("code")
	state := r.URL.Query().Get("state")
	errorParam := r.URL.Query().Get("error")

	if errorParam != "" {
		h.logger.Warn("OAuth authorization denied", "error", errorParam)
		http.Error(w, fmt.Sprintf("Authorization failed: %s", errorParam), http.StatusBadRequest)
		return
	}

	if code == "" || state == "" {
		h.logger.Warn("Missing OAuth parameters", "has_code", code != "", "has_state", state != "")
		http.Error(w, "Missing code or state parameter", http.StatusBadRequest)
		return
	}

	if err := h.oauthManager.HandleCallback(r.Context(), code, state); err != nil {
		h.logger.Error("Failed to handle OAuth callback", "error", err)
		http.Error(w, "Failed to complete authorization. Please try again.", http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, `<!DOCTYPE html>
<html>
<head>
	<meta charset="utf-8">
	<title>Account Connected</title>
	<style>
		body {
			font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", Helvetica, Arial, sans-serif;
			max-width: 600px;
			margin: 100px auto;
			padding: 20px;
			text-align: center;
		}
		h1 { color: #2a9d8f; }
		p { color: #666; line-height: 1.6; }
	</style>
</head>
<body>
	<h1>&#10003; Account Connected</h1>
	<p>Your fitness account is now linked. Tracked activities will be matched to your club trainings automatically.</p>
	<p>You can close this window and return to the chat.</p>
</body>
</html>`)
}

// HandleDisconnect removes the user's provider credential
func (h *OAuthHandler) HandleDisconnect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	userID, err := strconv.ParseInt(r.URL.Query().Get("user_id"), 10, 64)
	if err != nil || userID <= 0 {
		http.Error(w, "Missing or invalid user_id", http.StatusBadRequest)
		return
	}

	if err := h.creds.Disconnect(userID); err != nil {
		h.logger.Error("Failed to disconnect user", "user_id", userID, "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	h.logger.Info("Provider account disconnected", "user_id", userID)
	w.WriteHeader(http.StatusNoContent)
}
