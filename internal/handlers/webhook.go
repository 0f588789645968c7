package handlers

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"clubsync/internal/config"
	"clubsync/internal/reconciler"
)

// WebhookHandler handles fitness provider webhook callbacks
type WebhookHandler struct {
	reconciler *reconciler.Reconciler
	config     *config.Config
	logger     *slog.Logger
}

// NewWebhookHandler creates a new webhook handler
func NewWebhookHandler(rec *reconciler.Reconciler, cfg *config.Config) *WebhookHandler {
	return &WebhookHandler{
		reconciler: rec,
		config:     cfg,
		logger:     slog.Default(),
	}
}

// webhookPayload is the subset of the provider event we act on
type webhookPayload struct {
	ObjectType string `json:"object_type"`
	ObjectID   int64  `json:"object_id"`
	AspectType string `json:"aspect_type"`
	OwnerID    int64  `json:"owner_id"`
}

// HandleVerification handles GET requests for subscription verification
func (h *WebhookHandler) HandleVerification(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	hubMode := r.URL.Query().Get("hub.mode")
	hubChallenge := r.URL.Query().Get("hub.challenge")
	hubVerifyToken := r.URL.Query().Get("hub.verify_token")

	h.logger.Info("Webhook verification request",
		"hub.mode", hubMode,
		"hub.challenge", hubChallenge[:min(20, len(hubChallenge))],
	)

	if hubVerifyToken != h.config.ProviderVerifyToken {
		h.logger.Warn("Invalid verify token")
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	response := map[string]string{
		"hub.challenge": hubChallenge,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	if err := json.NewEncoder(w).Encode(response); err != nil {
		h.logger.Error("Failed to encode challenge response", "error", err)
	}
}

// HandleEvent handles POST requests for webhook events. It records the event
// and responds 200 immediately; matching runs in the background.
func (h *WebhookHandler) HandleEvent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.logger.Error("Failed to read webhook body", "error", err)
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	var payload webhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		h.logger.Error("Invalid JSON in webhook body", "error", err)
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}

	h.logger.Info("Received webhook event",
		"object_type", payload.ObjectType,
		"object_id", payload.ObjectID,
		"aspect_type", payload.AspectType,
		"owner_id", payload.OwnerID,
	)

	// Only new activities are matched; updates and deletes are acknowledged
	// and dropped
	if payload.ObjectType != "activity" || payload.AspectType != "create" {
		w.WriteHeader(http.StatusOK)
		return
	}

	// Acknowledge before processing: the provider retries non-200 responses
	w.WriteHeader(http.StatusOK)

	// The request context dies with the response; processing gets its own
	go func() {
		if err := h.reconciler.Ingest(context.Background(), payload.ObjectID, payload.OwnerID); err != nil {
			h.logger.Error("Failed to ingest webhook event",
				"external_activity_id", payload.ObjectID, "error", err)
		}
	}()
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
