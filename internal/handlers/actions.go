package handlers

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"clubsync/internal/config"
	"clubsync/internal/database"
	"clubsync/internal/reconciler"
)

// ActionHandler resolves button callbacks relayed by the chat gateway:
// confirming or rejecting a proposed activity match and reporting
// non-attendance. Every action is idempotent; a second press reports
// "already processed" instead of failing.
type ActionHandler struct {
	db         *database.DB
	reconciler *reconciler.Reconciler
	config     *config.Config
	logger     *slog.Logger
}

// NewActionHandler creates a new action handler
func NewActionHandler(db *database.DB, rec *reconciler.Reconciler, cfg *config.Config) *ActionHandler {
	return &ActionHandler{
		db:         db,
		reconciler: rec,
		config:     cfg,
		logger:     slog.Default(),
	}
}

type actionRequest struct {
	Callback string `json:"callback"`
}

type actionResponse struct {
	Status string `json:"status"`
}

// HandleAction dispatches a callback string. Supported forms:
//
//	match_confirm:<match_id>
//	match_reject:<match_id>
//	not_attended:<activity_id>:<user_id>
func (h *ActionHandler) HandleAction(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	key := r.Header.Get("X-API-Key")
	if subtle.ConstantTimeCompare([]byte(key), []byte(h.config.InternalAPIKey)) != 1 {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	var req actionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}

	verb, rest, _ := strings.Cut(req.Callback, ":")

	var status string
	var err error
	switch verb {
	case "match_confirm":
		status, err = h.matchAction(r, rest, true)
	case "match_reject":
		status, err = h.matchAction(r, rest, false)
	case "not_attended":
		status, err = h.notAttended(rest)
	default:
		http.Error(w, "Unknown action", http.StatusBadRequest)
		return
	}

	if err != nil {
		h.logger.Error("Action failed", "callback", req.Callback, "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	h.logger.Info("Action handled", "callback", req.Callback, "status", status)
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(actionResponse{Status: status}); err != nil {
		h.logger.Error("Failed to encode action response", "error", err)
	}
}

func (h *ActionHandler) matchAction(r *http.Request, matchID string, confirm bool) (string, error) {
	if matchID == "" {
		return "", errors.New("missing match id")
	}
	var err error
	if confirm {
		err = h.reconciler.ConfirmPendingMatch(r.Context(), matchID)
	} else {
		err = h.reconciler.RejectPendingMatch(r.Context(), matchID)
	}
	if errors.Is(err, reconciler.ErrAlreadyProcessed) {
		return "already_processed", nil
	}
	if err != nil {
		return "", err
	}
	if confirm {
		return "confirmed", nil
	}
	return "rejected", nil
}

func (h *ActionHandler) notAttended(rest string) (string, error) {
	activityStr, userStr, ok := strings.Cut(rest, ":")
	if !ok {
		return "", errors.New("malformed not_attended callback")
	}
	activityID, err := strconv.ParseInt(activityStr, 10, 64)
	if err != nil {
		return "", err
	}
	userID, err := strconv.ParseInt(userStr, 10, 64)
	if err != nil {
		return "", err
	}

	closed, err := h.db.ClosePostTrainingNotification(activityID, userID,
		database.PostTrainingNotAttended, time.Now())
	if err != nil {
		return "", err
	}
	if _, err := h.db.MarkParticipationMissed(activityID, userID); err != nil {
		return "", err
	}
	if !closed {
		return "already_processed", nil
	}
	return "recorded", nil
}
