// Package api exposes the alert pipeline to the admin UI: session state and
// its push stream, acknowledge/snooze/mute operations, the notification list,
// connection diagnostics, sound previews, and the settings document.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bloomline/backoffice/internal/alert"
	"github.com/bloomline/backoffice/internal/db"
	"github.com/bloomline/backoffice/internal/feed"
	"github.com/bloomline/backoffice/internal/settings"
	"github.com/bloomline/backoffice/internal/sound"
)

// Coordinator is the alert pipeline surface the handlers need.
type Coordinator interface {
	Session() alert.Session
	Subscribe(ctx context.Context) (<-chan alert.Session, func())
	Acknowledge(ctx context.Context, id uuid.UUID) (*db.NotificationRecord, error)
	Snooze(duration time.Duration) error
	Mute()
	Unmute()
}

// Records is the notification store surface the handlers need.
type Records interface {
	List(ctx context.Context, unreadOnly bool, limit, offset int) ([]*db.NotificationRecord, error)
	CountUnread(ctx context.Context) (int, error)
}

// Subscription exposes connection diagnostics and the operator restart.
type Subscription interface {
	Snapshot() feed.Snapshot
	Restart()
}

// SettingsStore persists the settings document.
type SettingsStore interface {
	Load(ctx context.Context) (*settings.Settings, error)
	Save(ctx context.Context, s *settings.Settings) error
}

// ErrorResponse is an error in problem+json format.
type ErrorResponse struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// Handler holds dependencies for the admin API handlers.
type Handler struct {
	logger      *zap.Logger
	coordinator Coordinator
	records     Records
	sub         Subscription
	bank        *sound.Bank
	store       SettingsStore
	provider    *settings.Provider
}

// NewHandler creates the admin API handler.
func NewHandler(
	logger *zap.Logger,
	coordinator Coordinator,
	records Records,
	sub Subscription,
	bank *sound.Bank,
	store SettingsStore,
	provider *settings.Provider,
) *Handler {
	return &Handler{
		logger:      logger,
		coordinator: coordinator,
		records:     records,
		sub:         sub,
		bank:        bank,
		store:       store,
		provider:    provider,
	}
}

// Routes mounts the v1 API on a chi router.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/alerts/session", h.GetSession)
	r.Get("/alerts/stream", h.StreamSession)
	r.Post("/alerts/{id}/ack", h.Acknowledge)
	r.Post("/alerts/snooze", h.Snooze)
	r.Post("/alerts/mute", h.Mute)
	r.Post("/alerts/unmute", h.Unmute)

	r.Get("/notifications", h.ListNotifications)

	r.Get("/connection", h.GetConnection)
	r.Post("/connection/restart", h.RestartConnection)

	r.Post("/sounds/{category}/test", h.TestSound)

	r.Get("/settings", h.GetSettings)
	r.Put("/settings", h.PutSettings)
}

// GetSession handles GET /v1/alerts/session.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.coordinator.Session())
}

// StreamSession handles GET /v1/alerts/stream: a server-sent-events push of
// session transitions, beginning with the current snapshot.
func (h *Handler) StreamSession(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "streaming_unsupported", "Streaming unsupported", "")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ctx := r.Context()
	stream, cancel := h.coordinator.Subscribe(ctx)
	defer cancel()

	send := func(session alert.Session) bool {
		payload, err := json.Marshal(session)
		if err != nil {
			return false
		}
		if _, err := w.Write([]byte("event: session\ndata: " + string(payload) + "\n\n")); err != nil {
			return false
		}
		flusher.Flush()
		return true
	}

	if !send(h.coordinator.Session()) {
		return
	}

	heartbeat := time.NewTicker(25 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case session := <-stream:
			if !send(session) {
				return
			}
		case <-heartbeat.C:
			if _, err := w.Write([]byte(": keepalive\n\n")); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// Acknowledge handles POST /v1/alerts/{id}/ack.
func (h *Handler) Acknowledge(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid record id", "id must be a valid UUID")
		return
	}

	rec, err := h.coordinator.Acknowledge(r.Context(), id)
	if errors.Is(err, db.ErrRecordNotFound) {
		h.writeError(w, http.StatusNotFound, "not_found", "Notification record not found", "")
		return
	}
	if err != nil {
		h.logger.Error("acknowledge failed", zap.Error(err), zap.String("record_id", id.String()))
		h.writeError(w, http.StatusServiceUnavailable, "persistence_failure", "Acknowledgement not persisted", "The alert keeps ringing; retry the acknowledgement.")
		return
	}

	h.writeJSON(w, http.StatusOK, rec)
}

// SnoozeRequest is the body for POST /v1/alerts/snooze.
type SnoozeRequest struct {
	DurationSeconds int `json:"duration_seconds"`
}

// Snooze handles POST /v1/alerts/snooze.
func (h *Handler) Snooze(w http.ResponseWriter, r *http.Request) {
	var req SnoozeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}

	err := h.coordinator.Snooze(time.Duration(req.DurationSeconds) * time.Second)
	if errors.Is(err, alert.ErrNoActiveAlert) {
		h.writeError(w, http.StatusConflict, "no_active_alert", "Nothing is ringing", "")
		return
	}
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "internal", "Snooze failed", err.Error())
		return
	}

	h.writeJSON(w, http.StatusOK, h.coordinator.Session())
}

// Mute handles POST /v1/alerts/mute.
func (h *Handler) Mute(w http.ResponseWriter, r *http.Request) {
	h.coordinator.Mute()
	h.writeJSON(w, http.StatusOK, h.coordinator.Session())
}

// Unmute handles POST /v1/alerts/unmute.
func (h *Handler) Unmute(w http.ResponseWriter, r *http.Request) {
	h.coordinator.Unmute()
	h.writeJSON(w, http.StatusOK, h.coordinator.Session())
}

// NotificationListResponse is the body for GET /v1/notifications.
type NotificationListResponse struct {
	Records []*db.NotificationRecord `json:"records"`
	Unread  int                      `json:"unread"`
}

// ListNotifications handles GET /v1/notifications with optional
// unread=true, limit and offset query params.
func (h *Handler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	unreadOnly := r.URL.Query().Get("unread") == "true"
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	records, err := h.records.List(r.Context(), unreadOnly, limit, offset)
	if err != nil {
		h.logger.Error("failed to list notification records", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "internal", "Failed to list notifications", "")
		return
	}

	unread, err := h.records.CountUnread(r.Context())
	if err != nil {
		h.logger.Error("failed to count unread records", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "internal", "Failed to count unread notifications", "")
		return
	}

	if records == nil {
		records = []*db.NotificationRecord{}
	}
	h.writeJSON(w, http.StatusOK, NotificationListResponse{Records: records, Unread: unread})
}

// GetConnection handles GET /v1/connection for the diagnostics panel.
func (h *Handler) GetConnection(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.sub.Snapshot())
}

// RestartConnection handles POST /v1/connection/restart, the operator's way
// out of the failed state.
func (h *Handler) RestartConnection(w http.ResponseWriter, r *http.Request) {
	h.sub.Restart()
	w.WriteHeader(http.StatusAccepted)
}

// TestSound handles POST /v1/sounds/{category}/test for configuration
// preview.
func (h *Handler) TestSound(w http.ResponseWriter, r *http.Request) {
	category := db.Category(chi.URLParam(r, "category"))
	if err := h.bank.Test(r.Context(), category); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Sound preview failed", err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetSettings handles GET /v1/settings.
func (h *Handler) GetSettings(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.provider.Current())
}

// PutSettings handles PUT /v1/settings: validate, persist, and apply
// immediately in this process (other processes pick the change up via the
// settings watcher).
func (h *Handler) PutSettings(w http.ResponseWriter, r *http.Request) {
	var doc settings.Settings
	if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}

	if err := h.store.Save(r.Context(), &doc); err != nil {
		h.logger.Error("failed to save settings", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "internal", "Failed to save settings", "")
		return
	}

	h.provider.Replace(&doc)
	h.writeJSON(w, http.StatusOK, &doc)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Error("failed to encode response", zap.Error(err))
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, errType, title, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Type:   errType,
		Title:  title,
		Status: status,
		Detail: detail,
	})
}
