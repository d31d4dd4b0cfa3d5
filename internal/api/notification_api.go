// Package api exposes the HTTP surface: notification creation, direct send,
// the dispatch trigger and token registration. Handlers are thin adapters;
// all dispatch semantics live in the engine.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/tinywideclouds/go-microservice-base/pkg/response"

	"github.com/tinywideclouds/go-push-dispatch-service/internal/engine"
)

type NotificationAPI struct {
	Engine *engine.Engine
	Logger *slog.Logger
}

func NewNotificationAPI(eng *engine.Engine, logger *slog.Logger) *NotificationAPI {
	return &NotificationAPI{
		Engine: eng,
		Logger: logger,
	}
}

// Create enqueues a pending notification record.
func (api *NotificationAPI) Create(w http.ResponseWriter, r *http.Request) {
	var in engine.CreateInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}

	rec, err := api.Engine.CreateNotification(r.Context(), in)
	if err != nil {
		if errors.Is(err, engine.ErrValidation) {
			response.WriteJSONError(w, http.StatusBadRequest, err.Error())
			return
		}
		api.Logger.Error("failed to enqueue notification", "err", err)
		response.WriteJSONError(w, http.StatusInternalServerError, "enqueue failed")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"success": true,
		"data":    rec,
	})
}

// Send performs the direct single-user send, bypassing the queue. The body
// always carries the engine's structured outcome; callers branch on success.
func (api *NotificationAPI) Send(w http.ResponseWriter, r *http.Request) {
	var in engine.SendInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}

	outcome := api.Engine.SendToUser(r.Context(), in)
	writeJSON(w, http.StatusOK, outcome)
}

// RunDispatch triggers one processing pass over the pending queue. The
// scheduler (external cron) is expected to call this endpoint; overlapping
// invocations are safe because records are claimed before processing.
func (api *NotificationAPI) RunDispatch(w http.ResponseWriter, r *http.Request) {
	if err := api.Engine.ProcessPending(r.Context()); err != nil {
		api.Logger.Error("dispatch pass aborted", "err", err)
		response.WriteJSONError(w, http.StatusInternalServerError, "dispatch pass aborted")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
