package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
	"github.com/tinywideclouds/go-microservice-base/pkg/response"

	"github.com/tinywideclouds/go-push-dispatch-service/internal/engine"
	"github.com/tinywideclouds/go-push-dispatch-service/pkg/dispatch"
)

// Registrations carry a 30-day advisory expiry; a refresh extends it.
const tokenTTL = 30 * 24 * time.Hour

type TokenAPI struct {
	Store  dispatch.TokenStore
	Engine *engine.Engine
	Logger *slog.Logger
	now    func() time.Time
}

func NewTokenAPI(store dispatch.TokenStore, eng *engine.Engine, logger *slog.Logger) *TokenAPI {
	return &TokenAPI{
		Store:  store,
		Engine: eng,
		Logger: logger,
		now:    time.Now,
	}
}

type RegisterTokenRequest struct {
	Token   string `json:"token"`
	Browser string `json:"browser,omitempty"`
}

// Register upserts a device token for the authenticated user and fires the
// fixed confirmation notification. A confirmation failure never fails the
// registration itself.
func (api *TokenAPI) Register(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := middleware.GetUserHandleFromContext(ctx)
	if !ok {
		response.WriteJSONError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req RegisterTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.Token == "" {
		response.WriteJSONError(w, http.StatusBadRequest, "missing token")
		return
	}

	token := dispatch.DeviceToken{
		Token:     req.Token,
		UserID:    userID,
		Browser:   req.Browser,
		IsActive:  true,
		ExpiresAt: api.now().Add(tokenTTL),
	}
	if err := api.Store.Register(ctx, token); err != nil {
		api.Logger.Error("failed to register token", "user", userID, "err", err)
		response.WriteJSONError(w, http.StatusInternalServerError, "storage failed")
		return
	}

	if outcome := api.Engine.SendRegistrationConfirmation(ctx, userID); !outcome.Success {
		api.Logger.Warn("registration confirmation send failed",
			"user", userID, "reason", outcome.Message)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Token saved successfully",
	})
}

type UnregisterTokenRequest struct {
	Token string `json:"token"`
}

// Unregister deactivates a device token. Idempotent: unknown tokens succeed.
func (api *TokenAPI) Unregister(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := middleware.GetUserHandleFromContext(ctx)
	if !ok {
		response.WriteJSONError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req UnregisterTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := api.Store.Deactivate(ctx, userID, req.Token); err != nil {
		// Log but don't fail hard; idempotency is preferred for unregister
		api.Logger.Warn("failed to unregister token", "user", userID, "err", err)
	}

	w.WriteHeader(http.StatusNoContent)
}
