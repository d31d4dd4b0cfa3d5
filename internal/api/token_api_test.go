package api_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"

	"github.com/tinywideclouds/go-push-dispatch-service/internal/api"
	"github.com/tinywideclouds/go-push-dispatch-service/pkg/dispatch"
)

// authedRequest simulates the JWKS auth middleware having already validated
// the caller and stashed their user ID on the context.
func authedRequest(method, target string, body []byte, userID string) *http.Request {
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	return req.WithContext(middleware.ContextWithUser(req.Context(), userID, userID, ""))
}

func TestTokenRegister(t *testing.T) {
	t.Run("Success registers active token and sends confirmation", func(t *testing.T) {
		f := setupEngine(t)
		handler := api.NewTokenAPI(f.tokens, f.engine, newTestLogger())

		f.tokens.On("Register", mock.Anything, mock.MatchedBy(func(tok dispatch.DeviceToken) bool {
			return tok.Token == "device-tok-1" &&
				tok.UserID == "user-123" &&
				tok.Browser == "firefox" &&
				tok.IsActive &&
				!tok.ExpiresAt.IsZero()
		})).Return(nil)

		// Confirmation path runs through the live engine.
		f.tokens.On("ActiveTokens", mock.Anything, "user-123").
			Return([]dispatch.DeviceToken{{Token: "device-tok-1", UserID: "user-123", IsActive: true}}, nil)
		f.sender.On("SendEachForMulticast", mock.Anything, []string{"device-tok-1"}, mock.MatchedBy(func(data map[string]string) bool {
			return data["title"] == "Token Registered"
		})).Return(&dispatch.SendSummary{
			SuccessCount: 1,
			Responses:    []dispatch.SendResponse{{Success: true}},
		}, nil)

		body, _ := json.Marshal(map[string]string{"token": "device-tok-1", "browser": "firefox"})
		w := httptest.NewRecorder()
		handler.Register(w, authedRequest("POST", "/api/v1/tokens/register", body, "user-123"))

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "Token saved successfully")
		f.tokens.AssertExpectations(t)
		f.sender.AssertExpectations(t)
	})

	t.Run("Confirmation failure does not fail registration", func(t *testing.T) {
		f := setupEngine(t)
		handler := api.NewTokenAPI(f.tokens, f.engine, newTestLogger())

		f.tokens.On("Register", mock.Anything, mock.Anything).Return(nil)
		// No active tokens yet when the confirmation fires.
		f.tokens.On("ActiveTokens", mock.Anything, "user-123").Return([]dispatch.DeviceToken{}, nil)

		body, _ := json.Marshal(map[string]string{"token": "device-tok-1"})
		w := httptest.NewRecorder()
		handler.Register(w, authedRequest("POST", "/api/v1/tokens/register", body, "user-123"))

		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("Missing auth is a 401", func(t *testing.T) {
		f := setupEngine(t)
		handler := api.NewTokenAPI(f.tokens, f.engine, newTestLogger())

		body, _ := json.Marshal(map[string]string{"token": "device-tok-1"})
		req := httptest.NewRequest("POST", "/api/v1/tokens/register", bytes.NewReader(body))
		w := httptest.NewRecorder()
		handler.Register(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
		f.tokens.AssertNotCalled(t, "Register", mock.Anything, mock.Anything)
	})

	t.Run("Missing token is a 400", func(t *testing.T) {
		f := setupEngine(t)
		handler := api.NewTokenAPI(f.tokens, f.engine, newTestLogger())

		body, _ := json.Marshal(map[string]string{"browser": "firefox"})
		w := httptest.NewRecorder()
		handler.Register(w, authedRequest("POST", "/api/v1/tokens/register", body, "user-123"))

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("Storage failure is a 500", func(t *testing.T) {
		f := setupEngine(t)
		handler := api.NewTokenAPI(f.tokens, f.engine, newTestLogger())

		f.tokens.On("Register", mock.Anything, mock.Anything).Return(errors.New("firestore down"))

		body, _ := json.Marshal(map[string]string{"token": "device-tok-1"})
		w := httptest.NewRecorder()
		handler.Register(w, authedRequest("POST", "/api/v1/tokens/register", body, "user-123"))

		assert.Equal(t, http.StatusInternalServerError, w.Code)
		f.sender.AssertNotCalled(t, "SendEachForMulticast", mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestTokenUnregister(t *testing.T) {
	t.Run("Success is a 204", func(t *testing.T) {
		f := setupEngine(t)
		handler := api.NewTokenAPI(f.tokens, f.engine, newTestLogger())

		f.tokens.On("Deactivate", mock.Anything, "user-123", "device-tok-1").Return(nil)

		body, _ := json.Marshal(map[string]string{"token": "device-tok-1"})
		w := httptest.NewRecorder()
		handler.Unregister(w, authedRequest("POST", "/api/v1/tokens/unregister", body, "user-123"))

		assert.Equal(t, http.StatusNoContent, w.Code)
		f.tokens.AssertExpectations(t)
	})

	t.Run("Deactivate failure still a 204", func(t *testing.T) {
		f := setupEngine(t)
		handler := api.NewTokenAPI(f.tokens, f.engine, newTestLogger())

		f.tokens.On("Deactivate", mock.Anything, "user-123", "device-tok-1").
			Return(errors.New("firestore down"))

		body, _ := json.Marshal(map[string]string{"token": "device-tok-1"})
		w := httptest.NewRecorder()
		handler.Unregister(w, authedRequest("POST", "/api/v1/tokens/unregister", body, "user-123"))

		assert.Equal(t, http.StatusNoContent, w.Code)
	})

	t.Run("Missing auth is a 401", func(t *testing.T) {
		f := setupEngine(t)
		handler := api.NewTokenAPI(f.tokens, f.engine, newTestLogger())

		body, _ := json.Marshal(map[string]string{"token": "device-tok-1"})
		req := httptest.NewRequest("POST", "/api/v1/tokens/unregister", bytes.NewReader(body))
		w := httptest.NewRecorder()
		handler.Unregister(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}
