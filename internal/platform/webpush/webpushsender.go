// Package webpush implements the multicast sender over the Web Push (VAPID)
// protocol. A device token on this platform is the browser's serialized push
// subscription, stored opaquely by the token store.
package webpush

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/SherClockHolmes/webpush-go"

	"github.com/tinywideclouds/go-push-dispatch-service/pkg/dispatch"
)

// VapidConfig holds the VAPID signing material.
type VapidConfig struct {
	PublicKey       string
	PrivateKey      string
	SubscriberEmail string
}

type Sender struct {
	subscriber string
	privateKey string
	publicKey  string
	logger     *slog.Logger
	httpClient *http.Client
}

func NewSender(cfg VapidConfig, logger *slog.Logger) *Sender {
	return &Sender{
		privateKey: cfg.PrivateKey,
		publicKey:  cfg.PublicKey,
		subscriber: cfg.SubscriberEmail,
		logger:     logger.With("component", "WebPushSender"),
		httpClient: &http.Client{},
	}
}

// SendEachForMulticast pushes the payload to each subscription in turn; the
// protocol has no batch endpoint. The summary carries one response per token,
// in input order. A token that fails to parse as a subscription, or whose
// endpoint reports 404/410, is an unsuccessful response the engine prunes.
func (s *Sender) SendEachForMulticast(ctx context.Context, tokens []string, data map[string]string) (*dispatch.SendSummary, error) {
	if len(tokens) == 0 {
		return &dispatch.SendSummary{}, nil
	}

	payloadBytes, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	summary := &dispatch.SendSummary{
		Responses: make([]dispatch.SendResponse, 0, len(tokens)),
	}

	for _, raw := range tokens {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		var sub webpush.Subscription
		if err := json.Unmarshal([]byte(raw), &sub); err != nil || sub.Endpoint == "" {
			s.logger.Warn("Unparseable web push subscription token")
			summary.FailureCount++
			summary.Responses = append(summary.Responses, dispatch.SendResponse{
				Success: false,
				Error:   "malformed subscription",
			})
			continue
		}

		resp, err := webpush.SendNotification(payloadBytes, &sub, &webpush.Options{
			Subscriber:      s.subscriber,
			VAPIDPublicKey:  s.publicKey,
			VAPIDPrivateKey: s.privateKey,
			TTL:             60,
			HTTPClient:      s.httpClient,
		})
		if err != nil {
			return nil, fmt.Errorf("web push transport failed: %w", err)
		}
		_ = resp.Body.Close()

		switch resp.StatusCode {
		case http.StatusCreated:
			summary.SuccessCount++
			summary.Responses = append(summary.Responses, dispatch.SendResponse{Success: true})
		case http.StatusGone, http.StatusNotFound:
			// Subscription is dead; report unsuccessful so it gets pruned.
			summary.FailureCount++
			summary.Responses = append(summary.Responses, dispatch.SendResponse{
				Success: false,
				Error:   fmt.Sprintf("endpoint gone (%d)", resp.StatusCode),
			})
		default:
			s.logger.Warn("WebPush rejected", "status", resp.StatusCode, "endpoint", sub.Endpoint)
			summary.FailureCount++
			summary.Responses = append(summary.Responses, dispatch.SendResponse{
				Success: false,
				Error:   fmt.Sprintf("rejected (%d)", resp.StatusCode),
			})
		}
	}

	return summary, nil
}
