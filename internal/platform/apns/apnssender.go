// Package apns implements the multicast sender over the Apple Push
// Notification service.
package apns

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sideshow/apns2"
	"github.com/sideshow/apns2/payload"
	"github.com/sideshow/apns2/token"

	"github.com/tinywideclouds/go-push-dispatch-service/pkg/dispatch"
)

// APNSClient defines the subset of the apns2.Client methods we use.
// This allows mocking for unit tests.
type APNSClient interface {
	Push(n *apns2.Notification) (*apns2.Response, error)
}

// Config holds the credentials required to sign APNs tokens.
type Config struct {
	KeyID    string
	TeamID   string
	BundleID string
	// P8KeyContent is the raw string content of the .p8 file.
	P8KeyContent string
}

type Sender struct {
	client APNSClient
	topic  string
	logger *slog.Logger
}

// NewSender creates a configured APNS sender. It parses the P8 key
// immediately to fail fast on startup if credentials are bad.
func NewSender(cfg Config, logger *slog.Logger) (*Sender, error) {
	authKey, err := token.AuthKeyFromBytes([]byte(cfg.P8KeyContent))
	if err != nil {
		return nil, fmt.Errorf("failed to parse APNs P8 key: %w", err)
	}

	tokenSource := &token.Token{
		AuthKey: authKey,
		KeyID:   cfg.KeyID,
		TeamID:  cfg.TeamID,
	}

	return &Sender{
		client: apns2.NewTokenClient(tokenSource),
		topic:  cfg.BundleID,
		logger: logger.With("component", "APNSSender"),
	}, nil
}

// NewSenderWithClient wires an explicit client, used by tests.
func NewSenderWithClient(client APNSClient, bundleID string, logger *slog.Logger) *Sender {
	return &Sender{
		client: client,
		topic:  bundleID,
		logger: logger.With("component", "APNSSender"),
	}
}

// SendEachForMulticast delivers the payload to each token. APNs HTTP/2 API is
// unary (one request per token), so the batch is iterated sequentially; the
// summary still carries one response per token, in input order, which is what
// the engine's pruning relies on.
func (s *Sender) SendEachForMulticast(ctx context.Context, tokens []string, data map[string]string) (*dispatch.SendSummary, error) {
	if len(tokens) == 0 {
		return &dispatch.SendSummary{}, nil
	}

	builder := payload.NewPayload().
		AlertTitle(data["title"]).
		AlertBody(data["body"])
	for k, v := range data {
		builder.Custom(k, v)
	}

	summary := &dispatch.SendSummary{
		Responses: make([]dispatch.SendResponse, 0, len(tokens)),
	}

	for _, deviceToken := range tokens {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		res, err := s.client.Push(&apns2.Notification{
			DeviceToken: deviceToken,
			Topic:       s.topic,
			Payload:     builder,
		})
		if err != nil {
			// A transport failure here aborts the whole batch, mirroring how
			// a broken FCM connection fails the single multicast call.
			return nil, fmt.Errorf("apns transport failed: %w", err)
		}

		if res.Sent() {
			summary.SuccessCount++
			summary.Responses = append(summary.Responses, dispatch.SendResponse{
				Success:   true,
				MessageID: res.ApnsID,
			})
			continue
		}

		// See: https://developer.apple.com/documentation/usernotifications/handling-notification-responses-from-apns
		switch res.Reason {
		case apns2.ReasonBadDeviceToken, apns2.ReasonUnregistered, apns2.ReasonDeviceTokenNotForTopic:
		default:
			s.logger.Warn("APNs rejected notification", "reason", res.Reason, "status", res.StatusCode)
		}
		summary.FailureCount++
		summary.Responses = append(summary.Responses, dispatch.SendResponse{
			Success: false,
			Error:   res.Reason,
		})
	}

	return summary, nil
}
