// Package fcm implements the multicast sender over Firebase Cloud Messaging.
package fcm

import (
	"context"
	"fmt"
	"log/slog"

	"firebase.google.com/go/v4/messaging"

	"github.com/tinywideclouds/go-push-dispatch-service/pkg/dispatch"
)

// MessagingClient defines the subset of the Firebase Messaging API we use.
// This interface allows us to mock the client for unit testing.
type MessagingClient interface {
	SendEachForMulticast(ctx context.Context, msg *messaging.MulticastMessage) (*messaging.BatchResponse, error)
}

type Sender struct {
	client MessagingClient
	logger *slog.Logger
}

// NewSender accepts the concrete client but stores it as the interface.
// Note: *messaging.Client automatically satisfies this interface.
func NewSender(client MessagingClient, logger *slog.Logger) *Sender {
	return &Sender{
		client: client,
		logger: logger.With("component", "FCMSender"),
	}
}

// SendEachForMulticast delivers the flat data payload to every token in one
// batched FCM call. The payload travels in the message's data map only, with
// no notification block; the client interprets title/body/icon itself.
// The returned summary holds one response per token, in input order.
func (s *Sender) SendEachForMulticast(ctx context.Context, tokens []string, data map[string]string) (*dispatch.SendSummary, error) {
	if len(tokens) == 0 {
		return &dispatch.SendSummary{}, nil
	}

	msg := &messaging.MulticastMessage{
		Tokens: tokens,
		Data:   data,
	}

	br, err := s.client.SendEachForMulticast(ctx, msg)
	if err != nil {
		return nil, fmt.Errorf("fcm transport failed: %w", err)
	}

	summary := &dispatch.SendSummary{
		SuccessCount: br.SuccessCount,
		FailureCount: br.FailureCount,
		Responses:    make([]dispatch.SendResponse, 0, len(br.Responses)),
	}

	for _, resp := range br.Responses {
		out := dispatch.SendResponse{
			Success:   resp.Success,
			MessageID: resp.MessageID,
		}
		if resp.Error != nil {
			out.Error = resp.Error.Error()
		}
		summary.Responses = append(summary.Responses, out)
	}

	if br.FailureCount > 0 {
		s.logger.Warn("FCM batch had failures",
			"success", br.SuccessCount, "failed", br.FailureCount)
	}
	return summary, nil
}
