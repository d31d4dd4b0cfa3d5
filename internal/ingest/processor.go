package ingest

import (
	"context"
	"errors"
	"log/slog"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"

	"github.com/tinywideclouds/go-push-dispatch-service/internal/engine"
)

// NewProcessor creates the pipeline stage that enqueues each validated
// request as a pending queue record.
func NewProcessor(eng *engine.Engine, logger *slog.Logger) messagepipeline.StreamProcessor[engine.CreateInput] {
	procLogger := logger.With("component", "IngestProcessor")

	return func(ctx context.Context, original messagepipeline.Message, req *engine.CreateInput) error {
		rec, err := eng.CreateNotification(ctx, *req)
		if err != nil {
			if errors.Is(err, engine.ErrValidation) {
				// A malformed request will never become valid on redelivery;
				// log and ack instead of poisoning the subscription.
				procLogger.Warn("Dropping invalid enqueue request",
					"pubsub_msg_id", original.ID, "err", err)
				return nil
			}
			procLogger.Error("Failed to enqueue notification",
				"pubsub_msg_id", original.ID, "err", err)
			return err // Retryable
		}

		procLogger.Info("Notification enqueued",
			"id", rec.ID, "user", rec.UserID, "pubsub_msg_id", original.ID)
		return nil
	}
}
