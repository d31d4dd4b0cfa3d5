// Package ingest contains the Pub/Sub ingestion pipeline: messages published
// by other services become pending records in the notification queue, which
// the dispatch engine drains on its next pass.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"

	"github.com/tinywideclouds/go-push-dispatch-service/internal/engine"
)

// EnqueueRequestTransformer safely unmarshals a raw message payload into a
// notification-creation request. Malformed payloads are skipped so the
// StreamingService can handle the Nack/DLQ logic; validation proper happens
// in the engine.
func EnqueueRequestTransformer(
	_ context.Context,
	msg *messagepipeline.Message,
) (*engine.CreateInput, bool, error) {
	var req engine.CreateInput
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		return nil, true, fmt.Errorf("failed to unmarshal enqueue request from message %s: %w", msg.ID, err)
	}
	return &req, false, nil
}
