// Package firestore implements the queue and token stores on Google Cloud
// Firestore.
package firestore

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"

	"github.com/tinywideclouds/go-push-dispatch-service/pkg/dispatch"
)

const queueCollection = "notification-queue"

// QueueStore implements dispatch.QueueStore.
type QueueStore struct {
	client *firestore.Client
}

func NewQueueStore(client *firestore.Client) *QueueStore {
	return &QueueStore{client: client}
}

func (s *QueueStore) Create(ctx context.Context, record *dispatch.NotificationRecord) error {
	if record.ID == "" {
		return fmt.Errorf("record id is required")
	}
	_, err := s.recordRef(record.ID).Set(ctx, record)
	return err
}

func (s *QueueStore) FindPending(ctx context.Context) ([]dispatch.NotificationRecord, error) {
	iter := s.client.Collection(queueCollection).
		Where("status", "==", string(dispatch.StatusPending)).
		Documents(ctx)
	defer iter.Stop()

	var records []dispatch.NotificationRecord
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("firestore iteration failed: %w", err)
		}

		var rec dispatch.NotificationRecord
		if err := doc.DataTo(&rec); err != nil {
			// Safe to skip corrupt rows; a malformed record must not block
			// the rest of the queue.
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

// Claim is the conditional pending -> processing transition. It runs in a
// transaction so two overlapping passes cannot both win the same record.
func (s *QueueStore) Claim(ctx context.Context, id string) (bool, error) {
	ref := s.recordRef(id)
	claimed := false

	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		claimed = false // the transaction may be retried
		doc, err := tx.Get(ref)
		if err != nil {
			return err
		}
		status, err := doc.DataAt("status")
		if err != nil {
			return err
		}
		if status != string(dispatch.StatusPending) {
			return nil
		}
		claimed = true
		return tx.Update(ref, []firestore.Update{
			{Path: "status", Value: string(dispatch.StatusProcessing)},
		})
	})
	if err != nil {
		return false, fmt.Errorf("claim record %s: %w", id, err)
	}
	return claimed, nil
}

func (s *QueueStore) Release(ctx context.Context, id string) error {
	_, err := s.recordRef(id).Update(ctx, []firestore.Update{
		{Path: "status", Value: string(dispatch.StatusPending)},
	})
	return err
}

func (s *QueueStore) MarkOutcome(ctx context.Context, id string, status dispatch.Status, sentAt *time.Time) error {
	updates := []firestore.Update{
		{Path: "status", Value: string(status)},
	}
	if sentAt != nil {
		updates = append(updates, firestore.Update{Path: "sent_at", Value: *sentAt})
	}
	_, err := s.recordRef(id).Update(ctx, updates)
	return err
}

func (s *QueueStore) recordRef(id string) *firestore.DocumentRef {
	return s.client.Collection(queueCollection).Doc(id)
}
