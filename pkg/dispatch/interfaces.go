package dispatch

import (
	"context"
	"time"
)

// QueueStore defines the contract for the persistent notification queue.
type QueueStore interface {
	// Create persists a new record. The record's Status must be pending.
	Create(ctx context.Context, record *NotificationRecord) error

	// FindPending returns all records with status pending, in store order.
	FindPending(ctx context.Context) ([]NotificationRecord, error)

	// Claim atomically moves a record from pending to processing. It returns
	// false (without error) when the record is no longer pending, e.g. when a
	// concurrent pass claimed it first.
	Claim(ctx context.Context, id string) (bool, error)

	// Release returns a claimed record to pending, used when a record must
	// wait for device registration.
	Release(ctx context.Context, id string) error

	// MarkOutcome records the terminal status of a processing attempt.
	// sentAt may be nil for the failed status.
	MarkOutcome(ctx context.Context, id string, status Status, sentAt *time.Time) error
}

// TokenStore defines the contract for managing user device tokens.
// It lets the engine resolve "where" to deliver for a user, and prune
// registrations the provider reports as dead.
type TokenStore interface {
	// Register adds or refreshes a device token for a user (upsert).
	Register(ctx context.Context, token DeviceToken) error

	// ActiveTokens returns the currently active tokens for a user.
	ActiveTokens(ctx context.Context, userID string) ([]DeviceToken, error)

	// Deactivate retires a single token for a user. Deactivating an unknown
	// token is not an error.
	Deactivate(ctx context.Context, userID, token string) error
}

// MulticastSender delivers one payload to many device tokens in a single
// provider call and reports one outcome per token, in input order.
type MulticastSender interface {
	SendEachForMulticast(ctx context.Context, tokens []string, data map[string]string) (*SendSummary, error)
}
