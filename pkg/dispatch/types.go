// Package dispatch contains the public domain model and contracts for the
// push dispatch service: queue records, device tokens and the store/sender
// ports the engine is assembled from.
package dispatch

import "time"

// Status is the lifecycle state of a queued notification.
type Status string

const (
	// StatusPending marks a record waiting for a processing pass.
	StatusPending Status = "pending"
	// StatusProcessing is the transient claim marker a pass sets before
	// working a record, so overlapping passes cannot double-send it.
	StatusProcessing Status = "processing"
	// StatusSent means every token delivery succeeded.
	StatusSent Status = "sent"
	// StatusPartial means the send was attempted and at least one token
	// delivery failed. An all-failed batch is also partial; there is no
	// distinct all-failed state.
	StatusPartial Status = "partial"
	// StatusFailed means processing raised before the outcome could be
	// recorded, or the record aged out of the queue.
	StatusFailed Status = "failed"
)

// NotificationRecord is one unit of work in the notification queue.
// Everything but Status and SentAt is immutable once enqueued.
type NotificationRecord struct {
	ID        string            `json:"id" firestore:"id"`
	UserID    string            `json:"userId" firestore:"user_id"`
	Title     string            `json:"title" firestore:"title"`
	Body      string            `json:"body" firestore:"body"`
	ClickURL  string            `json:"clickUrl,omitempty" firestore:"click_url,omitempty"`
	Data      map[string]string `json:"data,omitempty" firestore:"data,omitempty"`
	Status    Status            `json:"status" firestore:"status"`
	CreatedAt time.Time         `json:"createdAt" firestore:"created_at"`
	SentAt    *time.Time        `json:"sentAt,omitempty" firestore:"sent_at,omitempty"`
}

// DeviceToken is a device's registration with the messaging provider.
// ExpiresAt is advisory; the engine does not enforce it.
type DeviceToken struct {
	Token     string    `json:"token" firestore:"token"`
	UserID    string    `json:"userId" firestore:"user_id"`
	Browser   string    `json:"browser,omitempty" firestore:"browser,omitempty"`
	IsActive  bool      `json:"isActive" firestore:"is_active"`
	ExpiresAt time.Time `json:"expiresAt" firestore:"expires_at"`
}

// SendResponse is the outcome of delivering one payload to one token.
type SendResponse struct {
	Success   bool   `json:"success"`
	MessageID string `json:"messageId,omitempty"`
	Error     string `json:"error,omitempty"`
}

// SendSummary is the result of a multicast send. Responses holds exactly one
// entry per input token, in the same order as the input token slice; token
// pruning relies on that alignment.
type SendSummary struct {
	SuccessCount int            `json:"successCount"`
	FailureCount int            `json:"failureCount"`
	Responses    []SendResponse `json:"responses"`
}
