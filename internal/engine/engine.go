// Package engine implements the notification dispatch engine: it drains the
// pending queue, resolves users to device tokens, performs the multicast send,
// prunes tokens the provider reports as dead and records an auditable outcome
// per record. The HTTP handlers and the ingestion pipeline are thin adapters
// over this one component.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/tinywideclouds/go-push-dispatch-service/internal/audit"
	"github.com/tinywideclouds/go-push-dispatch-service/pkg/dispatch"
)

// ErrValidation marks a rejected notification-creation request. Callers map
// it to a 400 response.
var ErrValidation = errors.New("validation failed")

// Options holds the payload defaults the engine resolves once at
// construction; they are not re-read per call.
type Options struct {
	// IconURL and BadgeURL are the icon/badge references stamped into every
	// payload unless the record's extra data overrides them.
	IconURL  string
	BadgeURL string
	// DefaultClickURL is used when a record carries no click URL.
	DefaultClickURL string
	// MaxPendingAge retires pending records older than this as failed,
	// keeping the queue from growing without bound while it waits for
	// device registrations. Zero disables the cutoff.
	MaxPendingAge time.Duration
}

// Engine orchestrates the queue store, token store and multicast sender.
type Engine struct {
	queue  dispatch.QueueStore
	tokens dispatch.TokenStore
	sender dispatch.MulticastSender
	audit  *audit.Logger
	opts   Options
	logger *slog.Logger
	now    func() time.Time
}

// New assembles an Engine. All collaborators are required.
func New(
	queue dispatch.QueueStore,
	tokens dispatch.TokenStore,
	sender dispatch.MulticastSender,
	auditLog *audit.Logger,
	opts Options,
	logger *slog.Logger,
) *Engine {
	return &Engine{
		queue:  queue,
		tokens: tokens,
		sender: sender,
		audit:  auditLog,
		opts:   opts,
		logger: logger.With("component", "DispatchEngine"),
		now:    time.Now,
	}
}

// ProcessPending runs one full processing pass over the pending queue.
// Records are worked strictly sequentially; a failure inside one record is
// contained there and the pass continues. Only the initial queue fetch can
// fail the whole pass.
func (e *Engine) ProcessPending(ctx context.Context) error {
	e.audit.Log(audit.LevelStart, "Push notification processing started")
	defer e.audit.Log(audit.LevelEnd, "Push notification processing finished")

	records, err := e.queue.FindPending(ctx)
	if err != nil {
		e.audit.Logf(audit.LevelFatal, "Notification queue fetch crashed | error=%s", err)
		e.logger.Error("Pending queue fetch failed", "err", err)
		return fmt.Errorf("fetch pending notifications: %w", err)
	}

	if len(records) == 0 {
		e.audit.Log(audit.LevelInfo, "No pending notifications found")
		return nil
	}

	for i := range records {
		e.processRecord(ctx, &records[i])
	}
	return nil
}

// processRecord works a single queue record. Every error path ends here; one
// record's failure must not abort the rest of the pass.
func (e *Engine) processRecord(ctx context.Context, rec *dispatch.NotificationRecord) {
	e.audit.Logf(audit.LevelProcess, "Processing notification | id=%s | user=%s", rec.ID, rec.UserID)

	claimed, err := e.queue.Claim(ctx, rec.ID)
	if err != nil {
		e.failRecord(ctx, rec, fmt.Errorf("claim: %w", err))
		return
	}
	if !claimed {
		e.logger.Info("Record no longer pending, skipping", "id", rec.ID)
		return
	}

	if e.opts.MaxPendingAge > 0 && e.now().Sub(rec.CreatedAt) > e.opts.MaxPendingAge {
		e.audit.Logf(audit.LevelWarn, "Notification expired in queue | id=%s | user=%s | age=%s",
			rec.ID, rec.UserID, e.now().Sub(rec.CreatedAt).Truncate(time.Second))
		if err := e.queue.MarkOutcome(ctx, rec.ID, dispatch.StatusFailed, nil); err != nil {
			e.logger.Error("Failed to retire expired record", "id", rec.ID, "err", err)
		}
		return
	}

	tokens, err := e.activeTokens(ctx, rec.UserID)
	if err != nil {
		e.failRecord(ctx, rec, fmt.Errorf("token lookup: %w", err))
		return
	}

	if len(tokens) == 0 {
		// Deliberate wait-for-registration semantics: the record stays
		// pending until the user registers a device or ages out.
		e.audit.Logf(audit.LevelWarn, "No device tokens | user=%s | notification=%s", rec.UserID, rec.ID)
		if err := e.queue.Release(ctx, rec.ID); err != nil {
			e.logger.Error("Failed to release unclaimed record", "id", rec.ID, "err", err)
		}
		return
	}

	payload := e.buildPayload(rec.Title, rec.Body, rec.ClickURL, rec.Data)

	summary, err := e.sender.SendEachForMulticast(ctx, tokens, payload)
	if err != nil {
		e.failRecord(ctx, rec, fmt.Errorf("multicast send: %w", err))
		return
	}

	e.pruneInvalidTokens(ctx, rec.UserID, tokens, summary)

	status := dispatch.StatusSent
	if summary.FailureCount > 0 {
		status = dispatch.StatusPartial
	}
	sentAt := e.now()
	if err := e.queue.MarkOutcome(ctx, rec.ID, status, &sentAt); err != nil {
		e.failRecord(ctx, rec, fmt.Errorf("status update: %w", err))
		return
	}

	e.audit.Logf(audit.LevelSuccess, "Notification sent | id=%s | user=%s | success=%d | failed=%d",
		rec.ID, rec.UserID, summary.SuccessCount, summary.FailureCount)
	e.logger.Info("Notification dispatched",
		"id", rec.ID, "user", rec.UserID,
		"success", summary.SuccessCount, "failed", summary.FailureCount)
}

// failRecord isolates a per-record failure: audit it, mark the record failed
// best-effort and let the pass continue.
func (e *Engine) failRecord(ctx context.Context, rec *dispatch.NotificationRecord, cause error) {
	e.audit.Logf(audit.LevelFailed, "Notification failed | id=%s | error=%s", rec.ID, cause)
	e.logger.Error("Notification processing failed", "id", rec.ID, "user", rec.UserID, "err", cause)
	if err := e.queue.MarkOutcome(ctx, rec.ID, dispatch.StatusFailed, nil); err != nil {
		e.logger.Error("Failed to mark record failed", "id", rec.ID, "err", err)
	}
}

// pruneInvalidTokens deactivates every token whose per-token response was
// unsuccessful. Responses are order-aligned with the input token slice.
// Pruning is fire-and-forget: a store error is logged and ignored.
func (e *Engine) pruneInvalidTokens(ctx context.Context, userID string, tokens []string, summary *dispatch.SendSummary) {
	for i, resp := range summary.Responses {
		if resp.Success || i >= len(tokens) {
			continue
		}
		e.logger.Info("Pruning invalid token", "user", userID, "token", tokens[i], "reason", resp.Error)
		if err := e.tokens.Deactivate(ctx, userID, tokens[i]); err != nil {
			e.logger.Warn("Token prune failed", "user", userID, "token", tokens[i], "err", err)
		}
	}
}

// activeTokens resolves a user's active tokens, discarding empties.
func (e *Engine) activeTokens(ctx context.Context, userID string) ([]string, error) {
	records, err := e.tokens.ActiveTokens(ctx, userID)
	if err != nil {
		return nil, err
	}
	tokens := make([]string, 0, len(records))
	for _, r := range records {
		if r.Token != "" {
			tokens = append(tokens, r.Token)
		}
	}
	return tokens, nil
}

// buildPayload constructs the flat provider data map. Caller-supplied extra
// data overrides the defaulted keys.
func (e *Engine) buildPayload(title, body, clickURL string, extra map[string]string) map[string]string {
	if clickURL == "" {
		clickURL = e.opts.DefaultClickURL
	}
	payload := map[string]string{
		"title":        title,
		"body":         body,
		"click_action": clickURL,
		"icon":         e.opts.IconURL,
		"badge":        e.opts.BadgeURL,
	}
	for k, v := range extra {
		payload[k] = v
	}
	return payload
}

// CreateInput is the notification-creation request.
type CreateInput struct {
	UserID   string            `json:"userId"`
	Title    string            `json:"title"`
	Body     string            `json:"body"`
	ClickURL string            `json:"clickUrl,omitempty"`
	Data     map[string]string `json:"data,omitempty"`
}

// CreateNotification validates the input and enqueues a pending record.
func (e *Engine) CreateNotification(ctx context.Context, in CreateInput) (*dispatch.NotificationRecord, error) {
	if in.UserID == "" || in.Title == "" || in.Body == "" {
		return nil, fmt.Errorf("%w: userId, title, and body are required", ErrValidation)
	}

	rec := &dispatch.NotificationRecord{
		ID:        uuid.NewString(),
		UserID:    in.UserID,
		Title:     in.Title,
		Body:      in.Body,
		ClickURL:  in.ClickURL,
		Data:      in.Data,
		Status:    dispatch.StatusPending,
		CreatedAt: e.now(),
	}
	if err := e.queue.Create(ctx, rec); err != nil {
		return nil, fmt.Errorf("enqueue notification: %w", err)
	}
	return rec, nil
}

// SendInput is the direct single-user send request.
type SendInput struct {
	UserID   string `json:"userId"`
	Title    string `json:"title"`
	Body     string `json:"body"`
	ClickURL string `json:"clickUrl,omitempty"`
}

// Outcome is the structured result of a direct send. Callers branch on
// Success rather than on an error.
type Outcome struct {
	Success bool                  `json:"success"`
	Summary *dispatch.SendSummary `json:"response,omitempty"`
	Message string                `json:"message,omitempty"`
}

// SendToUser resolves the user's active tokens and sends immediately,
// bypassing the queue. Unlike the queued path, which leaves a tokenless
// record waiting, this path fails fast with a descriptive result.
func (e *Engine) SendToUser(ctx context.Context, in SendInput) *Outcome {
	if in.UserID == "" {
		e.logger.Warn("Missing userId for push notification")
		return &Outcome{Success: false, Message: "Missing userId"}
	}

	records, err := e.tokens.ActiveTokens(ctx, in.UserID)
	if err != nil {
		e.logger.Error("Token lookup failed", "user", in.UserID, "err", err)
		return &Outcome{Success: false, Message: err.Error()}
	}
	if len(records) == 0 {
		e.logger.Warn("No tokens found for user", "user", in.UserID)
		return &Outcome{Success: false, Message: "No tokens found for this user"}
	}

	tokens := make([]string, 0, len(records))
	for _, r := range records {
		if r.Token != "" {
			tokens = append(tokens, r.Token)
		}
	}
	if len(tokens) == 0 {
		e.logger.Warn("No valid tokens found for user", "user", in.UserID)
		return &Outcome{Success: false, Message: "No valid tokens found"}
	}

	payload := e.buildPayload(in.Title, in.Body, in.ClickURL, nil)

	summary, err := e.sender.SendEachForMulticast(ctx, tokens, payload)
	if err != nil {
		e.logger.Error("Direct push send failed", "user", in.UserID, "err", err)
		return &Outcome{Success: false, Message: err.Error()}
	}

	e.logger.Info("Direct notification sent",
		"user", in.UserID, "success", summary.SuccessCount, "failed", summary.FailureCount)
	return &Outcome{Success: true, Summary: summary}
}

// SendRegistrationConfirmation fires the fixed confirmation message after a
// device token is registered or refreshed. Its failure is reported in the
// result only; registration never fails because of it.
func (e *Engine) SendRegistrationConfirmation(ctx context.Context, userID string) *Outcome {
	return e.SendToUser(ctx, SendInput{
		UserID: userID,
		Title:  "Token Registered",
		Body:   "Your device has been registered for notifications.",
	})
}
