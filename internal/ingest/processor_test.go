package ingest_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/tinywideclouds/go-push-dispatch-service/internal/audit"
	"github.com/tinywideclouds/go-push-dispatch-service/internal/engine"
	"github.com/tinywideclouds/go-push-dispatch-service/internal/ingest"
	"github.com/tinywideclouds/go-push-dispatch-service/pkg/dispatch"
)

type mockQueueStore struct {
	mock.Mock
}

func (m *mockQueueStore) Create(ctx context.Context, record *dispatch.NotificationRecord) error {
	return m.Called(ctx, record).Error(0)
}
func (m *mockQueueStore) FindPending(ctx context.Context) ([]dispatch.NotificationRecord, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]dispatch.NotificationRecord), args.Error(1)
}
func (m *mockQueueStore) Claim(ctx context.Context, id string) (bool, error) {
	args := m.Called(ctx, id)
	return args.Bool(0), args.Error(1)
}
func (m *mockQueueStore) Release(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}
func (m *mockQueueStore) MarkOutcome(ctx context.Context, id string, status dispatch.Status, sentAt *time.Time) error {
	return m.Called(ctx, id, status, sentAt).Error(0)
}

type mockTokenStore struct {
	mock.Mock
}

func (m *mockTokenStore) Register(ctx context.Context, token dispatch.DeviceToken) error {
	return m.Called(ctx, token).Error(0)
}
func (m *mockTokenStore) ActiveTokens(ctx context.Context, userID string) ([]dispatch.DeviceToken, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]dispatch.DeviceToken), args.Error(1)
}
func (m *mockTokenStore) Deactivate(ctx context.Context, userID, token string) error {
	return m.Called(ctx, userID, token).Error(0)
}

type mockSender struct {
	mock.Mock
}

func (m *mockSender) SendEachForMulticast(ctx context.Context, tokens []string, data map[string]string) (*dispatch.SendSummary, error) {
	args := m.Called(ctx, tokens, data)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*dispatch.SendSummary), args.Error(1)
}

func newTestEngine(t *testing.T, queue *mockQueueStore) *engine.Engine {
	t.Helper()
	auditLog := audit.New(t.TempDir())
	t.Cleanup(func() { _ = auditLog.Close() })
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return engine.New(queue, new(mockTokenStore), new(mockSender), auditLog, engine.Options{}, logger)
}

func TestProcessor(t *testing.T) {
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	t.Run("Valid request is enqueued", func(t *testing.T) {
		queue := new(mockQueueStore)
		queue.On("Create", mock.Anything, mock.MatchedBy(func(rec *dispatch.NotificationRecord) bool {
			return rec.UserID == "user-123" && rec.Status == dispatch.StatusPending
		})).Return(nil).Once()

		processor := ingest.NewProcessor(newTestEngine(t, queue), logger)

		err := processor(ctx, messagepipeline.Message{}, &engine.CreateInput{
			UserID: "user-123",
			Title:  "Build finished",
			Body:   "All checks passed.",
		})

		require.NoError(t, err)
		queue.AssertExpectations(t)
	})

	t.Run("Validation failure is acked, not retried", func(t *testing.T) {
		queue := new(mockQueueStore)
		processor := ingest.NewProcessor(newTestEngine(t, queue), logger)

		err := processor(ctx, messagepipeline.Message{}, &engine.CreateInput{
			UserID: "user-123",
			// Missing title and body.
		})

		require.NoError(t, err)
		queue.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
	})

	t.Run("Storage failure is returned for redelivery", func(t *testing.T) {
		queue := new(mockQueueStore)
		queue.On("Create", mock.Anything, mock.Anything).Return(errors.New("firestore down")).Once()

		processor := ingest.NewProcessor(newTestEngine(t, queue), logger)

		err := processor(ctx, messagepipeline.Message{}, &engine.CreateInput{
			UserID: "user-123",
			Title:  "Build finished",
			Body:   "All checks passed.",
		})

		require.Error(t, err)
		queue.AssertExpectations(t)
	})
}
