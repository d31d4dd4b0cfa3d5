package firestore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/tinywideclouds/go-push-dispatch-service/pkg/dispatch"
)

// TokenStore implements dispatch.TokenStore using Firestore.
// Layout: users/{userID}/devices/{tokenHash}.
type TokenStore struct {
	client *firestore.Client
	now    func() time.Time
}

func NewTokenStore(client *firestore.Client) *TokenStore {
	return &TokenStore{client: client, now: time.Now}
}

// deviceRecord is the internal DB representation of a registration.
type deviceRecord struct {
	Token     string    `firestore:"token"`
	UserID    string    `firestore:"user_id"`
	Browser   string    `firestore:"browser,omitempty"`
	IsActive  bool      `firestore:"is_active"`
	ExpiresAt time.Time `firestore:"expires_at"`
	UpdatedAt time.Time `firestore:"updated_at"`
}

// Register upserts a device registration. The doc ID is a hash of the token,
// which dedupes repeat registrations of the same device and avoids
// hot-spotting on long opaque token strings.
func (s *TokenStore) Register(ctx context.Context, token dispatch.DeviceToken) error {
	if token.Token == "" || token.UserID == "" {
		return fmt.Errorf("token and userId are required")
	}

	record := deviceRecord{
		Token:     token.Token,
		UserID:    token.UserID,
		Browser:   token.Browser,
		IsActive:  token.IsActive,
		ExpiresAt: token.ExpiresAt,
		UpdatedAt: s.now(),
	}
	_, err := s.deviceRef(token.UserID, hashToken(token.Token)).Set(ctx, record)
	return err
}

// ActiveTokens returns the user's registrations with is_active set. Expiry is
// advisory and not filtered on here.
func (s *TokenStore) ActiveTokens(ctx context.Context, userID string) ([]dispatch.DeviceToken, error) {
	iter := s.devicesCollection(userID).
		Where("is_active", "==", true).
		Documents(ctx)
	defer iter.Stop()

	var tokens []dispatch.DeviceToken
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("firestore iteration failed: %w", err)
		}

		var record deviceRecord
		if err := doc.DataTo(&record); err != nil {
			continue
		}
		tokens = append(tokens, dispatch.DeviceToken{
			Token:     record.Token,
			UserID:    record.UserID,
			Browser:   record.Browser,
			IsActive:  record.IsActive,
			ExpiresAt: record.ExpiresAt,
		})
	}
	return tokens, nil
}

// Deactivate retires one registration. A missing document is treated as
// already deactivated.
func (s *TokenStore) Deactivate(ctx context.Context, userID, token string) error {
	_, err := s.deviceRef(userID, hashToken(token)).Update(ctx, []firestore.Update{
		{Path: "is_active", Value: false},
		{Path: "updated_at", Value: s.now()},
	})
	if status.Code(err) == codes.NotFound {
		return nil
	}
	return err
}

func (s *TokenStore) deviceRef(userID, docID string) *firestore.DocumentRef {
	return s.devicesCollection(userID).Doc(docID)
}

func (s *TokenStore) devicesCollection(userID string) *firestore.CollectionRef {
	return s.client.Collection("users").Doc(userID).Collection("devices")
}

func hashToken(t string) string {
	sum := sha256.Sum256([]byte(t))
	return hex.EncodeToString(sum[:])
}
