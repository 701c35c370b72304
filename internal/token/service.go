// Package token issues and consumes the single-use response credentials
// candidates use to answer an offer.
package token

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/STageSub/orchestra-system-sub002/internal/core"
	"github.com/STageSub/orchestra-system-sub002/internal/storage"
)

// Service manages response tokens. Uniqueness of consumption is delegated to
// the store's transactional boundary, so correctness holds across processes.
type Service struct {
	store storage.Store
	now   func() time.Time
}

// NewService creates a token service backed by the given store.
func NewService(store storage.Store) *Service {
	return &Service{store: store, now: time.Now}
}

// Issue creates a fresh token for the offer, expiring with the offer's
// response window. Any prior unused token for the same offer is invalidated,
// there is exactly one live token per offer.
func (s *Service) Issue(ctx context.Context, offer *core.Offer) (*core.ResponseToken, error) {
	value, err := newTokenValue()
	if err != nil {
		return nil, err
	}
	tok := &core.ResponseToken{
		Value:     value,
		OfferID:   offer.ID,
		ExpiresAt: offer.ExpiresAt,
		CreatedAt: s.now(),
	}
	if err := s.store.SaveToken(ctx, tok); err != nil {
		return nil, fmt.Errorf("save token: %w", err)
	}
	return tok, nil
}

// Validate resolves a token to its candidate-facing offer context without
// consuming it. Returns core.ErrTokenInvalid, core.ErrTokenExpired or
// core.ErrTokenAlreadyUsed for dead tokens.
func (s *Service) Validate(ctx context.Context, value string) (*core.OfferContext, error) {
	octx, _, err := s.store.GetTokenContext(ctx, value)
	if err != nil {
		return nil, err
	}
	return octx, nil
}

// Consume atomically spends the token and transitions its offer. Exactly one
// of N concurrent calls on the same token wins; the rest receive a result
// with outcome already_used, which is an expected answer, not an error.
func (s *Service) Consume(ctx context.Context, value string, response core.OfferResponse) (*core.ConsumeResult, error) {
	result, err := s.store.ConsumeToken(ctx, value, response, s.now())
	if err != nil {
		return nil, fmt.Errorf("consume token: %w", err)
	}
	return result, nil
}

// newTokenValue returns 32 bytes of hex-encoded entropy. Token values are
// opaque; all meaning lives in the store.
func newTokenValue() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
