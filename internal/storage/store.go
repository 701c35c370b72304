// Package storage defines the persistence boundary of the dispatch engine.
// All offer state transitions that require atomicity live behind this
// interface, so correctness holds whether the backing store is PostgreSQL or
// the in-memory implementation used by tests.
package storage

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/STageSub/orchestra-system-sub002/internal/core"
)

// RankedCandidate is one row of a ranking list joined with its candidate and
// the owning position, the raw input the candidate selector orders and
// filters. Rows come back unfiltered; eligibility rules live in the selector.
type RankedCandidate struct {
	Candidate             core.Candidate
	Rank                  int
	HierarchyLevel        int
	RequiredQualification string
}

// Store is the transactional persistence interface the engine runs against.
//
// The compound operations (SetNeedQuantity, CloseNeed, CreateOffer,
// MarkReminded, ExpireOffer, SaveToken, ConsumeToken) each execute as one
// atomic unit: concurrent callers see either the full effect or none, and
// race losers get a false/seen-state result rather than a partial write.
type Store interface {
	// Needs.
	CreateNeed(ctx context.Context, need *core.Need) error
	GetNeed(ctx context.Context, id uuid.UUID) (*core.Need, error)
	ListActiveNeeds(ctx context.Context) ([]core.Need, error)
	SetNeedStatus(ctx context.Context, id uuid.UUID, status core.NeedStatus) error
	// SetNeedQuantity atomically checks the accepted count and rejects a
	// decrease below it with core.ErrQuantityBelowAccepted. Shrinking to
	// exactly the accepted count completes the need and supersedes its
	// pending offers, which are returned for notification.
	SetNeedQuantity(ctx context.Context, id uuid.UUID, quantity int) (*core.Need, []core.Offer, error)
	// CloseNeed archives the need and supersedes its pending offers,
	// invalidating their tokens in the same transaction. A need that never
	// issued an offer is hard-deleted instead. Returns the superseded
	// offers so the engine can notify their candidates.
	CloseNeed(ctx context.Context, id uuid.UUID, now time.Time) ([]core.Offer, error)

	// Ranking data, read-only inputs to the engine.
	GetPosition(ctx context.Context, id uuid.UUID) (*core.Position, error)
	GetCandidate(ctx context.Context, id uuid.UUID) (*core.Candidate, error)
	ListRankedCandidates(ctx context.Context, listID uuid.UUID) ([]RankedCandidate, error)

	// Offers.
	// CreateOffer enforces one offer per (need, candidate) pair and at most
	// one pending offer per candidate across all needs; a violation of the
	// latter returns core.ErrCandidateBusy so the dispatch loop skips.
	CreateOffer(ctx context.Context, offer *core.Offer) error
	GetOffer(ctx context.Context, id uuid.UUID) (*core.Offer, error)
	ListOffersByNeed(ctx context.Context, needID uuid.UUID) ([]core.Offer, error)
	ListPendingOffersByCandidate(ctx context.Context, candidateID uuid.UUID) ([]core.Offer, error)
	// ListPendingOffers returns every pending offer, for the reminder scan.
	ListPendingOffers(ctx context.Context) ([]core.Offer, error)
	// MarkReminded records the one-time reminder; false when another tick
	// already marked it or the offer is no longer pending.
	MarkReminded(ctx context.Context, offerID uuid.UUID, now time.Time) (bool, error)
	// ExpireOffer transitions pending to expired; false when already moved.
	ExpireOffer(ctx context.Context, offerID uuid.UUID, now time.Time) (bool, error)

	// Tokens.
	// SaveToken stores the offer's live token, invalidating any prior
	// unused token for the same offer.
	SaveToken(ctx context.Context, token *core.ResponseToken) error
	// GetLiveToken returns the offer's current unused token, or
	// core.ErrNotFound when none is live.
	GetLiveToken(ctx context.Context, offerID uuid.UUID) (*core.ResponseToken, error)
	// GetTokenContext resolves a token value to its candidate-facing offer
	// context without consuming it.
	GetTokenContext(ctx context.Context, value string) (*core.OfferContext, *core.ResponseToken, error)
	// ConsumeToken is the single isolation boundary for responses: it
	// verifies the token unused and unexpired, sets usedAt, transitions the
	// bound offer, and for accepts increments the need's accepted count and
	// completes the need when quantity is reached, superseding the rest.
	// Concurrent calls on one token yield exactly one winning outcome.
	ConsumeToken(ctx context.Context, value string, response core.OfferResponse, now time.Time) (*core.ConsumeResult, error)
}
