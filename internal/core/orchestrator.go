package core

import (
	"context"

	"github.com/google/uuid"
)

// Orchestrator is the contract the HTTP layer and CLI drive the dispatch
// engine through. It decouples transport handlers from the strategy state
// machine, so handlers can be tested against a fake.
type Orchestrator interface {
	// OpenDispatch marks a need active and queues its first dispatch cycle.
	OpenDispatch(ctx context.Context, needID uuid.UUID) error

	// ViewOffer validates a response token and returns the candidate-facing
	// offer context, or ErrTokenInvalid/ErrTokenExpired/ErrTokenAlreadyUsed.
	ViewOffer(ctx context.Context, tokenValue string) (*OfferContext, error)

	// Respond consumes a response token. Race losers and replays receive a
	// ConsumeResult with a non-winning outcome, not an error.
	Respond(ctx context.Context, tokenValue string, response OfferResponse) (*ConsumeResult, error)

	// UpdateQuantity changes a need's quantity. Increases re-enter the
	// dispatch loop; decreases below the accepted count are rejected with
	// ErrQuantityBelowAccepted.
	UpdateQuantity(ctx context.Context, needID uuid.UUID, quantity int) error

	// CloseNeed archives a need, supersedes its pending offers and
	// invalidates their tokens before any in-flight response is processed.
	CloseNeed(ctx context.Context, needID uuid.UUID) error
}
