package core

import "errors"

// Sentinel errors for the dispatch engine. Callers match them with
// errors.Is; storage implementations wrap them with context.
var (
	// ErrTokenInvalid means the token value is unknown.
	ErrTokenInvalid = errors.New("response token is invalid")

	// ErrTokenExpired means the token exists but its window has passed.
	ErrTokenExpired = errors.New("response token has expired")

	// ErrTokenAlreadyUsed means the token was consumed before, either by a
	// race loser or a genuine replay.
	ErrTokenAlreadyUsed = errors.New("response token already used")

	// ErrQuantityBelowAccepted rejects a need edit that would shrink
	// capacity under already-committed acceptances.
	ErrQuantityBelowAccepted = errors.New("quantity cannot be below accepted count")

	// ErrNoEligibleCandidates means the dispatch loop exhausted the ranked
	// list before reaching quantity. The need stays active awaiting roster
	// growth; this is surfaced as a warning, not a failure.
	ErrNoEligibleCandidates = errors.New("no eligible candidates remain")

	// ErrNeedNotActive rejects dispatch operations on completed or
	// archived needs.
	ErrNeedNotActive = errors.New("need is not active")

	// ErrCandidateBusy means the candidate already holds a pending offer
	// from another need; the dispatch loop skips them.
	ErrCandidateBusy = errors.New("candidate has a pending offer elsewhere")

	// ErrNotFound is returned by stores for missing entities.
	ErrNotFound = errors.New("not found")
)
