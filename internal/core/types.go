// Package core defines the essential interfaces and data structures that form
// the backbone of the dispatch engine. These components are designed to be
// abstract, allowing for flexible and decoupled implementations of the
// engine's logic.
package core

import (
	"time"

	"github.com/google/uuid"
)

// DispatchStrategy controls how many offers a need keeps outstanding at once
// and how replacements are issued after a decline or expiry.
type DispatchStrategy string

const (
	StrategySequential DispatchStrategy = "sequential"
	StrategyParallel   DispatchStrategy = "parallel"
	StrategyFirstCome  DispatchStrategy = "first_come"
)

// ConflictPolicy arbitrates a candidate who is eligible for more than one
// concurrently dispatching need.
type ConflictPolicy string

const (
	ConflictSimple   ConflictPolicy = "simple"
	ConflictDetailed ConflictPolicy = "detailed"
	ConflictSmart    ConflictPolicy = "smart"
)

// NeedStatus is the lifecycle state of a vacancy need.
type NeedStatus string

const (
	NeedActive    NeedStatus = "active"
	NeedCompleted NeedStatus = "completed"
	NeedArchived  NeedStatus = "archived"
)

// OfferStatus is the lifecycle state of a single dispatch attempt.
type OfferStatus string

const (
	OfferPending    OfferStatus = "pending"
	OfferAccepted   OfferStatus = "accepted"
	OfferDeclined   OfferStatus = "declined"
	OfferExpired    OfferStatus = "expired"
	OfferSuperseded OfferStatus = "superseded"
)

// OfferResponse is a candidate's answer to an offer.
type OfferResponse string

const (
	ResponseAccepted OfferResponse = "accepted"
	ResponseDeclined OfferResponse = "declined"
)

// Position is a role within a category, e.g. an instrument part. The
// hierarchy level orders positions by seniority; lower is more senior and
// wins rank ties during selection and conflict arbitration.
type Position struct {
	ID                    uuid.UUID
	Name                  string
	Category              string
	HierarchyLevel        int
	RequiredQualification string
}

// RankingList is an ordered, named tier of candidates for one Position.
type RankingList struct {
	ID          uuid.UUID
	PositionID  uuid.UUID
	Tier        string
	Description string
}

// Ranking places one candidate at a unique rank within a list.
type Ranking struct {
	ListID      uuid.UUID
	CandidateID uuid.UUID
	Rank        int
}

// Candidate is a musician who can receive offers.
type Candidate struct {
	ID             uuid.UUID
	Name           string
	Email          string
	Phone          string
	Active         bool
	Archived       bool
	Qualifications []string
}

// Qualified reports whether the candidate holds the named qualification.
// An empty requirement always passes.
func (c Candidate) Qualified(qualification string) bool {
	if qualification == "" {
		return true
	}
	for _, q := range c.Qualifications {
		if q == qualification {
			return true
		}
	}
	return false
}

// Need is a request for Quantity filled slots for one Position, dispatched
// against one ranking list. AcceptedCount never exceeds Quantity.
type Need struct {
	ID                  uuid.UUID
	ProjectID           uuid.UUID
	PositionID          uuid.UUID
	RankingListID       uuid.UUID
	Quantity            int
	AcceptedCount       int
	Strategy            DispatchStrategy
	MaxOffers           *int
	ResponseWindowHours int
	Status              NeedStatus
	CreatedAt           time.Time
}

// ResponseWindow returns the need's response window as a duration.
func (n Need) ResponseWindow() time.Duration {
	return time.Duration(n.ResponseWindowHours) * time.Hour
}

// Remaining is how many acceptances the need still requires.
func (n Need) Remaining() int {
	if n.AcceptedCount >= n.Quantity {
		return 0
	}
	return n.Quantity - n.AcceptedCount
}

// Offer is one dispatch attempt of a need to one candidate. Exactly one
// offer exists per (need, candidate) pair.
type Offer struct {
	ID          uuid.UUID
	NeedID      uuid.UUID
	CandidateID uuid.UUID
	Status      OfferStatus
	SentAt      time.Time
	ExpiresAt   time.Time
	RemindedAt  *time.Time
	RespondedAt *time.Time
	Response    *OfferResponse
}

// ResponseToken is a single-use, time-limited credential bound to one offer.
// UsedAt is set at most once; once set, no further transition on the bound
// offer is permitted through this token.
type ResponseToken struct {
	Value     string
	OfferID   uuid.UUID
	ExpiresAt time.Time
	UsedAt    *time.Time
	CreatedAt time.Time
}

// OfferContext is the candidate-facing view of an open offer, returned when
// a response link is validated.
type OfferContext struct {
	OfferID       uuid.UUID
	NeedID        uuid.UUID
	CandidateName string
	PositionName  string
	Tier          string
	SentAt        time.Time
	ExpiresAt     time.Time
}

// ConsumeOutcome classifies the result of consuming a response token.
type ConsumeOutcome string

const (
	// ConsumeAccepted and ConsumeDeclined mean the token won the race and
	// the bound offer transitioned.
	ConsumeAccepted ConsumeOutcome = "accepted"
	ConsumeDeclined ConsumeOutcome = "declined"
	// ConsumeAlreadyUsed is returned to race losers and genuine replays.
	ConsumeAlreadyUsed ConsumeOutcome = "already_used"
	ConsumeExpired     ConsumeOutcome = "expired"
	ConsumeInvalid     ConsumeOutcome = "invalid"
	// ConsumeUnavailable means the token was live but the offer can no
	// longer be answered, e.g. it was superseded when the need filled.
	ConsumeUnavailable ConsumeOutcome = "unavailable"
)

// ConsumeResult reports what a token consumption did, including the
// follow-up work the dispatch engine owes: topping up after a decline or
// notifying superseded candidates after the final accept.
type ConsumeResult struct {
	Outcome       ConsumeOutcome
	Offer         *Offer
	Need          *Need
	NeedCompleted bool
	Superseded    []Offer
}
