// Package conflict arbitrates candidates who are simultaneously eligible for
// more than one open need, so one candidate never holds two pending offers.
package conflict

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/STageSub/orchestra-system-sub002/internal/core"
	"github.com/STageSub/orchestra-system-sub002/internal/selector"
	"github.com/STageSub/orchestra-system-sub002/internal/storage"
)

// Decision is the outcome of conflict arbitration for one candidate.
type Decision struct {
	Allow bool
	// Overlaps lists the candidate's pending offers on other needs. Only
	// populated under the detailed policy; informational, it never changes
	// the outcome.
	Overlaps []core.Offer
}

// Resolver decides which need may offer to a contested candidate. Decisions
// are made against a snapshot of open needs read per call: slightly stale
// data costs at most a skip, never a double offer, because the storage layer
// rejects a second pending offer for the same candidate.
type Resolver struct {
	store  storage.Store
	logger *slog.Logger
}

// New creates a Resolver backed by the given store.
func New(store storage.Store, logger *slog.Logger) *Resolver {
	return &Resolver{store: store, logger: logger}
}

// Resolve reports whether need may offer to candidate under the given
// policy. Idempotent for a fixed snapshot of open needs and offers.
//
// simple and detailed are first-come-first-served at the engine level: the
// dispatch loop that reaches the candidate first wins, and a same-tick tie
// falls through to the store's single-pending-offer constraint, so the
// earlier insert wins. smart compares the candidate's rank across every
// open conflicting need and awards the offer to the need where the rank is
// numerically best, ties going to the more senior position, then the lowest
// need ID.
func (r *Resolver) Resolve(ctx context.Context, policy core.ConflictPolicy, candidate core.Candidate, need *core.Need) (Decision, error) {
	pending, err := r.store.ListPendingOffersByCandidate(ctx, candidate.ID)
	if err != nil {
		return Decision{}, fmt.Errorf("list pending offers: %w", err)
	}
	var elsewhere []core.Offer
	for _, o := range pending {
		if o.NeedID != need.ID {
			elsewhere = append(elsewhere, o)
		}
	}
	if len(elsewhere) > 0 {
		// Already committed to another need's offer; skip for the
		// remainder of this need's dispatch.
		return Decision{Allow: false, Overlaps: overlapsFor(policy, elsewhere)}, nil
	}

	if policy != core.ConflictSmart {
		return Decision{Allow: true, Overlaps: overlapsFor(policy, elsewhere)}, nil
	}

	allow, err := r.winsArbitration(ctx, candidate, need)
	if err != nil {
		return Decision{}, err
	}
	return Decision{Allow: allow}, nil
}

// winsArbitration implements the smart policy: the need where the candidate
// ranks best gets the offer; everyone else skips and proceeds down their
// own list.
func (r *Resolver) winsArbitration(ctx context.Context, candidate core.Candidate, need *core.Need) (bool, error) {
	ourRanked, err := r.store.ListRankedCandidates(ctx, need.RankingListID)
	if err != nil {
		return false, fmt.Errorf("load own ranking: %w", err)
	}
	ourRank, ok := selector.RankOf(ourRanked, candidate.ID)
	if !ok {
		return false, nil
	}
	ourPos, err := r.store.GetPosition(ctx, need.PositionID)
	if err != nil {
		return false, fmt.Errorf("load own position: %w", err)
	}

	open, err := r.store.ListActiveNeeds(ctx)
	if err != nil {
		return false, fmt.Errorf("list open needs: %w", err)
	}
	for _, other := range open {
		if other.ID == need.ID || other.Remaining() == 0 {
			continue
		}
		otherRanked, err := r.store.ListRankedCandidates(ctx, other.RankingListID)
		if err != nil {
			return false, fmt.Errorf("load competing ranking: %w", err)
		}
		otherRank, ok := selector.RankOf(otherRanked, candidate.ID)
		if !ok {
			continue
		}

		// The competing need no longer contests the candidate once it
		// has already offered to them.
		contested, err := r.alreadyOffered(ctx, other, candidate)
		if err != nil {
			return false, err
		}
		if contested {
			continue
		}

		if otherRank < ourRank {
			r.logger.Debug("conflict arbitration lost on rank",
				"candidate", candidate.ID, "need", need.ID,
				"winner", other.ID, "our_rank", ourRank, "their_rank", otherRank)
			return false, nil
		}
		if otherRank == ourRank {
			otherPos, err := r.store.GetPosition(ctx, other.PositionID)
			if err != nil {
				return false, fmt.Errorf("load competing position: %w", err)
			}
			if otherPos.HierarchyLevel < ourPos.HierarchyLevel {
				return false, nil
			}
			if otherPos.HierarchyLevel == ourPos.HierarchyLevel && other.ID.String() < need.ID.String() {
				// Full tie: lowest need ID wins, documented as the
				// implementation-defined ordering.
				return false, nil
			}
		}
	}
	return true, nil
}

func (r *Resolver) alreadyOffered(ctx context.Context, need core.Need, candidate core.Candidate) (bool, error) {
	offers, err := r.store.ListOffersByNeed(ctx, need.ID)
	if err != nil {
		return false, fmt.Errorf("list competing offers: %w", err)
	}
	for _, o := range offers {
		if o.CandidateID == candidate.ID {
			return true, nil
		}
	}
	return false, nil
}

func overlapsFor(policy core.ConflictPolicy, elsewhere []core.Offer) []core.Offer {
	if policy == core.ConflictDetailed {
		return elsewhere
	}
	return nil
}
