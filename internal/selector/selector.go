// Package selector turns raw ranking data into the ordered, deduplicated
// candidate sequence the dispatch engine walks.
package selector

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/STageSub/orchestra-system-sub002/internal/core"
	"github.com/STageSub/orchestra-system-sub002/internal/storage"
)

// Selector produces eligible candidates for a ranking list. It is a pure
// function of the current ranking and eligibility state: repeated calls on
// an unchanged snapshot return the same sequence.
type Selector struct {
	store storage.Store
}

// New creates a Selector backed by the given store.
func New(store storage.Store) *Selector {
	return &Selector{store: store}
}

// Eligible returns the list's candidates ordered ascending by rank, ties
// broken by position hierarchy level (lower level is more senior and comes
// first), then by candidate ID for determinism. Inactive and archived
// candidates, and those missing the position's required qualification, are
// excluded. Duplicate candidates keep their best-ranked entry.
func (s *Selector) Eligible(ctx context.Context, listID uuid.UUID) ([]core.Candidate, error) {
	ranked, err := s.store.ListRankedCandidates(ctx, listID)
	if err != nil {
		return nil, fmt.Errorf("load ranked candidates: %w", err)
	}
	return Order(ranked), nil
}

// Order applies the eligibility filter and deterministic ordering to a
// ranking snapshot. Exposed separately so conflict arbitration can rank
// candidates without another store round trip.
func Order(ranked []storage.RankedCandidate) []core.Candidate {
	eligible := make([]storage.RankedCandidate, 0, len(ranked))
	for _, rc := range ranked {
		c := rc.Candidate
		if !c.Active || c.Archived {
			continue
		}
		if !c.Qualified(rc.RequiredQualification) {
			continue
		}
		eligible = append(eligible, rc)
	}

	sort.Slice(eligible, func(i, j int) bool {
		a, b := eligible[i], eligible[j]
		if a.Rank != b.Rank {
			return a.Rank < b.Rank
		}
		if a.HierarchyLevel != b.HierarchyLevel {
			return a.HierarchyLevel < b.HierarchyLevel
		}
		return a.Candidate.ID.String() < b.Candidate.ID.String()
	})

	seen := make(map[uuid.UUID]struct{}, len(eligible))
	out := make([]core.Candidate, 0, len(eligible))
	for _, rc := range eligible {
		if _, ok := seen[rc.Candidate.ID]; ok {
			continue
		}
		seen[rc.Candidate.ID] = struct{}{}
		out = append(out, rc.Candidate)
	}
	return out
}

// RankOf looks up a candidate's rank within a ranking snapshot. The second
// return value is false when the candidate is not eligible on that list.
func RankOf(ranked []storage.RankedCandidate, candidateID uuid.UUID) (int, bool) {
	best := 0
	found := false
	for _, rc := range ranked {
		c := rc.Candidate
		if c.ID != candidateID || !c.Active || c.Archived || !c.Qualified(rc.RequiredQualification) {
			continue
		}
		if !found || rc.Rank < best {
			best = rc.Rank
			found = true
		}
	}
	return best, found
}
