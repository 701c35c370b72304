package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/STageSub/orchestra-system-sub002/internal/core"
)

// MemoryStore is an in-memory Store guarded by a single mutex, giving every
// compound operation the same all-or-nothing visibility the PostgreSQL store
// gets from transactions. Used by tests and the demo CLI.
type MemoryStore struct {
	mu         sync.Mutex
	needs      map[uuid.UUID]*core.Need
	positions  map[uuid.UUID]*core.Position
	lists      map[uuid.UUID]*core.RankingList
	rankings   map[uuid.UUID][]core.Ranking
	candidates map[uuid.UUID]*core.Candidate
	offers     map[uuid.UUID]*core.Offer
	tokens     map[string]*core.ResponseToken
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		needs:      make(map[uuid.UUID]*core.Need),
		positions:  make(map[uuid.UUID]*core.Position),
		lists:      make(map[uuid.UUID]*core.RankingList),
		rankings:   make(map[uuid.UUID][]core.Ranking),
		candidates: make(map[uuid.UUID]*core.Candidate),
		offers:     make(map[uuid.UUID]*core.Offer),
		tokens:     make(map[string]*core.ResponseToken),
	}
}

// SeedPosition, SeedRankingList, SeedRanking and SeedCandidate load ranking
// fixtures. Ranking data is a read-only input to the engine, so only the
// memory store exposes writers for it.
func (m *MemoryStore) SeedPosition(p core.Position) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.positions[p.ID] = &p
}

func (m *MemoryStore) SeedRankingList(l core.RankingList) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lists[l.ID] = &l
}

func (m *MemoryStore) SeedRanking(r core.Ranking) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rankings[r.ListID] = append(m.rankings[r.ListID], r)
}

func (m *MemoryStore) SeedCandidate(c core.Candidate) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.candidates[c.ID] = &c
}

func (m *MemoryStore) CreateNeed(_ context.Context, need *core.Need) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *need
	m.needs[need.ID] = &cp
	return nil
}

func (m *MemoryStore) GetNeed(_ context.Context, id uuid.UUID) (*core.Need, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	need, ok := m.needs[id]
	if !ok {
		return nil, fmt.Errorf("need %s: %w", id, core.ErrNotFound)
	}
	cp := *need
	return &cp, nil
}

func (m *MemoryStore) ListActiveNeeds(_ context.Context) ([]core.Need, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []core.Need
	for _, n := range m.needs {
		if n.Status == core.NeedActive {
			out = append(out, *n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out, nil
}

func (m *MemoryStore) SetNeedStatus(_ context.Context, id uuid.UUID, status core.NeedStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	need, ok := m.needs[id]
	if !ok {
		return fmt.Errorf("need %s: %w", id, core.ErrNotFound)
	}
	need.Status = status
	return nil
}

func (m *MemoryStore) SetNeedQuantity(_ context.Context, id uuid.UUID, quantity int) (*core.Need, []core.Offer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	need, ok := m.needs[id]
	if !ok {
		return nil, nil, fmt.Errorf("need %s: %w", id, core.ErrNotFound)
	}
	if quantity < need.AcceptedCount {
		return nil, nil, fmt.Errorf("need %s has %d accepted: %w", id, need.AcceptedCount, core.ErrQuantityBelowAccepted)
	}

	need.Quantity = quantity
	var superseded []core.Offer
	switch {
	case need.AcceptedCount == quantity && need.Status == core.NeedActive:
		need.Status = core.NeedCompleted
		superseded = m.supersedePendingLocked(id, time.Now())
	case need.AcceptedCount < quantity && need.Status == core.NeedCompleted:
		need.Status = core.NeedActive
	}
	cp := *need
	return &cp, superseded, nil
}

func (m *MemoryStore) CloseNeed(_ context.Context, id uuid.UUID, now time.Time) ([]core.Offer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	need, ok := m.needs[id]
	if !ok {
		return nil, fmt.Errorf("need %s: %w", id, core.ErrNotFound)
	}

	hasOffers := false
	for _, o := range m.offers {
		if o.NeedID == id {
			hasOffers = true
			break
		}
	}
	if !hasOffers {
		delete(m.needs, id)
		return nil, nil
	}

	need.Status = core.NeedArchived
	return m.supersedePendingLocked(id, now), nil
}

func (m *MemoryStore) supersedePendingLocked(needID uuid.UUID, now time.Time) []core.Offer {
	var superseded []core.Offer
	for _, o := range m.offers {
		if o.NeedID == needID && o.Status == core.OfferPending {
			o.Status = core.OfferSuperseded
			o.RespondedAt = &now
			superseded = append(superseded, *o)
		}
	}
	sort.Slice(superseded, func(i, j int) bool { return superseded[i].SentAt.Before(superseded[j].SentAt) })
	return superseded
}

func (m *MemoryStore) GetPosition(_ context.Context, id uuid.UUID) (*core.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.positions[id]
	if !ok {
		return nil, fmt.Errorf("position %s: %w", id, core.ErrNotFound)
	}
	cp := *p
	return &cp, nil
}

func (m *MemoryStore) GetCandidate(_ context.Context, id uuid.UUID) (*core.Candidate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.candidates[id]
	if !ok {
		return nil, fmt.Errorf("candidate %s: %w", id, core.ErrNotFound)
	}
	cp := *c
	return &cp, nil
}

func (m *MemoryStore) ListRankedCandidates(_ context.Context, listID uuid.UUID) ([]RankedCandidate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	list, ok := m.lists[listID]
	if !ok {
		return nil, fmt.Errorf("ranking list %s: %w", listID, core.ErrNotFound)
	}
	pos, ok := m.positions[list.PositionID]
	if !ok {
		return nil, fmt.Errorf("position %s: %w", list.PositionID, core.ErrNotFound)
	}

	var out []RankedCandidate
	for _, r := range m.rankings[listID] {
		cand, ok := m.candidates[r.CandidateID]
		if !ok {
			continue
		}
		out = append(out, RankedCandidate{
			Candidate:             *cand,
			Rank:                  r.Rank,
			HierarchyLevel:        pos.HierarchyLevel,
			RequiredQualification: pos.RequiredQualification,
		})
	}
	return out, nil
}

func (m *MemoryStore) CreateOffer(_ context.Context, offer *core.Offer) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, o := range m.offers {
		if o.NeedID == offer.NeedID && o.CandidateID == offer.CandidateID {
			return fmt.Errorf("offer for need %s candidate %s already exists", offer.NeedID, offer.CandidateID)
		}
		if o.CandidateID == offer.CandidateID && o.Status == core.OfferPending {
			return fmt.Errorf("candidate %s: %w", offer.CandidateID, core.ErrCandidateBusy)
		}
	}
	cp := *offer
	m.offers[offer.ID] = &cp
	return nil
}

func (m *MemoryStore) GetOffer(_ context.Context, id uuid.UUID) (*core.Offer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.offers[id]
	if !ok {
		return nil, fmt.Errorf("offer %s: %w", id, core.ErrNotFound)
	}
	cp := *o
	return &cp, nil
}

func (m *MemoryStore) ListOffersByNeed(_ context.Context, needID uuid.UUID) ([]core.Offer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []core.Offer
	for _, o := range m.offers {
		if o.NeedID == needID {
			out = append(out, *o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SentAt.Before(out[j].SentAt) })
	return out, nil
}

func (m *MemoryStore) ListPendingOffersByCandidate(_ context.Context, candidateID uuid.UUID) ([]core.Offer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []core.Offer
	for _, o := range m.offers {
		if o.CandidateID == candidateID && o.Status == core.OfferPending {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (m *MemoryStore) ListPendingOffers(_ context.Context) ([]core.Offer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []core.Offer
	for _, o := range m.offers {
		if o.Status == core.OfferPending {
			out = append(out, *o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SentAt.Before(out[j].SentAt) })
	return out, nil
}

func (m *MemoryStore) MarkReminded(_ context.Context, offerID uuid.UUID, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.offers[offerID]
	if !ok {
		return false, fmt.Errorf("offer %s: %w", offerID, core.ErrNotFound)
	}
	if o.Status != core.OfferPending || o.RemindedAt != nil {
		return false, nil
	}
	o.RemindedAt = &now
	return true, nil
}

func (m *MemoryStore) ExpireOffer(_ context.Context, offerID uuid.UUID, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.offers[offerID]
	if !ok {
		return false, fmt.Errorf("offer %s: %w", offerID, core.ErrNotFound)
	}
	if o.Status != core.OfferPending {
		return false, nil
	}
	o.Status = core.OfferExpired
	o.RespondedAt = &now
	return true, nil
}

func (m *MemoryStore) SaveToken(_ context.Context, token *core.ResponseToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for v, t := range m.tokens {
		if t.OfferID == token.OfferID && t.UsedAt == nil {
			delete(m.tokens, v)
		}
	}
	cp := *token
	m.tokens[token.Value] = &cp
	return nil
}

func (m *MemoryStore) GetLiveToken(_ context.Context, offerID uuid.UUID) (*core.ResponseToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.tokens {
		if t.OfferID == offerID && t.UsedAt == nil {
			cp := *t
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("live token for offer %s: %w", offerID, core.ErrNotFound)
}

func (m *MemoryStore) GetTokenContext(_ context.Context, value string) (*core.OfferContext, *core.ResponseToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	tok, ok := m.tokens[value]
	if !ok {
		return nil, nil, core.ErrTokenInvalid
	}
	if tok.UsedAt != nil {
		return nil, nil, core.ErrTokenAlreadyUsed
	}
	if time.Now().After(tok.ExpiresAt) {
		return nil, nil, core.ErrTokenExpired
	}
	octx, err := m.offerContextLocked(tok.OfferID)
	if err != nil {
		return nil, nil, err
	}
	tokCp := *tok
	return octx, &tokCp, nil
}

func (m *MemoryStore) offerContextLocked(offerID uuid.UUID) (*core.OfferContext, error) {
	offer, ok := m.offers[offerID]
	if !ok {
		return nil, fmt.Errorf("offer %s: %w", offerID, core.ErrNotFound)
	}
	need := m.needs[offer.NeedID]
	cand := m.candidates[offer.CandidateID]
	if need == nil || cand == nil {
		return nil, fmt.Errorf("offer %s references missing need or candidate: %w", offerID, core.ErrNotFound)
	}
	var posName, tier string
	if pos, ok := m.positions[need.PositionID]; ok {
		posName = pos.Name
	}
	if list, ok := m.lists[need.RankingListID]; ok {
		tier = list.Tier
	}
	return &core.OfferContext{
		OfferID:       offer.ID,
		NeedID:        need.ID,
		CandidateName: cand.Name,
		PositionName:  posName,
		Tier:          tier,
		SentAt:        offer.SentAt,
		ExpiresAt:     offer.ExpiresAt,
	}, nil
}

func (m *MemoryStore) ConsumeToken(_ context.Context, value string, response core.OfferResponse, now time.Time) (*core.ConsumeResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	tok, ok := m.tokens[value]
	if !ok {
		return &core.ConsumeResult{Outcome: core.ConsumeInvalid}, nil
	}
	if tok.UsedAt != nil {
		return &core.ConsumeResult{Outcome: core.ConsumeAlreadyUsed}, nil
	}
	if now.After(tok.ExpiresAt) {
		return &core.ConsumeResult{Outcome: core.ConsumeExpired}, nil
	}

	offer, ok := m.offers[tok.OfferID]
	if !ok {
		return &core.ConsumeResult{Outcome: core.ConsumeInvalid}, nil
	}
	if offer.Status != core.OfferPending {
		// Superseded or expired while the response was in flight.
		return &core.ConsumeResult{Outcome: core.ConsumeUnavailable}, nil
	}
	need, ok := m.needs[offer.NeedID]
	if !ok || need.Status != core.NeedActive {
		return &core.ConsumeResult{Outcome: core.ConsumeUnavailable}, nil
	}

	tok.UsedAt = &now
	offer.RespondedAt = &now
	resp := response
	offer.Response = &resp

	result := &core.ConsumeResult{}
	if response == core.ResponseAccepted {
		offer.Status = core.OfferAccepted
		need.AcceptedCount++
		result.Outcome = core.ConsumeAccepted
		if need.AcceptedCount >= need.Quantity {
			need.Status = core.NeedCompleted
			result.NeedCompleted = true
			result.Superseded = m.supersedePendingLocked(need.ID, now)
		}
	} else {
		offer.Status = core.OfferDeclined
		result.Outcome = core.ConsumeDeclined
	}

	offerCp := *offer
	needCp := *need
	result.Offer = &offerCp
	result.Need = &needCp
	return result, nil
}

var _ Store = (*MemoryStore)(nil)
