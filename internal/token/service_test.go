package token

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/STageSub/orchestra-system-sub002/internal/core"
	"github.com/STageSub/orchestra-system-sub002/internal/storage"
)

type serviceFixture struct {
	store   *storage.MemoryStore
	service *Service
	offer   *core.Offer
}

func newServiceFixture(t *testing.T, expiresIn time.Duration) *serviceFixture {
	t.Helper()
	ctx := context.Background()

	store := storage.NewMemoryStore()
	pos := core.Position{ID: uuid.New(), Name: "Oboe", HierarchyLevel: 1}
	list := core.RankingList{ID: uuid.New(), PositionID: pos.ID, Tier: "B"}
	cand := core.Candidate{ID: uuid.New(), Name: "Candidate", Email: "candidate@example.com", Active: true}
	store.SeedPosition(pos)
	store.SeedRankingList(list)
	store.SeedCandidate(cand)

	need := &core.Need{
		ID:                  uuid.New(),
		PositionID:          pos.ID,
		RankingListID:       list.ID,
		Quantity:            1,
		Strategy:            core.StrategySequential,
		ResponseWindowHours: 24,
		Status:              core.NeedActive,
	}
	if err := store.CreateNeed(ctx, need); err != nil {
		t.Fatalf("create need: %v", err)
	}

	now := time.Now()
	offer := &core.Offer{
		ID:          uuid.New(),
		NeedID:      need.ID,
		CandidateID: cand.ID,
		Status:      core.OfferPending,
		SentAt:      now,
		ExpiresAt:   now.Add(expiresIn),
	}
	if err := store.CreateOffer(ctx, offer); err != nil {
		t.Fatalf("create offer: %v", err)
	}

	return &serviceFixture{store: store, service: NewService(store), offer: offer}
}

func TestIssueAndValidate(t *testing.T) {
	f := newServiceFixture(t, 24*time.Hour)
	ctx := context.Background()

	tok, err := f.service.Issue(ctx, f.offer)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if len(tok.Value) != 64 {
		t.Errorf("token value length = %d, want 64 hex characters", len(tok.Value))
	}
	if !tok.ExpiresAt.Equal(f.offer.ExpiresAt) {
		t.Error("token should expire with the offer's response window")
	}

	octx, err := f.service.Validate(ctx, tok.Value)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if octx.OfferID != f.offer.ID || octx.CandidateName != "Candidate" {
		t.Errorf("unexpected offer context %+v", octx)
	}
}

func TestValidateRejectsUnknownToken(t *testing.T) {
	f := newServiceFixture(t, 24*time.Hour)

	_, err := f.service.Validate(context.Background(), "not-a-token")
	if !errors.Is(err, core.ErrTokenInvalid) {
		t.Errorf("Validate(unknown) = %v, want ErrTokenInvalid", err)
	}
}

func TestReissueInvalidatesPriorToken(t *testing.T) {
	f := newServiceFixture(t, 24*time.Hour)
	ctx := context.Background()

	first, err := f.service.Issue(ctx, f.offer)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	second, err := f.service.Issue(ctx, f.offer)
	if err != nil {
		t.Fatalf("reissue: %v", err)
	}
	if first.Value == second.Value {
		t.Fatal("reissue must generate a fresh value")
	}

	if _, err := f.service.Validate(ctx, first.Value); !errors.Is(err, core.ErrTokenInvalid) {
		t.Errorf("old token = %v, want ErrTokenInvalid", err)
	}
	if _, err := f.service.Validate(ctx, second.Value); err != nil {
		t.Errorf("new token should validate, got %v", err)
	}
}

func TestConsumeIsSingleUse(t *testing.T) {
	f := newServiceFixture(t, 24*time.Hour)
	ctx := context.Background()

	tok, err := f.service.Issue(ctx, f.offer)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	result, err := f.service.Consume(ctx, tok.Value, core.ResponseDeclined)
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	if result.Outcome != core.ConsumeDeclined {
		t.Fatalf("outcome = %s, want declined", result.Outcome)
	}
	if result.Offer.Status != core.OfferDeclined {
		t.Errorf("offer = %s, want declined", result.Offer.Status)
	}

	// Replay: the token is spent regardless of the requested response.
	replay, err := f.service.Consume(ctx, tok.Value, core.ResponseAccepted)
	if err != nil {
		t.Fatalf("replay consume: %v", err)
	}
	if replay.Outcome != core.ConsumeAlreadyUsed {
		t.Errorf("replay outcome = %s, want already_used", replay.Outcome)
	}

	offer, err := f.store.GetOffer(ctx, f.offer.ID)
	if err != nil {
		t.Fatalf("get offer: %v", err)
	}
	if offer.Status != core.OfferDeclined {
		t.Errorf("replay must not change the offer, got %s", offer.Status)
	}

	// A spent token no longer validates either.
	if _, err := f.service.Validate(ctx, tok.Value); !errors.Is(err, core.ErrTokenAlreadyUsed) {
		t.Errorf("Validate(spent) = %v, want ErrTokenAlreadyUsed", err)
	}
}

func TestConsumeExpiredToken(t *testing.T) {
	f := newServiceFixture(t, -time.Hour)
	ctx := context.Background()

	tok, err := f.service.Issue(ctx, f.offer)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	result, err := f.service.Consume(ctx, tok.Value, core.ResponseAccepted)
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	if result.Outcome != core.ConsumeExpired {
		t.Errorf("outcome = %s, want expired", result.Outcome)
	}

	if _, err := f.service.Validate(ctx, tok.Value); !errors.Is(err, core.ErrTokenExpired) {
		t.Errorf("Validate(expired) = %v, want ErrTokenExpired", err)
	}
}

func TestConsumeUnknownToken(t *testing.T) {
	f := newServiceFixture(t, 24*time.Hour)

	result, err := f.service.Consume(context.Background(), "not-a-token", core.ResponseAccepted)
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	if result.Outcome != core.ConsumeInvalid {
		t.Errorf("outcome = %s, want invalid", result.Outcome)
	}
}
