// Package dispatch implements the per-need strategy state machine that
// decides who gets offered a vacancy, in what order, and how many at once.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/STageSub/orchestra-system-sub002/internal/config"
	"github.com/STageSub/orchestra-system-sub002/internal/conflict"
	"github.com/STageSub/orchestra-system-sub002/internal/core"
	"github.com/STageSub/orchestra-system-sub002/internal/notify"
	"github.com/STageSub/orchestra-system-sub002/internal/selector"
	"github.com/STageSub/orchestra-system-sub002/internal/storage"
	"github.com/STageSub/orchestra-system-sub002/internal/token"
)

// Engine drives offers forward for every active need. All strategy-specific
// behavior funnels through one exhaustive switch in wantOffers, so the
// quantity and accepted-count bookkeeping stays in one place.
type Engine struct {
	store    storage.Store
	selector *selector.Selector
	resolver *conflict.Resolver
	tokens   *token.Service
	batcher  *notify.Batcher
	cfg      *config.Config
	logger   *slog.Logger
	now      func() time.Time

	// needLocks serializes dispatch cycles per need within this process.
	// Cross-process safety comes from the store's constraints.
	needLocks sync.Map
}

// NewEngine wires the dispatch engine together.
func NewEngine(
	store storage.Store,
	sel *selector.Selector,
	resolver *conflict.Resolver,
	tokens *token.Service,
	batcher *notify.Batcher,
	cfg *config.Config,
	logger *slog.Logger,
) *Engine {
	return &Engine{
		store:    store,
		selector: sel,
		resolver: resolver,
		tokens:   tokens,
		batcher:  batcher,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
	}
}

// OpenDispatch starts (or resumes) dispatching for an active need.
func (e *Engine) OpenDispatch(ctx context.Context, needID uuid.UUID) error {
	need, err := e.store.GetNeed(ctx, needID)
	if err != nil {
		return err
	}
	if need.Status != core.NeedActive {
		return fmt.Errorf("need %s is %s: %w", needID, need.Status, core.ErrNeedNotActive)
	}
	return e.RunCycle(ctx, needID)
}

// RunCycle is one pass of the dispatch loop: it tops the need's outstanding
// offers up to whatever its strategy wants and sends the request
// notifications. Idempotent; safe to run after any state change.
func (e *Engine) RunCycle(ctx context.Context, needID uuid.UUID) error {
	unlock := e.lockNeed(needID)
	defer unlock()

	need, err := e.store.GetNeed(ctx, needID)
	if err != nil {
		return err
	}
	if need.Status != core.NeedActive {
		return nil
	}

	// Global settings are read once per cycle as a snapshot, never mid-loop.
	policy := core.ConflictPolicy(e.cfg.ConflictPolicy)

	offers, err := e.store.ListOffersByNeed(ctx, need.ID)
	if err != nil {
		return fmt.Errorf("list offers: %w", err)
	}
	pending := 0
	offered := make(map[uuid.UUID]struct{}, len(offers))
	for _, o := range offers {
		offered[o.CandidateID] = struct{}{}
		if o.Status == core.OfferPending {
			pending++
		}
	}

	candidates, err := e.selector.Eligible(ctx, need.RankingListID)
	if err != nil {
		return fmt.Errorf("select candidates: %w", err)
	}

	want := wantOffers(need, pending, len(offers), len(candidates))
	if want <= 0 {
		return nil
	}

	var sent []core.Notification
	issued := 0
	for _, cand := range candidates {
		if issued >= want {
			break
		}
		if _, ok := offered[cand.ID]; ok {
			continue
		}

		decision, err := e.resolver.Resolve(ctx, policy, cand, need)
		if err != nil {
			return fmt.Errorf("resolve conflict: %w", err)
		}
		if !decision.Allow {
			e.logger.Info("skipping contested candidate",
				"need", need.ID, "candidate", cand.ID, "policy", policy)
			continue
		}
		if policy == core.ConflictDetailed && len(decision.Overlaps) > 0 {
			e.logger.Info("candidate holds overlapping pending offers",
				"need", need.ID, "candidate", cand.ID, "overlaps", len(decision.Overlaps))
		}

		msg, err := e.issueOffer(ctx, need, cand)
		if errors.Is(err, core.ErrCandidateBusy) {
			// Lost a same-tick race to another need's loop; skip.
			continue
		}
		if err != nil {
			return err
		}
		sent = append(sent, msg)
		issued++
	}

	if issued < want && pending+issued == 0 && need.Remaining() > 0 {
		// Ranked list exhausted; the need stays active awaiting roster
		// growth.
		e.logger.Warn("dispatch exhausted the ranked list",
			"need", need.ID, "remaining", need.Remaining(), "error", core.ErrNoEligibleCandidates)
	}

	if len(sent) > 0 {
		sessionID, mode := e.batcher.Dispatch(ctx, sent)
		e.logger.Info("offer requests dispatched",
			"need", need.ID, "count", len(sent), "session", sessionID, "mode", mode)
	}
	return nil
}

// wantOffers is the strategy switch: how many new offers this cycle should
// issue given the need's current pending count and total attempts.
func wantOffers(need *core.Need, pending, attempted, eligible int) int {
	remaining := need.Remaining()
	if remaining == 0 {
		return 0
	}
	switch need.Strategy {
	case core.StrategySequential:
		// At most one outstanding offer at a time.
		return 1 - pending
	case core.StrategyParallel:
		// Keep quantity-accepted outstanding; top up after declines and
		// expiries.
		return remaining - pending
	case core.StrategyFirstCome:
		// The initial batch is the entire pool, capped by maxOffers.
		// Declines and expiries shrink the pool without replacement.
		limit := eligible
		if need.MaxOffers != nil && *need.MaxOffers < limit {
			limit = *need.MaxOffers
		}
		return limit - attempted
	default:
		return 0
	}
}

func (e *Engine) issueOffer(ctx context.Context, need *core.Need, cand core.Candidate) (core.Notification, error) {
	now := e.now()
	offer := &core.Offer{
		ID:          uuid.New(),
		NeedID:      need.ID,
		CandidateID: cand.ID,
		Status:      core.OfferPending,
		SentAt:      now,
		ExpiresAt:   now.Add(need.ResponseWindow()),
	}
	if err := e.store.CreateOffer(ctx, offer); err != nil {
		return core.Notification{}, err
	}
	tok, err := e.tokens.Issue(ctx, offer)
	if err != nil {
		return core.Notification{}, fmt.Errorf("issue token: %w", err)
	}

	e.logger.Info("offer issued",
		"need", need.ID, "candidate", cand.ID, "offer", offer.ID, "expires_at", offer.ExpiresAt)

	return core.Notification{
		Recipient: cand.Email,
		Channel:   core.ChannelEmail,
		Kind:      core.TemplateRequest,
		Variables: map[string]string{
			"candidate_name": cand.Name,
			"token":          tok.Value,
			"expires_at":     offer.ExpiresAt.Format(time.RFC3339),
		},
	}, nil
}

// ViewOffer resolves a response token to its candidate-facing context.
func (e *Engine) ViewOffer(ctx context.Context, tokenValue string) (*core.OfferContext, error) {
	return e.tokens.Validate(ctx, tokenValue)
}

// Respond consumes a response token and advances the need's strategy. The
// consume itself is one storage transaction; the follow-up (top-up offers,
// notifications) happens after commit and never blocks the transition.
func (e *Engine) Respond(ctx context.Context, tokenValue string, response core.OfferResponse) (*core.ConsumeResult, error) {
	result, err := e.tokens.Consume(ctx, tokenValue, response)
	if err != nil {
		return nil, err
	}

	switch result.Outcome {
	case core.ConsumeAccepted:
		e.logger.Info("offer accepted",
			"need", result.Need.ID, "offer", result.Offer.ID,
			"accepted", result.Need.AcceptedCount, "quantity", result.Need.Quantity)
		e.notifyResponse(ctx, result)
		if !result.NeedCompleted {
			if err := e.RunCycle(ctx, result.Need.ID); err != nil {
				e.logger.Error("advance after accept failed", "need", result.Need.ID, "error", err)
			}
		}
	case core.ConsumeDeclined:
		e.logger.Info("offer declined", "need", result.Need.ID, "offer", result.Offer.ID)
		if err := e.RunCycle(ctx, result.Need.ID); err != nil {
			e.logger.Error("advance after decline failed", "need", result.Need.ID, "error", err)
		}
	default:
		// Race losers, replays and dead tokens: an expected answer for
		// the caller, nothing for the engine to do.
	}
	return result, nil
}

// notifyResponse sends the acceptance confirmation plus, when the accept
// completed the need, the position-filled notices for superseded offers.
func (e *Engine) notifyResponse(ctx context.Context, result *core.ConsumeResult) {
	var msgs []core.Notification
	if cand, err := e.store.GetCandidate(ctx, result.Offer.CandidateID); err == nil {
		msgs = append(msgs, core.Notification{
			Recipient: cand.Email,
			Channel:   core.ChannelEmail,
			Kind:      core.TemplateConfirmation,
			Variables: map[string]string{"candidate_name": cand.Name},
		})
	} else {
		e.logger.Error("load accepting candidate failed", "candidate", result.Offer.CandidateID, "error", err)
	}
	msgs = append(msgs, e.positionFilledNotices(ctx, result.Superseded)...)

	if len(msgs) > 0 {
		e.batcher.Dispatch(ctx, msgs)
	}
}

func (e *Engine) positionFilledNotices(ctx context.Context, superseded []core.Offer) []core.Notification {
	var msgs []core.Notification
	for _, o := range superseded {
		cand, err := e.store.GetCandidate(ctx, o.CandidateID)
		if err != nil {
			e.logger.Error("load superseded candidate failed", "candidate", o.CandidateID, "error", err)
			continue
		}
		msgs = append(msgs, core.Notification{
			Recipient: cand.Email,
			Channel:   core.ChannelEmail,
			Kind:      core.TemplatePositionFilled,
			Variables: map[string]string{"candidate_name": cand.Name},
		})
	}
	return msgs
}

// UpdateQuantity changes a need's quantity. Increases re-enter the dispatch
// loop so the strategy can top up; decreases below the accepted count are
// rejected atomically with no state change.
func (e *Engine) UpdateQuantity(ctx context.Context, needID uuid.UUID, quantity int) error {
	need, superseded, err := e.store.SetNeedQuantity(ctx, needID, quantity)
	if err != nil {
		return err
	}
	if msgs := e.positionFilledNotices(ctx, superseded); len(msgs) > 0 {
		e.batcher.Dispatch(ctx, msgs)
	}
	if need.Status == core.NeedActive {
		return e.RunCycle(ctx, needID)
	}
	return nil
}

// CloseNeed archives a need, superseding pending offers in the same
// transaction boundary token consumption uses, so in-flight responses see
// the closure. Needs without offers are hard-deleted by the store.
func (e *Engine) CloseNeed(ctx context.Context, needID uuid.UUID) error {
	superseded, err := e.store.CloseNeed(ctx, needID, e.now())
	if err != nil {
		return err
	}
	e.logger.Info("need closed", "need", needID, "superseded", len(superseded))
	if msgs := e.positionFilledNotices(ctx, superseded); len(msgs) > 0 {
		e.batcher.Dispatch(ctx, msgs)
	}
	return nil
}

func (e *Engine) lockNeed(needID uuid.UUID) func() {
	v, _ := e.needLocks.LoadOrStore(needID, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

var _ core.Orchestrator = (*Engine)(nil)
