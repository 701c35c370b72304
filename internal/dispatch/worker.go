package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/STageSub/orchestra-system-sub002/internal/core"
)

// Pool runs dispatch cycles on a bounded worker pool so an administrative
// "open for dispatch" returns immediately while the ranked-list walk happens
// in the background. Two needs never share state outside the store, so their
// cycles are free to run concurrently.
type Pool struct {
	engine     *Engine
	cycleQueue chan uuid.UUID
	maxWorkers int
	wg         sync.WaitGroup
	logger     *slog.Logger
}

// NewPool initializes a Pool with maxWorkers goroutines draining the cycle
// queue. If maxWorkers is 0 or negative, it defaults to 1.
func NewPool(engine *Engine, maxWorkers int, logger *slog.Logger) *Pool {
	if maxWorkers <= 0 {
		maxWorkers = 1
	}
	p := &Pool{
		engine:     engine,
		maxWorkers: maxWorkers,
		cycleQueue: make(chan uuid.UUID, 100),
		logger:     logger,
	}
	p.startWorkers()
	return p
}

func (p *Pool) startWorkers() {
	for i := 0; i < p.maxWorkers; i++ {
		p.wg.Add(1)
		go p.startWorker(i)
	}
}

// startWorker processes dispatch cycles from the queue until it's closed.
func (p *Pool) startWorker(workerID int) {
	defer p.wg.Done()
	p.logger.Info("starting dispatch worker", "id", workerID)

	for needID := range p.cycleQueue {
		p.logger.Info("worker running dispatch cycle", "worker_id", workerID, "need", needID)
		if err := p.engine.RunCycle(context.Background(), needID); err != nil {
			p.logger.Error("dispatch cycle failed", "need", needID, "error", err)
		}
	}

	p.logger.Info("shutting down dispatch worker", "id", workerID)
}

// Enqueue queues a dispatch cycle for a need, with backpressure when the
// queue is full.
func (p *Pool) Enqueue(_ context.Context, needID uuid.UUID) error {
	select {
	case p.cycleQueue <- needID:
		return nil
	default:
		return fmt.Errorf("dispatch queue is full, cannot accept new cycle")
	}
}

// Stop gracefully shuts down the pool, waiting for queued cycles to finish.
func (p *Pool) Stop() {
	p.logger.Info("stopping dispatch pool and waiting for cycles to finish")
	close(p.cycleQueue)
	p.wg.Wait()
	p.logger.Info("all dispatch cycles have finished")
}

// OpenDispatch validates the need and queues its first cycle instead of
// walking the ranked list inline.
func (p *Pool) OpenDispatch(ctx context.Context, needID uuid.UUID) error {
	need, err := p.engine.store.GetNeed(ctx, needID)
	if err != nil {
		return err
	}
	if need.Status != core.NeedActive {
		return fmt.Errorf("need %s is %s: %w", needID, need.Status, core.ErrNeedNotActive)
	}
	return p.Enqueue(ctx, needID)
}

// ViewOffer delegates to the engine.
func (p *Pool) ViewOffer(ctx context.Context, tokenValue string) (*core.OfferContext, error) {
	return p.engine.ViewOffer(ctx, tokenValue)
}

// Respond delegates to the engine; token consumption stays synchronous so
// the caller gets the race outcome.
func (p *Pool) Respond(ctx context.Context, tokenValue string, response core.OfferResponse) (*core.ConsumeResult, error) {
	return p.engine.Respond(ctx, tokenValue, response)
}

// UpdateQuantity delegates to the engine.
func (p *Pool) UpdateQuantity(ctx context.Context, needID uuid.UUID, quantity int) error {
	return p.engine.UpdateQuantity(ctx, needID, quantity)
}

// CloseNeed delegates to the engine.
func (p *Pool) CloseNeed(ctx context.Context, needID uuid.UUID) error {
	return p.engine.CloseNeed(ctx, needID)
}

var _ core.Orchestrator = (*Pool)(nil)
