// Package notify batches and rate-limits outbound notification sends so the
// dispatch engine is never blocked by transport throughput.
package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/STageSub/orchestra-system-sub002/internal/config"
	"github.com/STageSub/orchestra-system-sub002/internal/core"
)

// Mode is the volume-dependent processing mode picked for a send session.
type Mode string

const (
	// ModeInstant sends inline in the caller's goroutine.
	ModeInstant Mode = "instant"
	// ModeSmall and ModeMedium send asynchronously in rate-limited batches.
	ModeSmall  Mode = "small"
	ModeMedium Mode = "medium"
	// ModeLarge queues for background processing; the caller gets a
	// session id back immediately.
	ModeLarge Mode = "large"
)

// Status is a send session's lifecycle state.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
)

// SendFailure records one recipient whose send failed. Failures never abort
// the batch; the offer state transition that triggered the send is
// authoritative regardless of delivery.
type SendFailure struct {
	Recipient string `json:"recipient"`
	Reason    string `json:"reason"`
}

// Progress is a point-in-time snapshot of a send session for polling
// observers.
type Progress struct {
	SessionID                 string        `json:"sessionId"`
	Mode                      Mode          `json:"mode"`
	Status                    Status        `json:"status"`
	Total                     int           `json:"total"`
	Sent                      int           `json:"sent"`
	CurrentBatch              int           `json:"currentBatch"`
	EstimatedSecondsRemaining int           `json:"estimatedSecondsRemaining"`
	Failures                  []SendFailure `json:"failures,omitempty"`
}

type session struct {
	mu           sync.Mutex
	mode         Mode
	status       Status
	total        int
	sent         int
	currentBatch int
	failures     []SendFailure
}

// Batcher fans notifications out to the external transport. Sends are
// fire-and-forget relative to dispatch state transitions; each session keeps
// its own per-recipient failure bookkeeping.
type Batcher struct {
	notifier core.Notifier
	cfg      config.BatchConfig
	logger   *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*session
	wg       sync.WaitGroup
}

// NewBatcher creates a Batcher sending through the given transport.
func NewBatcher(notifier core.Notifier, cfg config.BatchConfig, logger *slog.Logger) *Batcher {
	return &Batcher{
		notifier: notifier,
		cfg:      cfg,
		logger:   logger,
		sessions: make(map[string]*session),
	}
}

// Dispatch accepts a list of notifications and returns a session id for
// progress polling plus the processing mode chosen for the volume. Instant
// sessions complete before Dispatch returns; everything else is processed by
// a background goroutine.
func (b *Batcher) Dispatch(ctx context.Context, msgs []core.Notification) (string, Mode) {
	mode := b.modeFor(len(msgs))

	sess := &session{
		mode:   mode,
		status: StatusQueued,
		total:  len(msgs),
	}
	id := uuid.NewString()
	b.mu.Lock()
	b.sessions[id] = sess
	b.mu.Unlock()

	if len(msgs) == 0 {
		sess.finish()
		return id, mode
	}

	if mode == ModeInstant {
		b.process(ctx, id, sess, msgs)
		return id, mode
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		// Detached from the caller's request context: notification
		// latency must never block or cancel with a state transition.
		b.process(context.Background(), id, sess, msgs)
	}()
	return id, mode
}

// Progress returns the snapshot for a session, or false for unknown ids.
func (b *Batcher) Progress(sessionID string) (Progress, bool) {
	b.mu.RLock()
	sess, ok := b.sessions[sessionID]
	b.mu.RUnlock()
	if !ok {
		return Progress{}, false
	}
	return sess.snapshot(sessionID, b.cfg), true
}

// Stop waits for in-flight background sessions to drain.
func (b *Batcher) Stop() {
	b.logger.Info("waiting for notification sessions to finish")
	b.wg.Wait()
}

func (b *Batcher) modeFor(n int) Mode {
	switch {
	case n <= b.cfg.InstantLimit:
		return ModeInstant
	case n <= b.cfg.SmallLimit:
		return ModeSmall
	case n <= b.cfg.MediumLimit:
		return ModeMedium
	default:
		return ModeLarge
	}
}

func (b *Batcher) process(ctx context.Context, id string, sess *session, msgs []core.Notification) {
	sess.start()

	batchSize := b.cfg.BatchSize
	if sess.mode == ModeInstant || batchSize <= 0 {
		batchSize = len(msgs)
	}

	for start := 0; start < len(msgs); start += batchSize {
		end := min(start+batchSize, len(msgs))
		sess.nextBatch()
		b.sendBatch(ctx, sess, msgs[start:end])

		if end < len(msgs) && sess.mode != ModeInstant {
			// Fixed inter-batch delay to respect transport limits.
			time.Sleep(b.cfg.BatchDelay)
		}
	}

	sess.finish()
	b.logger.Info("notification session finished",
		"session", id, "mode", sess.mode, "total", sess.total, "failed", len(sess.failures))
}

func (b *Batcher) sendBatch(ctx context.Context, sess *session, batch []core.Notification) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(b.cfg.Concurrency, 1))
	for _, msg := range batch {
		msg := msg
		g.Go(func() error {
			if err := b.notifier.Send(gctx, msg); err != nil {
				b.logger.Warn("notification send failed",
					"recipient", msg.Recipient, "kind", msg.Kind, "error", err)
				sess.record(SendFailure{Recipient: msg.Recipient, Reason: err.Error()})
				return nil
			}
			sess.recordSent()
			return nil
		})
	}
	_ = g.Wait()
}

func (s *session) start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = StatusProcessing
}

func (s *session) nextBatch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.currentBatch++
}

func (s *session) recordSent() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent++
}

func (s *session) record(f SendFailure) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = append(s.failures, f)
}

func (s *session) finish() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = StatusCompleted
}

func (s *session) snapshot(id string, cfg config.BatchConfig) Progress {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := Progress{
		SessionID:    id,
		Mode:         s.mode,
		Status:       s.status,
		Total:        s.total,
		Sent:         s.sent,
		CurrentBatch: s.currentBatch,
		Failures:     append([]SendFailure(nil), s.failures...),
	}
	if s.status != StatusCompleted && cfg.BatchSize > 0 {
		remaining := s.total - s.sent - len(s.failures)
		batchesLeft := (remaining + cfg.BatchSize - 1) / cfg.BatchSize
		p.EstimatedSecondsRemaining = int(float64(batchesLeft) * cfg.BatchDelay.Seconds())
	}
	return p
}
