// Package reminder drives the wall-clock side of the dispatch engine:
// one-time reminders before an offer expires, and the expiry transitions
// themselves. Comparing timestamps on a fixed tick instead of arming
// in-process timers keeps correctness across process restarts.
package reminder

import (
	"context"
	"log/slog"
	"time"

	"github.com/STageSub/orchestra-system-sub002/internal/config"
	"github.com/STageSub/orchestra-system-sub002/internal/core"
	"github.com/STageSub/orchestra-system-sub002/internal/dispatch"
	"github.com/STageSub/orchestra-system-sub002/internal/notify"
	"github.com/STageSub/orchestra-system-sub002/internal/storage"
)

// Scheduler scans outstanding offers on a fixed tick.
type Scheduler struct {
	store   storage.Store
	engine  *dispatch.Engine
	batcher *notify.Batcher
	cfg     *config.Config
	logger  *slog.Logger
	now     func() time.Time
}

// NewScheduler creates a reminder scheduler.
func NewScheduler(store storage.Store, engine *dispatch.Engine, batcher *notify.Batcher, cfg *config.Config, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		store:   store,
		engine:  engine,
		batcher: batcher,
		cfg:     cfg,
		logger:  logger,
		now:     time.Now,
	}
}

// Run ticks until the context is cancelled. The first scan happens
// immediately.
func (s *Scheduler) Run(ctx context.Context) error {
	t := time.NewTicker(s.cfg.ReminderInterval)
	defer t.Stop()

	s.Tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			s.Tick(ctx)
		}
	}
}

// Tick runs one scan: expire pending offers past their window and remind
// those deep enough into it. Both transitions are compare-and-set in the
// store, so overlapping ticks fire each at most once per offer.
func (s *Scheduler) Tick(ctx context.Context) {
	offers, err := s.store.ListPendingOffers(ctx)
	if err != nil {
		s.logger.Error("reminder scan failed", "error", err)
		return
	}

	now := s.now()
	// Snapshot of the process-wide setting for this whole cycle.
	percentage := s.cfg.ReminderPercentage

	var reminders []core.Notification
	for _, offer := range offers {
		switch {
		case !now.Before(offer.ExpiresAt):
			s.expire(ctx, offer, now)
		case offer.RemindedAt == nil && dueForReminder(offer, now, percentage):
			if msg, ok := s.remind(ctx, offer, now); ok {
				reminders = append(reminders, msg)
			}
		}
	}

	if len(reminders) > 0 {
		s.batcher.Dispatch(ctx, reminders)
		s.logger.Info("reminders dispatched", "count", len(reminders))
	}
}

// dueForReminder reports whether the offer is at least percentage percent of
// the way through its response window.
func dueForReminder(offer core.Offer, now time.Time, percentage int) bool {
	window := offer.ExpiresAt.Sub(offer.SentAt)
	threshold := time.Duration(int64(window) / 100 * int64(percentage))
	return now.Sub(offer.SentAt) >= threshold
}

func (s *Scheduler) expire(ctx context.Context, offer core.Offer, now time.Time) {
	changed, err := s.store.ExpireOffer(ctx, offer.ID, now)
	if err != nil {
		s.logger.Error("expire offer failed", "offer", offer.ID, "error", err)
		return
	}
	if !changed {
		return
	}
	s.logger.Info("offer expired", "offer", offer.ID, "need", offer.NeedID)

	// Let the strategy react: sequential issues the next offer, parallel
	// tops up, first_come only shrinks its pool.
	if err := s.engine.RunCycle(ctx, offer.NeedID); err != nil {
		s.logger.Error("advance after expiry failed", "need", offer.NeedID, "error", err)
	}
}

func (s *Scheduler) remind(ctx context.Context, offer core.Offer, now time.Time) (core.Notification, bool) {
	marked, err := s.store.MarkReminded(ctx, offer.ID, now)
	if err != nil {
		s.logger.Error("mark reminded failed", "offer", offer.ID, "error", err)
		return core.Notification{}, false
	}
	if !marked {
		return core.Notification{}, false
	}

	cand, err := s.store.GetCandidate(ctx, offer.CandidateID)
	if err != nil {
		s.logger.Error("load candidate for reminder failed", "offer", offer.ID, "error", err)
		return core.Notification{}, false
	}

	vars := map[string]string{
		"candidate_name": cand.Name,
		"expires_at":     offer.ExpiresAt.Format(time.RFC3339),
	}
	if tok, err := s.store.GetLiveToken(ctx, offer.ID); err == nil {
		vars["token"] = tok.Value
	}

	s.logger.Info("reminder queued", "offer", offer.ID, "candidate", cand.ID)
	return core.Notification{
		Recipient: cand.Email,
		Channel:   core.ChannelEmail,
		Kind:      core.TemplateReminder,
		Variables: vars,
	}, true
}
