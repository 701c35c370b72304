package reminder

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/STageSub/orchestra-system-sub002/internal/conflict"
	"github.com/STageSub/orchestra-system-sub002/internal/config"
	"github.com/STageSub/orchestra-system-sub002/internal/core"
	"github.com/STageSub/orchestra-system-sub002/internal/dispatch"
	"github.com/STageSub/orchestra-system-sub002/internal/notify"
	"github.com/STageSub/orchestra-system-sub002/internal/selector"
	"github.com/STageSub/orchestra-system-sub002/internal/storage"
	"github.com/STageSub/orchestra-system-sub002/internal/token"
)

type recordingNotifier struct {
	mu   sync.Mutex
	sent []core.Notification
}

func (r *recordingNotifier) Send(_ context.Context, n core.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, n)
	return nil
}

func (r *recordingNotifier) byKind(kind core.TemplateKind) []core.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []core.Notification
	for _, n := range r.sent {
		if n.Kind == kind {
			out = append(out, n)
		}
	}
	return out
}

type schedulerFixture struct {
	store     *storage.MemoryStore
	scheduler *Scheduler
	notifier  *recordingNotifier
	need      *core.Need
	offer     *core.Offer
}

// newSchedulerFixture seeds a sequential need with two candidates and one
// pending offer to the first, sent at sentAt with a 24 hour window.
func newSchedulerFixture(t *testing.T, now, sentAt time.Time) *schedulerFixture {
	t.Helper()
	ctx := context.Background()

	store := storage.NewMemoryStore()
	pos := core.Position{ID: uuid.New(), Name: "Cello", HierarchyLevel: 1}
	list := core.RankingList{ID: uuid.New(), PositionID: pos.ID, Tier: "A"}
	store.SeedPosition(pos)
	store.SeedRankingList(list)

	first := core.Candidate{ID: uuid.New(), Name: "First", Email: "first@example.com", Active: true}
	second := core.Candidate{ID: uuid.New(), Name: "Second", Email: "second@example.com", Active: true}
	store.SeedCandidate(first)
	store.SeedCandidate(second)
	store.SeedRanking(core.Ranking{ListID: list.ID, CandidateID: first.ID, Rank: 1})
	store.SeedRanking(core.Ranking{ListID: list.ID, CandidateID: second.ID, Rank: 2})

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

	offer := &core.Offer{
		ID:          uuid.New(),
		NeedID:      need.ID,
		CandidateID: first.ID,
		Status:      core.OfferPending,
		SentAt:      sentAt,
		ExpiresAt:   sentAt.Add(24 * time.Hour),
	}
	if err := store.CreateOffer(ctx, offer); err != nil {
		t.Fatalf("create offer: %v", err)
	}
	tokens := token.NewService(store)
	if _, err := tokens.Issue(ctx, offer); err != nil {
		t.Fatalf("issue token: %v", err)
	}

	cfg := &config.Config{
		ConflictPolicy:     "simple",
		ReminderPercentage: 75,
		ReminderInterval:   time.Minute,
		MaxWorkers:         1,
		Batch: config.BatchConfig{
			InstantLimit: 100,
			SmallLimit:   200,
			MediumLimit:  300,
			BatchSize:    10,
			BatchDelay:   time.Millisecond,
			Concurrency:  2,
		},
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelWarn}))
	notifier := &recordingNotifier{}
	batcher := notify.NewBatcher(notifier, cfg.Batch, logger)
	engine := dispatch.NewEngine(store, selector.New(store), conflict.New(store, logger), tokens, batcher, cfg, logger)

	scheduler := NewScheduler(store, engine, batcher, cfg, logger)
	scheduler.now = func() time.Time { return now }

	return &schedulerFixture{store: store, scheduler: scheduler, notifier: notifier, need: need, offer: offer}
}

func TestTickRemindsOnceDeepIntoWindow(t *testing.T) {
	now := time.Now()
	// 20 of 24 hours elapsed: past the 75 percent threshold.
	f := newSchedulerFixture(t, now, now.Add(-20*time.Hour))
	ctx := context.Background()

	f.scheduler.Tick(ctx)

	reminders := f.notifier.byKind(core.TemplateReminder)
	if len(reminders) != 1 {
		t.Fatalf("got %d reminders, want 1", len(reminders))
	}
	if reminders[0].Recipient != "first@example.com" {
		t.Errorf("reminder went to %s", reminders[0].Recipient)
	}
	if reminders[0].Variables["token"] == "" {
		t.Error("reminder should carry the live response token")
	}

	offer, err := f.store.GetOffer(ctx, f.offer.ID)
	if err != nil {
		t.Fatalf("get offer: %v", err)
	}
	if offer.RemindedAt == nil {
		t.Error("offer should be marked reminded")
	}

	// The next scan must not remind again.
	f.scheduler.Tick(ctx)
	if got := len(f.notifier.byKind(core.TemplateReminder)); got != 1 {
		t.Errorf("got %d reminders after second tick, want still 1", got)
	}
}

func TestTickSkipsOffersEarlyInWindow(t *testing.T) {
	now := time.Now()
	// Only 6 of 24 hours elapsed.
	f := newSchedulerFixture(t, now, now.Add(-6*time.Hour))

	f.scheduler.Tick(context.Background())

	if got := len(f.notifier.byKind(core.TemplateReminder)); got != 0 {
		t.Errorf("got %d reminders, want none this early", got)
	}
}

func TestTickExpiresAndAdvancesTheStrategy(t *testing.T) {
	now := time.Now()
	// Window fully elapsed.
	f := newSchedulerFixture(t, now, now.Add(-25*time.Hour))
	ctx := context.Background()

	f.scheduler.Tick(ctx)

	offer, err := f.store.GetOffer(ctx, f.offer.ID)
	if err != nil {
		t.Fatalf("get offer: %v", err)
	}
	if offer.Status != core.OfferExpired {
		t.Errorf("offer = %s, want expired", offer.Status)
	}

	// Sequential moves on: the second-ranked candidate gets the next offer.
	requests := f.notifier.byKind(core.TemplateRequest)
	if len(requests) != 1 || requests[0].Recipient != "second@example.com" {
		t.Fatalf("expected a replacement request to second, got %v", requests)
	}

	// A second tick neither re-expires nor re-offers.
	f.scheduler.Tick(ctx)
	offers, err := f.store.ListOffersByNeed(ctx, f.need.ID)
	if err != nil {
		t.Fatalf("list offers: %v", err)
	}
	if len(offers) != 2 {
		t.Errorf("got %d offers after second tick, want 2", len(offers))
	}
}

func TestDueForReminder(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	offer := core.Offer{
		SentAt:    base,
		ExpiresAt: base.Add(24 * time.Hour),
	}

	tests := []struct {
		name       string
		elapsed    time.Duration
		percentage int
		want       bool
	}{
		{name: "well before threshold", elapsed: 6 * time.Hour, percentage: 75, want: false},
		{name: "just before threshold", elapsed: 17 * time.Hour, percentage: 75, want: false},
		{name: "at threshold", elapsed: 18 * time.Hour, percentage: 75, want: true},
		{name: "after threshold", elapsed: 23 * time.Hour, percentage: 75, want: true},
		{name: "low percentage", elapsed: 3 * time.Hour, percentage: 10, want: true},
		{name: "high percentage", elapsed: 20 * time.Hour, percentage: 90, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := dueForReminder(offer, base.Add(tt.elapsed), tt.percentage)
			if got != tt.want {
				t.Errorf("dueForReminder(%s, %d%%) = %v, want %v", tt.elapsed, tt.percentage, got, tt.want)
			}
		})
	}
}
