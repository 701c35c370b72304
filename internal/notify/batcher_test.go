package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/STageSub/orchestra-system-sub002/internal/config"
	"github.com/STageSub/orchestra-system-sub002/internal/core"
)

// fakeTransport counts sends and fails for recipients marked bad.
type fakeTransport struct {
	mu   sync.Mutex
	sent []string
}

func (f *fakeTransport) Send(_ context.Context, n core.Notification) error {
	if strings.HasPrefix(n.Recipient, "bad") {
		return errors.New("mailbox unavailable")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, n.Recipient)
	return nil
}

func (f *fakeTransport) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func testBatchConfig() config.BatchConfig {
	return config.BatchConfig{
		InstantLimit: 5,
		SmallLimit:   20,
		MediumLimit:  100,
		BatchSize:    10,
		BatchDelay:   time.Millisecond,
		Concurrency:  4,
	}
}

func newTestBatcher(cfg config.BatchConfig) (*Batcher, *fakeTransport) {
	transport := &fakeTransport{}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelWarn}))
	return NewBatcher(transport, cfg, logger), transport
}

func messages(n int) []core.Notification {
	msgs := make([]core.Notification, n)
	for i := range msgs {
		msgs[i] = core.Notification{
			Recipient: fmt.Sprintf("c%d@example.com", i+1),
			Channel:   core.ChannelEmail,
			Kind:      core.TemplateRequest,
		}
	}
	return msgs
}

func TestDispatchPicksModeByVolume(t *testing.T) {
	tests := []struct {
		count int
		want  Mode
	}{
		{1, ModeInstant},
		{5, ModeInstant},
		{6, ModeSmall},
		{20, ModeSmall},
		{21, ModeMedium},
		{100, ModeMedium},
		{101, ModeLarge},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d messages", tt.count), func(t *testing.T) {
			b, _ := newTestBatcher(testBatchConfig())
			_, mode := b.Dispatch(context.Background(), messages(tt.count))
			if mode != tt.want {
				t.Errorf("mode = %s, want %s", mode, tt.want)
			}
			b.Stop()
		})
	}
}

func TestInstantModeSendsInline(t *testing.T) {
	b, transport := newTestBatcher(testBatchConfig())

	sessionID, mode := b.Dispatch(context.Background(), messages(3))
	if mode != ModeInstant {
		t.Fatalf("mode = %s, want instant", mode)
	}

	// Instant sessions are complete when Dispatch returns; no Stop needed.
	if got := transport.count(); got != 3 {
		t.Errorf("sent = %d, want 3", got)
	}
	progress, ok := b.Progress(sessionID)
	if !ok {
		t.Fatal("session not found")
	}
	if progress.Status != StatusCompleted || progress.Sent != 3 {
		t.Errorf("progress = %+v, want completed with 3 sent", progress)
	}
}

func TestBackgroundSessionCompletesAfterStop(t *testing.T) {
	b, transport := newTestBatcher(testBatchConfig())

	sessionID, mode := b.Dispatch(context.Background(), messages(25))
	if mode != ModeMedium {
		t.Fatalf("mode = %s, want medium", mode)
	}
	b.Stop()

	if got := transport.count(); got != 25 {
		t.Errorf("sent = %d, want 25", got)
	}
	progress, ok := b.Progress(sessionID)
	if !ok {
		t.Fatal("session not found")
	}
	if progress.Status != StatusCompleted || progress.Sent != 25 {
		t.Errorf("progress = %+v, want completed with 25 sent", progress)
	}
	if progress.CurrentBatch != 3 {
		t.Errorf("currentBatch = %d, want 3 batches of 10", progress.CurrentBatch)
	}
}

func TestSendFailuresAreRecordedNotFatal(t *testing.T) {
	b, transport := newTestBatcher(testBatchConfig())

	msgs := messages(4)
	msgs[1].Recipient = "bad1@example.com"
	msgs[3].Recipient = "bad2@example.com"

	sessionID, _ := b.Dispatch(context.Background(), msgs)

	progress, ok := b.Progress(sessionID)
	if !ok {
		t.Fatal("session not found")
	}
	if progress.Status != StatusCompleted {
		t.Errorf("status = %s, want completed despite failures", progress.Status)
	}
	if progress.Sent != 2 || len(progress.Failures) != 2 {
		t.Errorf("progress = %+v, want 2 sent and 2 failures", progress)
	}
	for _, f := range progress.Failures {
		if !strings.HasPrefix(f.Recipient, "bad") {
			t.Errorf("unexpected failure for %s", f.Recipient)
		}
		if f.Reason == "" {
			t.Error("failure reason should be recorded")
		}
	}
	if got := transport.count(); got != 2 {
		t.Errorf("transport sent = %d, want 2", got)
	}
}

func TestProgressUnknownSession(t *testing.T) {
	b, _ := newTestBatcher(testBatchConfig())
	if _, ok := b.Progress("no-such-session"); ok {
		t.Error("unknown session should report not found")
	}
}

func TestDispatchEmptyListCompletesImmediately(t *testing.T) {
	b, _ := newTestBatcher(testBatchConfig())
	sessionID, _ := b.Dispatch(context.Background(), nil)
	progress, ok := b.Progress(sessionID)
	if !ok || progress.Status != StatusCompleted {
		t.Errorf("empty dispatch should complete immediately, got %+v", progress)
	}
}
