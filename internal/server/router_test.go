package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/STageSub/orchestra-system-sub002/internal/config"
	"github.com/STageSub/orchestra-system-sub002/internal/core"
	"github.com/STageSub/orchestra-system-sub002/internal/notify"
	"github.com/STageSub/orchestra-system-sub002/internal/storage"
)

type scriptedOrchestrator struct {
	dispatchErr error
	quantityErr error
	closeErr    error
	dispatched  []uuid.UUID
}

func (s *scriptedOrchestrator) OpenDispatch(_ context.Context, needID uuid.UUID) error {
	s.dispatched = append(s.dispatched, needID)
	return s.dispatchErr
}

func (s *scriptedOrchestrator) ViewOffer(_ context.Context, _ string) (*core.OfferContext, error) {
	return nil, core.ErrTokenInvalid
}

func (s *scriptedOrchestrator) Respond(_ context.Context, _ string, _ core.OfferResponse) (*core.ConsumeResult, error) {
	return &core.ConsumeResult{Outcome: core.ConsumeInvalid}, nil
}

func (s *scriptedOrchestrator) UpdateQuantity(_ context.Context, _ uuid.UUID, _ int) error {
	return s.quantityErr
}

func (s *scriptedOrchestrator) CloseNeed(_ context.Context, _ uuid.UUID) error { return s.closeErr }

type routerFixture struct {
	router       http.Handler
	orchestrator *scriptedOrchestrator
	store        *storage.MemoryStore
	batcher      *notify.Batcher
	need         *core.Need
}

func newRouterFixture(t *testing.T) *routerFixture {
	t.Helper()

	store := storage.NewMemoryStore()
	need := &core.Need{
		ID:                  uuid.New(),
		PositionID:          uuid.New(),
		RankingListID:       uuid.New(),
		Quantity:            2,
		Strategy:            core.StrategyParallel,
		ResponseWindowHours: 24,
		Status:              core.NeedActive,
	}
	if err := store.CreateNeed(context.Background(), need); err != nil {
		t.Fatalf("create need: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelWarn}))
	batcher := notify.NewBatcher(noopNotifier{}, config.BatchConfig{
		InstantLimit: 10, SmallLimit: 20, MediumLimit: 30, BatchSize: 5, BatchDelay: time.Millisecond, Concurrency: 1,
	}, logger)
	orchestrator := &scriptedOrchestrator{}

	return &routerFixture{
		router:       NewRouter(orchestrator, store, batcher, logger),
		orchestrator: orchestrator,
		store:        store,
		batcher:      batcher,
		need:         need,
	}
}

type noopNotifier struct{}

func (noopNotifier) Send(_ context.Context, _ core.Notification) error { return nil }

func (f *routerFixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoint(t *testing.T) {
	f := newRouterFixture(t)
	rec := f.do(t, http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK || rec.Body.String() != "OK" {
		t.Errorf("health = %d %q", rec.Code, rec.Body.String())
	}
}

func TestDispatchEndpointQueuesCycle(t *testing.T) {
	f := newRouterFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/needs/"+f.need.ID.String()+"/dispatch", "")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", rec.Code)
	}
	if len(f.orchestrator.dispatched) != 1 || f.orchestrator.dispatched[0] != f.need.ID {
		t.Errorf("dispatched = %v", f.orchestrator.dispatched)
	}
}

func TestDispatchEndpointRejectsBadID(t *testing.T) {
	f := newRouterFixture(t)
	rec := f.do(t, http.MethodPost, "/api/v1/needs/not-a-uuid/dispatch", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestQuantityEndpointConflicts(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"below accepted", core.ErrQuantityBelowAccepted, http.StatusConflict},
		{"not active", core.ErrNeedNotActive, http.StatusConflict},
		{"not found", core.ErrNotFound, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newRouterFixture(t)
			f.orchestrator.quantityErr = tt.err

			rec := f.do(t, http.MethodPut, "/api/v1/needs/"+f.need.ID.String()+"/quantity", `{"quantity":1}`)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestQuantityEndpointValidatesBody(t *testing.T) {
	f := newRouterFixture(t)

	rec := f.do(t, http.MethodPut, "/api/v1/needs/"+f.need.ID.String()+"/quantity", `{"quantity":0}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("quantity 0: status = %d, want 400", rec.Code)
	}
	rec = f.do(t, http.MethodPut, "/api/v1/needs/"+f.need.ID.String()+"/quantity", `{`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("malformed body: status = %d, want 400", rec.Code)
	}
}

func TestGetNeedEndpoint(t *testing.T) {
	f := newRouterFixture(t)
	now := time.Now()
	offer := &core.Offer{
		ID:          uuid.New(),
		NeedID:      f.need.ID,
		CandidateID: uuid.New(),
		Status:      core.OfferPending,
		SentAt:      now,
		ExpiresAt:   now.Add(24 * time.Hour),
	}
	if err := f.store.CreateOffer(context.Background(), offer); err != nil {
		t.Fatalf("create offer: %v", err)
	}

	rec := f.do(t, http.MethodGet, "/api/v1/needs/"+f.need.ID.String(), "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var reply struct {
		ID       uuid.UUID `json:"id"`
		Status   string    `json:"status"`
		Quantity int       `json:"quantity"`
		Offers   []struct {
			Status string `json:"status"`
		} `json:"offers"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&reply); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if reply.ID != f.need.ID || reply.Quantity != 2 || len(reply.Offers) != 1 {
		t.Errorf("reply = %+v", reply)
	}
}

func TestGetNeedEndpointNotFound(t *testing.T) {
	f := newRouterFixture(t)
	rec := f.do(t, http.MethodGet, "/api/v1/needs/"+uuid.NewString(), "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestSendProgressEndpoint(t *testing.T) {
	f := newRouterFixture(t)

	sessionID, _ := f.batcher.Dispatch(context.Background(), []core.Notification{
		{Recipient: "a@example.com", Channel: core.ChannelEmail, Kind: core.TemplateRequest},
	})

	rec := f.do(t, http.MethodGet, "/api/v1/send-progress?sessionId="+sessionID, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var progress notify.Progress
	if err := json.NewDecoder(rec.Body).Decode(&progress); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if progress.SessionID != sessionID || progress.Status != notify.StatusCompleted {
		t.Errorf("progress = %+v", progress)
	}

	rec = f.do(t, http.MethodGet, "/api/v1/send-progress?sessionId=unknown", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown session status = %d, want 404", rec.Code)
	}
	rec = f.do(t, http.MethodGet, "/api/v1/send-progress", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing session status = %d, want 400", rec.Code)
	}
}

func TestCloseEndpoint(t *testing.T) {
	f := newRouterFixture(t)
	rec := f.do(t, http.MethodPost, "/api/v1/needs/"+f.need.ID.String()+"/close", "")
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}
