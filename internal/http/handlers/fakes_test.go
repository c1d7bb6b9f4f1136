package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"

	"archgen/internal/cache"
	"archgen/internal/domain"
	"archgen/internal/infra"
	"archgen/internal/lifecycle"
	"archgen/internal/middleware"

	"github.com/go-chi/chi/v5"
)

type stubJobs struct {
	jobs      map[string]*domain.Job
	positions map[string]int
	err       error
}

func (s *stubJobs) GetByID(ctx context.Context, jobID string) (*domain.Job, error) {
	if s.err != nil {
		return nil, s.err
	}
	job, ok := s.jobs[jobID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return job, nil
}

func (s *stubJobs) QueuePosition(ctx context.Context, jobID string) int {
	return s.positions[jobID]
}

type stubLedger struct {
	balances map[string]int
	err      error
}

func (s *stubLedger) Balance(ctx context.Context, userID string) (int, error) {
	if s.err != nil {
		return 0, s.err
	}
	balance, ok := s.balances[userID]
	if !ok {
		return 0, domain.ErrNotFound
	}
	return balance, nil
}

type stubCatalog map[domain.ToolID]int

func (s stubCatalog) UnitCost(ctx context.Context, tool domain.ToolID) (int, error) {
	cost, ok := s[tool]
	if !ok {
		return 0, domain.ErrNotFound
	}
	return cost, nil
}

type stubRunner struct {
	mu       sync.Mutex
	requests []lifecycle.Request
	result   *lifecycle.Result
	err      error
}

func (s *stubRunner) Run(ctx context.Context, req lifecycle.Request) (*lifecycle.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	return s.result, s.err
}

func (s *stubRunner) last() lifecycle.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests[len(s.requests)-1]
}

type stubSweeper struct {
	users  []string
	report lifecycle.SweepReport
	err    error
}

func (s *stubSweeper) Sweep(ctx context.Context, userID string) (lifecycle.SweepReport, error) {
	s.users = append(s.users, userID)
	return s.report, s.err
}

func newTestApp() (*App, *stubJobs, *stubRunner, *stubSweeper) {
	jobs := &stubJobs{jobs: map[string]*domain.Job{}, positions: map[string]int{}}
	runner := &stubRunner{}
	sweeper := &stubSweeper{}
	app := NewApp(Options{
		Config:  &infra.Config{},
		Logger:  infra.NopLogger(),
		Jobs:    jobs,
		Ledger:  &stubLedger{balances: map[string]int{"user-1": 120}},
		Tools:   stubCatalog{domain.ToolImageRenovation: 20, domain.ToolVideoGeneration: 50},
		Runner:  runner,
		Sweeper: sweeper,
		Blobs:   cache.NewBlobCache(8, 0),
		Markers: cache.NewMarkers(8, 0),

		// httptest servers listen on loopback.
		ProxyClient: &http.Client{},
	})
	return app, jobs, runner, sweeper
}

// asUser attaches the authenticated user and chi URL params to r.
func asUser(r *http.Request, userID string, params map[string]string) *http.Request {
	ctx := middleware.ContextWithUserID(r.Context(), userID)
	if len(params) > 0 {
		rctx := chi.NewRouteContext()
		for k, v := range params {
			rctx.URLParams.Add(k, v)
		}
		ctx = context.WithValue(ctx, chi.RouteCtxKey, rctx)
	}
	return r.WithContext(ctx)
}

func serve(h http.HandlerFunc, r *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	h(rr, r)
	return rr
}
