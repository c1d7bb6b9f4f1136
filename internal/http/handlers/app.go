package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"archgen/internal/cache"
	"archgen/internal/domain"
	"archgen/internal/infra"
	"archgen/internal/lifecycle"
	"archgen/internal/middleware"
)

// Runner executes one generation attempt.
type Runner interface {
	Run(ctx context.Context, req lifecycle.Request) (*lifecycle.Result, error)
}

// Sweeper reconciles a user's stuck jobs.
type Sweeper interface {
	Sweep(ctx context.Context, userID string) (lifecycle.SweepReport, error)
}

// JobReader is the read side of the job store.
type JobReader interface {
	GetByID(ctx context.Context, jobID string) (*domain.Job, error)
	QueuePosition(ctx context.Context, jobID string) int
}

// BalanceReader reads credit balances.
type BalanceReader interface {
	Balance(ctx context.Context, userID string) (int, error)
}

// Options wires an App.
type Options struct {
	Config      *infra.Config
	Logger      infra.Logger
	Jobs        JobReader
	Ledger      BalanceReader
	Tools       domain.ToolCatalog
	Runner      Runner
	Sweeper     Sweeper
	Blobs       *cache.BlobCache
	Markers     *cache.Markers
	ProxyClient *http.Client
}

type App struct {
	Config      *infra.Config
	Logger      infra.Logger
	Jobs        JobReader
	Ledger      BalanceReader
	Tools       domain.ToolCatalog
	Runner      Runner
	Sweeper     Sweeper
	Blobs       *cache.BlobCache
	Markers     *cache.Markers
	ProxyClient *http.Client
}

func NewApp(opts Options) *App {
	cfg := opts.Config
	if cfg == nil {
		cfg = &infra.Config{}
	}
	client := opts.ProxyClient
	if client == nil {
		client = NewProxyClient(2 * time.Minute)
	}
	return &App{
		Config:      cfg,
		Logger:      opts.Logger,
		Jobs:        opts.Jobs,
		Ledger:      opts.Ledger,
		Tools:       opts.Tools,
		Runner:      opts.Runner,
		Sweeper:     opts.Sweeper,
		Blobs:       opts.Blobs,
		Markers:     opts.Markers,
		ProxyClient: client,
	}
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	JobID   string `json:"job_id,omitempty"`
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, code int, errCode, message string) {
	a.json(w, code, errorBody{Error: errCode, Message: message})
}

func (a *App) currentUserID(r *http.Request) string {
	return middleware.UserIDFromContext(r.Context())
}
