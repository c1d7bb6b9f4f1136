// Package lifecycle runs generation attempts end to end and reconciles jobs
// that never finished. Credits are deducted before a job exists and refunded
// exactly once when the job ends failed.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"archgen/internal/cache"
	"archgen/internal/domain"
	"archgen/internal/errclass"
	"archgen/internal/infra"
	"archgen/internal/metrics"
)

// MaxUnits caps the units one request may fan out to.
const MaxUnits = 8

// Persister copies a transient result into durable storage.
type Persister interface {
	Persist(ctx context.Context, ownerID, source string) (string, bool)
}

// ManagerOptions wires a Manager.
type ManagerOptions struct {
	Jobs       domain.JobRepository
	Ledger     domain.CreditLedger
	Generator  domain.Generator
	Persister  Persister
	Markers    *cache.Markers
	Classifier *errclass.Classifier
	Metrics    *metrics.Metrics
	Logger     infra.Logger
	// Concurrency bounds the units in flight for one request.
	Concurrency int
}

type Manager struct {
	jobs        domain.JobRepository
	ledger      domain.CreditLedger
	generator   domain.Generator
	persister   Persister
	markers     *cache.Markers
	classifier  *errclass.Classifier
	metrics     *metrics.Metrics
	logger      infra.Logger
	concurrency int
}

func NewManager(opts ManagerOptions) *Manager {
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = 4
	}
	classifier := opts.Classifier
	if classifier == nil {
		classifier = errclass.New(opts.Logger)
	}
	return &Manager{
		jobs:        opts.Jobs,
		ledger:      opts.Ledger,
		generator:   opts.Generator,
		persister:   opts.Persister,
		markers:     opts.Markers,
		classifier:  classifier,
		metrics:     opts.Metrics,
		logger:      opts.Logger,
		concurrency: concurrency,
	}
}

// Request is one logical generation request. Count units are generated
// concurrently, each asking the backend for a single image.
type Request struct {
	UserID      string
	ToolID      domain.ToolID
	Prompt      string
	Images      []string
	AspectRatio string
	Count       int
	Model       string
	Cost        int
	Description string
	OnProgress  func(percent int)
}

// Result describes a successful attempt. FailedUnits counts units that
// failed while at least one other succeeded; their share is not refunded.
type Result struct {
	JobID       string
	UsageLogID  string
	ResultURL   string
	ImageURLs   []string
	MediaIDs    []string
	ProjectID   string
	FailedUnits int
}

// GenerationError is returned when an attempt fails. Kind selects the user
// facing path; Err keeps the raw diagnostic.
type GenerationError struct {
	Kind     errclass.Kind
	JobID    string
	Refunded bool
	Err      error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *GenerationError) Unwrap() error {
	return e.Err
}

// UserMessage is the text safe to show the end user.
func (e *GenerationError) UserMessage() string {
	return e.Kind.UserMessage()
}

// Run executes one generation attempt.
func (m *Manager) Run(ctx context.Context, req Request) (*Result, error) {
	if err := validate(req); err != nil {
		return nil, err
	}
	units := req.Count
	if units <= 0 {
		units = 1
	}
	if units > MaxUnits {
		units = MaxUnits
	}
	log := m.logger.With().Str("user_id", req.UserID).Str("tool_id", string(req.ToolID)).Logger()

	balance, err := m.ledger.Balance(ctx, req.UserID)
	if err != nil {
		return nil, fmt.Errorf("load balance: %w", err)
	}
	if balance < req.Cost {
		return nil, &GenerationError{Kind: errclass.InsufficientCredits, Err: domain.ErrInsufficientCredits}
	}

	var usageLogID string
	if req.Cost > 0 {
		usageLogID, err = m.ledger.Deduct(ctx, req.UserID, req.Cost, describe(req))
		if err != nil {
			if errors.Is(err, domain.ErrInsufficientCredits) {
				return nil, &GenerationError{Kind: errclass.InsufficientCredits, Err: err}
			}
			return nil, fmt.Errorf("deduct credits: %w", err)
		}
		if m.markers != nil {
			m.markers.Record(cache.PendingDeduction{UserID: req.UserID, UsageLogID: usageLogID, Amount: req.Cost})
		}
		log = log.With().Str("usage_log_id", usageLogID).Logger()
	}

	// Settlement must finish even when the caller goes away, or the
	// deduction leaks.
	settleCtx := context.WithoutCancel(ctx)

	jobID, err := m.jobs.Create(ctx, domain.NewJob{
		UserID:     req.UserID,
		ToolID:     req.ToolID,
		Prompt:     req.Prompt,
		Cost:       req.Cost,
		UsageLogID: usageLogID,
	})
	if err != nil {
		log.Error().Err(err).Msg("job creation failed; refunding deduction")
		if m.refund(settleCtx, log, req.UserID, req.Cost, usageLogID, "refund: job creation failed", "create") && m.markers != nil {
			m.markers.Clear(usageLogID)
		}
		return nil, err
	}
	log = log.With().Str("job_id", jobID).Logger()

	if res := m.jobs.UpdateStatus(ctx, jobID, domain.StatusUpdate{Status: domain.JobStatusProcessing}); res != domain.UpdateApplied {
		log.Warn().Str("result", res.String()).Msg("could not mark job processing")
	}

	outcome := m.generate(ctx, jobID, req, units)
	if len(outcome.urls) == 0 {
		return nil, m.fail(settleCtx, log, jobID, req, usageLogID, outcome.firstErr)
	}

	persisted := m.persistAll(settleCtx, req.UserID, outcome.urls)
	if res := m.jobs.UpdateStatus(settleCtx, jobID, domain.StatusUpdate{
		Status:        domain.JobStatusCompleted,
		ResultURL:     persisted[0],
		ResultDurable: m.persister != nil,
	}); res != domain.UpdateApplied {
		log.Warn().Str("result", res.String()).Msg("could not mark job completed")
	}
	m.metrics.JobFinished(string(req.ToolID), string(domain.JobStatusCompleted))
	m.metrics.UnitsFailed(outcome.failed)
	if outcome.failed > 0 {
		log.Info().Int("failed_units", outcome.failed).Int("units", units).Msg("partial generation success")
	}

	return &Result{
		JobID:       jobID,
		UsageLogID:  usageLogID,
		ResultURL:   persisted[0],
		ImageURLs:   persisted,
		MediaIDs:    outcome.mediaIDs,
		ProjectID:   outcome.projectID,
		FailedUnits: outcome.failed,
	}, nil
}

type unitOutcome struct {
	urls      []string
	mediaIDs  []string
	projectID string
	failed    int
	firstErr  error
}

// generate issues units concurrently and merges their results in unit order.
func (m *Manager) generate(ctx context.Context, jobID string, req Request, units int) unitOutcome {
	results := make([]*domain.GenerateResult, units)
	errs := make([]error, units)

	var (
		mu   sync.Mutex
		done int
	)
	report := func() {
		if req.OnProgress == nil {
			return
		}
		mu.Lock()
		done++
		percent := done * 100 / units
		mu.Unlock()
		req.OnProgress(percent)
	}

	var g errgroup.Group
	g.SetLimit(m.concurrency)
	for i := 0; i < units; i++ {
		g.Go(func() error {
			defer report()
			if err := ctx.Err(); err != nil {
				errs[i] = err
				return nil
			}
			res, err := m.generator.Generate(ctx, domain.GenerateRequest{
				UserID:      req.UserID,
				JobID:       jobID,
				ToolID:      req.ToolID,
				Prompt:      req.Prompt,
				Images:      req.Images,
				AspectRatio: req.AspectRatio,
				Count:       1,
				Model:       req.Model,
			})
			switch {
			case err != nil:
				errs[i] = err
			case res == nil || len(res.ImageURLs) == 0:
				errs[i] = errors.New("generator returned no results")
			default:
				results[i] = res
			}
			return nil
		})
	}
	_ = g.Wait()

	var out unitOutcome
	for i := 0; i < units; i++ {
		if errs[i] != nil {
			out.failed++
			if out.firstErr == nil {
				out.firstErr = errs[i]
			}
			continue
		}
		out.urls = append(out.urls, results[i].ImageURLs...)
		out.mediaIDs = append(out.mediaIDs, results[i].MediaIDs...)
		if out.projectID == "" {
			out.projectID = results[i].ProjectID
		}
	}
	return out
}

// persistAll copies every url into storage, keeping originals on failure.
func (m *Manager) persistAll(ctx context.Context, ownerID string, urls []string) []string {
	out := make([]string, len(urls))
	copy(out, urls)
	if m.persister == nil {
		return out
	}
	var g errgroup.Group
	g.SetLimit(m.concurrency)
	for i, u := range urls {
		g.Go(func() error {
			if durable, ok := m.persister.Persist(ctx, ownerID, u); ok {
				out[i] = durable
			}
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// fail records the failure and refunds the deduction. The refund is skipped
// when the job had already left processing, since whoever moved it there
// settled the credits.
func (m *Manager) fail(ctx context.Context, log infra.Logger, jobID string, req Request, usageLogID string, cause error) error {
	if cause == nil {
		cause = errors.New("generation failed")
	}
	raw := cause.Error()
	kind := m.classifier.Classify(raw)

	res := m.jobs.UpdateStatus(ctx, jobID, domain.StatusUpdate{
		Status:       domain.JobStatusFailed,
		ErrorMessage: fmt.Sprintf("%s: %s", kind, raw),
	})
	m.metrics.JobFinished(string(req.ToolID), string(domain.JobStatusFailed))

	genErr := &GenerationError{Kind: kind, JobID: jobID, Err: cause}
	switch res {
	case domain.UpdateStale:
		log.Warn().Str("kind", string(kind)).Msg("job already settled elsewhere; skipping refund")
	default:
		if res == domain.UpdateFailed {
			log.Warn().Msg("failed status not recorded; refunding anyway")
		}
		genErr.Refunded = m.refund(ctx, log, req.UserID, req.Cost, usageLogID,
			fmt.Sprintf("refund: generation failed (%s)", kind), "generation")
	}
	log.Info().Str("kind", string(kind)).Bool("refunded", genErr.Refunded).Msg("generation failed")
	return genErr
}

// refund reports whether the credits are back with the user. Failures are
// logged and counted, never returned.
func (m *Manager) refund(ctx context.Context, log infra.Logger, userID string, amount int, usageLogID, description, reason string) bool {
	if usageLogID == "" || amount <= 0 {
		return false
	}
	err := m.ledger.Refund(ctx, userID, amount, description, usageLogID)
	switch {
	case err == nil:
		m.metrics.Refunded(reason)
		return true
	case errors.Is(err, domain.ErrAlreadyRefunded):
		log.Info().Msg("deduction already refunded")
		return true
	default:
		m.metrics.RefundFailed(reason)
		log.Error().Err(err).Int("amount", amount).Msg("refund failed; ledger needs reconciliation")
		return false
	}
}

func validate(req Request) error {
	if strings.TrimSpace(req.UserID) == "" {
		return fmt.Errorf("%w: user id is required", domain.ErrInvalidRequest)
	}
	if !req.ToolID.Valid() {
		return fmt.Errorf("%w: unknown tool %q", domain.ErrInvalidRequest, req.ToolID)
	}
	if req.Cost < 0 {
		return fmt.Errorf("%w: cost must not be negative", domain.ErrInvalidRequest)
	}
	return nil
}

func describe(req Request) string {
	if d := strings.TrimSpace(req.Description); d != "" {
		return d
	}
	return fmt.Sprintf("%s generation", req.ToolID)
}
