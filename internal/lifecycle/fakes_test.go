package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"archgen/internal/cache"
	"archgen/internal/domain"
)

// memJobs is an in-memory job store with the same conditional update rules
// as the Postgres repository.
type memJobs struct {
	mu        sync.Mutex
	jobs      map[string]*domain.Job
	seq       int
	createErr error
	updateErr bool
	markers   *cache.Markers
	now       func() time.Time
}

func newMemJobs() *memJobs {
	return &memJobs{jobs: map[string]*domain.Job{}, now: time.Now}
}

func (s *memJobs) Create(ctx context.Context, job domain.NewJob) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return "", s.createErr
	}
	s.seq++
	id := fmt.Sprintf("job-%d", s.seq)
	var usageLogID *string
	if job.UsageLogID != "" {
		v := job.UsageLogID
		usageLogID = &v
	}
	now := s.now()
	s.jobs[id] = &domain.Job{
		ID: id, UserID: job.UserID, ToolID: job.ToolID, Prompt: job.Prompt, Cost: job.Cost,
		UsageLogID: usageLogID, Status: domain.JobStatusPending, CreatedAt: now, UpdatedAt: now,
	}
	if s.markers != nil {
		s.markers.Clear(job.UsageLogID)
	}
	return id, nil
}

// put inserts a job directly, bypassing Create.
func (s *memJobs) put(job domain.Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = &job
}

func (s *memJobs) UpdateStatus(ctx context.Context, jobID string, update domain.StatusUpdate) domain.UpdateResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.updateErr {
		return domain.UpdateFailed
	}
	job, ok := s.jobs[jobID]
	if !ok || !domain.CanTransition(job.Status, update.Status) {
		return domain.UpdateStale
	}
	job.Status = update.Status
	job.UpdatedAt = s.now()
	if update.ResultURL != "" {
		v := update.ResultURL
		job.ResultURL = &v
	}
	if update.Status == domain.JobStatusCompleted {
		job.ErrorMessage = nil
	} else if update.ErrorMessage != "" {
		v := update.ErrorMessage
		job.ErrorMessage = &v
	}
	return domain.UpdateApplied
}

func (s *memJobs) GetByID(ctx context.Context, jobID string) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *job
	return &cp, nil
}

func (s *memJobs) QueuePosition(ctx context.Context, jobID string) int {
	return 0
}

func (s *memJobs) ListStuck(ctx context.Context, userID string, createdBefore time.Time) ([]domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Job
	for _, job := range s.jobs {
		if job.Status != domain.JobStatusProcessing || !job.CreatedAt.Before(createdBefore) {
			continue
		}
		if userID != "" && job.UserID != userID {
			continue
		}
		out = append(out, *job)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *memJobs) get(id string) domain.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.jobs[id]
}

type refundCall struct {
	UserID      string
	Amount      int
	Description string
	UsageLogID  string
}

// memLedger refunds each usage log at most once, like the SQL ledger.
type memLedger struct {
	mu        sync.Mutex
	balances  map[string]int
	logs      map[string]int
	refunded  map[string]bool
	deducts   int
	refunds   []refundCall
	refundErr error
	seq       int
}

func newMemLedger(balances map[string]int) *memLedger {
	return &memLedger{balances: balances, logs: map[string]int{}, refunded: map[string]bool{}}
}

func (l *memLedger) Balance(ctx context.Context, userID string) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.balances[userID]
	if !ok {
		return 0, domain.ErrNotFound
	}
	return b, nil
}

func (l *memLedger) Deduct(ctx context.Context, userID string, amount int, description string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.deducts++
	if l.balances[userID] < amount {
		return "", domain.ErrInsufficientCredits
	}
	l.balances[userID] -= amount
	l.seq++
	id := fmt.Sprintf("log-%d", l.seq)
	l.logs[id] = amount
	return id, nil
}

func (l *memLedger) Refund(ctx context.Context, userID string, amount int, description, usageLogID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.refunds = append(l.refunds, refundCall{UserID: userID, Amount: amount, Description: description, UsageLogID: usageLogID})
	if l.refundErr != nil {
		return l.refundErr
	}
	if l.refunded[usageLogID] {
		return domain.ErrAlreadyRefunded
	}
	l.refunded[usageLogID] = true
	l.balances[userID] += min(amount, l.logs[usageLogID])
	return nil
}

func (l *memLedger) refundCalls() []refundCall {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]refundCall(nil), l.refunds...)
}

func (l *memLedger) balance(userID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[userID]
}

// scriptedGenerator answers unit n (in call order) with outcomes[n].
type scriptedGenerator struct {
	mu       sync.Mutex
	outcomes []outcome
	calls    []domain.GenerateRequest
	hook     func()
}

type outcome struct {
	url string
	err error
}

func (g *scriptedGenerator) Generate(ctx context.Context, req domain.GenerateRequest) (*domain.GenerateResult, error) {
	g.mu.Lock()
	n := len(g.calls)
	g.calls = append(g.calls, req)
	hook := g.hook
	g.mu.Unlock()
	if hook != nil {
		hook()
	}
	if n >= len(g.outcomes) {
		return nil, errors.New("unexpected generator call")
	}
	o := g.outcomes[n]
	if o.err != nil {
		return nil, o.err
	}
	return &domain.GenerateResult{ImageURLs: []string{o.url}, ProjectID: "proj"}, nil
}

type prefixPersister struct {
	mu    sync.Mutex
	calls int
	fail  bool
}

func (p *prefixPersister) Persist(ctx context.Context, ownerID, source string) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.fail {
		return "", false
	}
	if strings.HasPrefix(source, "https://bucket/") {
		return source, true
	}
	return "https://bucket/" + ownerID + "/jobs/" + strings.TrimPrefix(source, "https://gen/"), true
}
