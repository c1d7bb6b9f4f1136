package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"archgen/internal/domain"
	"archgen/internal/infra"
	"archgen/internal/metrics"
)

const (
	DefaultStuckThreshold = 15 * time.Minute
	DefaultVideoThreshold = 60 * time.Minute
)

// ToolKinds tells video tools apart from image tools.
type ToolKinds interface {
	IsVideo(ctx context.Context, tool domain.ToolID) (bool, error)
}

type ReaperOptions struct {
	Jobs    domain.JobRepository
	Ledger  domain.CreditLedger
	Metrics *metrics.Metrics
	Logger  infra.Logger
	// Tools supplies the video flag of the tools table. Without it, or when
	// the lookup fails, the built-in tool list decides.
	Tools ToolKinds
	// Threshold applies to every image tool; video tools use VideoThreshold.
	Threshold      time.Duration
	VideoThreshold time.Duration
	Now            func() time.Time
}

// Reaper force-fails jobs stuck in processing and refunds their cost.
type Reaper struct {
	jobs           domain.JobRepository
	ledger         domain.CreditLedger
	metrics        *metrics.Metrics
	logger         infra.Logger
	tools          ToolKinds
	threshold      time.Duration
	videoThreshold time.Duration
	now            func() time.Time
}

func NewReaper(opts ReaperOptions) *Reaper {
	threshold := opts.Threshold
	if threshold <= 0 {
		threshold = DefaultStuckThreshold
	}
	video := opts.VideoThreshold
	if video <= 0 {
		video = DefaultVideoThreshold
	}
	if video < threshold {
		video = threshold
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Reaper{
		jobs:           opts.Jobs,
		ledger:         opts.Ledger,
		metrics:        opts.Metrics,
		logger:         opts.Logger,
		tools:          opts.Tools,
		threshold:      threshold,
		videoThreshold: video,
		now:            now,
	}
}

// SweepReport summarises one sweep.
type SweepReport struct {
	Scanned  int `json:"scanned"`
	Reaped   int `json:"reaped"`
	Refunded int `json:"refunded"`
	Skipped  int `json:"skipped"`
	Errors   int `json:"errors"`
}

// Sweep reconciles the stuck jobs of one user.
func (r *Reaper) Sweep(ctx context.Context, userID string) (SweepReport, error) {
	if strings.TrimSpace(userID) == "" {
		return SweepReport{}, fmt.Errorf("%w: user id is required", domain.ErrInvalidRequest)
	}
	return r.sweep(ctx, userID)
}

// SweepAll reconciles stuck jobs of every user.
func (r *Reaper) SweepAll(ctx context.Context) (SweepReport, error) {
	return r.sweep(ctx, "")
}

// Watch runs SweepAll every interval until ctx is done.
func (r *Reaper) Watch(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		report, err := r.SweepAll(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			r.logger.Error().Err(err).Msg("reaper sweep failed")
		} else if report.Reaped > 0 {
			r.logger.Info().Interface("report", report).Msg("reaper sweep finished")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (r *Reaper) sweep(ctx context.Context, userID string) (SweepReport, error) {
	var report SweepReport
	now := r.now()
	jobs, err := r.jobs.ListStuck(ctx, userID, now.Add(-r.threshold))
	if err != nil {
		return report, fmt.Errorf("list stuck jobs: %w", err)
	}
	report.Scanned = len(jobs)

	video := make(map[domain.ToolID]bool)
	for _, job := range jobs {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if now.Sub(job.CreatedAt) < r.deadline(ctx, job.ToolID, video) {
			report.Skipped++
			continue
		}
		r.reap(ctx, job, &report)
	}
	return report, nil
}

// deadline returns how long a job of tool may run. Lookups are memoised in
// seen for the duration of one sweep.
func (r *Reaper) deadline(ctx context.Context, tool domain.ToolID, seen map[domain.ToolID]bool) time.Duration {
	isVideo, ok := seen[tool]
	if !ok {
		isVideo = r.isVideo(ctx, tool)
		seen[tool] = isVideo
	}
	if isVideo {
		return r.videoThreshold
	}
	return r.threshold
}

func (r *Reaper) isVideo(ctx context.Context, tool domain.ToolID) bool {
	if r.tools == nil {
		return tool.IsVideo()
	}
	isVideo, err := r.tools.IsVideo(ctx, tool)
	if err != nil {
		r.logger.Warn().Err(err).Str("tool_id", string(tool)).Msg("tool kind lookup failed; using built-in list")
		return tool.IsVideo()
	}
	return isVideo
}

// reap fails one job and refunds it. The conditional update makes a job that
// completed since it was listed a no-op.
func (r *Reaper) reap(ctx context.Context, job domain.Job, report *SweepReport) {
	log := r.logger.With().Str("job_id", job.ID).Str("user_id", job.UserID).Str("tool_id", string(job.ToolID)).Logger()

	switch r.jobs.UpdateStatus(ctx, job.ID, domain.StatusUpdate{
		Status:       domain.JobStatusFailed,
		ErrorMessage: domain.TimeoutMessage,
	}) {
	case domain.UpdateStale:
		report.Skipped++
		return
	case domain.UpdateFailed:
		report.Errors++
		log.Error().Msg("could not fail stuck job; will retry on next sweep")
		return
	}
	report.Reaped++
	r.metrics.JobReaped(string(job.ToolID))
	r.metrics.JobFinished(string(job.ToolID), string(domain.JobStatusFailed))

	if job.UsageLogID == nil || *job.UsageLogID == "" || job.Cost <= 0 {
		log.Info().Msg("stuck job failed; nothing to refund")
		return
	}
	err := r.ledger.Refund(ctx, job.UserID, job.Cost, "refund: "+domain.TimeoutMessage, *job.UsageLogID)
	switch {
	case err == nil:
		report.Refunded++
		r.metrics.Refunded("timeout")
		log.Info().Int("amount", job.Cost).Msg("stuck job failed and refunded")
	case errors.Is(err, domain.ErrAlreadyRefunded):
		log.Info().Msg("stuck job failed; deduction was already refunded")
	default:
		report.Errors++
		r.metrics.RefundFailed("timeout")
		log.Error().Err(err).Int("amount", job.Cost).Msg("stuck job refund failed")
	}
}
