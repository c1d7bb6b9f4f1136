package lifecycle

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"archgen/internal/domain"
	"archgen/internal/infra"
)

var sweepNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func ptr(s string) *string { return &s }

func newReaperHarness(t *testing.T) (*Reaper, *memJobs, *memLedger) {
	t.Helper()
	jobs := newMemJobs()
	ledger := newMemLedger(map[string]int{"user-1": 0, "user-2": 0})
	ledger.logs["log-1"] = 20
	ledger.logs["log-2"] = 50
	ledger.logs["log-3"] = 10
	r := NewReaper(ReaperOptions{
		Jobs:   jobs,
		Ledger: ledger,
		Logger: infra.NopLogger(),
		Now:    func() time.Time { return sweepNow },
	})
	return r, jobs, ledger
}

func processingJob(id, user string, tool domain.ToolID, age time.Duration, cost int, usageLogID *string) domain.Job {
	return domain.Job{
		ID: id, UserID: user, ToolID: tool, Cost: cost, UsageLogID: usageLogID,
		Status: domain.JobStatusProcessing, CreatedAt: sweepNow.Add(-age), UpdatedAt: sweepNow.Add(-age),
	}
}

type stubToolKinds struct {
	video map[domain.ToolID]bool
	err   error
	calls int
}

func (s *stubToolKinds) IsVideo(ctx context.Context, tool domain.ToolID) (bool, error) {
	s.calls++
	return s.video[tool], s.err
}

func TestSweepUsesToolTableForVideoDeadline(t *testing.T) {
	r, jobs, _ := newReaperHarness(t)
	// The table marks sketch-render as video, so its jobs get the longer deadline.
	kinds := &stubToolKinds{video: map[domain.ToolID]bool{domain.ToolSketchRender: true}}
	r.tools = kinds
	jobs.put(processingJob("job-1", "user-1", domain.ToolSketchRender, 20*time.Minute, 10, ptr("log-3")))
	jobs.put(processingJob("job-2", "user-1", domain.ToolSketchRender, 30*time.Minute, 10, nil))
	jobs.put(processingJob("job-3", "user-1", domain.ToolImageRenovation, 20*time.Minute, 20, ptr("log-1")))

	report, err := r.Sweep(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, 3, report.Scanned)
	assert.Equal(t, 2, report.Skipped)
	assert.Equal(t, 1, report.Reaped)
	assert.Equal(t, domain.JobStatusProcessing, jobs.get("job-1").Status)
	assert.Equal(t, domain.JobStatusFailed, jobs.get("job-3").Status)
	assert.Equal(t, 2, kinds.calls)
}

func TestSweepFallsBackToBuiltInToolKinds(t *testing.T) {
	r, jobs, _ := newReaperHarness(t)
	r.tools = &stubToolKinds{err: errors.New("db down")}
	jobs.put(processingJob("job-1", "user-1", domain.ToolVideoGeneration, 20*time.Minute, 50, ptr("log-2")))

	report, err := r.Sweep(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, 1, report.Skipped)
	assert.Equal(t, domain.JobStatusProcessing, jobs.get("job-1").Status)
}

func TestSweepReapsStuckImageJob(t *testing.T) {
	r, jobs, ledger := newReaperHarness(t)
	jobs.put(processingJob("job-1", "user-1", domain.ToolImageRenovation, 20*time.Minute, 20, ptr("log-1")))

	report, err := r.Sweep(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, SweepReport{Scanned: 1, Reaped: 1, Refunded: 1}, report)

	job := jobs.get("job-1")
	assert.Equal(t, domain.JobStatusFailed, job.Status)
	require.NotNil(t, job.ErrorMessage)
	assert.Equal(t, "system timeout, auto-refunded", *job.ErrorMessage)

	refunds := ledger.refundCalls()
	require.Len(t, refunds, 1)
	assert.Equal(t, refundCall{UserID: "user-1", Amount: 20, Description: "refund: system timeout, auto-refunded", UsageLogID: "log-1"}, refunds[0])
	assert.Equal(t, 20, ledger.balance("user-1"))
}

func TestSweepLeavesVideoJobInsideGraceWindow(t *testing.T) {
	r, jobs, ledger := newReaperHarness(t)
	jobs.put(processingJob("job-1", "user-1", domain.ToolVideoGeneration, 40*time.Minute, 50, ptr("log-2")))

	report, err := r.Sweep(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, SweepReport{Scanned: 1, Skipped: 1}, report)
	assert.Equal(t, domain.JobStatusProcessing, jobs.get("job-1").Status)
	assert.Empty(t, ledger.refundCalls())
}

func TestSweepReapsVideoJobPastGraceWindow(t *testing.T) {
	r, jobs, ledger := newReaperHarness(t)
	jobs.put(processingJob("job-1", "user-1", domain.ToolVideoGeneration, 61*time.Minute, 50, ptr("log-2")))

	report, err := r.Sweep(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, 1, report.Reaped)
	assert.Equal(t, domain.JobStatusFailed, jobs.get("job-1").Status)
	assert.Len(t, ledger.refundCalls(), 1)
}

func TestSweepIgnoresFreshAndTerminalJobs(t *testing.T) {
	r, jobs, ledger := newReaperHarness(t)
	jobs.put(processingJob("fresh", "user-1", domain.ToolViewSync, 5*time.Minute, 20, ptr("log-1")))
	done := processingJob("done", "user-1", domain.ToolViewSync, 30*time.Minute, 20, ptr("log-1"))
	done.Status = domain.JobStatusCompleted
	jobs.put(done)

	report, err := r.Sweep(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, SweepReport{}, report)
	assert.Empty(t, ledger.refundCalls())
}

func TestSweepOnlyTouchesRequestedUser(t *testing.T) {
	r, jobs, _ := newReaperHarness(t)
	jobs.put(processingJob("mine", "user-1", domain.ToolViewSync, 30*time.Minute, 0, nil))
	jobs.put(processingJob("theirs", "user-2", domain.ToolViewSync, 30*time.Minute, 0, nil))

	report, err := r.Sweep(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, 1, report.Reaped)
	assert.Zero(t, report.Refunded)
	assert.Equal(t, domain.JobStatusProcessing, jobs.get("theirs").Status)

	report, err = r.SweepAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Reaped)
	assert.Equal(t, domain.JobStatusFailed, jobs.get("theirs").Status)
}

func TestSweepContinuesAfterRefundError(t *testing.T) {
	r, jobs, ledger := newReaperHarness(t)
	ledger.refundErr = errors.New("ledger down")
	jobs.put(processingJob("job-1", "user-1", domain.ToolViewSync, 30*time.Minute, 20, ptr("log-1")))
	jobs.put(processingJob("job-2", "user-1", domain.ToolViewSync, 25*time.Minute, 10, ptr("log-3")))

	report, err := r.Sweep(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, 2, report.Reaped)
	assert.Equal(t, 2, report.Errors)
	assert.Len(t, ledger.refundCalls(), 2)
}

func TestSweepIsIdempotent(t *testing.T) {
	r, jobs, ledger := newReaperHarness(t)
	jobs.put(processingJob("job-1", "user-1", domain.ToolViewSync, 30*time.Minute, 20, ptr("log-1")))

	_, err := r.Sweep(context.Background(), "user-1")
	require.NoError(t, err)
	report, err := r.Sweep(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Zero(t, report.Scanned)
	assert.Len(t, ledger.refundCalls(), 1)
}

func TestSweepRequiresUser(t *testing.T) {
	r, _, _ := newReaperHarness(t)
	_, err := r.Sweep(context.Background(), "")
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)
}

func TestWatchStopsOnCancel(t *testing.T) {
	r, jobs, _ := newReaperHarness(t)
	jobs.put(processingJob("job-1", "user-1", domain.ToolViewSync, 30*time.Minute, 0, nil))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := r.Watch(ctx, time.Hour)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewReaperClampsVideoThreshold(t *testing.T) {
	r := NewReaper(ReaperOptions{Threshold: 30 * time.Minute, VideoThreshold: 10 * time.Minute})
	assert.Equal(t, 30*time.Minute, r.deadline(context.Background(), domain.ToolVideoGeneration, map[domain.ToolID]bool{}))
	assert.Equal(t, 30*time.Minute, r.deadline(context.Background(), domain.ToolViewSync, map[domain.ToolID]bool{}))
}
