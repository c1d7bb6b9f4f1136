package domain

import "time"

// ToolID tags the generation feature that created a job.
type ToolID string

const (
	ToolImageRenovation ToolID = "image-renovation"
	ToolViewSync        ToolID = "view-sync"
	ToolVideoGeneration ToolID = "video-generation"
	ToolSketchRender    ToolID = "sketch-render"
	ToolStyleTransfer   ToolID = "style-transfer"
)

// IsVideo is the built-in video flag, used when the tools table cannot be read.
func (t ToolID) IsVideo() bool {
	return t == ToolVideoGeneration
}

// Valid reports whether t is a known tool.
func (t ToolID) Valid() bool {
	switch t {
	case ToolImageRenovation, ToolViewSync, ToolVideoGeneration, ToolSketchRender, ToolStyleTransfer:
		return true
	}
	return false
}

// JobStatus enumerates job lifecycle states.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// IsTerminal returns true for statuses no job may leave.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// Predecessors lists the statuses a job may hold immediately before moving
// to s. Transitions only move forward; terminal states have no successors.
func (s JobStatus) Predecessors() []JobStatus {
	switch s {
	case JobStatusProcessing:
		return []JobStatus{JobStatusPending}
	case JobStatusCompleted, JobStatusFailed:
		return []JobStatus{JobStatusPending, JobStatusProcessing}
	default:
		return nil
	}
}

// CanTransition reports whether from → to is a legal forward move.
func CanTransition(from, to JobStatus) bool {
	for _, p := range to.Predecessors() {
		if p == from {
			return true
		}
	}
	return false
}

// Job is one tracked generation attempt with credit accounting.
type Job struct {
	ID           string
	UserID       string
	ToolID       ToolID
	Prompt       string
	Cost         int
	UsageLogID   *string
	Status       JobStatus
	ResultURL    *string
	ErrorMessage *string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// NewJob carries the caller-supplied fields of a job about to be inserted.
type NewJob struct {
	UserID     string
	ToolID     ToolID
	Prompt     string
	Cost       int
	UsageLogID string
}

// StatusUpdate describes one status transition. Empty strings mean "not provided".
type StatusUpdate struct {
	Status       JobStatus
	ResultURL    string
	ErrorMessage string
	// ResultDurable means ResultURL already went through the persister and
	// is stored as given.
	ResultDurable bool
}

// UpdateResult reports how a conditional status update ended.
type UpdateResult int

const (
	// UpdateFailed means the write could not be performed (database error).
	UpdateFailed UpdateResult = iota
	// UpdateApplied means the row moved to the requested status.
	UpdateApplied
	// UpdateStale means the row was missing or already past the requested status.
	UpdateStale
)

func (r UpdateResult) String() string {
	switch r {
	case UpdateApplied:
		return "applied"
	case UpdateStale:
		return "stale"
	default:
		return "failed"
	}
}

// TimeoutMessage is written on jobs the reaper force-fails.
const TimeoutMessage = "system timeout, auto-refunded"
