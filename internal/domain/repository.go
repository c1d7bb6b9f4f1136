package domain

import (
	"context"
	"time"
)

// JobRepository persists job records.
type JobRepository interface {
	Create(ctx context.Context, job NewJob) (string, error)
	UpdateStatus(ctx context.Context, jobID string, update StatusUpdate) UpdateResult
	GetByID(ctx context.Context, jobID string) (*Job, error)
	QueuePosition(ctx context.Context, jobID string) int
	ListStuck(ctx context.Context, userID string, createdBefore time.Time) ([]Job, error)
}

// CreditLedger is the accounting system holding user balances. Usage log ids
// are opaque tokens identifying one deduction.
type CreditLedger interface {
	Balance(ctx context.Context, userID string) (int, error)
	Deduct(ctx context.Context, userID string, amount int, description string) (string, error)
	Refund(ctx context.Context, userID string, amount int, description, usageLogID string) error
}

// GenerateRequest is what the generation backend receives for one unit of work.
type GenerateRequest struct {
	UserID      string
	JobID       string
	ToolID      ToolID
	Prompt      string
	Images      []string
	AspectRatio string
	Count       int
	Model       string
	OnProgress  func(percent int)
}

// GenerateResult is what the generation backend returns.
type GenerateResult struct {
	ImageURLs []string
	MediaIDs  []string
	ProjectID string
}

// Generator is the opaque generative-model backend.
type Generator interface {
	Generate(ctx context.Context, req GenerateRequest) (*GenerateResult, error)
}

// ToolCatalog prices generation tools.
type ToolCatalog interface {
	UnitCost(ctx context.Context, tool ToolID) (int, error)
}
