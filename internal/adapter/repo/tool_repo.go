package repo

import (
	"context"
	"fmt"

	"archgen/internal/domain"
	"archgen/internal/infra"
	"archgen/internal/sqlinline"
)

// ToolRepositoryPG implements domain.ToolCatalog backed by PostgreSQL.
type ToolRepositoryPG struct {
	db infra.SQLExecutor
}

// NewToolRepository creates a new ToolRepositoryPG.
func NewToolRepository(db infra.SQLExecutor) *ToolRepositoryPG {
	return &ToolRepositoryPG{db: db}
}

// UnitCost returns the credits charged per generated unit of tool.
func (r *ToolRepositoryPG) UnitCost(ctx context.Context, tool domain.ToolID) (int, error) {
	var cost int
	if err := r.db.QueryRow(ctx, sqlinline.QSelectToolUnitCost, string(tool)).Scan(&cost); err != nil {
		if infra.IsNoRows(err) {
			return 0, domain.ErrNotFound
		}
		return 0, fmt.Errorf("load tool cost: %w", err)
	}
	return cost, nil
}

// IsVideo reports whether tool is flagged as producing video. Video jobs get
// the longer reaper deadline.
func (r *ToolRepositoryPG) IsVideo(ctx context.Context, tool domain.ToolID) (bool, error) {
	var video bool
	if err := r.db.QueryRow(ctx, sqlinline.QSelectToolIsVideo, string(tool)).Scan(&video); err != nil {
		if infra.IsNoRows(err) {
			return false, domain.ErrNotFound
		}
		return false, fmt.Errorf("load tool kind: %w", err)
	}
	return video, nil
}

var _ domain.ToolCatalog = (*ToolRepositoryPG)(nil)
