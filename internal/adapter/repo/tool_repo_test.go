package repo

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"archgen/internal/domain"
	"archgen/internal/sqlinline"
)

func TestUnitCost(t *testing.T) {
	db := newScriptedDB()
	db.onRow(sqlinline.QSelectToolUnitCost, rowOf(50), rowErr(pgx.ErrNoRows))
	repo := NewToolRepository(db)

	cost, err := repo.UnitCost(context.Background(), domain.ToolVideoGeneration)
	require.NoError(t, err)
	assert.Equal(t, 50, cost)
	assert.Equal(t, []any{"video-generation"}, db.callsFor(sqlinline.QSelectToolUnitCost)[0].args)

	_, err = repo.UnitCost(context.Background(), "unknown")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestIsVideo(t *testing.T) {
	db := newScriptedDB()
	db.onRow(sqlinline.QSelectToolIsVideo, rowOf(true), rowErr(pgx.ErrNoRows), rowErr(errors.New("db down")))
	repo := NewToolRepository(db)

	video, err := repo.IsVideo(context.Background(), domain.ToolVideoGeneration)
	require.NoError(t, err)
	assert.True(t, video)

	_, err = repo.IsVideo(context.Background(), "unknown")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = repo.IsVideo(context.Background(), domain.ToolSketchRender)
	assert.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrNotFound)
}
