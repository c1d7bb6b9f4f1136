package infra

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractMarker(t *testing.T) {
	query := "--sql 2caa5b21-4c2b-4b72-8a36-7d3d0f9b77a1\nselect 1;"
	marker, body, err := extractMarker(query)
	require.NoError(t, err)
	assert.Equal(t, "2caa5b21-4c2b-4b72-8a36-7d3d0f9b77a1", marker)
	assert.Equal(t, "select 1;", body)
}

func TestExtractMarkerRejectsMissingMarker(t *testing.T) {
	_, _, err := extractMarker("select 1;")
	require.Error(t, err)

	_, _, err = extractMarker("--sql not-a-uuid\nselect 1;")
	require.Error(t, err)
}

func TestQueryRowWithoutMarkerFailsOnScan(t *testing.T) {
	runner := &SQLRunner{}
	var out int
	err := runner.QueryRow(context.Background(), "select 1").Scan(&out)
	require.Error(t, err)
}

func TestIsNoRows(t *testing.T) {
	assert.True(t, IsNoRows(pgx.ErrNoRows))
	assert.True(t, IsNoRows(fmt.Errorf("load job: %w", pgx.ErrNoRows)))
	assert.False(t, IsNoRows(assert.AnError))
}

func TestTraceLevels(t *testing.T) {
	var buf bytes.Buffer
	runner := &SQLRunner{Logger: zerolog.New(&buf).Level(zerolog.DebugLevel)}

	runner.trace("m1", "exec", time.Now(), nil).Send()
	assert.Contains(t, buf.String(), `"level":"debug"`)
	assert.Contains(t, buf.String(), `"sql":"m1"`)

	buf.Reset()
	runner.trace("m2", "query_row", time.Now(), pgx.ErrNoRows).Send()
	assert.Contains(t, buf.String(), `"level":"debug"`)

	buf.Reset()
	runner.trace("m3", "exec", time.Now().Add(-time.Second), nil).Send()
	assert.Contains(t, buf.String(), `"level":"warn"`)

	buf.Reset()
	runner.trace("m4", "query", time.Now(), errors.New("boom")).Send()
	assert.Contains(t, buf.String(), `"level":"error"`)
	assert.Contains(t, buf.String(), `"op":"query"`)
}
