package infra

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// SQLExecutor defines the contract required by repositories for executing SQL queries.
type SQLExecutor interface {
	Exec(ctx context.Context, query string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, query string, args ...any) pgx.Row
	Query(ctx context.Context, query string, args ...any) (pgx.Rows, error)
}

var markerRegexp = regexp.MustCompile(`^--sql [0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)

// slowQuery is the duration above which a statement is logged at warn level.
const slowQuery = 500 * time.Millisecond

// SQLRunner executes inline queries that carry a `--sql <uuid>` marker on
// their first line and traces them by marker.
type SQLRunner struct {
	Pool   *pgxpool.Pool
	Logger zerolog.Logger
}

func NewSQLRunner(pool *pgxpool.Pool, logger zerolog.Logger) *SQLRunner {
	return &SQLRunner{Pool: pool, Logger: logger}
}

func (r *SQLRunner) Exec(ctx context.Context, query string, args ...any) (pgconn.CommandTag, error) {
	marker, trimmed, err := extractMarker(query)
	if err != nil {
		return pgconn.CommandTag{}, err
	}
	start := time.Now()
	tag, err := r.Pool.Exec(ctx, trimmed, args...)
	r.trace(marker, "exec", start, err).Int64("rows", tag.RowsAffected()).Send()
	return tag, err
}

func (r *SQLRunner) QueryRow(ctx context.Context, query string, args ...any) pgx.Row {
	marker, trimmed, err := extractMarker(query)
	if err != nil {
		return errorRow{err: err}
	}
	return tracedRow{row: r.Pool.QueryRow(ctx, trimmed, args...), runner: r, marker: marker, start: time.Now()}
}

func (r *SQLRunner) Query(ctx context.Context, query string, args ...any) (pgx.Rows, error) {
	marker, trimmed, err := extractMarker(query)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	rows, err := r.Pool.Query(ctx, trimmed, args...)
	if err != nil {
		r.trace(marker, "query", start, err).Send()
		return nil, err
	}
	return tracedRows{Rows: rows, runner: r, marker: marker, start: start}, nil
}

// trace picks the level for one statement: errors, then slow statements,
// then debug.
func (r *SQLRunner) trace(marker, op string, start time.Time, err error) *zerolog.Event {
	elapsed := time.Since(start)
	var event *zerolog.Event
	switch {
	case err != nil && !IsNoRows(err):
		event = r.Logger.Error().Err(err)
	case elapsed > slowQuery:
		event = r.Logger.Warn()
	default:
		event = r.Logger.Debug()
	}
	return event.Str("sql", marker).Str("op", op).Dur("elapsed", elapsed)
}

// IsNoRows reports whether err signals an empty single-row result.
func IsNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

type tracedRow struct {
	row    pgx.Row
	runner *SQLRunner
	marker string
	start  time.Time
}

func (t tracedRow) Scan(dest ...any) error {
	err := t.row.Scan(dest...)
	t.runner.trace(t.marker, "query_row", t.start, err).Bool("found", err == nil).Send()
	return err
}

type tracedRows struct {
	pgx.Rows
	runner *SQLRunner
	marker string
	start  time.Time
}

func (t tracedRows) Close() {
	t.Rows.Close()
	t.runner.trace(t.marker, "query", t.start, t.Rows.Err()).Send()
}

type errorRow struct {
	err error
}

func (e errorRow) Scan(dest ...any) error {
	return e.err
}

func extractMarker(query string) (string, string, error) {
	trimmed := strings.TrimSpace(query)
	lines := strings.Split(trimmed, "\n")
	if len(lines) == 0 {
		return "", "", errors.New("empty query")
	}
	markerLine := strings.TrimSpace(lines[0])
	if !markerRegexp.MatchString(markerLine) {
		return "", "", errors.New("sql marker missing or invalid")
	}
	return strings.TrimSpace(strings.TrimPrefix(markerLine, "--sql ")), strings.Join(lines[1:], "\n"), nil
}

var _ SQLExecutor = (*SQLRunner)(nil)
