package repo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// scriptedDB answers queries by their --sql marker line.
type scriptedDB struct {
	mu       sync.Mutex
	rows     map[string][]stubRow
	execs    map[string][]execResult
	queries  map[string]*stubRows
	queryErr error
	calls    []call
}

type call struct {
	marker string
	args   []any
}

type execResult struct {
	tag pgconn.CommandTag
	err error
}

func newScriptedDB() *scriptedDB {
	return &scriptedDB{
		rows:    map[string][]stubRow{},
		execs:   map[string][]execResult{},
		queries: map[string]*stubRows{},
	}
}

func marker(query string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(query), "\n")
	return line
}

// onRow queues the rows returned by successive QueryRow calls for query.
func (s *scriptedDB) onRow(query string, rows ...stubRow) {
	s.rows[marker(query)] = append(s.rows[marker(query)], rows...)
}

func (s *scriptedDB) onExec(query string, results ...execResult) {
	s.execs[marker(query)] = append(s.execs[marker(query)], results...)
}

func (s *scriptedDB) record(query string, args []any) string {
	m := marker(query)
	s.calls = append(s.calls, call{marker: m, args: args})
	return m
}

func (s *scriptedDB) callsFor(query string) []call {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []call
	for _, c := range s.calls {
		if c.marker == marker(query) {
			out = append(out, c)
		}
	}
	return out
}

func (s *scriptedDB) Exec(ctx context.Context, query string, args ...any) (pgconn.CommandTag, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.record(query, args)
	queue := s.execs[m]
	if len(queue) == 0 {
		return pgconn.CommandTag{}, fmt.Errorf("unexpected exec %s", m)
	}
	res := queue[0]
	if len(queue) > 1 {
		s.execs[m] = queue[1:]
	}
	return res.tag, res.err
}

func (s *scriptedDB) QueryRow(ctx context.Context, query string, args ...any) pgx.Row {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.record(query, args)
	queue := s.rows[m]
	if len(queue) == 0 {
		return stubRow{err: fmt.Errorf("unexpected query row %s", m)}
	}
	row := queue[0]
	if len(queue) > 1 {
		s.rows[m] = queue[1:]
	}
	return row
}

func (s *scriptedDB) Query(ctx context.Context, query string, args ...any) (pgx.Rows, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.record(query, args)
	if s.queryErr != nil {
		return nil, s.queryErr
	}
	rows, ok := s.queries[m]
	if !ok {
		return nil, fmt.Errorf("unexpected query %s", m)
	}
	return rows, nil
}

type stubRow struct {
	values []any
	err    error
}

func rowOf(values ...any) stubRow { return stubRow{values: values} }

func rowErr(err error) stubRow { return stubRow{err: err} }

func (r stubRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	return assign(dest, r.values)
}

func assign(dest []any, values []any) error {
	if len(dest) != len(values) {
		return fmt.Errorf("scan: %d destinations for %d values", len(dest), len(values))
	}
	for i, v := range values {
		switch d := dest[i].(type) {
		case *string:
			*d = v.(string)
		case *int:
			*d = v.(int)
		case *bool:
			*d = v.(bool)
		case *time.Time:
			*d = v.(time.Time)
		case **string:
			if v == nil {
				*d = nil
				continue
			}
			s := v.(string)
			*d = &s
		case **time.Time:
			if v == nil {
				*d = nil
				continue
			}
			ts := v.(time.Time)
			*d = &ts
		default:
			return fmt.Errorf("scan: unsupported destination %T", d)
		}
	}
	return nil
}

type stubRows struct {
	data   [][]any
	idx    int
	err    error
	closed bool
}

func (r *stubRows) Close()                                       { r.closed = true }
func (r *stubRows) Err() error                                   { return r.err }
func (r *stubRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *stubRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *stubRows) Values() ([]any, error)                       { return nil, errors.New("not implemented") }
func (r *stubRows) RawValues() [][]byte                          { return nil }
func (r *stubRows) Conn() *pgx.Conn                              { return nil }

func (r *stubRows) Next() bool {
	if r.idx >= len(r.data) {
		return false
	}
	r.idx++
	return true
}

func (r *stubRows) Scan(dest ...any) error {
	return assign(dest, r.data[r.idx-1])
}

func jobColumns(id, userID, toolID, status string, cost int, usageLogID any, createdAt time.Time) []any {
	return []any{id, userID, toolID, "render a loft", cost, usageLogID, status, nil, nil, createdAt, createdAt}
}

type stubPersister struct {
	mu      sync.Mutex
	url     string
	ok      bool
	owners  []string
	sources []string
}

func (p *stubPersister) Persist(ctx context.Context, ownerID, source string) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.owners = append(p.owners, ownerID)
	p.sources = append(p.sources, source)
	return p.url, p.ok
}
