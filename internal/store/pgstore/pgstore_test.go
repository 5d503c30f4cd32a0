package pgstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/MrWong99/dictoxa/internal/store"
	"github.com/MrWong99/dictoxa/internal/textproc"
)

// ---------------------------------------------------------------------------
// mock DB
// ---------------------------------------------------------------------------

type mockRows struct {
	data    [][]any
	idx     int
	err     error
	scanErr error
	closed  bool
}

func (r *mockRows) Close()                                       { r.closed = true }
func (r *mockRows) Err() error                                   { return r.err }
func (r *mockRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *mockRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *mockRows) RawValues() [][]byte                          { return nil }
func (r *mockRows) Conn() *pgx.Conn                              { return nil }
func (r *mockRows) Values() ([]any, error)                       { return nil, nil }

func (r *mockRows) Next() bool {
	if r.idx >= len(r.data) {
		return false
	}
	r.idx++
	return true
}

func (r *mockRows) Scan(dest ...any) error {
	if r.scanErr != nil {
		return r.scanErr
	}
	row := r.data[r.idx-1]
	if len(dest) != len(row) {
		return fmt.Errorf("scan: expected %d columns, got %d destinations", len(row), len(dest))
	}
	for i, v := range row {
		switch d := dest[i].(type) {
		case *string:
			*d = v.(string)
		case *bool:
			*d = v.(bool)
		default:
			return fmt.Errorf("scan: unsupported type at index %d: %T", i, dest[i])
		}
	}
	return nil
}

type execCall struct {
	sql  string
	args []any
}

type mockDB struct {
	rows    *mockRows
	err     error
	execErr error
	queries []string
	execs   []execCall
}

func (m *mockDB) QueryRow(context.Context, string, ...any) pgx.Row { return nil }

func (m *mockDB) Query(_ context.Context, sql string, _ ...any) (pgx.Rows, error) {
	m.queries = append(m.queries, sql)
	if m.err != nil {
		return nil, m.err
	}
	if m.rows == nil {
		return &mockRows{}, nil
	}
	return m.rows, nil
}

func (m *mockDB) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	m.execs = append(m.execs, execCall{sql: sql, args: args})
	return pgconn.CommandTag{}, m.execErr
}

// ---------------------------------------------------------------------------
// tests
// ---------------------------------------------------------------------------

func TestMigrate(t *testing.T) {
	t.Parallel()
	db := &mockDB{}
	if err := New(db).Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	if len(db.execs) != 1 || db.execs[0].sql != Schema {
		t.Errorf("expected Schema to be executed once, got %d execs", len(db.execs))
	}

	db.execErr = errors.New("permission denied")
	if err := New(db).Migrate(context.Background()); err == nil || !strings.Contains(err.Error(), "pgstore: migrate") {
		t.Errorf("Migrate error = %v", err)
	}
}

func TestEntries(t *testing.T) {
	t.Parallel()
	rows := &mockRows{data: [][]any{
		{"e1", "kubernetes", "Kubernetes", false, true, true},
		{"e2", "post gress", "Postgres", false, false, false},
	}}
	db := &mockDB{rows: rows}

	got, err := New(db).Entries(context.Background())
	if err != nil {
		t.Fatalf("Entries: %v", err)
	}
	want := []textproc.Entry{
		{ID: "e1", Pattern: "kubernetes", Replacement: "Kubernetes", WholeWord: true, Enabled: true},
		{ID: "e2", Pattern: "post gress", Replacement: "Postgres"},
	}
	if len(got) != len(want) {
		t.Fatalf("got %d entries, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("entry %d = %+v, want %+v", i, got[i], want[i])
		}
	}
	if !rows.closed {
		t.Error("rows not closed")
	}
	if !strings.Contains(db.queries[0], "ORDER BY position") {
		t.Errorf("entries must be ordered by insertion position: %s", db.queries[0])
	}
}

func TestEntries_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		db   *mockDB
	}{
		{"query", &mockDB{err: errors.New("conn reset")}},
		{"scan", &mockDB{rows: &mockRows{data: [][]any{{"x"}}, scanErr: errors.New("bad column")}}},
		{"rows", &mockDB{rows: &mockRows{err: errors.New("cursor")}}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if _, err := New(tc.db).Entries(context.Background()); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestSnippets(t *testing.T) {
	t.Parallel()
	db := &mockDB{rows: &mockRows{data: [][]any{
		{"s1", "my address", "221B Baker Street", false, true},
	}}}

	got, err := New(db).Snippets(context.Background())
	if err != nil {
		t.Fatalf("Snippets: %v", err)
	}
	want := textproc.Snippet{ID: "s1", Trigger: "my address", Expansion: "221B Baker Street", Enabled: true}
	if len(got) != 1 || got[0] != want {
		t.Errorf("got %+v, want [%+v]", got, want)
	}
}

func TestAddEntry(t *testing.T) {
	t.Parallel()
	db := &mockDB{}

	e, err := New(db).AddEntry(context.Background(), textproc.Entry{
		Pattern: "jason", Replacement: "JSON", WholeWord: true, Enabled: true,
	})
	if err != nil {
		t.Fatalf("AddEntry: %v", err)
	}
	if e.ID == "" {
		t.Error("expected generated ID")
	}
	if len(db.execs) != 1 {
		t.Fatalf("execs = %d, want 1", len(db.execs))
	}
	call := db.execs[0]
	if !strings.Contains(call.sql, "ON CONFLICT (id) DO UPDATE") {
		t.Errorf("AddEntry should upsert: %s", call.sql)
	}
	if call.args[0] != e.ID || call.args[1] != "jason" || call.args[2] != "JSON" {
		t.Errorf("args = %v", call.args)
	}
}

func TestAddEntry_Invalid(t *testing.T) {
	t.Parallel()
	db := &mockDB{}

	_, err := New(db).AddEntry(context.Background(), textproc.Entry{Pattern: "  "})
	if !errors.Is(err, store.ErrInvalidEntry) {
		t.Errorf("got %v, want ErrInvalidEntry", err)
	}
	if len(db.execs) != 0 {
		t.Error("invalid entry must not reach the database")
	}
}

func TestAddEntry_DBErrors(t *testing.T) {
	t.Parallel()

	db := &mockDB{execErr: &pgconn.PgError{Code: "23502"}}
	_, err := New(db).AddEntry(context.Background(), textproc.Entry{Pattern: "a", Replacement: "b"})
	if !errors.Is(err, store.ErrInvalidEntry) {
		t.Errorf("not-null violation: got %v, want ErrInvalidEntry", err)
	}

	db = &mockDB{execErr: errors.New("conn reset")}
	_, err = New(db).AddEntry(context.Background(), textproc.Entry{Pattern: "a", Replacement: "b"})
	if err == nil || errors.Is(err, store.ErrInvalidEntry) {
		t.Errorf("transport error: got %v", err)
	}
}

func TestPingAndCloseWithoutPool(t *testing.T) {
	t.Parallel()
	s := New(&mockDB{})
	if err := s.Ping(context.Background()); err != nil {
		t.Errorf("Ping: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}
