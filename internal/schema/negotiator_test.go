package schema

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"testing"

	"github.com/nucleus/datapipe/internal/core"
	"github.com/nucleus/datapipe/internal/db"
)

// fakeRows replays scripted string rows through the db.Rows contract.
type fakeRows struct {
	rows [][]string
	pos  int
}

func (r *fakeRows) Next() bool { return r.pos < len(r.rows) }

func (r *fakeRows) Scan(dest ...any) error {
	row := r.rows[r.pos]
	r.pos++
	if len(dest) != len(row) {
		return fmt.Errorf("scan arity %d != %d", len(dest), len(row))
	}
	for i, d := range dest {
		switch v := d.(type) {
		case *string:
			*v = row[i]
		case *sql.NullString:
			*v = sql.NullString{String: row[i], Valid: row[i] != ""}
		default:
			return fmt.Errorf("unsupported scan dest %T", d)
		}
	}
	return nil
}

func (r *fakeRows) Err() error   { return nil }
func (r *fakeRows) Close() error { return nil }

// introspectSession serves a fixed column catalog and records queries.
type introspectSession struct {
	columns [][]string
	queries []string
}

func (s *introspectSession) Query(_ context.Context, query string) (db.Rows, error) {
	s.queries = append(s.queries, query)
	return &fakeRows{rows: s.columns}, nil
}

func (s *introspectSession) ExecuteUpdate(context.Context, string) (int64, error) { return 0, nil }
func (s *introspectSession) QueryValue(context.Context, string, ...any) error     { return nil }
func (s *introspectSession) Execute(context.Context, string) error                { return nil }
func (s *introspectSession) Commit(context.Context) error                         { return nil }
func (s *introspectSession) Rollback(context.Context) error                       { return nil }
func (s *introspectSession) ConfigureSession(context.Context) error               { return nil }
func (s *introspectSession) Close() error                                         { return nil }
func (s *introspectSession) IsClosed() bool                                       { return false }

func TestNegotiatorFor(t *testing.T) {
	if NegotiatorFor(10) != NegotiatorV1 {
		t.Fatal("major 10 must use the legacy dialect")
	}
	if NegotiatorFor(11) != NegotiatorV2 || NegotiatorFor(24) != NegotiatorV2 {
		t.Fatal("major >= 11 must use the current dialect")
	}
}

func TestTableSchemaQueriesByDialect(t *testing.T) {
	table := core.TableIdentity{Name: "events"}
	columns := [][]string{
		{"id", "int", "NO"},
		{"name", "varchar(64)", "YES"},
		{"created", "timestamp", "YES"},
	}

	for version, catalog := range map[NegotiatorVersion]string{
		NegotiatorV1: "information_schema.columns",
		NegotiatorV2: "v_catalog.columns",
	} {
		sess := &introspectSession{columns: columns}
		got, err := NewNegotiator(version).TableSchema(context.Background(), sess, table)
		if err != nil {
			t.Fatalf("TableSchema(%d): %v", version, err)
		}
		if len(sess.queries) != 1 || !strings.Contains(sess.queries[0], catalog) {
			t.Fatalf("dialect %d queried %q, want catalog %s", version, sess.queries, catalog)
		}
		if !strings.Contains(sess.queries[0], "'public'") {
			t.Fatalf("empty namespace must default to public: %q", sess.queries[0])
		}
		want := core.ColumnSchema{
			{Name: "id", Type: core.TypeInteger},
			{Name: "name", Type: core.TypeVarchar, Nullable: true},
			{Name: "created", Type: core.TypeTimestamp, Nullable: true},
		}
		for i := range want {
			if got[i] != want[i] {
				t.Fatalf("column %d = %+v, want %+v", i, got[i], want[i])
			}
		}
	}
}

func TestTableSchemaEmpty(t *testing.T) {
	sess := &introspectSession{}
	_, err := NewNegotiator(NegotiatorV2).TableSchema(context.Background(), sess, core.TableIdentity{Name: "ghost"})
	if core.CodeValue(err) != core.CodeSchemaDiscovery {
		t.Fatalf("missing table error = %v", err)
	}
}

func TestCopyColumnList(t *testing.T) {
	ctx := context.Background()
	table := core.TableIdentity{Name: "events"}
	jobSchema := schemaFixture()
	neg := NewNegotiator(NegotiatorV2)

	// Live table matches the job schema exactly: natural order, no list.
	full := &introspectSession{columns: [][]string{
		{"id", "bigint", "NO"}, {"name", "varchar", "YES"}, {"score", "float", "YES"},
	}}
	list, err := neg.CopyColumnList(ctx, full, table, jobSchema)
	if err != nil || list != "" {
		t.Fatalf("full overlap = %q, %v", list, err)
	}

	// Live table has extra columns: restrict the load to the overlap.
	wider := &introspectSession{columns: [][]string{
		{"id", "bigint", "NO"}, {"audit", "timestamp", "YES"}, {"name", "varchar", "YES"}, {"score", "float", "YES"},
	}}
	list, err = neg.CopyColumnList(ctx, wider, table, jobSchema)
	if err != nil {
		t.Fatalf("partial overlap: %v", err)
	}
	if list != `("id","name","score")` {
		t.Fatalf("partial overlap = %q", list)
	}

	// No overlap at all is a schema error.
	disjoint := &introspectSession{columns: [][]string{{"other", "int", "NO"}}}
	if _, err := neg.CopyColumnList(ctx, disjoint, table, jobSchema); core.CodeValue(err) != core.CodeSchemaDiscovery {
		t.Fatalf("disjoint error = %v", err)
	}
}

func TestLogicalTypeOf(t *testing.T) {
	cases := map[string]core.LogicalType{
		"boolean":                  core.TypeBoolean,
		"int":                      core.TypeInteger,
		"bigint":                   core.TypeBigint,
		"double precision":         core.TypeFloat,
		"numeric(12,3)":            core.TypeNumeric,
		"varchar(80)":              core.TypeVarchar,
		"long varbinary":           core.TypeBinary,
		"date":                     core.TypeDate,
		"timestamp with time zone": core.TypeTimestamp,
		"geometry":                 core.TypeVarchar,
	}
	for in, want := range cases {
		if got := logicalTypeOf(in); got != want {
			t.Errorf("logicalTypeOf(%q) = %s, want %s", in, got, want)
		}
	}
}
