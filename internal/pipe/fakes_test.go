package pipe

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/nucleus/datapipe/internal/core"
	"github.com/nucleus/datapipe/internal/db"
	"github.com/nucleus/datapipe/internal/schema"
	"github.com/nucleus/datapipe/pkg/staging"
)

var errBoom = errors.New("injected failure")

// pipeSession is a scripted target-store session. Every statement is
// appended to log in execution order; responses and injected failures are
// matched by substring.
type pipeSession struct {
	mu  sync.Mutex
	log []string

	counts       map[string]int64 // COUNT(*) answers by query substring
	countErr     map[string]error // QueryValue failures by substring
	failOn       map[string]error // statement failures by substring
	columns      [][]string       // catalog rows served to Query
	inferredDDL  string
	version      string
	copyAffected int64
	closed       bool
}

func (s *pipeSession) record(q string) error {
	s.mu.Lock()
	s.log = append(s.log, q)
	s.mu.Unlock()
	for sub, err := range s.failOn {
		if strings.Contains(q, sub) {
			return err
		}
	}
	return nil
}

func (s *pipeSession) ExecuteUpdate(_ context.Context, q string) (int64, error) {
	if err := s.record(q); err != nil {
		return 0, err
	}
	if strings.HasPrefix(q, "COPY ") {
		return s.copyAffected, nil
	}
	return 1, nil
}

func (s *pipeSession) Execute(_ context.Context, q string) error {
	return s.record(q)
}

func (s *pipeSession) QueryValue(_ context.Context, q string, dest ...any) error {
	if err := s.record(q); err != nil {
		return err
	}
	for sub, err := range s.countErr {
		if strings.Contains(q, sub) {
			return err
		}
	}
	if strings.Contains(q, "infer_table_ddl") {
		*(dest[0].(*string)) = s.inferredDDL
		return nil
	}
	if strings.Contains(q, "version()") {
		*(dest[0].(*string)) = s.version
		return nil
	}
	for sub, n := range s.counts {
		if strings.Contains(q, sub) {
			*(dest[0].(*int64)) = n
			return nil
		}
	}
	if p, ok := dest[0].(*int64); ok {
		*p = 0
	}
	return nil
}

func (s *pipeSession) Query(_ context.Context, q string) (db.Rows, error) {
	if err := s.record(q); err != nil {
		return nil, err
	}
	return &scriptedRows{rows: s.columns}, nil
}

func (s *pipeSession) Commit(ctx context.Context) error   { return s.record("COMMIT") }
func (s *pipeSession) Rollback(ctx context.Context) error { return s.record("ROLLBACK") }
func (s *pipeSession) ConfigureSession(ctx context.Context) error {
	return s.record("SET SESSION AUTOCOMMIT TO OFF")
}

func (s *pipeSession) Close() error {
	s.closed = true
	return nil
}
func (s *pipeSession) IsClosed() bool { return s.closed }

// has reports whether any logged statement contains every given substring.
func (s *pipeSession) has(subs ...string) bool {
	return s.indexOf(subs...) >= 0
}

// hasPrefixed reports whether any logged statement begins with prefix, for
// statement kinds whose keyword also occurs inside other statements, like a
// bulk COPY versus the AS COPY FROM clause of external-table DDL.
func (s *pipeSession) hasPrefixed(prefix string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, q := range s.log {
		if strings.HasPrefix(q, prefix) {
			return true
		}
	}
	return false
}

// indexOfExact finds a statement equal to q, for short statements like
// COMMIT whose text occurs inside other statements.
func (s *pipeSession) indexOfExact(q string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, logged := range s.log {
		if logged == q {
			return i
		}
	}
	return -1
}

func (s *pipeSession) indexOf(subs ...string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
outer:
	for i, q := range s.log {
		for _, sub := range subs {
			if !strings.Contains(q, sub) {
				continue outer
			}
		}
		return i
	}
	return -1
}

type scriptedRows struct {
	rows [][]string
	pos  int
}

func (r *scriptedRows) Next() bool { return r.pos < len(r.rows) }

func (r *scriptedRows) Scan(dest ...any) error {
	row := r.rows[r.pos]
	r.pos++
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

func (r *scriptedRows) Err() error   { return nil }
func (r *scriptedRows) Close() error { return nil }

func jobSchema() core.ColumnSchema {
	return core.ColumnSchema{
		{Name: "id", Type: core.TypeBigint},
		{Name: "name", Type: core.TypeVarchar, Nullable: true, Length: 64},
		{Name: "score", Type: core.TypeFloat, Nullable: true},
	}
}

// liveColumns mirrors jobSchema as catalog introspection rows.
func liveColumns() [][]string {
	return [][]string{
		{"id", "bigint", "NO"},
		{"name", "varchar(64)", "YES"},
		{"score", "float", "YES"},
	}
}

func writeCfg() *core.WriteConfig {
	return &core.WriteConfig{
		Connection: core.ConnectionConfig{User: "loader"},
		Staging:    core.StagingAddress{Bucket: "stage", Path: "jobs/s1"},
		Table:      core.TableIdentity{Name: "events", Namespace: "public"},
		Schema:     jobSchema(),
		SessionID:  "s1",
	}
}

// newWriteFixture builds a write pipe over a disk-backed staging store.
func newWriteFixture(t *testing.T, cfg *core.WriteConfig, sess *pipeSession, variant Variant) (*WritePipe, *staging.ObjectStagingStore) {
	t.Helper()
	store := staging.NewObjectStagingStore(staging.NewLocalStore(t.TempDir()), cfg.Staging.Bucket, cfg.Schema)
	negVersion := schema.NegotiatorV2
	if variant == WritePipeV1 {
		negVersion = schema.NegotiatorV1
	}
	var s db.Session
	if sess != nil {
		s = sess
	}
	p, err := NewWritePipe(cfg, s, store, schema.NewNegotiator(negVersion), variant)
	if err != nil {
		t.Fatalf("NewWritePipe: %v", err)
	}
	return p, store
}

// stagePartitions runs the worker protocol for n partitions of rows each.
func stagePartitions(t *testing.T, p *WritePipe, n int, rowsPerPartition int) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < n; i++ {
		pw, err := p.StartPartitionWrite(ctx, fmt.Sprintf("%d", i))
		if err != nil {
			t.Fatalf("StartPartitionWrite(%d): %v", i, err)
		}
		rows := make([]core.Row, rowsPerPartition)
		for j := range rows {
			rows[j] = core.Row{"id": int64(i*rowsPerPartition + j), "name": "r", "score": 1.0}
		}
		if err := pw.WriteData(&core.DataBlock{Rows: rows}); err != nil {
			t.Fatalf("WriteData(%d): %v", i, err)
		}
		res, err := pw.EndPartitionWrite(ctx)
		if err != nil {
			t.Fatalf("EndPartitionWrite(%d): %v", i, err)
		}
		if res.Rows != int64(rowsPerPartition) {
			t.Fatalf("partition %d rows = %d", i, res.Rows)
		}
	}
}

func negV1() *schema.Negotiator { return schema.NewNegotiator(schema.NegotiatorV1) }
func negV2() *schema.Negotiator { return schema.NewNegotiator(schema.NegotiatorV2) }

// newExternalFixtureStore builds a staging store whose directory already
// holds a staged file, as an existing-data external table expects.
func newExternalFixtureStore(t *testing.T, cfg *core.WriteConfig) *staging.ObjectStagingStore {
	t.Helper()
	ctx := context.Background()
	ls := staging.NewLocalStore(t.TempDir())
	if err := ls.EnsureBucket(ctx, cfg.Staging.Bucket); err != nil {
		t.Fatalf("EnsureBucket: %v", err)
	}
	key := cfg.Staging.Dir() + "/0." + core.StagedFileExt
	if err := ls.PutObject(ctx, cfg.Staging.Bucket, key, []byte("PAR1")); err != nil {
		t.Fatalf("PutObject: %v", err)
	}
	return staging.NewObjectStagingStore(ls, cfg.Staging.Bucket, cfg.Schema)
}

func stagedFiles(t *testing.T, store *staging.ObjectStagingStore, dir string) []string {
	t.Helper()
	files, err := store.ListGlob(context.Background(), dir+"/*."+core.StagedFileExt)
	if err != nil {
		t.Fatalf("ListGlob: %v", err)
	}
	return files
}
