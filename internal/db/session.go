// Package db provides the target-store session layer: a narrow contract
// over database/sql with explicit transaction control, and a small pool
// keyed by pipe mode. The SQL dialect lives in the schema and admin
// packages; this layer only executes statements.
package db

import (
	"context"
	"database/sql"
	"time"

	"github.com/nucleus/datapipe/internal/core"
)

// Rows is the session's result handle: the subset of sql.Rows the pipes
// consume, narrow enough to fake in tests.
type Rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close() error
}

// Session is the database-session contract consumed by the pipes. One
// session serves all coordinator-side calls of a single job; sessions are
// never shared across concurrent jobs.
type Session interface {
	// ExecuteUpdate runs a statement and returns the affected row count.
	ExecuteUpdate(ctx context.Context, query string) (int64, error)
	// Query runs a statement returning rows.
	Query(ctx context.Context, query string) (Rows, error)
	// QueryValue runs a single-row query scanning into dest.
	QueryValue(ctx context.Context, query string, dest ...any) error
	// Execute runs a statement, discarding any result.
	Execute(ctx context.Context, query string) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
	// ConfigureSession disables statement auto-commit so bulk loads can be
	// reconciled before the transaction is resolved.
	ConfigureSession(ctx context.Context) error
	Close() error
	IsClosed() bool
}

// connSession pins a single connection so explicit COMMIT/ROLLBACK apply to
// the same transaction the load statement ran in.
type connSession struct {
	db     *sql.DB
	conn   *sql.Conn
	closed bool
}

// Connect opens the target store and pins one connection as a session.
func Connect(ctx context.Context, cfg core.ConnectionConfig) (Session, error) {
	if cfg.Driver == "" || cfg.DSN == "" {
		return nil, core.Errorf(core.CodeConfigInvalid, false, "driver and dsn are required")
	}
	pool, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, core.WrapError(core.CodeConnectionDown, true, err)
	}
	pool.SetMaxOpenConns(2)
	pool.SetMaxIdleConns(1)
	pool.SetConnMaxLifetime(time.Hour)

	conn, err := pool.Conn(ctx)
	if err != nil {
		_ = pool.Close()
		return nil, core.WrapError(core.CodeConnectionDown, true, err)
	}
	return &connSession{db: pool, conn: conn}, nil
}

func (s *connSession) ExecuteUpdate(ctx context.Context, query string) (int64, error) {
	if s.closed {
		return 0, errSessionClosed()
	}
	res, err := s.conn.ExecContext(ctx, query)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		// Drivers without affected-count support still succeed.
		return 0, nil
	}
	return n, nil
}

func (s *connSession) Query(ctx context.Context, query string) (Rows, error) {
	if s.closed {
		return nil, errSessionClosed()
	}
	return s.conn.QueryContext(ctx, query)
}

func (s *connSession) QueryValue(ctx context.Context, query string, dest ...any) error {
	if s.closed {
		return errSessionClosed()
	}
	return s.conn.QueryRowContext(ctx, query).Scan(dest...)
}

func (s *connSession) Execute(ctx context.Context, query string) error {
	if s.closed {
		return errSessionClosed()
	}
	_, err := s.conn.ExecContext(ctx, query)
	return err
}

func (s *connSession) Commit(ctx context.Context) error {
	return s.Execute(ctx, "COMMIT")
}

func (s *connSession) Rollback(ctx context.Context) error {
	return s.Execute(ctx, "ROLLBACK")
}

func (s *connSession) ConfigureSession(ctx context.Context) error {
	return s.Execute(ctx, "SET SESSION AUTOCOMMIT TO OFF")
}

func (s *connSession) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	connErr := s.conn.Close()
	poolErr := s.db.Close()
	if connErr != nil {
		return connErr
	}
	return poolErr
}

func (s *connSession) IsClosed() bool {
	if s.closed {
		return true
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.conn.PingContext(ctx); err != nil {
		return true
	}
	return false
}

func errSessionClosed() error {
	return core.Errorf(core.CodeConnectionDown, false, "session is closed")
}

// ServerVersion reads the target store's major version.
func ServerVersion(ctx context.Context, s Session) (int, error) {
	var version string
	if err := s.QueryValue(ctx, "SELECT version()", &version); err != nil {
		return 0, core.WrapError(core.CodeConnectionDown, true, err)
	}
	major := parseMajorVersion(version)
	if major == 0 {
		return 0, core.Errorf(core.CodeSchemaDiscovery, false, "unparseable server version %q", version)
	}
	return major, nil
}

func parseMajorVersion(version string) int {
	major := 0
	seen := false
	for _, r := range version {
		if r >= '0' && r <= '9' {
			major = major*10 + int(r-'0')
			seen = true
			continue
		}
		if seen {
			break
		}
	}
	return major
}
