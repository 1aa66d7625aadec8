package admin

import (
	"context"
	"fmt"

	"github.com/nucleus/datapipe/internal/core"
	"github.com/nucleus/datapipe/internal/schema"
)

// jobStatusTable is the per-namespace job accounting table, keyed by
// (target table, session id), one row per job.
const jobStatusTable = "datapipe_job_status"

func jobStatusIdentity(namespace string) core.TableIdentity {
	return core.TableIdentity{Name: jobStatusTable, Namespace: namespace}
}

// CreateAndInitJobStatusTable ensures the status table exists and inserts
// the initial row for this job with success=false.
func (a *Admin) CreateAndInitJobStatusTable(ctx context.Context, cfg *core.WriteConfig, operation string) error {
	t := jobStatusIdentity(cfg.Table.Namespace)
	ddl := fmt.Sprintf(
		"CREATE TABLE IF NOT EXISTS %s (target_table VARCHAR(256) NOT NULL, session_id VARCHAR(256) NOT NULL, username VARCHAR(256), operation VARCHAR(64), tolerance FLOAT, success BOOLEAN, rows_loaded BIGINT, rows_rejected BIGINT, updated_at TIMESTAMP DEFAULT now())",
		schema.QuoteQualified(t))
	if err := a.sess.Execute(ctx, ddl); err != nil {
		return core.WrapError(core.CodeDDLFailed, false, err)
	}

	insert := fmt.Sprintf(
		"INSERT INTO %s (target_table, session_id, username, operation, tolerance, success, rows_loaded, rows_rejected) VALUES (%s, %s, %s, %s, %v, false, 0, 0)",
		schema.QuoteQualified(t),
		schema.QuoteLiteral(cfg.Table.Qualified()),
		schema.QuoteLiteral(cfg.SessionID),
		schema.QuoteLiteral(cfg.Connection.User),
		schema.QuoteLiteral(operation),
		cfg.Tolerance)
	if err := a.sess.Execute(ctx, insert); err != nil {
		return core.WrapError(core.CodeDDLFailed, false, err)
	}
	return nil
}

// UpdateJobStatusTable records the job's final outcome and row counts.
func (a *Admin) UpdateJobStatusTable(ctx context.Context, cfg *core.WriteConfig, success bool, rowsLoaded, rowsRejected int64) error {
	t := jobStatusIdentity(cfg.Table.Namespace)
	update := fmt.Sprintf(
		"UPDATE %s SET success=%v, rows_loaded=%d, rows_rejected=%d, updated_at=now() WHERE target_table=%s AND session_id=%s",
		schema.QuoteQualified(t), success, rowsLoaded, rowsRejected,
		schema.QuoteLiteral(cfg.Table.Qualified()),
		schema.QuoteLiteral(cfg.SessionID))
	if _, err := a.sess.ExecuteUpdate(ctx, update); err != nil {
		return core.WrapError(core.CodeDDLFailed, false, err)
	}
	return nil
}
