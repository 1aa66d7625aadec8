package pipe

import (
	"context"
	"fmt"
	"log"

	"github.com/nucleus/datapipe/internal/core"
	"github.com/nucleus/datapipe/internal/schema"
)

// commitState tracks the commit transaction's progress. Terminal states
// are stateCleaned (success or tolerated rejects) and stateRolledBack.
type commitState int

const (
	stateNotStarted commitState = iota
	stateTableEnsured
	stateLoaded
	stateReconciledOK
	stateReconciledFail
	stateRolledBack
	stateCleaned
)

func (s commitState) String() string {
	switch s {
	case stateTableEnsured:
		return "table-ensured"
	case stateLoaded:
		return "loaded"
	case stateReconciledOK:
		return "reconciled-ok"
	case stateReconciledFail:
		return "reconciled-fail"
	case stateRolledBack:
		return "rolled-back"
	case stateCleaned:
		return "cleaned"
	default:
		return "not-started"
	}
}

// State exposes the commit state for observability and tests.
func (p *WritePipe) State() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state.String()
}

func (p *WritePipe) setState(s commitState) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
}

// Commit runs the coordinator-only commit transaction, exactly once per
// job, after every worker has finished EndPartitionWrite. It returns the
// outcome and a fatal error for the FaultToleranceExceeded and Aborted
// outcomes.
func (p *WritePipe) Commit(ctx context.Context) (core.CommitOutcome, error) {
	if err := p.requireCoordinator("Commit"); err != nil {
		return core.CommitOutcome{Status: core.CommitAborted, Cause: err}, err
	}

	switch p.cfg.ExternalMode {
	case core.ExternalNewData, core.ExternalExistingData:
		return p.commitExternal(ctx)
	default:
		return p.commitManaged(ctx)
	}
}

// commitExternal creates an external table over staged files. No bulk load
// is issued and staged files are not removed: they are the table's data.
func (p *WritePipe) commitExternal(ctx context.Context) (core.CommitOutcome, error) {
	ddl, err := p.externalTableDDL(ctx)
	if err != nil {
		return p.abortOutcome(err)
	}
	p.setState(stateTableEnsured)

	if err := p.admin.CreateExternalTable(ctx, ddl); err != nil {
		return p.abortOutcome(err)
	}

	expected := p.cfg.Schema
	if p.cfg.ExternalMode == core.ExternalExistingData {
		// Inferred DDL defines the columns; only check introspectability.
		expected = nil
	}
	if err := p.admin.ValidateExternalTable(ctx, p.cfg.Table, expected); err != nil {
		// Best-effort compensation: the drop's own failure must not mask
		// the validation error.
		if dropErr := p.admin.DropTable(ctx, p.cfg.Table); dropErr != nil {
			log.Printf("datapipe: dropping invalid external table %s: %v", p.cfg.Table, dropErr)
		}
		return p.abortOutcome(err)
	}

	p.setState(stateCleaned)
	if p.cfg.SaveJobStatus {
		if err := p.admin.UpdateJobStatusTable(ctx, p.cfg, true, p.stagedRows, 0); err != nil {
			log.Printf("datapipe: job status update: %v", err)
		}
	}
	return core.CommitOutcome{Status: core.CommitSucceeded, RowsLoaded: p.stagedRows}, nil
}

func (p *WritePipe) externalTableDDL(ctx context.Context) (string, error) {
	switch p.cfg.ExternalMode {
	case core.ExternalNewData:
		return schema.BuildExternalTableDDL(p.cfg.Table, p.cfg.Schema,
			p.cfg.StringLengthOrDefault(), p.cfg.Staging.URI()), nil
	case core.ExternalExistingData:
		if p.variant == WritePipeV1 {
			return "", core.Errorf(core.CodeDDLFailed, false,
				"external tables over existing data require server support for DDL inference")
		}
		files, err := p.store.ListGlob(ctx, p.cfg.Staging.Dir()+"/*."+core.StagedFileExt)
		if err != nil {
			return "", err
		}
		if len(files) == 0 {
			return "", core.Errorf(core.CodeDDLFailed, false,
				"no staged files at %s to infer external table from", p.cfg.Staging.URI())
		}
		return p.admin.InferExternalTableDDL(ctx, p.cfg.Table, p.cfg.Staging.URI())
	default:
		return "", core.Errorf(core.CodeConfigInvalid, false, "not an external-table mode")
	}
}

// commitManaged bulk-loads staged files into the target (directly, or via
// the merge temp table), reconciles rejected rows against the tolerance,
// and resolves the transaction.
func (p *WritePipe) commitManaged(ctx context.Context) (core.CommitOutcome, error) {
	files, err := p.store.ListGlob(ctx, p.cfg.Staging.Dir()+"/*."+core.StagedFileExt)
	if err != nil {
		return p.abortOutcome(err)
	}
	fileURIs := make([]string, len(files))
	for i, f := range files {
		fileURIs[i] = "s3://" + p.cfg.Staging.Bucket + "/" + f
	}

	if err := p.sess.ConfigureSession(ctx); err != nil {
		return p.abortOutcome(core.WrapError(core.CodeConnectionDown, true, err))
	}

	merge := len(p.cfg.MergeKey) > 0
	loadTarget := p.cfg.Table
	if merge {
		loadTarget = p.tempTable()
		tempExists, err := p.admin.TempTableExists(ctx, loadTarget)
		if err != nil {
			return p.abortOutcome(err)
		}
		if !tempExists {
			if err := p.admin.CreateTempTable(ctx, loadTarget, p.cfg.Schema, p.cfg.StringLengthOrDefault()); err != nil {
				return p.abortOutcome(err)
			}
		}
	}
	p.setState(stateTableEnsured)

	columnList, err := p.copyColumnList(ctx, merge, loadTarget)
	if err != nil {
		return p.abortOutcome(err)
	}

	var loaded int64
	if len(fileURIs) > 0 {
		copyStmt := schema.BuildCopy(loadTarget, columnList, fileURIs, p.rejectTable())
		loaded, err = p.sess.ExecuteUpdate(ctx, copyStmt)
		if err != nil {
			return p.abortOutcome(core.WrapError(core.CodeDDLFailed, false, err))
		}
	}
	p.setState(stateLoaded)

	rejected, err := p.admin.CountRows(ctx, p.rejectTable())
	if err != nil {
		// No reject table means the load diverted nothing.
		rejected = 0
	}

	attempted := p.stagedRows
	if attempted == 0 {
		attempted = loaded + rejected
	}
	var rejectedFraction float64
	if attempted > 0 {
		rejectedFraction = float64(rejected) / float64(attempted)
	}

	if rejectedFraction > p.cfg.Tolerance {
		p.setState(stateReconciledFail)
		if err := p.sess.Rollback(ctx); err != nil {
			log.Printf("datapipe: rollback after tolerance breach: %v", err)
		}
		p.setState(stateRolledBack)
		// The reject table stays for diagnosis; staged files do not.
		if !p.cfg.PreventCleanup {
			if err := p.store.RemoveDir(ctx, p.cfg.Staging.Dir()); err != nil {
				log.Printf("datapipe: removing staging dir: %v", err)
			}
		}
		if p.cfg.SaveJobStatus {
			if err := p.admin.UpdateJobStatusTable(ctx, p.cfg, false, 0, rejected); err != nil {
				log.Printf("datapipe: job status update: %v", err)
			}
		}
		cause := core.Errorf(core.CodeFaultToleranceExceeded, false,
			"%d of %d rows rejected (%.4f > tolerance %.4f)", rejected, attempted, rejectedFraction, p.cfg.Tolerance)
		return core.CommitOutcome{
			Status:       core.CommitFaultToleranceExceeded,
			RowsRejected: rejected,
		}, cause
	}
	p.setState(stateReconciledOK)

	if merge && len(fileURIs) > 0 {
		mergeStmt := schema.BuildMerge(p.cfg.Table, p.tempTable(), p.cfg.Schema, p.cfg.MergeKey, p.neg)
		if _, err := p.sess.ExecuteUpdate(ctx, mergeStmt); err != nil {
			rbErr := p.sess.Rollback(ctx)
			if rbErr != nil {
				log.Printf("datapipe: rollback after merge failure: %v", rbErr)
			}
			p.setState(stateRolledBack)
			return p.abortOutcome(core.WrapError(core.CodeDDLFailed, false, err))
		}
	}

	if err := p.sess.Commit(ctx); err != nil {
		p.setState(stateRolledBack)
		return p.abortOutcome(core.WrapError(core.CodeConnectionDown, true, err))
	}

	p.housekeep(ctx, merge, rejected)
	p.setState(stateCleaned)

	if p.cfg.SaveJobStatus {
		if err := p.admin.UpdateJobStatusTable(ctx, p.cfg, true, loaded, rejected); err != nil {
			log.Printf("datapipe: job status update: %v", err)
		}
	}
	return core.CommitOutcome{
		Status:       core.CommitSucceeded,
		RowsLoaded:   loaded,
		RowsRejected: rejected,
	}, nil
}

// housekeep runs post-commit cleanup. Data is durable at this point, so
// failures are logged, never returned.
func (p *WritePipe) housekeep(ctx context.Context, merge bool, rejected int64) {
	if merge {
		if err := p.admin.DropTable(ctx, p.tempTable()); err != nil {
			log.Printf("datapipe: dropping temp table: %v", err)
		}
	}
	// The reject table stays for inspection only when it holds rows.
	if rejected == 0 {
		if err := p.admin.DropTable(ctx, p.rejectTable()); err != nil {
			log.Printf("datapipe: dropping reject table: %v", err)
		}
	}
	if !p.cfg.PreventCleanup {
		if err := p.store.RemoveDir(ctx, p.cfg.Staging.Dir()); err != nil {
			log.Printf("datapipe: removing staging dir: %v", err)
		}
	}
}

func (p *WritePipe) abortOutcome(err error) (core.CommitOutcome, error) {
	var wrapped error
	if coded, ok := err.(core.CodedError); ok {
		wrapped = coded
	} else {
		wrapped = core.WrapError(core.CodeJobAborted, false, fmt.Errorf("commit failed: %w", err))
	}
	return core.CommitOutcome{Status: core.CommitAborted, Cause: wrapped}, wrapped
}

func (p *WritePipe) copyColumnList(ctx context.Context, merge bool, loadTarget core.TableIdentity) (string, error) {
	if p.cfg.CopyColumnList != "" {
		return p.cfg.CopyColumnList, nil
	}
	if merge {
		// The temp table mirrors the job schema; natural order holds.
		return "", nil
	}
	return p.neg.CopyColumnList(ctx, p.sess, loadTarget, p.cfg.Schema)
}
