package pipe

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/nucleus/datapipe/internal/admin"
	"github.com/nucleus/datapipe/internal/core"
	"github.com/nucleus/datapipe/internal/db"
	"github.com/nucleus/datapipe/internal/schema"
	"github.com/nucleus/datapipe/pkg/staging"
)

// Variant tags the legacy or current write pipe implementation. The legacy
// pipe predates server-side external-table DDL inference.
type Variant int

const (
	WritePipeV1 Variant = iota + 1
	WritePipeV2
)

// minWritePipeV2Major is the first server major supporting DDL inference.
const minWritePipeV2Major = 12

// VariantFor selects the write pipe implementation for a server version.
func VariantFor(major int) Variant {
	if major >= minWritePipeV2Major {
		return WritePipeV2
	}
	return WritePipeV1
}

// WritePipe orchestrates one write job: pre-write target setup, staged
// partition writes by parallel workers, and the single commit transaction.
type WritePipe struct {
	cfg     *core.WriteConfig
	sess    db.Session
	store   staging.Store
	admin   *admin.Admin
	neg     *schema.Negotiator
	variant Variant

	mu          sync.Mutex
	stagedRows  int64
	stagedFiles int
	state       commitState
}

// NewWritePipe wires a write pipe from its collaborators. The session may
// be nil for worker-only pipes, which must not call coordinator operations.
func NewWritePipe(cfg *core.WriteConfig, sess db.Session, store staging.Store, neg *schema.Negotiator, variant Variant) (*WritePipe, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	p := &WritePipe{
		cfg:     cfg,
		sess:    sess,
		store:   store,
		neg:     neg,
		variant: variant,
		state:   stateNotStarted,
	}
	if sess != nil {
		p.admin = admin.New(sess, neg)
	}
	return p, nil
}

// Config exposes the job configuration (read-only by convention).
func (p *WritePipe) Config() *core.WriteConfig { return p.cfg }

func (p *WritePipe) requireCoordinator(op string) error {
	if p.sess == nil || p.admin == nil {
		return core.Errorf(core.CodeConfigInvalid, false,
			"%s is a coordinator operation; this pipe was built without a session", op)
	}
	return nil
}

// PrepareTarget runs the coordinator-only pre-write setup: view-collision
// check, overwrite drop, target creation, job-status init, and staging
// directory creation. External-table modes skip all table setup; the
// target is created at commit time instead.
func (p *WritePipe) PrepareTarget(ctx context.Context) error {
	if err := p.requireCoordinator("PrepareTarget"); err != nil {
		return err
	}

	if p.cfg.ExternalMode == core.ExternalNone {
		if err := p.prepareManagedTable(ctx); err != nil {
			return err
		}
	}

	if p.cfg.SaveJobStatus {
		operation := "copy"
		if len(p.cfg.MergeKey) > 0 {
			operation = "merge"
		}
		if err := p.admin.CreateAndInitJobStatusTable(ctx, p.cfg, operation); err != nil {
			return err
		}
	}

	// Existing-data external tables read files already staged; there is
	// nothing for this job's workers to write.
	if p.cfg.ExternalMode == core.ExternalExistingData {
		return nil
	}
	return p.store.CreateDir(ctx, p.cfg.Staging.Dir(), p.cfg.FilePermissions)
}

func (p *WritePipe) prepareManagedTable(ctx context.Context) error {
	viewExists, err := p.admin.ViewExists(ctx, p.cfg.Table)
	if err != nil {
		return err
	}
	if viewExists {
		return core.Errorf(core.CodeViewExists, false,
			"a view named %s already exists", p.cfg.Table)
	}

	if p.cfg.Mode == core.WriteModeOverwrite {
		if err := p.admin.DropTable(ctx, p.cfg.Table); err != nil {
			return err
		}
	}

	tempExists, err := p.admin.TempTableExists(ctx, p.tempTable())
	if err != nil {
		return err
	}
	if tempExists {
		return nil
	}

	tableExists, err := p.admin.TableExists(ctx, p.cfg.Table)
	if err != nil {
		return err
	}
	if tableExists {
		return nil
	}
	if p.cfg.Mode == core.WriteModeAppend {
		return core.Errorf(core.CodeConfigInvalid, false,
			"append mode requires existing table %s", p.cfg.Table)
	}
	// 0 row-group size: reserved storage hint, unused today.
	return p.admin.CreateTable(ctx, p.cfg.Table, p.cfg.Schema, p.cfg.TableDDL,
		p.cfg.StringLengthOrDefault(), 0)
}

// PartitionWrite is one worker's handle on its staged partition file. The
// three-call protocol is Start -> WriteData... -> End, never interleaved
// with another worker on the same file.
type PartitionWrite struct {
	pipe        *WritePipe
	partitionID string
	writer      staging.FileWriter
	done        bool
}

// StartPartitionWrite opens the staged file <dir>/<id>.parquet for
// exclusive write. An open failure aborts all staged output for the job:
// the whole staging directory is removed unless cleanup is disabled, and
// the staging store's error propagates unchanged.
func (p *WritePipe) StartPartitionWrite(ctx context.Context, partitionID string) (*PartitionWrite, error) {
	path := p.partitionPath(partitionID)
	w, err := p.store.OpenWriteFile(ctx, path)
	if err != nil {
		if !p.cfg.PreventCleanup {
			if rmErr := p.store.RemoveDir(ctx, p.cfg.Staging.Dir()); rmErr != nil {
				log.Printf("datapipe: staging cleanup after open failure: %v", rmErr)
			}
		}
		return nil, err
	}
	return &PartitionWrite{pipe: p, partitionID: partitionID, writer: w}, nil
}

// WriteData appends a block to the open staged file. No partial-block
// writes are exposed: a failed block fails the partition.
func (w *PartitionWrite) WriteData(block *core.DataBlock) error {
	if w.done {
		return core.Errorf(core.CodeConfigInvalid, false,
			"partition %s already ended", w.partitionID)
	}
	return w.writer.WriteBlock(block)
}

// EndPartitionWrite closes the staged file, making it durable and visible
// to the commit's glob.
func (w *PartitionWrite) EndPartitionWrite(ctx context.Context) (*core.PartitionResult, error) {
	if w.done {
		return nil, core.Errorf(core.CodeConfigInvalid, false,
			"partition %s already ended", w.partitionID)
	}
	w.done = true
	stats, err := w.writer.Close(ctx)
	if err != nil {
		return nil, err
	}
	w.pipe.recordPartition(stats)
	return &core.PartitionResult{
		PartitionID: w.partitionID,
		Rows:        stats.Rows,
		Bytes:       stats.Bytes,
		Checksum:    stats.Checksum,
	}, nil
}

// Discard abandons the partition without making it durable; its rows will
// not be observed by the commit.
func (w *PartitionWrite) Discard() {
	if w.done {
		return
	}
	w.done = true
	w.writer.Discard()
}

func (p *WritePipe) recordPartition(stats *staging.WriteStats) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stagedRows += stats.Rows
	p.stagedFiles++
}

// Abort is invoked when the surrounding job fails for reasons outside this
// pipe. It attempts the same cleanup as a failed commit, best-effort;
// failures are reported as an aborted-job error so callers can tell "job
// cancelled" apart from "data quality rejected".
func (p *WritePipe) Abort(ctx context.Context, partitionIDs []string) error {
	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if p.sess != nil && !p.sess.IsClosed() {
		keep(p.sess.Rollback(ctx))
		if p.admin != nil {
			keep(p.admin.DropTable(ctx, p.tempTable()))
			keep(p.admin.DropTable(ctx, p.rejectTable()))
		}
	}

	// Staged output is per-job, not per-partition: the ids are logged for
	// diagnosis but cleanup always covers the whole staging directory.
	if len(partitionIDs) > 0 {
		log.Printf("datapipe: aborting job %s with partitions %v", p.cfg.SessionID, partitionIDs)
	}
	if !p.cfg.PreventCleanup {
		keep(p.store.RemoveDir(ctx, p.cfg.Staging.Dir()))
	}

	if firstErr != nil {
		return core.WrapError(core.CodeJobAborted, false,
			fmt.Errorf("abort cleanup incomplete: %w", firstErr))
	}
	return nil
}

func (p *WritePipe) partitionPath(partitionID string) string {
	return p.cfg.Staging.Dir() + "/" + partitionID + "." + core.StagedFileExt
}

func (p *WritePipe) tempTable() core.TableIdentity {
	return core.TableIdentity{Name: p.cfg.TempTableName(), Namespace: p.cfg.Table.Namespace}
}

func (p *WritePipe) rejectTable() core.TableIdentity {
	return core.TableIdentity{Name: p.cfg.RejectTableName(), Namespace: p.cfg.Table.Namespace}
}
