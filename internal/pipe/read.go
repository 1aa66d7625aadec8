package pipe

import (
	"context"
	"sort"

	"github.com/nucleus/datapipe/internal/core"
	"github.com/nucleus/datapipe/internal/db"
	"github.com/nucleus/datapipe/internal/schema"
	"github.com/nucleus/datapipe/pkg/staging"
)

// ReadPipe orchestrates one read job: a coordinator-side export of the
// target store's matching rows into staged parquet files, then parallel
// per-partition row streams.
type ReadPipe struct {
	cfg   *core.ReadConfig
	sess  db.Session
	store staging.Store
	neg   *schema.Negotiator

	resolved core.ColumnSchema // negotiated output schema, cached
}

// NewReadPipe wires a read pipe. The session may be nil for worker-only
// pipes, which only open read streams from descriptors.
func NewReadPipe(cfg *core.ReadConfig, sess db.Session, store staging.Store, neg *schema.Negotiator) (*ReadPipe, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &ReadPipe{cfg: cfg, sess: sess, store: store, neg: neg}, nil
}

// Config exposes the job configuration (read-only by convention).
func (p *ReadPipe) Config() *core.ReadConfig { return p.cfg }

// PlanPartitions runs the coordinator-only initial setup: export matching
// rows into the staging directory, honoring projection, predicate, and
// aggregate pushdown, then map each staged file to one partition. A
// successful setup that yields zero partitions is itself an error;
// planning never silently returns no work.
func (p *ReadPipe) PlanPartitions(ctx context.Context) ([]core.PartitionDescriptor, error) {
	if p.sess == nil {
		return nil, core.Errorf(core.CodeConfigInvalid, false,
			"PlanPartitions is a coordinator operation; this pipe was built without a session")
	}

	if err := p.store.CreateDir(ctx, p.cfg.Staging.Dir(), 0); err != nil {
		return nil, err
	}
	if err := p.sess.Execute(ctx, schema.BuildExport(p.cfg)); err != nil {
		return nil, core.WrapError(core.CodePartitionPlanning, false, err)
	}

	files, err := p.store.ListGlob(ctx, p.cfg.Staging.Dir()+"/*."+core.StagedFileExt)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, core.Errorf(core.CodePartitionPlanning, false,
			"export reported success but staged no files at %s", p.cfg.Staging.URI())
	}
	sort.Strings(files)

	descriptors := make([]core.PartitionDescriptor, len(files))
	for i, f := range files {
		descriptors[i] = core.PartitionDescriptor{Index: i, Path: f}
	}
	return descriptors, nil
}

// ReadSchema returns the negotiated output schema, reflecting projection
// and aggregate pushdown. Introspection failures propagate as the
// negotiator's schema-discovery error.
func (p *ReadPipe) ReadSchema(ctx context.Context) (core.ColumnSchema, error) {
	if p.resolved != nil {
		return p.resolved, nil
	}
	if len(p.cfg.RequiredSchema) > 0 {
		p.resolved = p.cfg.RequiredSchema
		return p.resolved, nil
	}
	if p.sess == nil {
		return nil, core.Errorf(core.CodeConfigInvalid, false,
			"ReadSchema requires a session when no projection is configured")
	}
	discovered, err := p.neg.TableSchema(ctx, p.sess, p.cfg.Table)
	if err != nil {
		return nil, err
	}
	p.resolved = discovered
	return p.resolved, nil
}

// OpenRead opens one partition's staged row stream. Each descriptor is
// consumed by exactly one worker, which must call OpenRead once, ReadRow
// until io.EOF, then Close. Errors propagate directly; there is no retry.
func (p *ReadPipe) OpenRead(ctx context.Context, desc core.PartitionDescriptor) (staging.RowReader, error) {
	store := p.store
	if len(p.cfg.RequiredSchema) == 0 {
		resolved, err := p.ReadSchema(ctx)
		if err != nil {
			return nil, err
		}
		if binder, ok := store.(staging.SchemaBinder); ok {
			store = binder.WithSchema(resolved)
		}
	}
	return store.OpenReadStream(ctx, desc.Path)
}
