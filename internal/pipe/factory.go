package pipe

import (
	"context"

	"github.com/nucleus/datapipe/internal/core"
	"github.com/nucleus/datapipe/internal/db"
	"github.com/nucleus/datapipe/internal/schema"
	"github.com/nucleus/datapipe/pkg/staging"
)

// FactoryOptions tune pipe construction.
type FactoryOptions struct {
	// SkipVersionDetection builds pipes without dialing the target store,
	// for non-coordinating workers that must not open a connection. Such
	// pipes reject coordinator operations.
	SkipVersionDetection bool
	// AssumeVersion is the server major used when detection is skipped or
	// for tests; 0 means detect.
	AssumeVersion int
}

// Factory builds write and read pipes bound to validated configurations,
// selecting the negotiator dialect and pipe variant from the target
// store's version. It keeps at most one live session per mode through the
// session pool its owner supplies.
type Factory struct {
	pool    *db.SessionPool
	objects staging.ObjectStore
	opts    FactoryOptions

	detectedMajor int
}

// NewFactory wires a factory from a session pool and object store.
func NewFactory(pool *db.SessionPool, objects staging.ObjectStore, opts FactoryOptions) *Factory {
	return &Factory{pool: pool, objects: objects, opts: opts}
}

// serverMajor resolves the target version once per factory.
func (f *Factory) serverMajor(ctx context.Context, mode db.Mode) (int, error) {
	if f.opts.AssumeVersion > 0 {
		return f.opts.AssumeVersion, nil
	}
	if f.detectedMajor > 0 {
		return f.detectedMajor, nil
	}
	sess, err := f.pool.Get(ctx, mode)
	if err != nil {
		return 0, err
	}
	major, err := db.ServerVersion(ctx, sess)
	if err != nil {
		return 0, err
	}
	f.detectedMajor = major
	return major, nil
}

// NewWritePipe builds the write pipe variant for the detected version.
func (f *Factory) NewWritePipe(ctx context.Context, cfg *core.WriteConfig) (*WritePipe, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	store := staging.NewObjectStagingStore(f.objects, cfg.Staging.Bucket, cfg.Schema)

	if f.opts.SkipVersionDetection {
		major := f.opts.AssumeVersion
		if major == 0 {
			major = minWritePipeV2Major
		}
		neg := schema.NewNegotiator(schema.NegotiatorFor(major))
		return NewWritePipe(cfg, nil, store, neg, VariantFor(major))
	}

	major, err := f.serverMajor(ctx, db.ModeWrite)
	if err != nil {
		return nil, err
	}
	sess, err := f.pool.Get(ctx, db.ModeWrite)
	if err != nil {
		return nil, err
	}
	neg := schema.NewNegotiator(schema.NegotiatorFor(major))
	return NewWritePipe(cfg, sess, store, neg, VariantFor(major))
}

// NewReadPipe builds the read pipe for the detected version.
func (f *Factory) NewReadPipe(ctx context.Context, cfg *core.ReadConfig) (*ReadPipe, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	readSchema := cfg.RequiredSchema
	store := staging.NewObjectStagingStore(f.objects, cfg.Staging.Bucket, readSchema)

	if f.opts.SkipVersionDetection {
		major := f.opts.AssumeVersion
		if major == 0 {
			major = minWritePipeV2Major
		}
		neg := schema.NewNegotiator(schema.NegotiatorFor(major))
		return NewReadPipe(cfg, nil, store, neg)
	}

	major, err := f.serverMajor(ctx, db.ModeRead)
	if err != nil {
		return nil, err
	}
	sess, err := f.pool.Get(ctx, db.ModeRead)
	if err != nil {
		return nil, err
	}
	neg := schema.NewNegotiator(schema.NegotiatorFor(major))
	return NewReadPipe(cfg, sess, store, neg)
}

// Shutdown closes every pooled session.
func (f *Factory) Shutdown() error {
	return f.pool.Shutdown()
}
