package pipe

import (
	"context"
	"testing"

	"github.com/nucleus/datapipe/internal/core"
	"github.com/nucleus/datapipe/internal/db"
	"github.com/nucleus/datapipe/internal/schema"
	"github.com/nucleus/datapipe/pkg/staging"
)

func newFactory(t *testing.T, sess *pipeSession, opts FactoryOptions) (*Factory, *db.SessionPool) {
	t.Helper()
	pool := db.NewSessionPool(func(context.Context) (db.Session, error) {
		return sess, nil
	})
	return NewFactory(pool, staging.NewLocalStore(t.TempDir()), opts), pool
}

func TestFactoryDetectsVersionOnce(t *testing.T) {
	ctx := context.Background()
	sess := &pipeSession{version: "Analytic Database v12.0.4"}
	f, _ := newFactory(t, sess, FactoryOptions{})

	p, err := f.NewWritePipe(ctx, writeCfg())
	if err != nil {
		t.Fatalf("NewWritePipe: %v", err)
	}
	if p.variant != WritePipeV2 {
		t.Fatalf("variant = %v", p.variant)
	}
	if p.neg.Version() != schema.NegotiatorV2 {
		t.Fatalf("negotiator = %v", p.neg.Version())
	}

	detections := 0
	for _, q := range sess.log {
		if q == "SELECT version()" {
			detections++
		}
	}
	if detections != 1 {
		t.Fatalf("version queried %d times", detections)
	}

	// A second pipe reuses the detected version.
	if _, err := f.NewReadPipe(ctx, readCfg()); err != nil {
		t.Fatalf("NewReadPipe: %v", err)
	}
	detections = 0
	for _, q := range sess.log {
		if q == "SELECT version()" {
			detections++
		}
	}
	if detections != 1 {
		t.Fatalf("version re-detected: %d", detections)
	}
}

func TestFactoryLegacyVersion(t *testing.T) {
	ctx := context.Background()
	sess := &pipeSession{version: "v10.1.0"}
	f, _ := newFactory(t, sess, FactoryOptions{})
	p, err := f.NewWritePipe(ctx, writeCfg())
	if err != nil {
		t.Fatalf("NewWritePipe: %v", err)
	}
	if p.variant != WritePipeV1 || p.neg.Version() != schema.NegotiatorV1 {
		t.Fatalf("variant %v, negotiator %v", p.variant, p.neg.Version())
	}
}

func TestFactoryWorkerPipes(t *testing.T) {
	ctx := context.Background()
	f, _ := newFactory(t, &pipeSession{}, FactoryOptions{SkipVersionDetection: true})

	p, err := f.NewWritePipe(ctx, writeCfg())
	if err != nil {
		t.Fatalf("NewWritePipe: %v", err)
	}
	// Worker pipes never dial and reject coordinator operations.
	if err := p.PrepareTarget(ctx); core.CodeValue(err) != core.CodeConfigInvalid {
		t.Fatalf("PrepareTarget = %v", err)
	}

	r, err := f.NewReadPipe(ctx, readCfg())
	if err != nil {
		t.Fatalf("NewReadPipe: %v", err)
	}
	if _, err := r.PlanPartitions(ctx); core.CodeValue(err) != core.CodeConfigInvalid {
		t.Fatalf("PlanPartitions = %v", err)
	}
}

func TestFactoryAssumedVersion(t *testing.T) {
	ctx := context.Background()
	f, _ := newFactory(t, &pipeSession{}, FactoryOptions{SkipVersionDetection: true, AssumeVersion: 10})
	p, err := f.NewWritePipe(ctx, writeCfg())
	if err != nil {
		t.Fatalf("NewWritePipe: %v", err)
	}
	if p.variant != WritePipeV1 {
		t.Fatalf("variant = %v", p.variant)
	}
}

func TestFactoryRejectsInvalidConfig(t *testing.T) {
	ctx := context.Background()
	f, _ := newFactory(t, &pipeSession{version: "v12.0"}, FactoryOptions{})
	bad := writeCfg()
	bad.SessionID = ""
	if _, err := f.NewWritePipe(ctx, bad); core.CodeValue(err) != core.CodeConfigInvalid {
		t.Fatalf("error = %v", err)
	}
}

func TestFactoryShutdownClosesSessions(t *testing.T) {
	ctx := context.Background()
	sess := &pipeSession{version: "v12.0"}
	f, _ := newFactory(t, sess, FactoryOptions{})
	if _, err := f.NewWritePipe(ctx, writeCfg()); err != nil {
		t.Fatalf("NewWritePipe: %v", err)
	}
	if err := f.Shutdown(); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if !sess.closed {
		t.Fatal("pooled session not closed")
	}
}
