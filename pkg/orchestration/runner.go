// Package orchestration runs whole jobs against the pipes: one coordinator
// preparing and committing, N workers streaming partitions in parallel.
package orchestration

import (
	"context"
	"errors"
	"io"
	"log"
	"sort"
	"strconv"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/nucleus/datapipe/internal/core"
	"github.com/nucleus/datapipe/internal/pipe"
)

// BlockSource yields one partition's data blocks in order. Returning
// io.EOF ends the partition cleanly; any other error fails the job.
type BlockSource interface {
	NextBlock(ctx context.Context) (*core.DataBlock, error)
}

// SourceFunc builds the block source for a partition index.
type SourceFunc func(partition int) BlockSource

// RowSink consumes rows read back from one partition.
type RowSink func(desc core.PartitionDescriptor, row core.Row) error

// WriteReport is the result of a completed write job.
type WriteReport struct {
	Outcome    core.CommitOutcome
	Partitions []core.PartitionResult
}

// RunWrite executes a full write job: target preparation, parallel
// partition staging, then a single commit. Any partition failure cancels
// the remaining workers and aborts the job, discarding staged output.
func RunWrite(ctx context.Context, p *pipe.WritePipe, partitions int, source SourceFunc) (*WriteReport, error) {
	if partitions <= 0 {
		partitions = 1
	}
	if err := p.PrepareTarget(ctx); err != nil {
		return nil, err
	}

	var (
		mu      sync.Mutex
		staged  []string
		results = make([]core.PartitionResult, partitions)
	)
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < partitions; i++ {
		i := i
		g.Go(func() error {
			id := strconv.Itoa(i)
			pw, err := p.StartPartitionWrite(gctx, id)
			if err != nil {
				return err
			}
			src := source(i)
			for {
				block, err := src.NextBlock(gctx)
				if err == io.EOF {
					break
				}
				if err != nil {
					pw.Discard()
					return err
				}
				if err := pw.WriteData(block); err != nil {
					pw.Discard()
					return err
				}
			}
			res, err := pw.EndPartitionWrite(gctx)
			if err != nil {
				return err
			}
			mu.Lock()
			staged = append(staged, id)
			results[i] = *res
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		sort.Strings(staged)
		if abortErr := p.Abort(ctx, staged); abortErr != nil {
			log.Printf("datapipe: abort after failed write: %v", abortErr)
		}
		return nil, err
	}

	outcome, err := p.Commit(ctx)
	if err != nil {
		return nil, err
	}
	return &WriteReport{Outcome: outcome, Partitions: results}, nil
}

// RunRead executes a full read job: export planning, then parallel
// partition reads pumped into the sink. The sink is called from multiple
// goroutines and must be safe for concurrent use.
func RunRead(ctx context.Context, p *pipe.ReadPipe, sink RowSink) error {
	descs, err := p.PlanPartitions(ctx)
	if err != nil {
		return err
	}
	g, gctx := errgroup.WithContext(ctx)
	if hint := p.Config().PartitionCountHint; hint > 0 {
		g.SetLimit(hint)
	}
	for _, desc := range descs {
		desc := desc
		g.Go(func() error {
			r, err := p.OpenRead(gctx, desc)
			if err != nil {
				return err
			}
			defer r.Close()
			for {
				row, err := r.ReadRow()
				if errors.Is(err, io.EOF) {
					return nil
				}
				if err != nil {
					return err
				}
				if err := sink(desc, row); err != nil {
					return err
				}
			}
		})
	}
	return g.Wait()
}
