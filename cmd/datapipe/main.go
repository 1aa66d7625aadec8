// Command datapipe runs a bulk write or read job described by a YAML job
// file. Write jobs consume newline-delimited JSON rows on stdin and stage
// them in parallel before a single coordinated load; read jobs export the
// source and print rows as JSON on stdout.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/nucleus/datapipe/internal/config"
	"github.com/nucleus/datapipe/internal/core"
	"github.com/nucleus/datapipe/internal/db"
	"github.com/nucleus/datapipe/internal/pipe"
	"github.com/nucleus/datapipe/pkg/orchestration"
)

const blockRows = 1024

func main() {
	jobPath := flag.String("job", "", "path to YAML job file")
	input := flag.String("input", "-", "row input for write jobs (JSON lines, - for stdin)")
	flag.Parse()

	if *jobPath == "" {
		fmt.Fprintln(os.Stderr, "usage: datapipe -job <file.yaml> [-input rows.jsonl]")
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *jobPath, *input); err != nil {
		fmt.Fprintf(os.Stderr, "datapipe: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, jobPath, input string) error {
	env := config.LoadEnvironment()
	job, err := config.LoadJobFile(jobPath)
	if err != nil {
		return err
	}
	objects, err := env.ObjectStore()
	if err != nil {
		return err
	}
	pool := db.NewConnectionPool(env.Connection())
	factory := pipe.NewFactory(pool, objects, pipe.FactoryOptions{})
	defer func() {
		if err := factory.Shutdown(); err != nil {
			fmt.Fprintf(os.Stderr, "datapipe: shutdown: %v\n", err)
		}
	}()

	if job.Write != nil {
		return runWrite(ctx, factory, env, job, input)
	}
	return runRead(ctx, factory, env, job)
}

func runWrite(ctx context.Context, factory *pipe.Factory, env *config.Environment, job *config.JobFile, input string) error {
	cfg, err := job.WriteConfig(env)
	if err != nil {
		return err
	}
	p, err := factory.NewWritePipe(ctx, cfg)
	if err != nil {
		return err
	}

	in := os.Stdin
	if input != "-" {
		f, err := os.Open(input)
		if err != nil {
			return err
		}
		defer f.Close()
		in = f
	}

	partitions := job.Partitions()
	feeds := make([]chan *core.DataBlock, partitions)
	for i := range feeds {
		feeds[i] = make(chan *core.DataBlock, 1)
	}
	readErr := make(chan error, 1)
	go func() {
		readErr <- feedPartitions(ctx, in, feeds)
		for _, feed := range feeds {
			close(feed)
		}
	}()

	report, err := orchestration.RunWrite(ctx, p, partitions, func(i int) orchestration.BlockSource {
		return channelSource(feeds[i])
	})
	if err != nil {
		return err
	}
	if err := <-readErr; err != nil {
		return err
	}
	fmt.Printf("committed %s: status=%s loaded=%d rejected=%d partitions=%d\n",
		cfg.Table.Qualified(), report.Outcome.Status,
		report.Outcome.RowsLoaded, report.Outcome.RowsRejected, len(report.Partitions))
	return nil
}

// feedPartitions splits input rows round-robin across the partition feeds,
// batching them into blocks.
func feedPartitions(ctx context.Context, in io.Reader, feeds []chan *core.DataBlock) error {
	blocks := make([]*core.DataBlock, len(feeds))
	flush := func(i int) error {
		if blocks[i] == nil || len(blocks[i].Rows) == 0 {
			return nil
		}
		select {
		case feeds[i] <- blocks[i]:
			blocks[i] = nil
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	sc := bufio.NewScanner(in)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	n := 0
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var row core.Row
		if err := json.Unmarshal(line, &row); err != nil {
			return fmt.Errorf("input line %d: %w", n+1, err)
		}
		i := n % len(feeds)
		if blocks[i] == nil {
			blocks[i] = &core.DataBlock{}
		}
		blocks[i].Rows = append(blocks[i].Rows, row)
		if len(blocks[i].Rows) >= blockRows {
			if err := flush(i); err != nil {
				return err
			}
		}
		n++
	}
	if err := sc.Err(); err != nil {
		return err
	}
	for i := range feeds {
		if err := flush(i); err != nil {
			return err
		}
	}
	return nil
}

type channelSource <-chan *core.DataBlock

func (c channelSource) NextBlock(ctx context.Context) (*core.DataBlock, error) {
	select {
	case block, ok := <-c:
		if !ok {
			return nil, io.EOF
		}
		return block, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func runRead(ctx context.Context, factory *pipe.Factory, env *config.Environment, job *config.JobFile) error {
	cfg, err := job.ReadConfig(env)
	if err != nil {
		return err
	}
	p, err := factory.NewReadPipe(ctx, cfg)
	if err != nil {
		return err
	}

	var mu sync.Mutex
	out := bufio.NewWriter(os.Stdout)
	defer out.Flush()
	enc := json.NewEncoder(out)

	return orchestration.RunRead(ctx, p, func(_ core.PartitionDescriptor, row core.Row) error {
		mu.Lock()
		defer mu.Unlock()
		return enc.Encode(row)
	})
}
