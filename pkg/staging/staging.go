// Package staging implements the staging-store side of the bulk data pipe:
// partition files written by parallel workers into an object store, read
// back as row streams, and listed for bulk loads. Partition files are
// parquet; durability is at CloseWriteFile time, so a bulk load only ever
// observes files whose writer completed.
package staging

import (
	"context"

	"github.com/nucleus/datapipe/internal/core"
)

// Store is the staging-store contract consumed by the write and read pipes.
// Paths are slash-separated keys within the store's bucket. No two workers
// of one job contend for the same path.
type Store interface {
	// CreateDir ensures the staging directory exists. Idempotent.
	CreateDir(ctx context.Context, dir string, perms uint32) error
	// RemoveDir removes the staging directory and everything under it.
	// Removing an absent directory is not an error.
	RemoveDir(ctx context.Context, dir string) error
	// OpenWriteFile opens a partition file for exclusive write.
	OpenWriteFile(ctx context.Context, path string) (FileWriter, error)
	// OpenReadStream opens a completed partition file for row-at-a-time reads.
	OpenReadStream(ctx context.Context, path string) (RowReader, error)
	// ListGlob returns paths matching pattern (directory prefix plus a
	// base-name glob, e.g. "jobdir/*.parquet"), sorted.
	ListGlob(ctx context.Context, pattern string) ([]string, error)
}

// FileWriter accumulates row blocks for one partition file. The file
// becomes durable and visible to ListGlob only when Close succeeds.
type FileWriter interface {
	WriteBlock(block *core.DataBlock) error
	Close(ctx context.Context) (*WriteStats, error)
	// Discard abandons the file without making it durable.
	Discard()
}

// RowReader yields one row per call. io.EOF marks end of partition; ReadRow
// must not be called again after it.
type RowReader interface {
	ReadRow() (core.Row, error)
	Close() error
}

// WriteStats summarizes one closed partition file.
type WriteStats struct {
	Rows     int64
	Bytes    int64
	Checksum uint64 // xxh3 of the encoded file
}
