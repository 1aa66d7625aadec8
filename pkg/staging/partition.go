package staging

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/nucleus/datapipe/internal/core"
	"github.com/xitongsys/parquet-go-source/buffer"
	writerfile "github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/reader"
	"github.com/xitongsys/parquet-go/writer"
	"github.com/zeebo/xxh3"
)

const parquetParallelism = 4

// partitionWriter encodes row blocks into a single parquet partition file.
// The encoded bytes are handed to the object store only on Close, which is
// what makes a partition durable and visible to ListGlob.
type partitionWriter struct {
	buf    *bytes.Buffer
	pw     *writer.JSONWriter
	schema core.ColumnSchema
	rows   int64
	closed bool

	publish func(ctx context.Context, data []byte) error
}

func newPartitionWriter(schema core.ColumnSchema, publish func(context.Context, []byte) error) (*partitionWriter, error) {
	buf := &bytes.Buffer{}
	pfw := writerfile.NewWriterFile(buf)
	pw, err := writer.NewJSONWriter(buildParquetSchema(schema), pfw, parquetParallelism)
	if err != nil {
		return nil, wrapError(CodeStagingWriteFailed, false, err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY
	return &partitionWriter{buf: buf, pw: pw, schema: schema, publish: publish}, nil
}

func (w *partitionWriter) WriteBlock(block *core.DataBlock) error {
	if w.closed {
		return wrapError(CodeStagingWriteFailed, false, fmt.Errorf("partition file already closed"))
	}
	for _, row := range block.Rows {
		encoded, err := json.Marshal(projectRow(row, w.schema))
		if err != nil {
			return wrapError(CodeStagingWriteFailed, false, err)
		}
		if err := w.pw.Write(string(encoded)); err != nil {
			return wrapError(CodeStagingWriteFailed, true, err)
		}
		w.rows++
	}
	return nil
}

func (w *partitionWriter) Close(ctx context.Context) (*WriteStats, error) {
	if w.closed {
		return nil, wrapError(CodeStagingWriteFailed, false, fmt.Errorf("partition file already closed"))
	}
	w.closed = true
	if err := w.pw.WriteStop(); err != nil {
		return nil, wrapError(CodeStagingWriteFailed, true, err)
	}
	data := w.buf.Bytes()
	if err := w.publish(ctx, data); err != nil {
		return nil, err
	}
	return &WriteStats{
		Rows:     w.rows,
		Bytes:    int64(len(data)),
		Checksum: xxh3.Hash(data),
	}, nil
}

func (w *partitionWriter) Discard() {
	if w.closed {
		return
	}
	w.closed = true
	_ = w.pw.WriteStop()
}

// partitionReader streams rows back out of an encoded parquet file.
type partitionReader struct {
	pr      *reader.ParquetReader
	schema  core.ColumnSchema
	pending []core.Row
	read    int64
	total   int64
	done    bool
}

const readBatchSize = 512

func newPartitionReader(data []byte, schema core.ColumnSchema) (*partitionReader, error) {
	pf, err := buffer.NewBufferFile(data)
	if err != nil {
		return nil, wrapError(CodeStagingReadFailed, false, err)
	}
	pr, err := reader.NewParquetReader(pf, nil, parquetParallelism)
	if err != nil {
		return nil, wrapError(CodeStagingReadFailed, false, err)
	}
	return &partitionReader{pr: pr, schema: schema, total: int64(pr.GetNumRows())}, nil
}

func (r *partitionReader) ReadRow() (core.Row, error) {
	if r.done {
		return nil, io.EOF
	}
	if len(r.pending) == 0 {
		if r.read >= r.total {
			r.done = true
			return nil, io.EOF
		}
		n := readBatchSize
		if remaining := r.total - r.read; remaining < int64(n) {
			n = int(remaining)
		}
		raw, err := r.pr.ReadByNumber(n)
		if err != nil {
			return nil, wrapError(CodeStagingReadFailed, true, err)
		}
		if len(raw) == 0 {
			r.done = true
			return nil, io.EOF
		}
		rows, err := decodeRows(raw, r.schema)
		if err != nil {
			return nil, err
		}
		r.pending = rows
		r.read += int64(len(raw))
	}
	row := r.pending[0]
	r.pending = r.pending[1:]
	return row, nil
}

func (r *partitionReader) Close() error {
	r.done = true
	r.pr.ReadStop()
	return nil
}

// buildParquetSchema renders the JSON tag schema parquet-go expects.
func buildParquetSchema(schema core.ColumnSchema) string {
	fields := make([]map[string]string, 0, len(schema))
	for _, c := range schema {
		repetition := "REQUIRED"
		if c.Nullable {
			repetition = "OPTIONAL"
		}
		fields = append(fields, map[string]string{
			"Tag": fmt.Sprintf("name=%s, type=%s, repetitiontype=%s", c.Name, parquetFieldType(c.Type), repetition),
		})
	}
	out := map[string]any{
		"Tag":    "name=parquet_go_root, repetitiontype=REQUIRED",
		"Fields": fields,
	}
	b, _ := json.Marshal(out)
	return string(b)
}

func parquetFieldType(t core.LogicalType) string {
	switch t {
	case core.TypeBoolean:
		return "BOOLEAN"
	case core.TypeInteger, core.TypeBigint:
		return "INT64"
	case core.TypeFloat, core.TypeNumeric:
		return "DOUBLE"
	case core.TypeVarchar, core.TypeDate, core.TypeTimestamp:
		return "BYTE_ARRAY, convertedtype=UTF8"
	default:
		return "BYTE_ARRAY"
	}
}

// projectRow keeps only schema columns, in a shape JSONWriter can convert.
func projectRow(row core.Row, schema core.ColumnSchema) map[string]any {
	out := make(map[string]any, len(schema))
	for _, c := range schema {
		out[c.Name] = row[c.Name]
	}
	return out
}

// decodeRows converts parquet-go's generated structs back into schema-keyed
// rows with canonical Go types per column.
func decodeRows(raw []any, schema core.ColumnSchema) ([]core.Row, error) {
	rows := make([]core.Row, 0, len(raw))
	for _, item := range raw {
		encoded, err := json.Marshal(item)
		if err != nil {
			return nil, wrapError(CodeStagingReadFailed, false, err)
		}
		dec := json.NewDecoder(bytes.NewReader(encoded))
		dec.UseNumber()
		var generic map[string]any
		if err := dec.Decode(&generic); err != nil {
			return nil, wrapError(CodeStagingReadFailed, false, err)
		}
		// parquet-go exports struct fields with altered casing; match
		// back to schema names case-insensitively.
		lowered := make(map[string]any, len(generic))
		for k, v := range generic {
			lowered[strings.ToLower(k)] = v
		}
		row := make(core.Row, len(schema))
		for _, c := range schema {
			val, err := coerceValue(lowered[strings.ToLower(c.Name)], c.Type)
			if err != nil {
				return nil, wrapError(CodeStagingReadFailed, false,
					fmt.Errorf("column %s: %w", c.Name, err))
			}
			row[c.Name] = val
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func coerceValue(v any, t core.LogicalType) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch t {
	case core.TypeBoolean:
		b, ok := v.(bool)
		if !ok {
			return nil, fmt.Errorf("expected bool, got %T", v)
		}
		return b, nil
	case core.TypeInteger, core.TypeBigint:
		num, ok := v.(json.Number)
		if !ok {
			return nil, fmt.Errorf("expected number, got %T", v)
		}
		return num.Int64()
	case core.TypeFloat, core.TypeNumeric:
		num, ok := v.(json.Number)
		if !ok {
			return nil, fmt.Errorf("expected number, got %T", v)
		}
		return num.Float64()
	default:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("expected string, got %T", v)
		}
		return s, nil
	}
}
