package export

import (
	"fmt"

	"github.com/parquet-go/parquet-go"

	"github.com/coldstore-io/coldstore/internal/spill"
)

const (
	// defaultRowGroupTargetBytes bounds the estimated in-memory size of one
	// row group before it is flushed to the spill buffer.
	defaultRowGroupTargetBytes = 8 * 1024 * 1024

	// defaultMaxRowsPerPart caps the row count of one part file.
	defaultMaxRowsPerPart = 50_000
)

// Part is one sealed export part ready for upload. The stream is seekable
// so a failed upload can rewind and retry.
type Part struct {
	Index  int
	Rows   int64
	Size   int64
	Stream spill.Stream
}

// partWriter accumulates converted rows and writes them as Parquet row
// groups into a spill buffer.
type partWriter struct {
	schema *Schema
	buf    *spill.Buffer
	writer *parquet.GenericWriter[map[string]any]

	pending      []map[string]any
	pendingBytes int64
	rows         int64

	groupTargetBytes int64
	groupMaxRows     int64
}

func newPartWriter(schema *Schema, spillThreshold, groupTargetBytes int64, tempDir string) *partWriter {
	if groupTargetBytes < 1 {
		groupTargetBytes = defaultRowGroupTargetBytes
	}
	var opts []spill.Option
	if tempDir != "" {
		opts = append(opts, spill.WithTempDir(tempDir))
	}
	buf := spill.New(spillThreshold, opts...)
	return &partWriter{
		schema:           schema,
		buf:              buf,
		writer:           parquet.NewGenericWriter[map[string]any](buf, schema.Parquet),
		groupTargetBytes: groupTargetBytes,
		groupMaxRows:     groupTargetBytes / 1024,
	}
}

// writeRow converts one raw driver row and stages it, flushing a row group
// when the pending estimate crosses the target.
func (w *partWriter) writeRow(raw []any) error {
	if len(raw) != len(w.schema.Columns) {
		return fmt.Errorf("export: row has %d values, schema has %d columns", len(raw), len(w.schema.Columns))
	}

	row := make(map[string]any, len(raw))
	var size int64
	for i, v := range raw {
		size += estimateSize(v)
		if v == nil {
			continue
		}
		col := w.schema.Columns[i]
		converted, err := col.Kind.convert(v)
		if err != nil {
			return fmt.Errorf("export: column %s: %w", col.Name, err)
		}
		row[col.Name] = converted
	}

	w.pending = append(w.pending, row)
	w.pendingBytes += size
	w.rows++

	if w.pendingBytes >= w.groupTargetBytes || int64(len(w.pending)) >= w.groupMaxRows {
		return w.flushGroup()
	}
	return nil
}

// flushGroup writes the pending rows as one row group.
func (w *partWriter) flushGroup() error {
	if len(w.pending) == 0 {
		return nil
	}
	if _, err := w.writer.Write(w.pending); err != nil {
		return fmt.Errorf("export: write row group: %w", err)
	}
	if err := w.writer.Flush(); err != nil {
		return fmt.Errorf("export: flush row group: %w", err)
	}
	w.pending = w.pending[:0]
	w.pendingBytes = 0
	return nil
}

// seal finalizes the part file and hands back its content stream. On
// success the caller owns the stream; on error resources are released.
func (w *partWriter) seal(index int) (Part, error) {
	if err := w.flushGroup(); err != nil {
		w.abort()
		return Part{}, err
	}
	if err := w.writer.Close(); err != nil {
		w.abort()
		return Part{}, fmt.Errorf("export: close part writer: %w", err)
	}

	stream, size, err := w.buf.ReadStream()
	if err != nil {
		w.abort()
		return Part{}, err
	}
	return Part{Index: index, Rows: w.rows, Size: size, Stream: stream}, nil
}

// abort discards the part and releases its staging resources.
func (w *partWriter) abort() {
	w.buf.Close()
}
