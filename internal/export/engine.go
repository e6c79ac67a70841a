package export

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/hashicorp/go-multierror"

	"github.com/coldstore-io/coldstore/internal/source"
	"github.com/coldstore-io/coldstore/internal/spill"
)

// defaultUploadParallelism bounds concurrent part uploads per export.
const defaultUploadParallelism = 16

// Options tune one export run. Zero values take the package defaults.
type Options struct {
	// MaxRowsPerPart caps the row count of one part file; a snapshot with
	// more rows is split into multiple parts.
	MaxRowsPerPart int64

	// RowGroupTargetBytes bounds the estimated in-memory size of one
	// Parquet row group.
	RowGroupTargetBytes int64

	// SpillThresholdBytes is the per-part memory budget before staging
	// moves to a temp file.
	SpillThresholdBytes int64

	// UploadParallelism bounds concurrent part uploads.
	UploadParallelism int

	// TempDir overrides the spill file directory.
	TempDir string
}

func (o Options) withDefaults() Options {
	if o.MaxRowsPerPart < 1 {
		o.MaxRowsPerPart = defaultMaxRowsPerPart
	}
	if o.RowGroupTargetBytes < 1 {
		o.RowGroupTargetBytes = defaultRowGroupTargetBytes
	}
	if o.SpillThresholdBytes < 1 {
		o.SpillThresholdBytes = spill.DefaultThresholdBytes
	}
	if o.UploadParallelism < 1 {
		o.UploadParallelism = defaultUploadParallelism
	}
	return o
}

// PartStat summarizes one successfully uploaded part.
type PartStat struct {
	Index     int
	Rows      int64
	SizeBytes int64
}

// UploadFunc ships one sealed part to its destination. The engine closes
// the part stream after the call returns; implementations that retry must
// rewind the stream themselves between attempts.
type UploadFunc func(ctx context.Context, part Part) error

// Engine turns a source cursor into uploaded Parquet parts: rows are read
// sequentially, split into size- and row-bounded parts, and uploaded with
// bounded concurrency while the next part is being produced.
type Engine struct {
	opts Options
}

// NewEngine creates an export engine.
func NewEngine(opts Options) *Engine {
	return &Engine{opts: opts.withDefaults()}
}

type partOutcome struct {
	stat PartStat
	err  error
}

// ExportParts drains the cursor into parts and uploads each via upload.
// A snapshot with zero rows still produces exactly one empty part so the
// export is materialized. Returned stats are ordered by part index; on
// error the stats of parts that did complete are still returned.
func (e *Engine) ExportParts(ctx context.Context, table string, cur *source.Cursor, upload UploadFunc) ([]PartStat, error) {
	schema, err := InferSchema(table, cur.Columns())
	if err != nil {
		return nil, err
	}

	var (
		sem           = make(chan struct{}, e.opts.UploadParallelism)
		outcomes      = make(chan partOutcome)
		collectorDone = make(chan struct{})
		wg            sync.WaitGroup
		failed        atomic.Bool

		stats      []PartStat
		uploadErrs *multierror.Error
	)

	go func() {
		defer close(collectorDone)
		for out := range outcomes {
			if out.err != nil {
				uploadErrs = multierror.Append(uploadErrs, out.err)
				failed.Store(true)
				continue
			}
			stats = append(stats, out.stat)
		}
	}()

	dispatch := func(part Part) {
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			err := upload(ctx, part)
			part.Stream.Close()
			if err != nil {
				outcomes <- partOutcome{err: fmt.Errorf("export: part %d: %w", part.Index, err)}
				return
			}
			outcomes <- partOutcome{stat: PartStat{Index: part.Index, Rows: part.Rows, SizeBytes: part.Size}}
		}()
	}

	finish := func(produceErr error) ([]PartStat, error) {
		wg.Wait()
		close(outcomes)
		<-collectorDone

		sort.Slice(stats, func(i, j int) bool { return stats[i].Index < stats[j].Index })

		err := produceErr
		if uploadErrs != nil {
			if err != nil {
				err = multierror.Append(uploadErrs, err)
			} else {
				err = uploadErrs.ErrorOrNil()
			}
		}
		return stats, err
	}

	var (
		writer *partWriter
		index  int
	)
	abort := func(produceErr error) ([]PartStat, error) {
		if writer != nil {
			writer.abort()
		}
		return finish(produceErr)
	}

	for cur.Next() {
		if err := ctx.Err(); err != nil {
			return abort(err)
		}
		// A failed upload makes producing further parts pointless.
		if failed.Load() {
			return abort(nil)
		}

		raw, err := cur.Scan()
		if err != nil {
			return abort(err)
		}
		if writer == nil {
			writer = e.newWriter(schema)
		}
		if err := writer.writeRow(raw); err != nil {
			return abort(err)
		}

		if writer.rows >= e.opts.MaxRowsPerPart {
			part, err := writer.seal(index)
			writer = nil
			if err != nil {
				return abort(err)
			}
			index++
			dispatch(part)
		}
	}
	if err := cur.Err(); err != nil {
		return abort(fmt.Errorf("export: read source rows: %w", err))
	}

	// Final partial part, or a single empty part when the snapshot has no
	// rows at all.
	if writer == nil && index == 0 {
		writer = e.newWriter(schema)
	}
	if writer != nil {
		part, err := writer.seal(index)
		writer = nil
		if err != nil {
			return abort(err)
		}
		dispatch(part)
	}

	return finish(nil)
}

func (e *Engine) newWriter(schema *Schema) *partWriter {
	return newPartWriter(schema, e.opts.SpillThresholdBytes, e.opts.RowGroupTargetBytes, e.opts.TempDir)
}
