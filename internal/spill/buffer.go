// Package spill provides a write-only staging sink that buffers in memory
// and transparently spills to a temporary file past a configurable byte
// threshold, bounding peak memory while an export part is produced.
package spill

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
)

// DefaultThresholdBytes is the memory-to-disk cutover used when no
// threshold is configured.
const DefaultThresholdBytes = 16 * 1024 * 1024

var bufPool = sync.Pool{
	New: func() any { return new(bytes.Buffer) },
}

// Errors returned by Buffer operations.
var (
	ErrCompleted       = errors.New("spill: buffer already completed for writing")
	ErrStreamTaken     = errors.New("spill: read stream already taken")
	ErrNothingWritten  = errors.New("spill: read before any write completed")
)

// Stream is the finalized read side of a Buffer. It is seekable so an
// upload can be retried by rewinding instead of re-producing the part.
type Stream interface {
	io.Reader
	io.Seeker
	io.Closer
}

// Buffer is a write-only sink staging one export part. Writes accumulate in
// a pooled in-memory buffer; the first write that would push cumulative
// bytes past the threshold copies buffered content to a temp file, after
// which all writes go to that file.
//
// Concurrency contract: a single producer writes sequentially, then hands
// the finalized content to exactly one consumer via ReadStream. No
// concurrent read/write.
type Buffer struct {
	threshold int64
	tempDir   string

	mem      *bytes.Buffer
	file     *os.File
	tempPath string

	written     int64
	completed   bool
	streamTaken bool
}

// Option configures a Buffer.
type Option func(*Buffer)

// WithTempDir places spill files in dir instead of the system temp
// directory.
func WithTempDir(dir string) Option {
	return func(b *Buffer) { b.tempDir = dir }
}

// New creates a Buffer with the given spill threshold in bytes.
// Non-positive thresholds spill on the first write.
func New(thresholdBytes int64, opts ...Option) *Buffer {
	if thresholdBytes < 1 {
		thresholdBytes = 1
	}
	b := &Buffer{
		threshold: thresholdBytes,
		tempDir:   os.TempDir(),
		mem:       bufPool.Get().(*bytes.Buffer),
	}
	b.mem.Reset()
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Write appends p, spilling to disk first when the cumulative size would
// exceed the threshold.
func (b *Buffer) Write(p []byte) (int, error) {
	if b.completed {
		return 0, ErrCompleted
	}

	if b.file == nil && b.written+int64(len(p)) > b.threshold {
		if err := b.spill(); err != nil {
			return 0, err
		}
	}

	var (
		n   int
		err error
	)
	if b.file != nil {
		n, err = b.file.Write(p)
	} else {
		n, err = b.mem.Write(p)
	}
	b.written += int64(n)
	return n, err
}

// spill creates the temp file, copies buffered memory into it, and releases
// the pooled buffer.
func (b *Buffer) spill() error {
	path := filepath.Join(b.tempDir, fmt.Sprintf("coldstore_spill_%s.tmp", uuid.NewString()))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("spill: create temp file: %w", err)
	}

	if _, err := f.Write(b.mem.Bytes()); err != nil {
		f.Close()
		os.Remove(path)
		return fmt.Errorf("spill: copy to temp file: %w", err)
	}

	b.releaseMem()
	b.file = f
	b.tempPath = path
	return nil
}

func (b *Buffer) releaseMem() {
	if b.mem != nil {
		b.mem.Reset()
		bufPool.Put(b.mem)
		b.mem = nil
	}
}

// Size returns the number of bytes written so far.
func (b *Buffer) Size() int64 { return b.written }

// Spilled reports whether content went to disk.
func (b *Buffer) Spilled() bool { return b.tempPath != "" }

// ReadStream finalizes the buffer and returns a stream over the content
// plus its size. Ownership of the content transfers to the returned stream:
// closing it releases the pooled buffer or deletes the temp file. The
// Buffer itself must not be written to afterwards.
func (b *Buffer) ReadStream() (Stream, int64, error) {
	if b.streamTaken {
		return nil, 0, ErrStreamTaken
	}
	b.completed = true
	b.streamTaken = true

	if b.file != nil {
		if err := b.file.Close(); err != nil {
			os.Remove(b.tempPath)
			return nil, 0, fmt.Errorf("spill: finalize temp file: %w", err)
		}
		b.file = nil

		f, err := os.Open(b.tempPath)
		if err != nil {
			os.Remove(b.tempPath)
			return nil, 0, fmt.Errorf("spill: reopen temp file: %w", err)
		}
		rc := &fileStream{File: f, path: b.tempPath}
		b.tempPath = ""
		return rc, b.written, nil
	}

	if b.mem == nil {
		return nil, 0, ErrNothingWritten
	}
	rc := &memStream{Reader: bytes.NewReader(b.mem.Bytes()), buf: b.mem}
	b.mem = nil
	return rc, b.written, nil
}

// Close releases any resources still owned by the Buffer. It is a no-op
// after ReadStream transferred ownership. Safe to call multiple times.
func (b *Buffer) Close() error {
	b.completed = true
	b.releaseMem()

	var err error
	if b.file != nil {
		err = b.file.Close()
		b.file = nil
	}
	if b.tempPath != "" {
		if rmErr := os.Remove(b.tempPath); rmErr != nil && err == nil {
			err = rmErr
		}
		b.tempPath = ""
	}
	return err
}

// memStream reads from the pooled buffer and returns it to the pool on
// Close.
type memStream struct {
	*bytes.Reader
	buf  *bytes.Buffer
	once sync.Once
}

func (s *memStream) Close() error {
	s.once.Do(func() {
		s.buf.Reset()
		bufPool.Put(s.buf)
	})
	return nil
}

// fileStream reads from the temp file and deletes it on Close.
type fileStream struct {
	*os.File
	path string
	once sync.Once
	err  error
}

func (s *fileStream) Close() error {
	s.once.Do(func() {
		s.err = s.File.Close()
		if rmErr := os.Remove(s.path); rmErr != nil && s.err == nil {
			s.err = rmErr
		}
	})
	return s.err
}
