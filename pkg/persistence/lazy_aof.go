package persistence

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrClosed is returned by writes after Close.
var ErrClosed = errors.New("log writer closed")

const (
	// DefaultLazyFlushInterval is how often buffered records reach the OS.
	DefaultLazyFlushInterval = 100 * time.Millisecond
	// DefaultForceSyncInterval is how often the file is fsynced. It bounds
	// the data lost on a machine crash.
	DefaultForceSyncInterval = 1 * time.Second
	// DefaultMaxBufferSize is the number of pending records that forces a flush.
	DefaultMaxBufferSize = 1000
)

// LazyOptions tunes a LazyAOFWriter. Zero fields take the defaults.
type LazyOptions struct {
	FlushInterval time.Duration
	SyncInterval  time.Duration
	MaxBuffer     int
	Logger        *slog.Logger
}

func (o LazyOptions) withDefaults() LazyOptions {
	if o.FlushInterval <= 0 {
		o.FlushInterval = DefaultLazyFlushInterval
	}
	if o.SyncInterval <= 0 {
		o.SyncInterval = DefaultForceSyncInterval
	}
	if o.MaxBuffer <= 0 {
		o.MaxBuffer = DefaultMaxBufferSize
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// LazyAOFWriter batches records in memory and writes them to an AOFWriter
// from a background loop: every FlushInterval, when MaxBuffer records are
// pending, and on Close. The file is fsynced every SyncInterval.
//
// Append returns once the record is buffered, so a process crash can lose up
// to one flush interval of records and a machine crash up to one sync
// interval. Callers needing a hard guarantee call Sync.
type LazyAOFWriter struct {
	underlying *AOFWriter
	opts       LazyOptions
	logger     *slog.Logger

	mu      sync.Mutex
	pending []Record
	stopped bool

	kick   chan struct{}
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewLazyAOFWriter wraps underlying. The underlying writer must not be used
// directly afterwards.
func NewLazyAOFWriter(underlying *AOFWriter, opts LazyOptions) *LazyAOFWriter {
	opts = opts.withDefaults()
	lw := &LazyAOFWriter{
		underlying: underlying,
		opts:       opts,
		logger:     opts.Logger.With("component", "aof", "path", underlying.Path()),
		pending:    make([]Record, 0, opts.MaxBuffer),
		kick:       make(chan struct{}, 1),
		stopCh:     make(chan struct{}),
	}
	lw.wg.Add(1)
	go lw.run()

	lw.logger.Debug("lazy log writer started",
		"flush_interval", opts.FlushInterval,
		"sync_interval", opts.SyncInterval,
		"max_buffer", opts.MaxBuffer)
	return lw
}

// Append buffers rec. Key and Value are retained, so callers must not reuse
// them.
func (lw *LazyAOFWriter) Append(rec Record) error {
	lw.mu.Lock()
	defer lw.mu.Unlock()
	if lw.stopped {
		return ErrClosed
	}
	lw.pending = append(lw.pending, rec)
	if len(lw.pending) >= lw.opts.MaxBuffer {
		select {
		case lw.kick <- struct{}{}:
		default:
		}
	}
	return nil
}

// Flush writes pending records to the OS and blocks until done.
func (lw *LazyAOFWriter) Flush() error {
	lw.mu.Lock()
	defer lw.mu.Unlock()
	return lw.flushLocked()
}

func (lw *LazyAOFWriter) flushLocked() error {
	if len(lw.pending) == 0 {
		return nil
	}
	for i, rec := range lw.pending {
		if err := lw.underlying.Append(rec); err != nil {
			lw.pending = lw.pending[i:]
			return fmt.Errorf("append to log: %w", err)
		}
	}
	clear(lw.pending)
	lw.pending = lw.pending[:0]
	if err := lw.underlying.Flush(); err != nil {
		return fmt.Errorf("flush log buffer: %w", err)
	}
	return nil
}

// Sync flushes pending records and fsyncs the file.
func (lw *LazyAOFWriter) Sync() error {
	lw.mu.Lock()
	defer lw.mu.Unlock()
	if err := lw.flushLocked(); err != nil {
		return err
	}
	return lw.underlying.Sync()
}

// Truncate drops pending records and empties the file.
func (lw *LazyAOFWriter) Truncate() error {
	lw.mu.Lock()
	defer lw.mu.Unlock()
	clear(lw.pending)
	lw.pending = lw.pending[:0]
	return lw.underlying.Truncate()
}

// Size is the length of the file plus frames not yet flushed to it. Records
// still pending here are not counted.
func (lw *LazyAOFWriter) Size() int64 { return lw.underlying.Size() }

// Path returns the file path.
func (lw *LazyAOFWriter) Path() string { return lw.underlying.Path() }

// Close stops the background loop, writes and syncs everything pending, and
// closes the file.
func (lw *LazyAOFWriter) Close() error {
	lw.mu.Lock()
	if lw.stopped {
		lw.mu.Unlock()
		return ErrClosed
	}
	lw.stopped = true
	lw.mu.Unlock()

	close(lw.stopCh)
	lw.wg.Wait()

	lw.mu.Lock()
	defer lw.mu.Unlock()
	err := lw.flushLocked()
	if err == nil {
		err = lw.underlying.Sync()
	}
	if err != nil {
		lw.logger.Error("final log flush failed", "error", err)
	}
	return errors.Join(err, lw.underlying.Close())
}

func (lw *LazyAOFWriter) run() {
	defer lw.wg.Done()
	flush := time.NewTicker(lw.opts.FlushInterval)
	defer flush.Stop()
	fsync := time.NewTicker(lw.opts.SyncInterval)
	defer fsync.Stop()

	for {
		select {
		case <-lw.stopCh:
			return
		case <-lw.kick:
			if err := lw.Flush(); err != nil {
				lw.logger.Error("log flush failed", "error", err)
			}
		case <-flush.C:
			if err := lw.Flush(); err != nil {
				lw.logger.Error("periodic log flush failed", "error", err)
			}
		case <-fsync.C:
			if err := lw.Sync(); err != nil {
				lw.logger.Error("periodic log sync failed", "error", err)
			}
		}
	}
}
