// Package engine is the embedded entity/relationship store.
//
// State lives in memory: entities by id, a B-tree over their scalar
// properties and a B-tree of relationships ordered by source. Every mutation
// is appended to a framed append-only log before it is applied; a
// zstd-compressed snapshot periodically captures the whole state and resets
// the log. Open restores the snapshot and replays the log on top of it.
//
// Basic usage:
//
//	db, err := engine.Open(engine.DefaultOptions("./data"))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
package engine

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sanonone/kektorgraph/pkg/persistence"
)

// Options configures persistence and maintenance.
type Options struct {
	// DataDir holds the log and the snapshot. It is created if missing.
	DataDir string

	// AofFilename names the log (default "kektorgraph.aof"). The snapshot is
	// stored next to it with the ".snap" extension.
	AofFilename string

	// AutoSaveInterval and AutoSaveThreshold trigger a background snapshot
	// once both that much time has passed and that many writes happened since
	// the last one. Zero in either disables auto-save.
	AutoSaveInterval  time.Duration
	AutoSaveThreshold int64

	// FlushInterval and SyncInterval tune the log writer; see
	// persistence.LazyOptions.
	FlushInterval time.Duration
	SyncInterval  time.Duration

	Logger *slog.Logger
}

// DefaultOptions snapshots every 60s when at least 1000 writes happened.
func DefaultOptions(dataDir string) Options {
	return Options{
		DataDir:           dataDir,
		AofFilename:       "kektorgraph.aof",
		AutoSaveInterval:  60 * time.Second,
		AutoSaveThreshold: 1000,
		FlushInterval:     persistence.DefaultLazyFlushInterval,
		SyncInterval:      persistence.DefaultForceSyncInterval,
	}
}

// Engine implements store.Store.
type Engine struct {
	mu    sync.RWMutex
	state *graph

	aof      *persistence.LazyAOFWriter
	opts     Options
	logger   *slog.Logger
	snapPath string

	dirtyCounter int64
	lastSave     atomic.Int64

	// adminMu serializes snapshots.
	adminMu sync.Mutex

	closed    chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// Open loads the snapshot, replays the log and starts background
// maintenance. It returns once the store is ready.
func Open(opts Options) (*Engine, error) {
	if opts.AofFilename == "" {
		opts.AofFilename = "kektorgraph.aof"
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if err := os.MkdirAll(opts.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	aofPath := filepath.Join(opts.DataDir, opts.AofFilename)
	e := &Engine{
		state:    newGraph(),
		opts:     opts,
		logger:   opts.Logger.With("component", "engine"),
		snapPath: strings.TrimSuffix(aofPath, filepath.Ext(aofPath)) + ".snap",
		closed:   make(chan struct{}),
	}
	e.lastSave.Store(time.Now().UnixNano())

	start := time.Now()
	entities, err := e.loadSnapshot()
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot: %w", err)
	}
	stats, err := persistence.Replay(aofPath, e.logger, e.applyRecord)
	if err != nil {
		return nil, fmt.Errorf("failed to replay AOF: %w", err)
	}
	e.dirtyCounter = int64(stats.Records)

	writer, err := persistence.OpenAOF(aofPath)
	if err != nil {
		return nil, err
	}
	e.aof = persistence.NewLazyAOFWriter(writer, persistence.LazyOptions{
		FlushInterval: opts.FlushInterval,
		SyncInterval:  opts.SyncInterval,
		Logger:        opts.Logger,
	})

	e.logger.Info("store opened",
		"data_dir", opts.DataDir,
		"snapshot_entities", entities,
		"replayed_records", stats.Records,
		"repaired", stats.Repaired,
		"entities", len(e.state.entities),
		"elapsed", time.Since(start).Round(time.Millisecond))

	e.wg.Add(1)
	go e.backgroundTasks()
	return e, nil
}

// Close stops background maintenance and flushes and syncs the log. It does
// not snapshot; the log alone restores the state.
func (e *Engine) Close() error {
	var err error
	e.closeOnce.Do(func() {
		close(e.closed)
		e.wg.Wait()
		err = e.aof.Close()
	})
	return err
}

// Sync blocks until every acknowledged write is on disk.
func (e *Engine) Sync() error {
	return e.aof.Sync()
}

func (e *Engine) backgroundTasks() {
	defer e.wg.Done()
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-e.closed:
			return
		case <-ticker.C:
			e.checkMaintenance()
		}
	}
}

func (e *Engine) checkMaintenance() {
	if e.opts.AutoSaveThreshold <= 0 || e.opts.AutoSaveInterval <= 0 {
		return
	}
	dirty := atomic.LoadInt64(&e.dirtyCounter)
	since := time.Since(time.Unix(0, e.lastSave.Load()))
	if dirty >= e.opts.AutoSaveThreshold && since >= e.opts.AutoSaveInterval {
		if err := e.SaveSnapshot(); err != nil {
			e.logger.Error("background snapshot failed", "error", err)
		}
	}
}
