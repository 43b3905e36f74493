package hnsw

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sanonone/kektorgraph/pkg/core/types"
	"github.com/sanonone/kektorgraph/pkg/core/vector"
	"golang.org/x/sync/errgroup"
)

// ProgressFunc is told how many records of a bulk insert have been processed.
type ProgressFunc func(completed, total int)

// BulkOptions tunes InsertAll.
type BulkOptions struct {
	// Policy applies to subjects already in the graph or repeated in the batch.
	Policy DuplicatePolicy
	// Workers > 1 runs inserts concurrently. With 0 or 1 the batch is
	// sequential and, given a seeded rand source, fully reproducible.
	Workers int
	// Progress, when set, is called after every record. Calls are serialized
	// and completed is strictly increasing. A panicking callback is logged and
	// does not abort the batch.
	Progress ProgressFunc
}

// InsertAll inserts every record. A failing record does not stop the batch:
// failures are collected into a *types.BatchError, and every record not listed
// there was inserted. Cancelling ctx stops the batch between records.
func (h *Index[K]) InsertAll(ctx context.Context, records []vector.Record[K], opts BulkOptions) error {
	var (
		mu        sync.Mutex
		failed    []*types.RecordError
		completed int
		total     = len(records)
		start     = time.Now()
	)

	process := func(rec vector.Record[K]) {
		_, err := h.insert(rec, opts.Policy)

		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			failed = append(failed, &types.RecordError{Subject: fmt.Sprint(rec.Subject()), Err: err})
		}
		completed++
		h.notify(opts.Progress, completed, total)
	}

	if opts.Workers <= 1 {
		for _, rec := range records {
			if ctx.Err() != nil {
				break
			}
			process(rec)
		}
	} else {
		var g errgroup.Group
		g.SetLimit(opts.Workers)
		for _, rec := range records {
			if ctx.Err() != nil {
				break
			}
			g.Go(func() error {
				if ctx.Err() == nil {
					process(rec)
				}
				return nil
			})
		}
		_ = g.Wait()
	}

	h.logger.Info("bulk insert finished",
		"records", total,
		"processed", completed,
		"failed", len(failed),
		"workers", max(opts.Workers, 1),
		"elapsed", time.Since(start).Round(time.Millisecond),
		"nodes", h.Size())

	var batchErr error
	if len(failed) > 0 {
		batchErr = &types.BatchError{Total: total, Failed: failed}
	}
	if err := ctx.Err(); err != nil {
		return errors.Join(fmt.Errorf("bulk insert interrupted after %d of %d records: %w", completed, total, err), batchErr)
	}
	return batchErr
}

func (h *Index[K]) notify(fn ProgressFunc, completed, total int) {
	if fn == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			h.logger.Warn("progress callback panicked", "panic", r, "completed", completed)
		}
	}()
	fn(completed, total)
}
