package persistence

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
)

// ReplayStats summarizes a replay.
type ReplayStats struct {
	Records int
	// Offset is the end of the last intact frame.
	Offset int64
	// Repaired is true when a torn tail was cut off the file.
	Repaired bool
}

// Replay feeds every intact record of the log at path to apply, in order. A
// missing file replays nothing. A frame torn at the end of the file, the trace
// of a crash mid-write, is truncated away; corruption before the tail is an
// error since the records after it cannot be trusted.
func Replay(path string, logger *slog.Logger, apply func(Record) error) (ReplayStats, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var stats ReplayStats

	file, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return stats, nil
	}
	if err != nil {
		return stats, fmt.Errorf("open log for replay: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return stats, err
	}
	r := bufio.NewReaderSize(file, 64<<10)

	for {
		op, payload, n, err := ReadFrame(r)
		if err == io.EOF {
			return stats, nil
		}
		if err != nil {
			tail := stats.Offset+int64(n) >= info.Size()
			if tail && (errors.Is(err, ErrIncompleteFrame) || errors.Is(err, ErrChecksumMismatch)) {
				logger.Warn("truncating torn log tail",
					"path", path,
					"offset", stats.Offset,
					"discarded_bytes", info.Size()-stats.Offset,
					"error", err)
				if err := os.Truncate(path, stats.Offset); err != nil {
					return stats, fmt.Errorf("truncate torn log tail: %w", err)
				}
				stats.Repaired = true
				return stats, nil
			}
			return stats, fmt.Errorf("log corrupted at offset %d: %w", stats.Offset, err)
		}

		rec, err := DecodeRecord(op, payload)
		if err != nil {
			return stats, fmt.Errorf("log corrupted at offset %d: %w", stats.Offset, err)
		}
		if err := apply(rec); err != nil {
			return stats, fmt.Errorf("apply %s record at offset %d: %w", op, stats.Offset, err)
		}
		stats.Records++
		stats.Offset += int64(n)
	}
}
