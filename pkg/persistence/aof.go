package persistence

import (
	"bufio"
	"fmt"
	"os"
	"sync"
)

// AOFWriter appends framed records to an append-only file.
type AOFWriter struct {
	mu     sync.Mutex
	file   *os.File
	buf    *bufio.Writer
	frames *FrameWriter
	path   string
	size   int64
}

// OpenAOF opens or creates the log at path, positioned for appending.
func OpenAOF(path string) (*AOFWriter, error) {
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open AOF file: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("failed to stat AOF file: %w", err)
	}
	a := &AOFWriter{file: file, path: path, size: info.Size()}
	a.buf = bufio.NewWriter(file)
	a.frames = NewFrameWriter(a.buf)
	return a, nil
}

// Append buffers one record. It reaches the file on Flush.
func (a *AOFWriter) Append(rec Record) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.appendLocked(rec)
}

func (a *AOFWriter) appendLocked(rec Record) error {
	n, err := a.frames.WriteFrame(rec.Op, EncodeRecord(rec))
	a.size += int64(n)
	return err
}

// Flush hands buffered frames to the OS.
func (a *AOFWriter) Flush() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.buf.Flush()
}

// Sync flushes and fsyncs.
func (a *AOFWriter) Sync() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.buf.Flush(); err != nil {
		return err
	}
	return a.file.Sync()
}

// Close flushes and closes the file.
func (a *AOFWriter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.buf.Flush(); err != nil {
		_ = a.file.Close()
		return err
	}
	return a.file.Close()
}

// Truncate discards everything logged so far, buffered frames included.
// The engine calls it once a snapshot covers the log.
func (a *AOFWriter) Truncate() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.buf.Reset(a.file)
	if err := a.file.Truncate(0); err != nil {
		return err
	}
	if _, err := a.file.Seek(0, 0); err != nil {
		return err
	}
	a.size = 0
	return nil
}

// Size is the logical length of the log including unflushed frames.
func (a *AOFWriter) Size() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.size
}

// Path returns the file path.
func (a *AOFWriter) Path() string { return a.path }
