// Package wordvec reads word embeddings in the fastText/word2vec text format:
// a "count dimension" header line followed by one "word v1 ... vN" line per
// word. Files ending in .gz are decompressed transparently.
package wordvec

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/klauspost/compress/gzip"

	"github.com/sanonone/kektorgraph/pkg/core/types"
	"github.com/sanonone/kektorgraph/pkg/core/vector"
)

// maxLine bounds a single line; 300 components fit in a few KB.
const maxLine = 1 << 20

// Options tunes a Reader.
type Options struct {
	// Normalize scales every vector to unit length, as inner-product
	// indexes expect.
	Normalize bool
	// Limit stops reading after this many words. 0 reads everything.
	Limit int
}

// Entry is one word and its vector.
type Entry struct {
	Word   string
	Vector []float32
}

// LineError locates a malformed line.
type LineError struct {
	Line int
	Word string
	Err  error
}

func (e *LineError) Error() string {
	if e.Word == "" {
		return fmt.Sprintf("line %d: %v", e.Line, e.Err)
	}
	return fmt.Sprintf("line %d (%q): %v", e.Line, e.Word, e.Err)
}

func (e *LineError) Unwrap() error { return e.Err }

// Reader streams entries from a word-vector file.
type Reader struct {
	sc     *bufio.Scanner
	closer io.Closer
	opts   Options
	count  int
	dim    int
	line   int
	read   int
}

// Open opens path and reads its header.
func Open(path string, opts Options) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open word vectors: %w", err)
	}
	var r io.Reader = f
	closer := io.Closer(f)
	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("open word vectors: %w", err)
		}
		r = gz
		closer = closers{gz, f}
	}
	wr, err := NewReader(r, opts)
	if err != nil {
		closer.Close()
		return nil, err
	}
	wr.closer = closer
	return wr, nil
}

type closers []io.Closer

func (cs closers) Close() error {
	var errs []error
	for _, c := range cs {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}

// NewReader reads the header from r.
func NewReader(r io.Reader, opts Options) (*Reader, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxLine)
	wr := &Reader{sc: sc, opts: opts}

	if !sc.Scan() {
		if err := sc.Err(); err != nil {
			return nil, fmt.Errorf("read header: %w", err)
		}
		return nil, &LineError{Line: 1, Err: errors.New("missing header")}
	}
	wr.line = 1
	fields := strings.Fields(sc.Text())
	if len(fields) != 2 {
		return nil, &LineError{Line: 1, Err: fmt.Errorf("header must be \"count dimension\", got %q", sc.Text())}
	}
	count, err := strconv.Atoi(fields[0])
	if err != nil || count < 0 {
		return nil, &LineError{Line: 1, Err: fmt.Errorf("invalid word count %q", fields[0])}
	}
	dim, err := strconv.Atoi(fields[1])
	if err != nil || dim <= 0 {
		return nil, &LineError{Line: 1, Err: fmt.Errorf("invalid dimension %q", fields[1])}
	}
	wr.count, wr.dim = count, dim
	return wr, nil
}

// Count returns the word count the header announces.
func (r *Reader) Count() int { return r.count }

// Dimension returns the vector length every line must have.
func (r *Reader) Dimension() int { return r.dim }

// Next returns the next entry, or io.EOF after the last one.
func (r *Reader) Next() (Entry, error) {
	if r.opts.Limit > 0 && r.read >= r.opts.Limit {
		return Entry{}, io.EOF
	}
	for r.sc.Scan() {
		r.line++
		fields := strings.Fields(r.sc.Text())
		if len(fields) == 0 {
			continue
		}
		e, err := r.parse(fields)
		if err != nil {
			return Entry{}, err
		}
		r.read++
		return e, nil
	}
	if err := r.sc.Err(); err != nil {
		return Entry{}, fmt.Errorf("line %d: %w", r.line+1, err)
	}
	return Entry{}, io.EOF
}

func (r *Reader) parse(fields []string) (Entry, error) {
	word := fields[0]
	components := fields[1:]
	v := make([]float32, len(components))
	for i, c := range components {
		f, err := strconv.ParseFloat(c, 32)
		if err != nil {
			return Entry{}, &LineError{Line: r.line, Word: word, Err: fmt.Errorf("component %d: %w", i, err)}
		}
		v[i] = float32(f)
	}
	if err := types.CheckDimension(r.dim, v); err != nil {
		return Entry{}, &LineError{Line: r.line, Word: word, Err: err}
	}
	if r.opts.Normalize {
		vector.Normalize(v)
	}
	return Entry{Word: word, Vector: v}, nil
}

// Close releases the underlying file of a Reader built with Open.
func (r *Reader) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer.Close()
}

// ReadFile loads every entry of path as an indexable record. Malformed lines
// are skipped: when there are any, the records read are returned together with
// a *types.BatchError whose failures wrap a *LineError each. Any other error
// aborts the read.
func ReadFile(path string, opts Options) ([]vector.Record[string], int, error) {
	r, err := Open(path, opts)
	if err != nil {
		return nil, 0, err
	}
	defer r.Close()

	capacity := r.Count()
	if opts.Limit > 0 {
		capacity = min(capacity, opts.Limit)
	}
	records := make([]vector.Record[string], 0, capacity)
	var skipped []*types.RecordError
	for {
		e, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		var le *LineError
		if errors.As(err, &le) {
			skipped = append(skipped, &types.RecordError{Subject: le.Word, Err: le})
			continue
		}
		if err != nil {
			return nil, 0, fmt.Errorf("%s: %w", path, err)
		}
		records = append(records, vector.NewRecord(e.Word, e.Vector))
	}
	if len(skipped) > 0 {
		return records, r.Dimension(), &types.BatchError{Total: len(records) + len(skipped), Failed: skipped}
	}
	return records, r.Dimension(), nil
}
