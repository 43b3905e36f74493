package persistence

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	fw := NewFrameWriter(&buf)

	n, err := fw.WriteFrame(OpPutEntity, []byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, HeaderSize+5, n)
	_, err = fw.WriteFrame(OpDeleteEntity, nil)
	require.NoError(t, err)

	op, payload, read, err := ReadFrame(&buf)
	require.NoError(t, err)
	assert.Equal(t, OpPutEntity, op)
	assert.Equal(t, []byte("hello"), payload)
	assert.Equal(t, n, read)

	op, payload, _, err = ReadFrame(&buf)
	require.NoError(t, err)
	assert.Equal(t, OpDeleteEntity, op)
	assert.Empty(t, payload)

	_, _, _, err = ReadFrame(&buf)
	assert.Equal(t, io.EOF, err)
}

func TestReadFrameErrors(t *testing.T) {
	var buf bytes.Buffer
	_, err := NewFrameWriter(&buf).WriteFrame(OpPutEntity, []byte("payload"))
	require.NoError(t, err)
	frame := buf.Bytes()

	t.Run("bad magic", func(t *testing.T) {
		corrupt := bytes.Clone(frame)
		corrupt[0] = 0x00
		_, _, _, err := ReadFrame(bytes.NewReader(corrupt))
		assert.ErrorIs(t, err, ErrInvalidMagic)
	})
	t.Run("checksum", func(t *testing.T) {
		corrupt := bytes.Clone(frame)
		corrupt[len(corrupt)-1] ^= 0xFF
		_, _, _, err := ReadFrame(bytes.NewReader(corrupt))
		assert.ErrorIs(t, err, ErrChecksumMismatch)
	})
	t.Run("torn header", func(t *testing.T) {
		_, _, n, err := ReadFrame(bytes.NewReader(frame[:4]))
		assert.ErrorIs(t, err, ErrIncompleteFrame)
		assert.Equal(t, 4, n)
	})
	t.Run("torn payload", func(t *testing.T) {
		_, _, n, err := ReadFrame(bytes.NewReader(frame[:len(frame)-2]))
		assert.ErrorIs(t, err, ErrIncompleteFrame)
		assert.Equal(t, len(frame)-2, n)
	})
}

func TestRecordCodec(t *testing.T) {
	rec := Record{Op: OpPutRelationship, Key: []byte("entity-1"), Value: []byte(`{"type":"NEXT"}`)}
	got, err := DecodeRecord(rec.Op, EncodeRecord(rec))
	require.NoError(t, err)
	assert.Equal(t, rec, got)

	empty, err := DecodeRecord(OpDeleteEntity, EncodeRecord(Record{Op: OpDeleteEntity}))
	require.NoError(t, err)
	assert.Empty(t, empty.Key)
	assert.Empty(t, empty.Value)

	_, err = DecodeRecord(Op(0x7F), []byte{0})
	assert.Error(t, err)
	_, err = DecodeRecord(OpPutEntity, []byte{0x05, 'a'})
	assert.Error(t, err, "key length past the payload")
}

func writeLog(t *testing.T, path string, n int) {
	t.Helper()
	w, err := OpenAOF(path)
	require.NoError(t, err)
	for i := 0; i < n; i++ {
		require.NoError(t, w.Append(Record{
			Op:    OpPutEntity,
			Key:   []byte(fmt.Sprintf("id-%d", i)),
			Value: []byte(fmt.Sprintf(`{"n":%d}`, i)),
		}))
	}
	require.NoError(t, w.Close())
}

func collect(t *testing.T, path string) ([]string, ReplayStats, error) {
	t.Helper()
	var keys []string
	stats, err := Replay(path, nil, func(rec Record) error {
		keys = append(keys, string(rec.Key))
		return nil
	})
	return keys, stats, err
}

func TestReplay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.aof")
	writeLog(t, path, 3)

	keys, stats, err := collect(t, path)
	require.NoError(t, err)
	assert.Equal(t, []string{"id-0", "id-1", "id-2"}, keys)
	assert.Equal(t, 3, stats.Records)
	assert.False(t, stats.Repaired)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, info.Size(), stats.Offset)
}

func TestReplayMissingFile(t *testing.T) {
	keys, stats, err := collect(t, filepath.Join(t.TempDir(), "absent.aof"))
	require.NoError(t, err)
	assert.Empty(t, keys)
	assert.Zero(t, stats.Records)
}

func TestReplayTruncatesTornTail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.aof")
	writeLog(t, path, 3)
	info, err := os.Stat(path)
	require.NoError(t, err)
	require.NoError(t, os.Truncate(path, info.Size()-3))

	keys, stats, err := collect(t, path)
	require.NoError(t, err)
	assert.Equal(t, []string{"id-0", "id-1"}, keys)
	assert.True(t, stats.Repaired)

	info, err = os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, stats.Offset, info.Size(), "torn frame removed from disk")

	// the repaired log accepts appends and replays cleanly
	w, err := OpenAOF(path)
	require.NoError(t, err)
	require.NoError(t, w.Append(Record{Op: OpDeleteEntity, Key: []byte("id-0")}))
	require.NoError(t, w.Close())
	keys, _, err = collect(t, path)
	require.NoError(t, err)
	assert.Equal(t, []string{"id-0", "id-1", "id-0"}, keys)
}

func TestReplayRejectsMidFileCorruption(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.aof")
	writeLog(t, path, 3)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	data[HeaderSize+2] ^= 0xFF
	require.NoError(t, os.WriteFile(path, data, 0o644))

	_, _, err = collect(t, path)
	assert.ErrorIs(t, err, ErrChecksumMismatch)
}

func TestReplayStopsOnApplyError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.aof")
	writeLog(t, path, 3)
	boom := errors.New("boom")
	stats, err := Replay(path, nil, func(rec Record) error {
		if string(rec.Key) == "id-1" {
			return boom
		}
		return nil
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, stats.Records)
}

func TestAOFWriterTruncate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.aof")
	w, err := OpenAOF(path)
	require.NoError(t, err)
	require.NoError(t, w.Append(Record{Op: OpPutEntity, Key: []byte("a")}))
	assert.Positive(t, w.Size())
	require.NoError(t, w.Truncate())
	assert.Zero(t, w.Size())
	require.NoError(t, w.Append(Record{Op: OpPutEntity, Key: []byte("b")}))
	require.NoError(t, w.Close())

	keys, _, err := collect(t, path)
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, keys)
}

func TestLazyWriterFlushesOnClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.aof")
	w, err := OpenAOF(path)
	require.NoError(t, err)
	lw := NewLazyAOFWriter(w, LazyOptions{FlushInterval: time.Hour, SyncInterval: time.Hour})

	for i := 0; i < 10; i++ {
		require.NoError(t, lw.Append(Record{Op: OpPutEntity, Key: []byte(fmt.Sprint(i))}))
	}
	require.NoError(t, lw.Close())
	assert.ErrorIs(t, lw.Append(Record{Op: OpPutEntity}), ErrClosed)
	assert.ErrorIs(t, lw.Close(), ErrClosed)

	keys, _, err := collect(t, path)
	require.NoError(t, err)
	assert.Len(t, keys, 10)
}

func TestLazyWriterBackgroundFlush(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.aof")
	w, err := OpenAOF(path)
	require.NoError(t, err)
	lw := NewLazyAOFWriter(w, LazyOptions{FlushInterval: time.Hour, SyncInterval: time.Hour, MaxBuffer: 4})
	defer lw.Close()

	for i := 0; i < 4; i++ {
		require.NoError(t, lw.Append(Record{Op: OpPutEntity, Key: []byte(fmt.Sprint(i))}))
	}
	assert.Eventually(t, func() bool {
		info, err := os.Stat(path)
		return err == nil && info.Size() == lw.Size() && info.Size() > 0
	}, 2*time.Second, 10*time.Millisecond, "a full buffer is flushed without waiting for the ticker")
}

func TestLazyWriterTruncateDropsPending(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.aof")
	w, err := OpenAOF(path)
	require.NoError(t, err)
	lw := NewLazyAOFWriter(w, LazyOptions{FlushInterval: time.Hour, SyncInterval: time.Hour})

	require.NoError(t, lw.Append(Record{Op: OpPutEntity, Key: []byte("old")}))
	require.NoError(t, lw.Sync())
	require.NoError(t, lw.Append(Record{Op: OpPutEntity, Key: []byte("pending")}))
	require.NoError(t, lw.Truncate())
	require.NoError(t, lw.Append(Record{Op: OpPutEntity, Key: []byte("new")}))
	require.NoError(t, lw.Close())

	keys, _, err := collect(t, path)
	require.NoError(t, err)
	assert.Equal(t, []string{"new"}, keys)
}
