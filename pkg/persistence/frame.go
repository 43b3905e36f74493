// Package persistence implements the durable log behind the embedded store:
// checksummed binary frames, the mutation records they carry, an append-only
// file writer with a batching front end, and crash-tolerant replay.
package persistence

import (
	"encoding/binary"
	"errors"
	"hash/crc32"
	"io"
)

const (
	// MagicByte marks the start of every frame.
	MagicByte = 0xA5

	// HeaderSize is Magic(1) + Op(1) + Length(4) + CRC32(4).
	HeaderSize = 10

	// MaxPayloadSize bounds a single frame so a corrupted length field cannot
	// trigger a huge allocation during replay.
	MaxPayloadSize = 64 << 20
)

var (
	// ErrInvalidMagic means the stream is not positioned on a frame boundary.
	ErrInvalidMagic = errors.New("invalid magic byte")
	// ErrChecksumMismatch means the payload does not match its CRC.
	ErrChecksumMismatch = errors.New("crc32 checksum mismatch")
	// ErrIncompleteFrame means the stream ended inside a frame, typically a
	// write torn by a crash.
	ErrIncompleteFrame = errors.New("incomplete frame")
	// ErrFrameTooLarge means the length field exceeds MaxPayloadSize.
	ErrFrameTooLarge = errors.New("frame exceeds maximum payload size")
)

// FrameWriter writes frames to an io.Writer. Wrap files in a bufio.Writer so
// the header and payload reach the OS in one write.
type FrameWriter struct {
	w      io.Writer
	header [HeaderSize]byte
}

// NewFrameWriter wraps w.
func NewFrameWriter(w io.Writer) *FrameWriter {
	return &FrameWriter{w: w}
}

// WriteFrame writes [Magic][Op][Length LE][CRC32 LE][Payload] and returns the
// number of bytes written.
func (fw *FrameWriter) WriteFrame(op Op, payload []byte) (int, error) {
	if len(payload) > MaxPayloadSize {
		return 0, ErrFrameTooLarge
	}
	fw.header[0] = MagicByte
	fw.header[1] = byte(op)
	binary.LittleEndian.PutUint32(fw.header[2:6], uint32(len(payload)))
	binary.LittleEndian.PutUint32(fw.header[6:10], crc32.ChecksumIEEE(payload))

	if _, err := fw.w.Write(fw.header[:]); err != nil {
		return 0, err
	}
	if _, err := fw.w.Write(payload); err != nil {
		return HeaderSize, err
	}
	return HeaderSize + len(payload), nil
}

// ReadFrame reads and verifies the next frame. It returns io.EOF only on a
// clean frame boundary; n is the number of bytes consumed.
func ReadFrame(r io.Reader) (op Op, payload []byte, n int, err error) {
	var header [HeaderSize]byte
	read, err := io.ReadFull(r, header[:])
	if err != nil {
		if err == io.EOF {
			return 0, nil, 0, io.EOF
		}
		return 0, nil, read, ErrIncompleteFrame
	}
	if header[0] != MagicByte {
		return 0, nil, HeaderSize, ErrInvalidMagic
	}

	length := binary.LittleEndian.Uint32(header[2:6])
	if length > MaxPayloadSize {
		return 0, nil, HeaderSize, ErrFrameTooLarge
	}
	expected := binary.LittleEndian.Uint32(header[6:10])

	payload = make([]byte, length)
	read, err = io.ReadFull(r, payload)
	if err != nil {
		return 0, nil, HeaderSize + read, ErrIncompleteFrame
	}
	if crc32.ChecksumIEEE(payload) != expected {
		return 0, nil, HeaderSize + int(length), ErrChecksumMismatch
	}
	return Op(header[1]), payload, HeaderSize + int(length), nil
}
