// Package wire implements the framing and encoding of messages on a connection.
//
// Every frame is a 4-byte big-endian length followed by that many bytes of payload.
// The payload is the protobuf encoding of a google.protobuf.Struct describing the message,
// so a frame can be decoded without knowing its message type in advance.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/relab/shardledger"
)

// MaxFrameSize is the largest payload accepted by a Reader.
const MaxFrameSize = 16 << 20

// ErrMalformedFrame is returned when a frame cannot be decoded.
var ErrMalformedFrame = errors.New("wire: malformed frame")

// Writer writes framed messages to an io.Writer.
type Writer struct {
	mut  sync.Mutex
	dest io.Writer
}

// NewWriter returns a new Writer. dest is the io.Writer that the Writer should write to (the stream).
func NewWriter(dest io.Writer) *Writer {
	return &Writer{dest: dest}
}

// Write encodes msg and writes it as a single frame.
func (w *Writer) Write(msg *shardledger.Message) error {
	buf, err := Marshal(msg)
	if err != nil {
		return err
	}
	return w.WriteFrame(buf)
}

// WriteFrame writes payload preceded by its length.
func (w *Writer) WriteFrame(payload []byte) error {
	frame := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint32(frame[:4], uint32(len(payload)))
	copy(frame[4:], payload)

	w.mut.Lock()
	defer w.mut.Unlock()

	if _, err := w.dest.Write(frame); err != nil {
		return fmt.Errorf("wire: failed to write frame: %w", err)
	}
	return nil
}

// Reader reads framed messages from an io.Reader.
type Reader struct {
	mut sync.Mutex
	src io.Reader
}

// NewReader returns a new Reader. src is the io.Reader that the Reader should read frames from.
func NewReader(src io.Reader) *Reader {
	return &Reader{src: src}
}

// Read blocks until a full frame is available and decodes it.
// io.EOF is returned unwrapped when the stream ends cleanly between frames.
func (r *Reader) Read() (*shardledger.Message, error) {
	payload, err := r.ReadFrame()
	if err != nil {
		return nil, err
	}
	return Unmarshal(payload)
}

// ReadFrame reads the payload of the next frame.
func (r *Reader) ReadFrame() ([]byte, error) {
	r.mut.Lock()
	defer r.mut.Unlock()

	var lenBuf [4]byte
	if _, err := io.ReadFull(r.src, lenBuf[:]); err != nil {
		if err == io.EOF {
			return nil, err
		}
		return nil, fmt.Errorf("%w: failed to read length: %v", ErrMalformedFrame, err)
	}

	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > MaxFrameSize {
		return nil, fmt.Errorf("%w: frame of %d bytes exceeds limit", ErrMalformedFrame, n)
	}

	payload := make([]byte, n)
	if _, err := io.ReadFull(r.src, payload); err != nil {
		return nil, fmt.Errorf("%w: failed to read payload: %v", ErrMalformedFrame, err)
	}
	return payload, nil
}
