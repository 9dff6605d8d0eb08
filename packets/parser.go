// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2022 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

package packets

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
)

const (
	// defaultBufferSize is the size of the read buffer when none is given.
	defaultBufferSize = 1024 * 2

	// maxPrealloc is the most payload memory reserved before bytes arrive.
	maxPrealloc = 1024 * 64
)

// Reader reads whole frames from a buffered byte stream.
type Reader struct {
	R                 *bufio.Reader // the buffered source of frame bytes
	MaximumPacketSize int           // reject frames with a larger remaining length, no limit if 0
	StrictLength      bool          // cap the remaining length at four bytes
}

// NewReader returns a frame Reader over r, buffered to size bytes. If r is
// already a large enough *bufio.Reader it is used directly.
func NewReader(r io.Reader, size int) *Reader {
	if size <= 0 {
		size = defaultBufferSize
	}

	return &Reader{
		R: bufio.NewReaderSize(r, size),
	}
}

// ReadExact reads exactly n bytes. A stream which ends before any byte is read
// returns io.EOF, and one which ends part way returns io.ErrUnexpectedEOF.
// Memory grows with the bytes received, not with n.
func (r *Reader) ReadExact(n int) ([]byte, error) {
	if n < 0 {
		return nil, ErrNegativeLength
	}

	if n == 0 {
		return []byte{}, nil
	}

	var buf bytes.Buffer
	buf.Grow(min(n, maxPrealloc))
	read, err := io.CopyN(&buf, r.R, int64(n))
	if err != nil {
		if errors.Is(err, io.EOF) && read > 0 {
			return nil, io.ErrUnexpectedEOF
		}
		return nil, err
	}

	return buf.Bytes(), nil
}

// ReadByte reads a single byte, satisfying io.ByteReader for the length decoder.
func (r *Reader) ReadByte() (byte, error) {
	return r.R.ReadByte()
}

// ReadFrame reads the next complete frame from the stream. The header byte, the
// remaining length and the payload are read in turn, with the length decoded
// straight off the stream.
func (r *Reader) ReadFrame() (Frame, error) {
	var fh FixedHeader

	hb, err := r.ReadByte()
	if err != nil {
		return Frame{}, err // io.EOF here is a clean disconnect between frames
	}
	fh.Decode(hb)

	var n int
	if r.StrictLength {
		n, _, err = DecodeLengthStrict(r)
	} else {
		n, _, err = DecodeLength(r)
	}
	if err != nil {
		return Frame{}, fmt.Errorf("read %s remaining length: %w", PacketNames[fh.Type], unexpected(err))
	}

	if r.MaximumPacketSize > 0 && n > r.MaximumPacketSize {
		return Frame{}, fmt.Errorf("%s of %d bytes: %w", PacketNames[fh.Type], n, ErrPacketTooLarge)
	}
	fh.Remaining = n

	payload, err := r.ReadExact(n)
	if err != nil {
		return Frame{}, fmt.Errorf("read %s payload: %w", PacketNames[fh.Type], unexpected(err))
	}

	return Frame{
		FixedHeader: fh,
		Payload:     payload,
	}, nil
}

// unexpected converts io.EOF into io.ErrUnexpectedEOF once a frame has started.
func unexpected(err error) error {
	if err == io.EOF {
		return io.ErrUnexpectedEOF
	}

	return err
}

// BufWriter is an interface for satisfying a bufio.Writer. This is mainly
// in place to allow testing.
type BufWriter interface {
	Write(p []byte) (nn int, err error)
	Flush() error
}

// Writer writes whole frames to a buffered byte stream.
type Writer struct {
	W BufWriter // the buffered destination of frame bytes
}

// NewWriter returns a frame Writer over w, buffered to size bytes.
func NewWriter(w io.Writer, size int) *Writer {
	if size <= 0 {
		size = defaultBufferSize
	}

	return &Writer{
		W: bufio.NewWriterSize(w, size),
	}
}

// WriteFrame writes the header byte, the encoded remaining length and the payload
// as a single write, and flushes before returning.
func (w *Writer) WriteFrame(f Frame) (int, error) {
	var buf bytes.Buffer
	buf.Grow(f.Size())
	f.Encode(&buf)

	n, err := w.W.Write(buf.Bytes())
	if err != nil {
		return n, err
	}

	return n, w.W.Flush()
}
