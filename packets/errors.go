// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2022 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

package packets

import (
	"errors"
	"io"
)

var (
	ErrMalformedVariableByteInteger   = errors.New("malformed packet: variable byte integer out of range")
	ErrMalformedOffsetUintOutOfRange  = errors.New("malformed packet: offset uint out of range")
	ErrMalformedOffsetBytesOutOfRange = errors.New("malformed packet: offset bytes out of range")
	ErrMalformedInvalidUTF8           = errors.New("malformed packet: invalid utf-8 string")
	ErrMalformedPacketID              = errors.New("malformed packet: packet id")
	ErrPacketTooLarge                 = errors.New("packet too large")
	ErrNegativeLength                 = errors.New("negative read length")
)

// IsEndOfStream returns true if err indicates the peer closed the stream, either
// between frames or part way through one.
func IsEndOfStream(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)
}
