// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2022 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

package packets

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"math"
	"math/bits"
	"unicode/utf8"
)

const (
	// MaxVariableByteInteger is the largest remaining length the MQTT wire format allows.
	MaxVariableByteInteger = 268435455

	// maxLengthBytes is the number of bytes a strict remaining length may span.
	maxLengthBytes = 4

	// maxShift is the largest shift that stays within an int.
	maxShift = bits.UintSize - 2
)

// decodeUint16 extracts the value of two bytes from a byte array.
func decodeUint16(buf []byte, offset int) (uint16, int, error) {
	if len(buf) < offset+2 {
		return 0, 0, ErrMalformedOffsetUintOutOfRange
	}

	return binary.BigEndian.Uint16(buf[offset : offset+2]), offset + 2, nil
}

// DecodeString extracts a length-prefixed string from a byte array, beginning at an
// offset. It returns the string and the offset of the byte following it.
func DecodeString(buf []byte, offset int) (string, int, error) {
	b, n, err := decodeBytes(buf, offset)
	if err != nil {
		return "", 0, err
	}

	if !utf8.Valid(b) {
		return "", 0, ErrMalformedInvalidUTF8
	}

	return string(b), n, nil
}

// decodeBytes extracts a length-prefixed byte array from a byte array, beginning at an offset.
func decodeBytes(buf []byte, offset int) ([]byte, int, error) {
	length, next, err := decodeUint16(buf, offset)
	if err != nil {
		return make([]byte, 0), 0, err
	}

	if next+int(length) > len(buf) {
		return make([]byte, 0), 0, ErrMalformedOffsetBytesOutOfRange
	}

	return buf[next : next+int(length)], next + int(length), nil
}

// encodeUint16 encodes a uint16 value to a byte array.
func encodeUint16(val uint16) []byte {
	buf := make([]byte, 2)
	binary.BigEndian.PutUint16(buf, val)
	return buf
}

// EncodeString encodes a string as a two byte big-endian length followed by its utf-8 bytes.
func EncodeString(val string) []byte {
	// Set the cap to a small number to avoid triggering allocation
	// growth on append unless we absolutely need to.
	buf := make([]byte, 2, 32)
	binary.BigEndian.PutUint16(buf, uint16(len(val)))
	return append(buf, val...)
}

// EncodeLength writes the variable byte integer encoding of length to b.
func EncodeLength(b *bytes.Buffer, length int) {
	// 1.5.5 Variable Byte Integer encode non-normative
	// https://docs.oasis-open.org/mqtt/mqtt/v5.0/os/mqtt-v5.0-os.html#_Toc3901027
	for {
		eb := byte(length % 128)
		length /= 128
		if length > 0 {
			eb |= 0x80
		}
		b.WriteByte(eb)
		if length == 0 {
			break
		}
	}
}

// AppendLength appends the variable byte integer encoding of length to dst.
func AppendLength(dst []byte, length int) []byte {
	var b bytes.Buffer
	EncodeLength(&b, length)
	return append(dst, b.Bytes()...)
}

// DecodeLength reads a variable byte integer one byte at a time from b. It returns
// the decoded value and the number of bytes used. No upper bound is applied; see
// DecodeLengthStrict for the capped MQTT form.
func DecodeLength(b io.ByteReader) (n, bu int, err error) {
	return decodeLength(b, false)
}

// DecodeLengthStrict is DecodeLength, but rejects values longer than four bytes
// or greater than MaxVariableByteInteger.
func DecodeLengthStrict(b io.ByteReader) (n, bu int, err error) {
	return decodeLength(b, true)
}

func decodeLength(b io.ByteReader, strict bool) (n, bu int, err error) {
	// see 1.5.5 Variable Byte Integer decode non-normative
	// https://docs.oasis-open.org/mqtt/mqtt/v5.0/os/mqtt-v5.0-os.html#_Toc3901027
	var shift uint
	for {
		eb, err := b.ReadByte()
		if err != nil {
			if errors.Is(err, io.EOF) && bu > 0 {
				err = io.ErrUnexpectedEOF
			}
			return 0, bu, err
		}
		bu++

		if shift > maxShift || (strict && bu > maxLengthBytes) {
			return 0, bu, ErrMalformedVariableByteInteger
		}

		if int(eb&0x7f) > (math.MaxInt-n)>>shift {
			return 0, bu, ErrMalformedVariableByteInteger
		}

		n += int(eb&0x7f) << shift
		if strict && n > MaxVariableByteInteger {
			return 0, bu, ErrMalformedVariableByteInteger
		}

		if eb&0x80 == 0 {
			break
		}

		shift += 7
	}

	return n, bu, nil
}
