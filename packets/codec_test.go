// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2022 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

package packets

import (
	"bytes"
	"io"
	"math"
	"math/bits"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeLength(t *testing.T) {
	tt := []struct {
		have int
		want []byte
	}{
		{0, []byte{0x00}},
		{1, []byte{0x01}},
		{47, []byte{0x2f}},
		{127, []byte{0x7f}},
		{128, []byte{0x80, 0x01}},
		{16383, []byte{0xff, 0x7f}},
		{16384, []byte{0x80, 0x80, 0x01}},
		{2097151, []byte{0xff, 0xff, 0x7f}},
		{2097152, []byte{0x80, 0x80, 0x80, 0x01}},
		{MaxVariableByteInteger, []byte{0xff, 0xff, 0xff, 0x7f}},
	}

	for _, wanted := range tt {
		b := new(bytes.Buffer)
		EncodeLength(b, wanted.have)
		require.Equal(t, wanted.want, b.Bytes(), "%d", wanted.have)
		require.Equal(t, wanted.want, AppendLength(nil, wanted.have), "%d", wanted.have)
	}
}

func BenchmarkEncodeLength(b *testing.B) {
	buf := new(bytes.Buffer)
	for n := 0; n < b.N; n++ {
		buf.Reset()
		EncodeLength(buf, 120)
	}
}

func TestDecodeLength(t *testing.T) {
	tt := []struct {
		have []byte
		n    int
		bu   int
	}{
		{[]byte{0x00}, 0, 1},
		{[]byte{0x7f}, 127, 1},
		{[]byte{0x80, 0x01}, 128, 2},
		{[]byte{0x80, 0x80, 0x01}, 16384, 3},
		{[]byte{0xff, 0xff, 0xff, 0x7f}, MaxVariableByteInteger, 4},
		{[]byte{0x2f, 0x99}, 47, 1}, // trailing bytes are left unread
	}

	for _, wanted := range tt {
		n, bu, err := DecodeLength(bytes.NewReader(wanted.have))
		require.NoError(t, err)
		require.Equal(t, wanted.n, n)
		require.Equal(t, wanted.bu, bu)
	}
}

func TestDecodeLengthRoundTrip(t *testing.T) {
	for i := 0; i <= 2097151; i += 97 {
		enc := AppendLength(nil, i)

		width := bits.Len(uint(i))
		if width == 0 {
			width = 1
		}
		require.Equal(t, (width+6)/7, len(enc), "%d", i)

		n, bu, err := DecodeLength(bytes.NewReader(enc))
		require.NoError(t, err)
		require.Equal(t, i, n)
		require.Equal(t, len(enc), bu)
	}
}

func TestDecodeLengthEOF(t *testing.T) {
	_, _, err := DecodeLength(bytes.NewReader([]byte{}))
	require.ErrorIs(t, err, io.EOF)

	_, bu, err := DecodeLength(bytes.NewReader([]byte{0x80, 0x80}))
	require.ErrorIs(t, err, io.ErrUnexpectedEOF)
	require.Equal(t, 2, bu)
	require.True(t, IsEndOfStream(err))
}

func TestDecodeLengthUncapped(t *testing.T) {
	n, bu, err := DecodeLength(bytes.NewReader([]byte{0x80, 0x80, 0x80, 0x80, 0x01}))
	require.NoError(t, err)
	require.Equal(t, 1<<28, n)
	require.Equal(t, 5, bu)
}

func TestDecodeLengthStrict(t *testing.T) {
	n, _, err := DecodeLengthStrict(bytes.NewReader([]byte{0xff, 0xff, 0xff, 0x7f}))
	require.NoError(t, err)
	require.Equal(t, MaxVariableByteInteger, n)

	_, _, err = DecodeLengthStrict(bytes.NewReader([]byte{0x80, 0x80, 0x80, 0x80, 0x01}))
	require.ErrorIs(t, err, ErrMalformedVariableByteInteger)
	require.False(t, IsEndOfStream(err))
}

func TestDecodeLengthOverflow(t *testing.T) {
	b := bytes.Repeat([]byte{0xff}, 12)
	_, _, err := DecodeLength(bytes.NewReader(b))
	require.ErrorIs(t, err, ErrMalformedVariableByteInteger)
}

func TestDecodeLengthLargestInt(t *testing.T) {
	if bits.UintSize != 64 {
		t.Skip("needs 64-bit int")
	}

	b := append(bytes.Repeat([]byte{0xff}, 8), 0x7f)
	n, bu, err := DecodeLength(bytes.NewReader(b))
	require.NoError(t, err)
	require.Equal(t, math.MaxInt, n)
	require.Equal(t, 9, bu)

	b = append(bytes.Repeat([]byte{0xff}, 9), 0x01)
	_, bu, err = DecodeLength(bytes.NewReader(b))
	require.ErrorIs(t, err, ErrMalformedVariableByteInteger)
	require.Equal(t, 10, bu)
}

func TestEncodeString(t *testing.T) {
	require.Equal(t, []byte{0x00, 0x00}, EncodeString(""))
	require.Equal(t, []byte{0x00, 0x03, 'h', 'e', 'y'}, EncodeString("hey"))

	topic := EncodeString("robotick/integration/topic")
	require.Equal(t, []byte{0x00, 0x1b}, topic[:2])
	require.Equal(t, 29, len(topic))
}

func TestDecodeString(t *testing.T) {
	tt := []struct {
		name   string
		offset int
		have   []byte
		want   string
		next   int
	}{
		{"simple", 0, []byte{0, 7, 'a', '/', 'b', '/', 'c', '/', 'd', 'z'}, "a/b/c/d", 9},
		{"offset", 2, []byte{0x30, 0x09, 0, 3, 'h', 'e', 'y', '!', '!'}, "hey", 7},
		{"empty", 0, []byte{0, 0}, "", 2},
		{"multibyte", 0, []byte{0, 4, 0xf0, 0x9f, 0xa4, 0x96}, "🤖", 6},
	}

	for _, wanted := range tt {
		t.Run(wanted.name, func(t *testing.T) {
			s, next, err := DecodeString(wanted.have, wanted.offset)
			require.NoError(t, err)
			require.Equal(t, wanted.want, s)
			require.Equal(t, wanted.next, next)
		})
	}
}

func TestDecodeStringErrors(t *testing.T) {
	_, _, err := DecodeString([]byte{0}, 0)
	require.ErrorIs(t, err, ErrMalformedOffsetUintOutOfRange)

	_, _, err = DecodeString([]byte{0, 5, 'a', 'b'}, 0)
	require.ErrorIs(t, err, ErrMalformedOffsetBytesOutOfRange)

	_, _, err = DecodeString([]byte{0, 2, 0xc3, 0x28}, 0)
	require.ErrorIs(t, err, ErrMalformedInvalidUTF8)
}

func TestStringRoundTrip(t *testing.T) {
	for _, s := range []string{
		"",
		"a",
		"robotick/integration/topic",
		"welcome from broker",
		"ünïcødé/トピック",
		strings.Repeat("x", 65535),
	} {
		enc := EncodeString(s)
		out, next, err := DecodeString(enc, 0)
		require.NoError(t, err)
		require.Equal(t, s, out)
		require.Equal(t, 2+len(s), next)
	}
}
