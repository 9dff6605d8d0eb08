// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2022 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

package packets

import (
	"bytes"
)

// FixedHeader contains the values of the fixed header portion of the MQTT packet.
type FixedHeader struct {
	Remaining int  `json:"remaining"` // the number of remaining bytes in the payload.
	Type      byte `json:"type"`      // the type of the packet (PUBLISH, SUBSCRIBE, etc) from bits 7 - 4 (byte 1).
	Flags     byte `json:"flags"`     // the packet specific flags from bits 3 - 0 (byte 1).
}

// Encode encodes the FixedHeader and returns a bytes buffer.
func (fh *FixedHeader) Encode(buf *bytes.Buffer) {
	buf.WriteByte(fh.Byte())
	EncodeLength(buf, fh.Remaining)
}

// Decode extracts the type and flag bits from the header byte.
func (fh *FixedHeader) Decode(hb byte) {
	fh.Type = hb >> 4
	fh.Flags = hb & 0x0f
}

// Byte returns the first byte of the fixed header.
func (fh FixedHeader) Byte() byte {
	return fh.Type<<4 | fh.Flags&0x0f
}
