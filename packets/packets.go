// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2022 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

// Package packets provides the framing primitives for the MQTT wire format: the
// variable byte integer and string codecs, and a reader and writer of whole frames.
package packets

import (
	"bytes"
	"fmt"
)

// All of the valid packet types and their packet identifier.
const (
	Reserved    byte = iota
	Connect          // 1
	Connack          // 2
	Publish          // 3
	Puback           // 4
	Pubrec           // 5
	Pubrel           // 6
	Pubcomp          // 7
	Subscribe        // 8
	Suback           // 9
	Unsubscribe      // 10
	Unsuback         // 11
	Pingreq          // 12
	Pingresp         // 13
	Disconnect       // 14
	Auth             // 15
)

// PacketNames is a map of packet types to their human readable names.
var PacketNames = map[byte]string{
	0:  "Reserved",
	1:  "Connect",
	2:  "Connack",
	3:  "Publish",
	4:  "Puback",
	5:  "Pubrec",
	6:  "Pubrel",
	7:  "Pubcomp",
	8:  "Subscribe",
	9:  "Suback",
	10: "Unsubscribe",
	11: "Unsuback",
	12: "Pingreq",
	13: "Pingresp",
	14: "Disconnect",
	15: "Auth",
}

const (
	// CodeGranted is the SUBACK return code for a granted qos 0 subscription.
	CodeGranted byte = 0x00

	// CodeAccepted is the CONNACK return code for an accepted connection.
	CodeAccepted byte = 0x00
)

// Frame is a single MQTT control packet as it appears on the wire. The payload is
// everything after the remaining length, left undecoded.
type Frame struct {
	FixedHeader FixedHeader `json:"fixed_header"`
	Payload     []byte      `json:"payload"`
}

// NewFrame returns a frame of the given type carrying payload, with the
// remaining length set to match.
func NewFrame(packetType, flags byte, payload []byte) Frame {
	return Frame{
		FixedHeader: FixedHeader{
			Type:      packetType,
			Flags:     flags,
			Remaining: len(payload),
		},
		Payload: payload,
	}
}

// ConnackFrame returns a CONNACK accepting the connection with no session present.
func ConnackFrame() Frame {
	return NewFrame(Connack, 0, []byte{0x00, CodeAccepted})
}

// SubackFrame returns a SUBACK acknowledging packet id with a single granted qos 0 code.
func SubackFrame(id uint16) Frame {
	return NewFrame(Suback, 0, append(encodeUint16(id), CodeGranted))
}

// PublishFrame returns a qos 0 PUBLISH of msg to topic. The message follows the
// topic with no delimiter and no packet id.
func PublishFrame(topic string, msg []byte) Frame {
	payload := EncodeString(topic)
	return NewFrame(Publish, 0, append(payload, msg...))
}

// PacketID returns the packet identifier held in the first two bytes of the payload.
func (f Frame) PacketID() (uint16, error) {
	id, _, err := decodeUint16(f.Payload, 0)
	if err != nil {
		return 0, ErrMalformedPacketID
	}

	return id, nil
}

// Topic returns the topic name and message of a PUBLISH frame without a packet id.
func (f Frame) Topic() (topic string, msg []byte, err error) {
	topic, next, err := DecodeString(f.Payload, 0)
	if err != nil {
		return "", nil, err
	}

	return topic, f.Payload[next:], nil
}

// Encode writes the complete frame to buf.
func (f Frame) Encode(buf *bytes.Buffer) {
	fh := f.FixedHeader
	fh.Remaining = len(f.Payload)
	fh.Encode(buf)
	buf.Write(f.Payload)
}

// Bytes returns the wire encoding of the frame.
func (f Frame) Bytes() []byte {
	var buf bytes.Buffer
	f.Encode(&buf)
	return buf.Bytes()
}

// Name returns the human readable name of the frame type.
func (f Frame) Name() string {
	if n, ok := PacketNames[f.FixedHeader.Type]; ok {
		return n
	}

	return fmt.Sprintf("Unknown(%d)", f.FixedHeader.Type)
}

// String returns a short description of the frame for logs.
func (f Frame) String() string {
	return fmt.Sprintf("%s flags=%#x remaining=%d", f.Name(), f.FixedHeader.Flags, f.FixedHeader.Remaining)
}

// Size returns the number of bytes the frame occupies on the wire.
func (f Frame) Size() int {
	return 1 + len(AppendLength(nil, len(f.Payload))) + len(f.Payload)
}
