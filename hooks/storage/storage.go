// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2022 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

package storage

import (
	"encoding/json"
	"errors"
)

const (
	TranscriptKey = "TX"  // unique key to denote transcript entries in a store
	OutcomeKey    = "END" // unique key to denote connection outcomes in a store
)

const (
	DirectionIn  = "in"  // a frame read from the client
	DirectionOut = "out" // a frame written to the client
)

var (
	// ErrDBFileNotOpen indicates that the file database (e.g. bolt) wasn't open for reading.
	ErrDBFileNotOpen = errors.New("db file not open")
)

// Serializable is an interface for objects that can be serialized and deserialized.
type Serializable interface {
	UnmarshalBinary([]byte) error
	MarshalBinary() (data []byte, err error)
}

// Entry is a storable record of a single frame exchanged with a client.
type Entry struct {
	Payload   []byte `json:"payload,omitempty"` // the frame payload
	ID        string `json:"id"`                // the storage key
	T         string `json:"t"`                 // the data type (transcript)
	Client    string `json:"client"`            // the id of the client connection
	Direction string `json:"direction"`         // in or out, relative to the broker
	Seq       uint64 `json:"seq"`               // the order the entry was recorded in
	Created   int64  `json:"created"`           // the time the frame was recorded in unix nanoseconds
	Remaining int    `json:"remaining"`         // the remaining length of the frame
	Bytes     int    `json:"bytes"`             // the number of bytes the frame occupied on the wire
	Type      byte   `json:"type"`              // the frame packet type
	Flags     byte   `json:"flags"`             // the frame header flags
}

// MarshalBinary encodes the values into a json string.
func (d Entry) MarshalBinary() (data []byte, err error) {
	return json.Marshal(d)
}

// UnmarshalBinary decodes a json string into a struct.
func (d *Entry) UnmarshalBinary(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, d)
}

// Outcome is a storable record of how a client connection ended.
type Outcome struct {
	ID        string `json:"id"`              // the storage key
	T         string `json:"t"`               // the data type (outcome)
	Client    string `json:"client"`          // the id of the client connection
	Remote    string `json:"remote"`          // the remote address of the client
	Listener  string `json:"listener"`        // the listener the client connected on
	State     string `json:"state"`           // the furthest handshake state reached
	Error     string `json:"error,omitempty"` // the reason the connection failed, if it did
	Ended     int64  `json:"ended"`           // the time the connection closed in unix seconds
	PacketID  uint16 `json:"packet_id"`       // the packet id of the client's SUBSCRIBE
	Completed bool   `json:"completed"`       // true if the handshake completed
}

// MarshalBinary encodes the values into a json string.
func (d Outcome) MarshalBinary() (data []byte, err error) {
	return json.Marshal(d)
}

// UnmarshalBinary decodes a json string into a struct.
func (d *Outcome) UnmarshalBinary(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, d)
}
