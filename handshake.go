// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2022 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

package fixture

import (
	"fmt"
	"sync/atomic"

	"github.com/mochi-mqtt/fixture/packets"
)

const (
	DefaultTopic   = "robotick/integration/topic" // the topic the broker publishes on unless configured
	DefaultMessage = "welcome from broker"        // the message the broker publishes unless configured
)

// State is a step in the fixed handshake each connection is taken through.
type State uint32

const (
	StateAwaitConnect State = iota
	StateAwaitSubscribe
	StatePublishing
	StateAwaitClientPublish
	StateDone
	StateClosed
)

var stateNames = map[State]string{
	StateAwaitConnect:       "await_connect",
	StateAwaitSubscribe:     "await_subscribe",
	StatePublishing:         "publishing",
	StateAwaitClientPublish: "await_client_publish",
	StateDone:               "done",
	StateClosed:             "closed",
}

// String returns the name of the state.
func (s State) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}

	return fmt.Sprintf("state(%d)", uint32(s))
}

// transition returns the state following st when frame f is received, and the
// reply to send before moving to it. States which do not read return an error.
func transition(st State, f packets.Frame) (State, *packets.Frame, error) {
	switch st {
	case StateAwaitConnect:
		if err := expect(st, f, packets.Connect); err != nil {
			return StateClosed, nil, err
		}

		ack := packets.ConnackFrame()
		return StateAwaitSubscribe, &ack, nil

	case StateAwaitSubscribe:
		if err := expect(st, f, packets.Subscribe); err != nil {
			return StateClosed, nil, err
		}

		id, err := f.PacketID()
		if err != nil {
			return StateClosed, nil, fmt.Errorf("%s: %w", st, err)
		}

		ack := packets.SubackFrame(id)
		return StatePublishing, &ack, nil

	case StateAwaitClientPublish:
		return StateDone, nil, nil // contents are not inspected
	}

	return StateClosed, nil, fmt.Errorf("%w: %s received %s", ErrProtocolViolation, st, f.Name())
}

// expect returns a protocol violation if f is not of packet type want.
func expect(st State, f packets.Frame, want byte) error {
	if f.FixedHeader.Type != want {
		return fmt.Errorf("%w: %s expected %s, received %s", ErrProtocolViolation, st, packets.PacketNames[want], f.Name())
	}

	return nil
}

// Handshake takes the client from its current state through to done. It returns
// nil once the handshake completes, including when the client hangs up after
// receiving the broker's message. Any other read failure or an unexpected frame
// ends the handshake with an error. The connection is left open for the caller
// to stop.
func (cl *Client) Handshake() error {
	for {
		st := cl.CurrentState()
		switch st {
		case StateDone:
			return nil
		case StateClosed:
			return ErrConnectionClosed
		case StatePublishing:
			if err := cl.publish(); err != nil {
				return err
			}
			if !cl.advanceState(st, StateAwaitClientPublish) {
				return ErrConnectionClosed
			}
			continue
		}

		f, err := cl.ReadFrame()
		if err != nil {
			if st == StateAwaitClientPublish && packets.IsEndOfStream(err) {
				if !cl.advanceState(st, StateDone) {
					return ErrConnectionClosed
				}
				return nil
			}
			return fmt.Errorf("%s: %w", st, err)
		}

		f, err = cl.ops.hooks.OnPacketRead(cl, f)
		if err != nil {
			return err
		}

		next, reply, err := transition(st, f)
		if err != nil {
			return err
		}

		switch st {
		case StateAwaitConnect:
			if err := cl.ops.hooks.OnConnect(cl, f); err != nil {
				return err
			}
		case StateAwaitSubscribe:
			cl.State.PacketID, _ = f.PacketID()
		case StateAwaitClientPublish:
			if f.FixedHeader.Type == packets.Publish {
				atomic.AddInt64(&cl.ops.info.MessagesReceived, 1)
			}
		}

		if reply != nil {
			if err := cl.send(*reply); err != nil {
				return err
			}

			if reply.FixedHeader.Type == packets.Suback {
				cl.ops.hooks.OnSubscribed(cl, f, cl.State.PacketID)
			}
		}

		if !cl.advanceState(st, next) {
			return ErrConnectionClosed
		}
	}
}

// publish sends the broker's message to the client.
func (cl *Client) publish() error {
	f := packets.PublishFrame(cl.ops.options.Topic, []byte(cl.ops.options.Message))
	if err := cl.send(f); err != nil {
		return err
	}

	atomic.AddInt64(&cl.ops.info.MessagesSent, 1)
	cl.ops.hooks.OnPublished(cl, f)
	return nil
}

// send writes f to the client and notifies the hooks.
func (cl *Client) send(f packets.Frame) error {
	n, err := cl.WriteFrame(f)
	if err != nil {
		return fmt.Errorf("write %s: %w", f.Name(), err)
	}

	cl.ops.hooks.OnPacketSent(cl, f, n)
	return nil
}
