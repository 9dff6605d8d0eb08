// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2022 mochi-co
// SPDX-FileContributor: mochi-co

package debug

import (
	"fmt"
	"strings"

	"log/slog"

	"github.com/mochi-mqtt/fixture"
	"github.com/mochi-mqtt/fixture/packets"
)

// Options contains configuration settings for the debug output.
type Options struct {
	ShowPacketData bool `yaml:"show_packet_data" json:"show_packet_data"` // include raw payload bytes (default false)
}

// Hook is a debugging hook which logs additional low-level information from the server.
type Hook struct {
	fixture.HookBase
	config *Options
	Log    *slog.Logger
}

// ID returns the ID of the hook.
func (h *Hook) ID() string {
	return "debug"
}

// Provides indicates that this hook provides all methods.
func (h *Hook) Provides(b byte) bool {
	return true
}

// Init is called when the hook is initialized.
func (h *Hook) Init(config any) error {
	if _, ok := config.(*Options); !ok && config != nil {
		return fixture.ErrInvalidConfigType
	}

	if config == nil {
		config = new(Options)
	}

	h.config = config.(*Options)

	return nil
}

// SetOpts is called when the hook receives inheritable server parameters.
func (h *Hook) SetOpts(l *slog.Logger, opts *fixture.HookOptions) {
	h.Log = l
	h.Log.Debug("", "method", "SetOpts", "topic", opts.Topic, "message", opts.Message)
}

// Stop is called when the hook is stopped.
func (h *Hook) Stop() error {
	h.Log.Debug("", "method", "Stop")
	return nil
}

// OnStarted is called when the server starts.
func (h *Hook) OnStarted() {
	h.Log.Debug("", "method", "OnStarted")
}

// OnStopped is called when the server stops.
func (h *Hook) OnStopped() {
	h.Log.Debug("", "method", "OnStopped")
}

// OnConnect is called when a client sends CONNECT.
func (h *Hook) OnConnect(cl *fixture.Client, f packets.Frame) error {
	h.Log.Debug("", "method", "OnConnect", "client", cl.ID, "remote", cl.Net.Remote, "listener", cl.Net.Listener)
	return nil
}

// OnPacketRead is called when a new frame is received from a client.
func (h *Hook) OnPacketRead(cl *fixture.Client, f packets.Frame) (packets.Frame, error) {
	h.Log.Debug(fmt.Sprintf("%s << %s", strings.ToUpper(f.Name()), cl.ID), "m", h.frameMeta(f))
	return f, nil
}

// OnPacketSent is called when a frame is sent to a client.
func (h *Hook) OnPacketSent(cl *fixture.Client, f packets.Frame, n int) {
	h.Log.Debug(fmt.Sprintf("%s >> %s", strings.ToUpper(f.Name()), cl.ID), "m", h.frameMeta(f), "bytes", n)
}

// OnSubscribed is called when a client's SUBSCRIBE has been acknowledged.
func (h *Hook) OnSubscribed(cl *fixture.Client, f packets.Frame, id uint16) {
	h.Log.Debug("subscribed", "method", "OnSubscribed", "client", cl.ID, "packet_id", id)
}

// OnPublished is called when the broker's message has been sent to a client.
func (h *Hook) OnPublished(cl *fixture.Client, f packets.Frame) {
	h.Log.Debug("published", "method", "OnPublished", "client", cl.ID, "m", h.frameMeta(f))
}

// OnDisconnect is called when a client is disconnected for any reason.
func (h *Hook) OnDisconnect(cl *fixture.Client, err error) {
	h.Log.Debug("disconnected", "method", "OnDisconnect", "client", cl.ID, "state", cl.Reached().String(), "error", err)
}

// frameMeta adds additional type-specific metadata to the debug logs.
func (h *Hook) frameMeta(f packets.Frame) map[string]any {
	m := map[string]any{
		"flags":     f.FixedHeader.Flags,
		"remaining": f.FixedHeader.Remaining,
	}

	switch f.FixedHeader.Type {
	case packets.Publish:
		if topic, msg, err := f.Topic(); err == nil {
			m["topic"] = topic
			m["payload"] = string(msg)
		}
	case packets.Subscribe, packets.Suback:
		if id, err := f.PacketID(); err == nil {
			m["id"] = id
		}
	}

	if h.config.ShowPacketData {
		m["raw"] = f.Payload
	}

	return m
}
