// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2022 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co, thedevop, dgduncan

package fixture

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/mochi-mqtt/fixture/packets"
)

const (
	SetOptions byte = iota
	OnStarted
	OnStopped
	OnConnect
	OnDisconnect
	OnPacketRead
	OnPacketSent
	OnSubscribed
	OnPublished
)

var (
	// ErrInvalidConfigType indicates a different Type of config value was expected to what was received.
	ErrInvalidConfigType = errors.New("invalid config type provided")
)

// Hook provides an interface of handlers for different events which occur
// during the lifecycle of a fixture connection.
type Hook interface {
	ID() string
	Provides(b byte) bool
	Init(config any) error
	Stop() error
	SetOpts(l *slog.Logger, o *HookOptions)
	OnStarted()
	OnStopped()
	OnConnect(cl *Client, f packets.Frame) error                     // a CONNECT was read; an error refuses the connection before CONNACK
	OnDisconnect(cl *Client, err error)                              // the connection closed, err is nil on a completed handshake
	OnPacketRead(cl *Client, f packets.Frame) (packets.Frame, error) // triggers when a frame is read, before it is checked against the state
	OnPacketSent(cl *Client, f packets.Frame, n int)                 // triggers when frame bytes have been flushed to the client
	OnSubscribed(cl *Client, f packets.Frame, id uint16)             // the SUBACK for packet id was sent
	OnPublished(cl *Client, f packets.Frame)                         // the broker PUBLISH was sent
}

// HookOptions contains values which are inherited from the server on initialisation.
type HookOptions struct {
	Topic   string // the topic the broker publishes on
	Message string // the message the broker publishes
}

// HookLoadConfig contains the hook and configuration as loaded from a configuration (usually file).
type HookLoadConfig struct {
	Hook   Hook
	Config any
}

// Hooks is a slice of Hook interfaces to be called in sequence.
type Hooks struct {
	Log        *slog.Logger   // a logger for the hook (from the server)
	internal   atomic.Value   // a slice of []Hook
	wg         sync.WaitGroup // a waitgroup for syncing hook shutdown
	qty        int64          // the number of hooks in use
	sync.Mutex                // a mutex for locking when adding hooks
}

// Len returns the number of hooks added.
func (h *Hooks) Len() int64 {
	return atomic.LoadInt64(&h.qty)
}

// Provides returns true if any one hook provides any of the requested hook methods.
func (h *Hooks) Provides(b ...byte) bool {
	for _, hook := range h.GetAll() {
		for _, hb := range b {
			if hook.Provides(hb) {
				return true
			}
		}
	}

	return false
}

// Add adds and initializes a new hook.
func (h *Hooks) Add(hook Hook, config any) error {
	h.Lock()
	defer h.Unlock()

	err := hook.Init(config)
	if err != nil {
		return fmt.Errorf("failed initialising %s hook: %w", hook.ID(), err)
	}

	i, ok := h.internal.Load().([]Hook)
	if !ok {
		i = []Hook{}
	}

	i = append(i, hook)
	h.internal.Store(i)
	atomic.AddInt64(&h.qty, 1)
	h.wg.Add(1)

	return nil
}

// GetAll returns a slice of all the hooks.
func (h *Hooks) GetAll() []Hook {
	i, ok := h.internal.Load().([]Hook)
	if !ok {
		return []Hook{}
	}

	return i
}

// Stop indicates all attached hooks to gracefully end.
func (h *Hooks) Stop() {
	go func() {
		for _, hook := range h.GetAll() {
			h.Log.Info("stopping hook", "hook", hook.ID())
			if err := hook.Stop(); err != nil {
				h.Log.Debug("problem stopping hook", "error", err, "hook", hook.ID())
			}

			h.wg.Done()
		}
	}()

	h.wg.Wait()
}

// OnStarted is called when the server has successfully started.
func (h *Hooks) OnStarted() {
	for _, hook := range h.GetAll() {
		if hook.Provides(OnStarted) {
			hook.OnStarted()
		}
	}
}

// OnStopped is called when the server has stopped.
func (h *Hooks) OnStopped() {
	for _, hook := range h.GetAll() {
		if hook.Provides(OnStopped) {
			hook.OnStopped()
		}
	}
}

// OnConnect is called when a CONNECT frame is read from a client. The first
// error returned by a hook refuses the connection.
func (h *Hooks) OnConnect(cl *Client, f packets.Frame) error {
	for _, hook := range h.GetAll() {
		if hook.Provides(OnConnect) {
			err := hook.OnConnect(cl, f)
			if err != nil {
				return err
			}
		}
	}
	return nil
}

// OnDisconnect is called when a client connection is closed, for any reason.
func (h *Hooks) OnDisconnect(cl *Client, err error) {
	for _, hook := range h.GetAll() {
		if hook.Provides(OnDisconnect) {
			hook.OnDisconnect(cl, err)
		}
	}
}

// OnPacketRead is called when a frame is read from a client. Hooks may replace
// the frame, and an error ends the connection.
func (h *Hooks) OnPacketRead(cl *Client, f packets.Frame) (fx packets.Frame, err error) {
	fx = f
	for _, hook := range h.GetAll() {
		if hook.Provides(OnPacketRead) {
			npk, err := hook.OnPacketRead(cl, fx)
			if err != nil {
				return fx, err
			}
			fx = npk
		}
	}

	return
}

// OnPacketSent is called when a frame has been written and flushed to a client.
func (h *Hooks) OnPacketSent(cl *Client, f packets.Frame, n int) {
	for _, hook := range h.GetAll() {
		if hook.Provides(OnPacketSent) {
			hook.OnPacketSent(cl, f, n)
		}
	}
}

// OnSubscribed is called when a SUBSCRIBE has been acknowledged.
func (h *Hooks) OnSubscribed(cl *Client, f packets.Frame, id uint16) {
	for _, hook := range h.GetAll() {
		if hook.Provides(OnSubscribed) {
			hook.OnSubscribed(cl, f, id)
		}
	}
}

// OnPublished is called when the broker's PUBLISH has been sent to a client.
func (h *Hooks) OnPublished(cl *Client, f packets.Frame) {
	for _, hook := range h.GetAll() {
		if hook.Provides(OnPublished) {
			hook.OnPublished(cl, f)
		}
	}
}

// HookBase provides a set of default methods for each hook. It should be embedded in
// all hooks.
type HookBase struct {
	Hook
	Log  *slog.Logger
	Opts *HookOptions
}

// ID returns the ID of the hook.
func (h *HookBase) ID() string {
	return "base"
}

// Provides indicates which methods a hook provides. The default is none - this method
// should be overridden by the embedding hook.
func (h *HookBase) Provides(b byte) bool {
	return false
}

// Init performs any pre-start initializations for the hook, such as connecting to databases
// or opening files.
func (h *HookBase) Init(config any) error {
	return nil
}

// SetOpts is called by the server to propagate internal values and generally should
// not be called manually.
func (h *HookBase) SetOpts(l *slog.Logger, opts *HookOptions) {
	h.Log = l
	h.Opts = opts
}

// Stop is called to gracefully shut down the hook.
func (h *HookBase) Stop() error {
	return nil
}

// OnStarted is called when the server starts.
func (h *HookBase) OnStarted() {}

// OnStopped is called when the server stops.
func (h *HookBase) OnStopped() {}

// OnConnect is called when a new client connects.
func (h *HookBase) OnConnect(cl *Client, f packets.Frame) error {
	return nil
}

// OnDisconnect is called when a client is disconnected for any reason.
func (h *HookBase) OnDisconnect(cl *Client, err error) {}

// OnPacketRead is called when a frame is received.
func (h *HookBase) OnPacketRead(cl *Client, f packets.Frame) (packets.Frame, error) {
	return f, nil
}

// OnPacketSent is called immediately after a frame is written to a client.
func (h *HookBase) OnPacketSent(cl *Client, f packets.Frame, n int) {}

// OnSubscribed is called when a client subscribes.
func (h *HookBase) OnSubscribed(cl *Client, f packets.Frame, id uint16) {}

// OnPublished is called when the broker publishes to a client.
func (h *HookBase) OnPublished(cl *Client, f packets.Frame) {}
