// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2022 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

package fixture

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mochi-mqtt/fixture/packets"
)

type modifiedHookBase struct {
	HookBase
	err  error
	fail bool
}

var errTestHook = errors.New("error")

func (h *modifiedHookBase) ID() string {
	return "modified"
}

func (h *modifiedHookBase) Init(config any) error {
	if config != nil {
		return errTestHook
	}
	return nil
}

func (h *modifiedHookBase) Provides(b byte) bool {
	return true
}

func (h *modifiedHookBase) Stop() error {
	if h.fail {
		return errTestHook
	}

	return nil
}

func (h *modifiedHookBase) OnConnect(cl *Client, f packets.Frame) error {
	if h.fail {
		return errTestHook
	}

	return nil
}

func (h *modifiedHookBase) OnPacketRead(cl *Client, f packets.Frame) (packets.Frame, error) {
	if h.fail {
		if h.err != nil {
			return f, h.err
		}

		return f, errTestHook
	}

	f.FixedHeader.Flags = 0x2
	return f, nil
}

// recordingHook keeps every event it is called with.
type recordingHook struct {
	HookBase
	sync.Mutex
	started    bool
	stopped    bool
	connects   int
	read       []packets.Frame
	sent       []packets.Frame
	sentBytes  int
	subscribed []uint16
	published  []packets.Frame
	disconnect []error
	done       chan struct{}
}

func newRecordingHook() *recordingHook {
	return &recordingHook{
		done: make(chan struct{}, 8),
	}
}

func (h *recordingHook) ID() string {
	return "recording"
}

func (h *recordingHook) Provides(b byte) bool {
	return true
}

func (h *recordingHook) OnStarted() {
	h.Lock()
	defer h.Unlock()
	h.started = true
}

func (h *recordingHook) OnStopped() {
	h.Lock()
	defer h.Unlock()
	h.stopped = true
}

func (h *recordingHook) OnConnect(cl *Client, f packets.Frame) error {
	h.Lock()
	defer h.Unlock()
	h.connects++
	return nil
}

func (h *recordingHook) OnPacketRead(cl *Client, f packets.Frame) (packets.Frame, error) {
	h.Lock()
	defer h.Unlock()
	h.read = append(h.read, f)
	return f, nil
}

func (h *recordingHook) OnPacketSent(cl *Client, f packets.Frame, n int) {
	h.Lock()
	defer h.Unlock()
	h.sent = append(h.sent, f)
	h.sentBytes += n
}

func (h *recordingHook) OnSubscribed(cl *Client, f packets.Frame, id uint16) {
	h.Lock()
	defer h.Unlock()
	h.subscribed = append(h.subscribed, id)
}

func (h *recordingHook) OnPublished(cl *Client, f packets.Frame) {
	h.Lock()
	defer h.Unlock()
	h.published = append(h.published, f)
}

func (h *recordingHook) OnDisconnect(cl *Client, err error) {
	h.Lock()
	h.disconnect = append(h.disconnect, err)
	h.Unlock()
	h.done <- struct{}{}
}

func TestHooksProvides(t *testing.T) {
	h := new(Hooks)
	err := h.Add(new(modifiedHookBase), nil)
	require.NoError(t, err)

	require.True(t, h.Provides(OnConnect, OnDisconnect))
	require.True(t, h.Provides(OnPublished))
	require.Equal(t, int64(1), h.Len())
}

func TestHooksProvidesNone(t *testing.T) {
	h := new(Hooks)
	err := h.Add(new(HookBase), nil)
	require.NoError(t, err)

	require.False(t, h.Provides(OnConnect, OnPacketRead))
}

func TestHooksAddInitFailure(t *testing.T) {
	h := new(Hooks)
	err := h.Add(new(modifiedHookBase), map[string]any{})
	require.Error(t, err)
	require.ErrorIs(t, err, errTestHook)
	require.Equal(t, int64(0), h.Len())
}

func TestHooksGetAll(t *testing.T) {
	h := new(Hooks)
	require.Empty(t, h.GetAll())

	err := h.Add(new(HookBase), nil)
	require.NoError(t, err)
	err = h.Add(new(modifiedHookBase), nil)
	require.NoError(t, err)

	all := h.GetAll()
	require.Len(t, all, 2)
	require.Equal(t, "base", all[0].ID())
	require.Equal(t, "modified", all[1].ID())
}

func TestHooksStop(t *testing.T) {
	h := new(Hooks)
	h.Log = logger

	err := h.Add(new(HookBase), nil)
	require.NoError(t, err)
	err = h.Add(&modifiedHookBase{fail: true}, nil)
	require.NoError(t, err)

	h.Stop()
}

func TestHooksOnConnect(t *testing.T) {
	h := new(Hooks)
	err := h.Add(new(modifiedHookBase), nil)
	require.NoError(t, err)

	err = h.OnConnect(new(Client), packets.NewFrame(packets.Connect, 0, nil))
	require.NoError(t, err)

	h = new(Hooks)
	err = h.Add(&modifiedHookBase{fail: true}, nil)
	require.NoError(t, err)

	err = h.OnConnect(new(Client), packets.NewFrame(packets.Connect, 0, nil))
	require.ErrorIs(t, err, errTestHook)
}

func TestHooksOnPacketRead(t *testing.T) {
	h := new(Hooks)
	err := h.Add(new(HookBase), nil)
	require.NoError(t, err)
	err = h.Add(new(modifiedHookBase), nil)
	require.NoError(t, err)

	f, err := h.OnPacketRead(new(Client), packets.NewFrame(packets.Publish, 0, []byte{0, 1, 'a'}))
	require.NoError(t, err)
	require.Equal(t, byte(0x2), f.FixedHeader.Flags)
	require.Equal(t, []byte{0, 1, 'a'}, f.Payload)
}

func TestHooksOnPacketReadFailure(t *testing.T) {
	errCustom := errors.New("custom")
	h := new(Hooks)
	err := h.Add(&modifiedHookBase{fail: true, err: errCustom}, nil)
	require.NoError(t, err)

	in := packets.NewFrame(packets.Publish, 0, nil)
	f, err := h.OnPacketRead(new(Client), in)
	require.ErrorIs(t, err, errCustom)
	require.Equal(t, in, f)
}

func TestHooksNonReturns(t *testing.T) {
	h := new(Hooks)
	cl := new(Client)
	f := packets.NewFrame(packets.Publish, 0, nil)

	for i := 0; i < 2; i++ {
		t.Run("step-"+string(rune('0'+i)), func(t *testing.T) {
			// on first iteration, check without hook methods
			h.OnStarted()
			h.OnStopped()
			h.OnPacketSent(cl, f, 2)
			h.OnSubscribed(cl, f, 7)
			h.OnPublished(cl, f)
			h.OnDisconnect(cl, nil)

			// on second iteration, check added hook methods
			err := h.Add(new(modifiedHookBase), nil)
			require.NoError(t, err)
		})
	}
}

func TestHookBaseID(t *testing.T) {
	h := new(HookBase)
	require.Equal(t, "base", h.ID())
}

func TestHookBaseProvidesNone(t *testing.T) {
	h := new(HookBase)
	require.False(t, h.Provides(OnConnect))
	require.False(t, h.Provides(OnDisconnect))
}

func TestHookBaseInit(t *testing.T) {
	h := new(HookBase)
	require.Nil(t, h.Init(nil))
}

func TestHookBaseSetOpts(t *testing.T) {
	h := new(HookBase)
	h.SetOpts(logger, &HookOptions{Topic: DefaultTopic})
	require.NotNil(t, h.Log)
	require.NotNil(t, h.Opts)
	require.Equal(t, DefaultTopic, h.Opts.Topic)
}

func TestHookBaseDefaults(t *testing.T) {
	h := new(HookBase)
	f := packets.NewFrame(packets.Connect, 0, nil)

	require.Nil(t, h.Stop())
	require.Nil(t, h.OnConnect(new(Client), f))

	out, err := h.OnPacketRead(new(Client), f)
	require.NoError(t, err)
	require.Equal(t, f, out)
}
