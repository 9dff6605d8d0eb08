// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2022 mochi-co
// SPDX-FileContributor: mochi-co

package debug

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mochi-mqtt/fixture"
	"github.com/mochi-mqtt/fixture/packets"
)

func newHook(t *testing.T, opts *Options) (*Hook, *bytes.Buffer) {
	t.Helper()
	buf := new(bytes.Buffer)
	h := new(Hook)
	require.NoError(t, h.Init(opts))
	h.SetOpts(slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug})), &fixture.HookOptions{
		Topic:   fixture.DefaultTopic,
		Message: fixture.DefaultMessage,
	})
	return h, buf
}

func TestID(t *testing.T) {
	h := new(Hook)
	require.Equal(t, "debug", h.ID())
}

func TestProvides(t *testing.T) {
	h := new(Hook)
	require.True(t, h.Provides(fixture.OnPacketRead))
	require.True(t, h.Provides(fixture.OnDisconnect))
}

func TestInit(t *testing.T) {
	h := new(Hook)
	require.NoError(t, h.Init(nil))
	require.NotNil(t, h.config)
	require.False(t, h.config.ShowPacketData)

	require.NoError(t, h.Init(&Options{ShowPacketData: true}))
	require.True(t, h.config.ShowPacketData)
}

func TestInitBadConfig(t *testing.T) {
	h := new(Hook)
	err := h.Init(map[string]any{})
	require.ErrorIs(t, err, fixture.ErrInvalidConfigType)
}

func TestSetOpts(t *testing.T) {
	h, buf := newHook(t, nil)
	require.NotNil(t, h.Log)
	require.Contains(t, buf.String(), "method=SetOpts")
	require.Contains(t, buf.String(), fixture.DefaultTopic)
}

func TestLifecycle(t *testing.T) {
	h, buf := newHook(t, nil)
	h.OnStarted()
	h.OnStopped()
	require.NoError(t, h.Stop())

	require.Contains(t, buf.String(), "method=OnStarted")
	require.Contains(t, buf.String(), "method=OnStopped")
	require.Contains(t, buf.String(), "method=Stop")
}

func TestOnPacketRead(t *testing.T) {
	h, buf := newHook(t, nil)
	cl := &fixture.Client{ID: "c1"}

	in := packets.PublishFrame("a/b", []byte("client payload"))
	out, err := h.OnPacketRead(cl, in)
	require.NoError(t, err)
	require.Equal(t, in, out)
	require.Contains(t, buf.String(), "PUBLISH << c1")
	require.Contains(t, buf.String(), "topic:a/b")
	require.Contains(t, buf.String(), "client payload")
	require.NotContains(t, buf.String(), "raw")
}

func TestOnPacketSent(t *testing.T) {
	h, buf := newHook(t, &Options{ShowPacketData: true})
	cl := &fixture.Client{ID: "c1"}

	h.OnPacketSent(cl, packets.SubackFrame(7), 5)
	require.Contains(t, buf.String(), "SUBACK >> c1")
	require.Contains(t, buf.String(), "id:7")
	require.Contains(t, buf.String(), "bytes=5")
	require.Contains(t, buf.String(), "raw")
}

func TestOnEvents(t *testing.T) {
	h, buf := newHook(t, nil)
	cl := &fixture.Client{ID: "c1"}

	require.NoError(t, h.OnConnect(cl, packets.NewFrame(packets.Connect, 0, nil)))
	h.OnSubscribed(cl, packets.NewFrame(packets.Subscribe, 2, []byte{0, 7}), 7)
	h.OnPublished(cl, packets.PublishFrame(fixture.DefaultTopic, []byte(fixture.DefaultMessage)))
	h.OnDisconnect(cl, errors.New("boom"))

	out := buf.String()
	require.Contains(t, out, "method=OnConnect")
	require.Contains(t, out, "packet_id=7")
	require.Contains(t, out, fixture.DefaultMessage)
	require.Contains(t, out, "error=boom")
	require.Contains(t, out, "state=await_connect")
}

func TestFrameMetaMalformed(t *testing.T) {
	h := new(Hook)
	require.NoError(t, h.Init(nil))
	h.Log = slog.New(slog.NewTextHandler(io.Discard, nil))

	m := h.frameMeta(packets.NewFrame(packets.Publish, 0, []byte{0x00}))
	require.NotContains(t, m, "topic")
	require.Equal(t, 1, m["remaining"])
}
