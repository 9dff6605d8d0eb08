// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2022 mochi-mqtt, mochi-co
// SPDX-FileContributor: jason@zgwit.com

package listeners

import (
	"errors"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testSockPath(t *testing.T) string {
	return filepath.Join(t.TempDir(), "fixture.sock")
}

func TestNewUnixSock(t *testing.T) {
	path := testSockPath(t)
	l := NewUnixSock(Config{ID: "t1", Address: path})
	require.Equal(t, "t1", l.ID())
	require.Equal(t, path, l.Address())
	require.Equal(t, "unix", l.Protocol())
}

func TestUnixSockServeAndClose(t *testing.T) {
	l := NewUnixSock(Config{ID: "t1", Address: testSockPath(t)})
	err := l.Init(logger)
	require.NoError(t, err)

	o := make(chan bool)
	go func(o chan bool) {
		l.Serve(MockEstablisher)
		o <- true
	}(o)

	time.Sleep(time.Millisecond)

	var closed bool
	l.Close(func(id string) {
		closed = true
	})

	require.True(t, closed)
	<-o

	l.Close(MockCloser)      // coverage: close closed
	l.Serve(MockEstablisher) // coverage: serve closed
}

func TestUnixSockEstablishThenEnd(t *testing.T) {
	path := testSockPath(t)
	l := NewUnixSock(Config{ID: "t1", Address: path})
	err := l.Init(logger)
	require.NoError(t, err)

	o := make(chan bool)
	established := make(chan bool)
	go func() {
		l.Serve(func(id string, c net.Conn) error {
			established <- true
			return errors.New("ending")
		})
		o <- true
	}()

	_, err = net.Dial("unix", path)
	require.NoError(t, err)
	require.Equal(t, true, <-established)
	l.Close(MockCloser)
	<-o
}
