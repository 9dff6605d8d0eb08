// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2022 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

package listeners

import (
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewTCP(t *testing.T) {
	l := NewTCP(Config{ID: "t1", Address: testAddr})
	require.Equal(t, "t1", l.id)
	require.Equal(t, testAddr, l.address)
}

func TestLoopbackAddress(t *testing.T) {
	require.Equal(t, "127.0.0.1:1884", LoopbackAddress(":1884"))
	require.Equal(t, "0.0.0.0:1884", LoopbackAddress("0.0.0.0:1884"))
	require.Equal(t, "localhost:80", LoopbackAddress("localhost:80"))
	require.Equal(t, "garbage", LoopbackAddress("garbage"))

	l := NewTCP(Config{ID: "t1", Address: ":1884"})
	require.Equal(t, "127.0.0.1:1884", l.Address())
}

func TestTCPID(t *testing.T) {
	l := NewTCP(Config{ID: "t1", Address: testAddr})
	require.Equal(t, "t1", l.ID())
}

func TestTCPProtocol(t *testing.T) {
	l := NewTCP(Config{ID: "t1", Address: testAddr})
	require.Equal(t, "tcp", l.Protocol())
}

func TestTCPInit(t *testing.T) {
	l := NewTCP(Config{ID: "t1", Address: testAddr})
	err := l.Init(logger)
	require.NoError(t, err)
	require.NotNil(t, l.listen)
	require.NotEqual(t, testAddr, l.Address()) // the bound port replaces :0

	l2 := NewTCP(Config{ID: "t2", Address: l.Address()})
	err = l2.Init(logger)
	require.Error(t, err)

	l.Close(MockCloser)
}

func TestTCPServeAndClose(t *testing.T) {
	l := NewTCP(Config{ID: "t1", Address: testAddr})
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

func TestTCPEstablishErrorKeepsServing(t *testing.T) {
	l := NewTCP(Config{ID: "t1", Address: testAddr})
	err := l.Init(logger)
	require.NoError(t, err)

	o := make(chan bool)
	established := make(chan bool)
	go func() {
		l.Serve(func(id string, c net.Conn) error {
			c.Close()
			established <- true
			return errors.New("ending")
		})
		o <- true
	}()

	for i := 0; i < 3; i++ {
		c, err := net.Dial("tcp", l.Address())
		require.NoError(t, err)
		require.True(t, <-established)
		_ = c.Close()
	}

	l.Close(MockCloser)
	<-o
}
