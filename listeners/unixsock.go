// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2022 mochi-mqtt, mochi-co
// SPDX-FileContributor: jason@zgwit.com

package listeners

import (
	"net"
	"os"
	"sync"
	"sync/atomic"

	"log/slog"
)

// UnixSock serves the fixture handshake on a unix domain socket, for harnesses
// which run the broker beside the client under test without a tcp port.
type UnixSock struct {
	sync.RWMutex
	id      string       // the internal id of the listener
	address string       // the socket path to bind to
	config  Config       // configuration values for the listener
	listen  net.Listener // bound by Init
	log     *slog.Logger // server logger
	end     uint32       // ensure the close methods are only called once
}

// NewUnixSock returns a listener for the socket path in config.Address.
func NewUnixSock(config Config) *UnixSock {
	return &UnixSock{
		id:      config.ID,
		address: config.Address,
		config:  config,
	}
}

// ID returns the id of the listener.
func (l *UnixSock) ID() string {
	return l.id
}

// Address returns the socket path.
func (l *UnixSock) Address() string {
	return l.address
}

// Protocol returns the network of the listener.
func (l *UnixSock) Protocol() string {
	return "unix"
}

// Init binds the socket, replacing a stale socket file left by an earlier run.
func (l *UnixSock) Init(log *slog.Logger) error {
	l.log = log

	var err error
	_ = os.Remove(l.address)
	l.listen, err = net.Listen("unix", l.address)
	return err
}

// Serve hands each accepted connection to establish until the listener is closed.
func (l *UnixSock) Serve(establish EstablishFn) {
	acceptLoop(l.id, l.listen, l.log, l.isClosed, establish)
}

// isClosed returns true once Close has been called.
func (l *UnixSock) isClosed() bool {
	return atomic.LoadUint32(&l.end) == 1
}

// Close stops the clients of the listener on the first call, then closes and
// removes the socket.
func (l *UnixSock) Close(closeClients CloseFn) {
	l.Lock()
	defer l.Unlock()

	if atomic.CompareAndSwapUint32(&l.end, 0, 1) {
		closeClients(l.id)
	}

	if l.listen != nil {
		_ = l.listen.Close()
	}
}
