// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2022 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

package listeners

import (
	"net"
	"sync"
	"sync/atomic"

	"log/slog"
)

// LoopbackHost is the host the tcp listener binds to when the address gives none.
const LoopbackHost = "127.0.0.1"

// TCP is a listener for establishing client connections on basic TCP protocol.
type TCP struct {
	sync.RWMutex
	id      string       // the internal id of the listener
	address string       // the network address to bind to
	listen  net.Listener // a net.Listener which will listen for new clients
	config  Config       // configuration values for the listener
	log     *slog.Logger // server logger
	end     uint32       // ensure the close methods are only called once
}

// NewTCP initialises and returns a new TCP listener, listening on an address.
// An address without a host, such as ":1884", is bound to the loopback interface.
func NewTCP(config Config) *TCP {
	return &TCP{
		id:      config.ID,
		address: LoopbackAddress(config.Address),
		config:  config,
	}
}

// LoopbackAddress returns address with the loopback host filled in if it has none.
func LoopbackAddress(address string) string {
	host, port, err := net.SplitHostPort(address)
	if err != nil || host != "" {
		return address
	}

	return net.JoinHostPort(LoopbackHost, port)
}

// ID returns the id of the listener.
func (l *TCP) ID() string {
	return l.id
}

// Address returns the address of the listener.
func (l *TCP) Address() string {
	if l.listen != nil {
		return l.listen.Addr().String()
	}
	return l.address
}

// Protocol returns the address of the listener.
func (l *TCP) Protocol() string {
	return "tcp"
}

// Init initializes the listener.
func (l *TCP) Init(log *slog.Logger) error {
	l.log = log

	var err error
	l.listen, err = net.Listen("tcp", l.address)
	return err
}

// Serve accepts TCP connections until the listener is closed. Each connection
// is handled in its own goroutine, and neither a failed connection nor a failed
// accept stops the loop.
func (l *TCP) Serve(establish EstablishFn) {
	acceptLoop(l.id, l.listen, l.log, l.isClosed, establish)
}

// isClosed returns true once Close has been called.
func (l *TCP) isClosed() bool {
	return atomic.LoadUint32(&l.end) == 1
}

// Close closes the listener and any client connections.
func (l *TCP) Close(closeClients CloseFn) {
	l.Lock()
	defer l.Unlock()

	if atomic.CompareAndSwapUint32(&l.end, 0, 1) {
		closeClients(l.id)
	}

	if l.listen != nil {
		err := l.listen.Close()
		if err != nil {
			return
		}
	}
}
