// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2023 mochi-mqtt, mochi-co
// SPDX-FileContributor: Jeroen Rinzema

package listeners

import (
	"net"
	"sync"
	"sync/atomic"

	"log/slog"
)

// Net serves the fixture handshake on a net.Listener opened by the caller, for
// example a test harness which binds 127.0.0.1:0 and reads back the port.
type Net struct {
	mu       sync.Mutex
	listener net.Listener // the caller's listener
	id       string       // the internal id of the listener
	log      *slog.Logger // server logger
	end      uint32       // ensure the close methods are only called once
}

// NewNet returns a listener which takes over listener. Closing the Net closes it.
func NewNet(id string, listener net.Listener) *Net {
	return &Net{
		id:       id,
		listener: listener,
	}
}

// ID returns the id of the listener.
func (l *Net) ID() string {
	return l.id
}

// Address returns the bound address, including the port picked by the system.
func (l *Net) Address() string {
	return l.listener.Addr().String()
}

// Protocol returns the network of the listener.
func (l *Net) Protocol() string {
	return l.listener.Addr().Network()
}

// Init sets the logger. The listener is already bound.
func (l *Net) Init(log *slog.Logger) error {
	l.log = log
	return nil
}

// Serve hands each accepted connection to establish until the listener is closed.
func (l *Net) Serve(establish EstablishFn) {
	acceptLoop(l.id, l.listener, l.log, l.isClosed, establish)
}

// isClosed returns true once Close has been called.
func (l *Net) isClosed() bool {
	return atomic.LoadUint32(&l.end) == 1
}

// Close stops the clients of the listener on the first call, then closes the
// underlying listener.
func (l *Net) Close(closeClients CloseFn) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if atomic.CompareAndSwapUint32(&l.end, 0, 1) {
		closeClients(l.id)
	}

	if l.listener != nil {
		_ = l.listener.Close()
	}
}
