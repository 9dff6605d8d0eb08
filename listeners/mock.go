// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2022 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

package listeners

import (
	"fmt"
	"net"
	"sync"

	"log/slog"
)

// MockEstablisher is a function signature which can be used in testing.
func MockEstablisher(id string, c net.Conn) error {
	return nil
}

// MockCloser is a function signature which can be used in testing.
func MockCloser(id string) {}

// MockListener is a mock listener which hands in-memory pipe connections to
// the establisher, for driving the server without a network.
type MockListener struct {
	sync.RWMutex
	id        string        // the id of the listener
	address   string        // the network address the listener binds to
	Config    *Config       // configuration for the listener
	done      chan bool     // indicate the listener is done
	conns     chan net.Conn // server ends of dialled pipes waiting to be established
	Serving   bool          // indicate the listener is serving
	Listening bool          // indiciate the listener is listening
	ErrListen bool          // throw an error on listen
}

// NewMockListener returns a new instance of MockListener.
func NewMockListener(id, address string) *MockListener {
	return &MockListener{
		id:      id,
		address: address,
		done:    make(chan bool),
		conns:   make(chan net.Conn),
	}
}

// Serve serves the mock listener, establishing each dialled connection in its own goroutine.
func (l *MockListener) Serve(establisher EstablishFn) {
	l.Lock()
	l.Serving = true
	l.Unlock()

	for {
		select {
		case <-l.done:
			return
		case c := <-l.conns:
			go func() {
				_ = establisher(l.id, c)
			}()
		}
	}
}

// Dial returns the client end of a new in-memory connection and passes the
// server end to the serving listener. It blocks until Serve accepts it.
func (l *MockListener) Dial() (net.Conn, error) {
	select {
	case <-l.done:
		return nil, net.ErrClosed
	default:
	}

	client, server := net.Pipe()
	select {
	case <-l.done:
		_ = client.Close()
		_ = server.Close()
		return nil, net.ErrClosed
	case l.conns <- server:
		return client, nil
	}
}

// Init initializes the listener.
func (l *MockListener) Init(log *slog.Logger) error {
	if l.ErrListen {
		return fmt.Errorf("listen failure")
	}

	l.Lock()
	defer l.Unlock()
	l.Listening = true
	return nil
}

// ID returns the id of the mock listener.
func (l *MockListener) ID() string {
	return l.id
}

// Address returns the address of the listener.
func (l *MockListener) Address() string {
	return l.address
}

// Protocol returns the address of the listener.
func (l *MockListener) Protocol() string {
	return "mock"
}

// Close closes the mock listener.
func (l *MockListener) Close(closer CloseFn) {
	l.Lock()
	defer l.Unlock()
	l.Serving = false
	closer(l.id)
	select {
	case <-l.done:
	default:
		close(l.done)
	}
}

// IsServing indicates whether the mock listener is serving.
func (l *MockListener) IsServing() bool {
	l.Lock()
	defer l.Unlock()
	return l.Serving
}

// IsListening indicates whether the mock listener is listening.
func (l *MockListener) IsListening() bool {
	l.Lock()
	defer l.Unlock()
	return l.Listening
}
