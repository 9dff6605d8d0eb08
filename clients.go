// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2022 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

package fixture

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"log/slog"

	"github.com/rs/xid"

	"github.com/mochi-mqtt/fixture/packets"
	"github.com/mochi-mqtt/fixture/system"
)

// Clients contains a map of the clients currently connected to the broker.
type Clients struct {
	internal map[string]*Client // clients by connection id
	sync.RWMutex
}

// NewClients returns an instance of Clients.
func NewClients() *Clients {
	return &Clients{
		internal: make(map[string]*Client),
	}
}

// Add adds a new client to the clients map, keyed on client id.
func (cl *Clients) Add(val *Client) {
	cl.Lock()
	defer cl.Unlock()
	cl.internal[val.ID] = val
}

// GetAll returns all the clients.
func (cl *Clients) GetAll() map[string]*Client {
	cl.RLock()
	defer cl.RUnlock()
	m := map[string]*Client{}
	for k, v := range cl.internal {
		m[k] = v
	}
	return m
}

// Get returns the value of a client if it exists.
func (cl *Clients) Get(id string) (*Client, bool) {
	cl.RLock()
	defer cl.RUnlock()
	val, ok := cl.internal[id]
	return val, ok
}

// Len returns the length of the clients map.
func (cl *Clients) Len() int {
	cl.RLock()
	defer cl.RUnlock()
	val := len(cl.internal)
	return val
}

// Delete removes a client from the internal map.
func (cl *Clients) Delete(id string) {
	cl.Lock()
	defer cl.Unlock()
	delete(cl.internal, id)
}

// GetByListener returns clients matching a listener id.
func (cl *Clients) GetByListener(id string) []*Client {
	cl.RLock()
	defer cl.RUnlock()
	clients := make([]*Client, 0, len(cl.internal))
	for _, client := range cl.internal {
		if client.Net.Listener == id && !client.Closed() {
			clients = append(clients, client)
		}
	}
	return clients
}

// Client contains information about a client connected to the fixture broker.
type Client struct {
	ID    string           // a unique id for the connection
	Net   ClientConnection // network connection state of the client
	State ClientState      // the handshake state of the client
	r     *packets.Reader  // frame reader over the client connection
	w     *packets.Writer  // frame writer over the client connection
	ops   *ops             // ops provides a reference to server options and logging
}

// ClientConnection contains the connection transport and metadata for the client.
type ClientConnection struct {
	Conn     net.Conn // the net.Conn used to establish the connection
	Remote   string   // the remote address of the client
	Listener string   // listener id of the client
}

// ClientState tracks the state of the client.
type ClientState struct {
	state     atomic.Uint32   // the current handshake State
	reached   atomic.Uint32   // the last State before the client was stopped
	stopCause atomic.Value    // reason for stopping
	endOnce   sync.Once       // only end once
	PacketID  uint16          // the packet id from the client's SUBSCRIBE
	Received  []packets.Frame // every frame read from the client, in order
}

// newClient returns a new instance of Client over c.
func newClient(c net.Conn, o *ops) *Client {
	cl := &Client{
		ID:  xid.New().String(),
		ops: o,
	}

	if c != nil {
		cl.Net = ClientConnection{
			Conn:   c,
			Remote: c.RemoteAddr().String(),
		}
		cl.r = packets.NewReader(c, o.options.ClientNetReadBufferSize)
		cl.r.MaximumPacketSize = o.options.MaximumPacketSize
		cl.r.StrictLength = o.options.StrictLength
		cl.w = packets.NewWriter(c, o.options.ClientNetWriteBufferSize)
	}

	return cl
}

// CurrentState returns the handshake state of the client.
func (cl *Client) CurrentState() State {
	return State(cl.State.state.Load())
}

// setState moves the client to the next handshake state.
func (cl *Client) setState(s State) {
	cl.State.state.Store(uint32(s))
}

// advanceState moves the client from one handshake state to the next. It returns
// false if the client is no longer in from, such as after a concurrent Stop.
func (cl *Client) advanceState(from, to State) bool {
	return cl.State.state.CompareAndSwap(uint32(from), uint32(to))
}

// refreshDeadline sets the connection deadline timeout seconds from now, or
// clears it if timeout is 0.
func (cl *Client) refreshDeadline(timeout int64) {
	if cl.Net.Conn == nil {
		return
	}

	var expiry time.Time
	if timeout > 0 {
		expiry = time.Now().Add(time.Duration(timeout) * time.Second)
	}
	_ = cl.Net.Conn.SetDeadline(expiry)
}

// ReadFrame reads the next frame from the client connection.
func (cl *Client) ReadFrame() (packets.Frame, error) {
	if cl.Net.Conn == nil || cl.Closed() {
		return packets.Frame{}, ErrConnectionClosed
	}

	f, err := cl.r.ReadFrame()
	if err != nil {
		return f, err
	}

	atomic.AddInt64(&cl.ops.info.PacketsReceived, 1)
	atomic.AddInt64(&cl.ops.info.BytesReceived, int64(f.Size()))
	cl.State.Received = append(cl.State.Received, f)
	return f, nil
}

// WriteFrame writes a frame to the client connection and flushes it.
func (cl *Client) WriteFrame(f packets.Frame) (int, error) {
	if cl.Net.Conn == nil || cl.Closed() {
		return 0, ErrConnectionClosed
	}

	n, err := cl.w.WriteFrame(f)
	if err != nil {
		return n, err
	}

	atomic.AddInt64(&cl.ops.info.PacketsSent, 1)
	atomic.AddInt64(&cl.ops.info.BytesSent, int64(n))
	return n, nil
}

// Stop instructs the client to shut down all processing goroutines and disconnect.
// The first cause given is kept.
func (cl *Client) Stop(err error) {
	cl.State.endOnce.Do(func() {
		if err != nil {
			cl.State.stopCause.Store(err)
		}

		if cl.Net.Conn != nil {
			_ = cl.Net.Conn.Close()
		}

		cl.State.reached.Store(uint32(cl.CurrentState()))
		cl.setState(StateClosed)
		cl.ops.log.Debug("client stopped", "client", cl.ID, "remote", cl.Net.Remote, "error", err)
	})
}

// Reached returns the furthest handshake state the client got to before it was
// stopped, or the current state if it is still open.
func (cl *Client) Reached() State {
	if !cl.Closed() {
		return cl.CurrentState()
	}
	return State(cl.State.reached.Load())
}

// StopCause returns the reason the client connection was stopped, if any.
func (cl *Client) StopCause() error {
	if cl.State.stopCause.Load() == nil {
		return nil
	}
	return cl.State.stopCause.Load().(error)
}

// Closed returns true if client connection is closed.
func (cl *Client) Closed() bool {
	return cl.CurrentState() == StateClosed
}

// ops contains server values which can be propagated to clients.
type ops struct {
	options *Options
	info    *system.Info
	hooks   *Hooks
	log     *slog.Logger
}
