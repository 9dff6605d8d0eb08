// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2022 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

// Package fixture provides a minimal MQTT broker which takes every connection
// through one fixed handshake, for use as a deterministic partner in client
// integration tests.
package fixture

import (
	"errors"
	"net"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mochi-mqtt/fixture/listeners"
	"github.com/mochi-mqtt/fixture/system"
)

const (
	Version                       = "1.0.0"  // the current server version.
	defaultSysInfoInterval  int64 = 1        // the interval between system info refreshes
	defaultClientBufferSize       = 1024 * 2 // the default size of client read and write buffers
)

var (
	ErrListenerIDExists  = errors.New("listener id already exists")        // a listener with the same id already exists
	ErrConnectionClosed  = errors.New("connection not open")               // connection is closed
	ErrProtocolViolation = errors.New("protocol violation")                // a frame arrived which the handshake did not expect
	ErrOptionsUnreadable = errors.New("unable to read options from bytes") // the options could not be decoded
)

// Options contains configurable options for the server.
type Options struct {
	// Listeners specifies any listeners which should be dynamically added on serve. Used when setting listeners by config.
	Listeners []listeners.Config `yaml:"listeners" json:"listeners"`

	// Hooks specifies any hooks which should be dynamically added on serve. Used when setting hooks by config.
	Hooks []HookLoadConfig `yaml:"-" json:"-"`

	// Topic is the topic the broker publishes its message on once a client has subscribed.
	Topic string `yaml:"topic" json:"topic"`

	// Message is the message the broker publishes once a client has subscribed.
	Message string `yaml:"message" json:"message"`

	// MaximumPacketSize is the largest remaining length accepted from a client, no limit if 0.
	MaximumPacketSize int `yaml:"maximum_packet_size" json:"maximum_packet_size"`

	// StrictLength rejects remaining lengths longer than 4 bytes or above 268,435,455.
	StrictLength bool `yaml:"strict_length" json:"strict_length"`

	// HandshakeTimeout is the number of seconds a client has to complete the handshake, no limit if 0.
	HandshakeTimeout int64 `yaml:"handshake_timeout" json:"handshake_timeout"`

	// ClientNetWriteBufferSize specifies the size of the client *bufio.Writer write buffer.
	ClientNetWriteBufferSize int `yaml:"client_net_write_buffer_size" json:"client_net_write_buffer_size"`

	// ClientNetReadBufferSize specifies the size of the client *bufio.Reader read buffer.
	ClientNetReadBufferSize int `yaml:"client_net_read_buffer_size" json:"client_net_read_buffer_size"`

	// SysInfoInterval specifies the interval between system info refreshes in seconds.
	SysInfoInterval int64 `yaml:"sys_info_interval" json:"sys_info_interval"`

	// Logger specifies a custom configured implementation of log/slog to override
	// the servers default logger configuration. Failed connections are only
	// logged at debug level, so to see them:
	// level := new(slog.LevelVar)
	// server := fixture.New(&fixture.Options{
	// 	Logger: slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
	// 		Level: level,
	// 	})),
	// })
	// level.Set(slog.LevelDebug)
	Logger *slog.Logger `yaml:"-" json:"-"`
}

// Server is the fixture broker. It should be created with fixture.New()
// in order to ensure all the internal fields are correctly populated.
type Server struct {
	Options   *Options             // configurable server options
	Listeners *listeners.Listeners // listeners are network interfaces which listen for new connections
	Clients   *Clients             // clients currently connected to the broker
	Info      *system.Info         // values about the server
	Metrics   *prometheus.Registry // the server's prometheus metrics, served by sysinfo listeners
	sysInfo   *time.Ticker         // interval ticker for refreshing system info
	done      chan bool            // indicate that the server is ending
	Log       *slog.Logger         // minimal no-alloc logger
	hooks     *Hooks               // hooks contains hooks for extra functionality such as debugging and transcripts
}

// New returns a new instance of the fixture broker. Optional parameters
// can be specified to override some default settings (see Options).
func New(opts *Options) *Server {
	if opts == nil {
		opts = new(Options)
	}

	opts.ensureDefaults()

	s := &Server{
		done:      make(chan bool),
		Clients:   NewClients(),
		Listeners: listeners.New(),
		sysInfo:   time.NewTicker(time.Second * time.Duration(opts.SysInfoInterval)),
		Options:   opts,
		Info: &system.Info{
			Version: Version,
			Started: time.Now().Unix(),
		},
		Metrics: prometheus.NewRegistry(),
		Log:     opts.Logger,
		hooks: &Hooks{
			Log: opts.Logger,
		},
	}

	s.Info.RegisterPrometheusMetrics(s.Metrics)

	return s
}

// ensureDefaults ensures that the server starts with sane default values, if none are provided.
func (o *Options) ensureDefaults() {
	if o.Topic == "" {
		o.Topic = DefaultTopic
	}

	if o.Message == "" {
		o.Message = DefaultMessage
	}

	if o.SysInfoInterval == 0 {
		o.SysInfoInterval = defaultSysInfoInterval
	}

	if o.ClientNetWriteBufferSize == 0 {
		o.ClientNetWriteBufferSize = defaultClientBufferSize
	}

	if o.ClientNetReadBufferSize == 0 {
		o.ClientNetReadBufferSize = defaultClientBufferSize
	}

	if o.Logger == nil {
		log := slog.New(slog.NewTextHandler(os.Stdout, nil))
		o.Logger = log
	}
}

// NewClient returns a new Client instance, populated with all the required values and
// references to be used with the server.
func (s *Server) NewClient(c net.Conn, listener string) *Client {
	cl := newClient(c, &ops{
		options: s.Options,
		info:    s.Info,
		hooks:   s.hooks,
		log:     s.Log,
	})

	cl.Net.Listener = listener
	return cl
}

// AddHook attaches a new Hook to the server. Ideally, this should be called
// before the server is started with s.Serve().
func (s *Server) AddHook(hook Hook, config any) error {
	nl := s.Log.With("hook", hook.ID())
	hook.SetOpts(nl, &HookOptions{
		Topic:   s.Options.Topic,
		Message: s.Options.Message,
	})

	s.Log.Info("added hook", "hook", hook.ID())
	return s.hooks.Add(hook, config)
}

// AddHooksFromConfig adds hooks to the server which were specified in the hooks config (usually from a config file).
func (s *Server) AddHooksFromConfig(hooks []HookLoadConfig) error {
	for _, h := range hooks {
		if err := s.AddHook(h.Hook, h.Config); err != nil {
			return err
		}
	}
	return nil
}

// AddListener adds a new network listener to the server, for receiving incoming client connections.
func (s *Server) AddListener(l listeners.Listener) error {
	if _, ok := s.Listeners.Get(l.ID()); ok {
		return ErrListenerIDExists
	}

	nl := s.Log.With(slog.String("listener", l.ID()))
	err := l.Init(nl)
	if err != nil {
		return err
	}

	s.Listeners.Add(l)

	s.Log.Info("attached listener", "id", l.ID(), "protocol", l.Protocol(), "address", l.Address())
	return nil
}

// AddListenersFromConfig adds listeners to the server which were specified in the listeners config (usually from a config file).
// New built-in listeners should be added to this list.
func (s *Server) AddListenersFromConfig(configs []listeners.Config) error {
	for _, conf := range configs {
		var l listeners.Listener
		switch strings.ToLower(conf.Type) {
		case listeners.TypeTCP:
			l = listeners.NewTCP(conf)
		case listeners.TypeWS:
			l = listeners.NewWebsocket(conf)
		case listeners.TypeUnix:
			l = listeners.NewUnixSock(conf)
		case listeners.TypeSysInfo:
			l = listeners.NewHTTPStats(conf, s.Info, s.Metrics)
		case listeners.TypeMock:
			l = listeners.NewMockListener(conf.ID, conf.Address)
		default:
			s.Log.Error("listener type unavailable by config", "listener", conf.Type)
			continue
		}
		if err := s.AddListener(l); err != nil {
			return err
		}
	}
	return nil
}

// Serve starts the event loop refreshing the system info and begins establishing
// client connections on all attached listeners.
func (s *Server) Serve() error {
	s.Log.Info("fixture broker starting", "version", Version)
	defer s.Log.Info("fixture broker started")

	if len(s.Options.Listeners) > 0 {
		err := s.AddListenersFromConfig(s.Options.Listeners)
		if err != nil {
			return err
		}
	}

	if len(s.Options.Hooks) > 0 {
		err := s.AddHooksFromConfig(s.Options.Hooks)
		if err != nil {
			return err
		}
	}

	go s.eventLoop()                            // spin up event loop for refreshing system info and closing server.
	s.Listeners.ServeAll(s.EstablishConnection) // start listening on all listeners.
	s.hooks.OnStarted()

	return nil
}

// eventLoop loops forever, refreshing the system info until the server closes.
func (s *Server) eventLoop() {
	s.Log.Debug("system event loop started")
	defer s.Log.Debug("system event loop halted")

	for {
		select {
		case <-s.done:
			s.sysInfo.Stop()
			return
		case <-s.sysInfo.C:
			s.Info.Refresh(time.Now().Unix())
		}
	}
}

// EstablishConnection takes a new connection accepted by a listener through the
// handshake. A connection which fails is closed and counted, and never returns
// an error to the listener.
func (s *Server) EstablishConnection(listener string, c net.Conn) error {
	cl := s.NewClient(c, listener)
	_ = s.attachClient(cl, listener)
	return nil
}

// attachClient runs the handshake for a client and closes its connection
// once it has completed or failed.
func (s *Server) attachClient(cl *Client, listener string) error {
	defer s.Listeners.ClientsWg.Done()
	s.Listeners.ClientsWg.Add(1)

	atomic.AddInt64(&s.Info.ClientsTotal, 1)
	atomic.AddInt64(&s.Info.ClientsConnected, 1)
	defer atomic.AddInt64(&s.Info.ClientsConnected, -1)

	s.Clients.Add(cl)
	defer s.Clients.Delete(cl.ID)

	cl.refreshDeadline(s.Options.HandshakeTimeout)
	err := cl.Handshake()
	if err != nil {
		atomic.AddInt64(&s.Info.ConnectionsAborted, 1)
	} else {
		atomic.AddInt64(&s.Info.HandshakesCompleted, 1)
	}

	cl.Stop(err)
	s.Log.Debug("client disconnected", "error", err, "client", cl.ID, "remote", cl.Net.Remote, "listener", listener, "state", cl.Reached())
	s.hooks.OnDisconnect(cl, err)

	return err
}

// Close attempts to gracefully shut down the server, all listeners, clients, and hooks.
func (s *Server) Close() error {
	close(s.done)
	s.Log.Info("gracefully stopping server")
	s.Listeners.CloseAll(s.closeListenerClients)
	s.hooks.OnStopped()
	s.hooks.Stop()

	s.Log.Info("fixture broker stopped")
	return nil
}

// closeListenerClients closes all clients on the specified listener.
func (s *Server) closeListenerClients(listener string) {
	clients := s.Clients.GetByListener(listener)
	for _, cl := range clients {
		cl.Stop(ErrConnectionClosed)
	}
}
