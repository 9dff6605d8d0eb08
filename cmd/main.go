// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2022 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

package main

import (
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mochi-mqtt/fixture"
	"github.com/mochi-mqtt/fixture/config"
	"github.com/mochi-mqtt/fixture/hooks/debug"
	"github.com/mochi-mqtt/fixture/hooks/storage/bolt"
	"github.com/mochi-mqtt/fixture/listeners"
)

func main() {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	if err := rootCmd(sigs).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

// flags contains the command line options beyond the port.
type flags struct {
	config     string // path to a yaml or json options file
	ws         string // address of an optional websocket listener
	sysinfo    string // address of an optional stats and metrics listener
	transcript string // path of an optional bolt transcript file
	logLevel   string // debug, info, warn or error
	debug      bool   // attach the debug hook
}

// rootCmd returns the fixture-broker command. The broker runs until a value is
// received on sigs.
func rootCmd(sigs <-chan os.Signal) *cobra.Command {
	f := new(flags)
	cmd := &cobra.Command{
		Use:   "fixture-broker <port>",
		Short: "A minimal MQTT broker for client integration tests",
		Long: `fixture-broker listens on 127.0.0.1:<port> and takes every connection through
one fixed handshake: CONNECT is acknowledged, the SUBSCRIBE is acknowledged,
a welcome message is published, and the connection closes after the client's
next frame.`,
		Args:          portArg,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			port, _ := parsePort(args[0])

			server, err := newServer(port, f, cmd.OutOrStdout())
			if err != nil {
				return err
			}

			if err := server.Serve(); err != nil {
				return err
			}

			<-sigs
			server.Log.Warn("caught signal, stopping...")
			return server.Close()
		},
	}

	cmd.Flags().StringVar(&f.config, "config", "", "yaml or json file of server options")
	cmd.Flags().StringVar(&f.ws, "ws", "", "address of an additional websocket listener")
	cmd.Flags().StringVar(&f.sysinfo, "sysinfo", "", "address of an http stats, metrics and healthcheck listener")
	cmd.Flags().StringVar(&f.transcript, "transcript", "", "record every connection to this bolt file")
	cmd.Flags().StringVar(&f.logLevel, "log-level", "info", "log level: debug, info, warn or error")
	cmd.Flags().BoolVar(&f.debug, "debug", false, "log every frame read and sent")

	return cmd
}

// portArg validates the single port argument.
func portArg(cmd *cobra.Command, args []string) error {
	if err := cobra.ExactArgs(1)(cmd, args); err != nil {
		return err
	}

	_, err := parsePort(args[0])
	return err
}

// parsePort returns the port number in s.
func parsePort(s string) (int, error) {
	port, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid port %q: not an integer", s)
	}

	if port < 1 || port > 65535 {
		return 0, fmt.Errorf("invalid port %d: must be between 1 and 65535", port)
	}

	return port, nil
}

// parseLevel returns the slog level named by s.
func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	err := level.UnmarshalText([]byte(strings.ToUpper(s)))
	return level, err
}

// newServer configures a server from the options file and flags, listening on
// the loopback address at port.
func newServer(port int, f *flags, out io.Writer) (*fixture.Server, error) {
	opts := new(fixture.Options)
	if f.config != "" {
		b, err := os.ReadFile(f.config)
		if err != nil {
			return nil, err
		}

		o, err := config.FromBytes(b)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", fixture.ErrOptionsUnreadable, err)
		}

		if o != nil {
			opts = o
		}
	}

	level, err := parseLevel(f.logLevel)
	if err != nil {
		return nil, err
	}

	if f.debug {
		level = slog.LevelDebug
		opts.Hooks = append(opts.Hooks, fixture.HookLoadConfig{
			Hook:   new(debug.Hook),
			Config: new(debug.Options),
		})
	}

	if f.transcript != "" {
		opts.Hooks = append(opts.Hooks, fixture.HookLoadConfig{
			Hook:   new(bolt.Hook),
			Config: &bolt.Options{Path: f.transcript},
		})
	}

	opts.Logger = slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{
		Level: level,
	}))

	server := fixture.New(opts)

	tcp := listeners.NewTCP(listeners.Config{
		Type:    listeners.TypeTCP,
		ID:      "t1",
		Address: net.JoinHostPort(listeners.LoopbackHost, strconv.Itoa(port)),
	})
	if err := server.AddListener(tcp); err != nil {
		return nil, err
	}

	if f.ws != "" {
		ws := listeners.NewWebsocket(listeners.Config{
			Type:    listeners.TypeWS,
			ID:      "ws1",
			Address: f.ws,
		})
		if err := server.AddListener(ws); err != nil {
			return nil, err
		}
	}

	if f.sysinfo != "" {
		stats := listeners.NewHTTPStats(listeners.Config{
			Type:    listeners.TypeSysInfo,
			ID:      "stats",
			Address: f.sysinfo,
		}, server.Info, server.Metrics)
		if err := server.AddListener(stats); err != nil {
			return nil, err
		}
	}

	return server, nil
}
