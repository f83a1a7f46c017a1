// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/adrg/xdg"
	"github.com/spf13/pflag"

	"github.com/bureau-foundation/nmproxy/lib/activation"
	"github.com/bureau-foundation/nmproxy/lib/handshake"
	"github.com/bureau-foundation/nmproxy/lib/netutil"
	"github.com/bureau-foundation/nmproxy/lib/process"
	"github.com/bureau-foundation/nmproxy/lib/version"
)

// socketEnvironmentVariable overrides socket discovery.
const socketEnvironmentVariable = "NM_PROXY_SOCKET"

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	if len(os.Args) > 1 && os.Args[1] == "--version" {
		version.Print("nm-proxy-client")
		return nil
	}

	var socketFlag, identifierFlag string
	flagSet := pflag.NewFlagSet("nm-proxy-client", pflag.ContinueOnError)
	flagSet.StringVar(&socketFlag, "socket", "", "daemon socket path (default: $"+socketEnvironmentVariable+", then the first nm-proxy-*.socket in $XDG_RUNTIME_DIR)")
	flagSet.StringVar(&identifierFlag, "identifier", "", "host identifier to request (default: file name of the manifest argument)")
	// Browser arguments follow the first positional and may look like
	// flags (Chromium's --parent-window).
	flagSet.SetInterspersed(false)
	flagSet.Usage = func() { printUsage(flagSet) }

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	request, err := requestFromArgs(identifierFlag, flagSet.Args())
	if err != nil {
		return err
	}
	socketPath, err := findSocket(socketFlag, os.Getenv(socketEnvironmentVariable), xdg.RuntimeDir)
	if err != nil {
		return err
	}

	conn, err := net.DialUnix("unix", nil, &net.UnixAddr{Name: socketPath, Net: "unix"})
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", socketPath, err)
	}
	defer conn.Close()

	if err := handshake.Write(conn, request); err != nil {
		return fmt.Errorf("sending handshake: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return relayStdio(ctx, conn, os.Stdin, os.Stdout)
}

// requestFromArgs builds the handshake request from the browser's
// invocation. Every browser argument is forwarded to the helper.
func requestFromArgs(identifier string, args []string) (handshake.Request, error) {
	if len(args) == 0 {
		return handshake.Request{}, errors.New("usage: nm-proxy-client [flags] <manifest-path> <extension-id>\n" +
			"This binary is invoked by a browser through native messaging.")
	}
	if identifier == "" {
		if !strings.HasSuffix(args[0], ".json") {
			return handshake.Request{}, fmt.Errorf("cannot derive a host identifier from %q; pass --identifier", args[0])
		}
		identifier = filepath.Base(args[0])
	}
	return handshake.Request{Identifier: identifier, Args: args}, nil
}

// findSocket picks the daemon socket. An explicit path wins; otherwise
// runtimeDirectory is searched for the first entry named like a socket
// unit, in lexical order.
func findSocket(flagValue, environmentValue, runtimeDirectory string) (string, error) {
	if flagValue != "" {
		return flagValue, nil
	}
	if environmentValue != "" {
		return environmentValue, nil
	}
	if runtimeDirectory == "" {
		return "", errors.New("XDG_RUNTIME_DIR is not set; pass --socket")
	}

	entries, err := os.ReadDir(runtimeDirectory)
	if err != nil {
		return "", fmt.Errorf("searching for daemon socket: %w", err)
	}
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasPrefix(name, activation.SocketPrefix) || !strings.HasSuffix(name, activation.SocketSuffix) {
			continue
		}
		mode := entry.Type()
		if mode&os.ModeSocket != 0 || mode.IsRegular() {
			return filepath.Join(runtimeDirectory, name), nil
		}
	}
	return "", fmt.Errorf("no %s*%s socket in %s", activation.SocketPrefix, activation.SocketSuffix, runtimeDirectory)
}

// relayStdio copies stdin to conn and conn to stdout. End of stdin
// half-closes the connection; end of the connection, or ctx, ends the
// relay.
func relayStdio(ctx context.Context, conn *net.UnixConn, stdin io.Reader, stdout io.Writer) error {
	sent := make(chan error, 1)
	received := make(chan error, 1)
	go func() {
		_, err := io.Copy(conn, stdin)
		if closeErr := netutil.CloseWrite(conn); err == nil {
			err = closeErr
		}
		sent <- err
	}()
	go func() {
		_, err := io.Copy(stdout, conn)
		received <- err
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-sent:
			if err != nil && !netutil.IsExpectedCloseError(err) {
				return fmt.Errorf("sending to daemon: %w", err)
			}
			sent = nil
		case err := <-received:
			if err != nil && !netutil.IsExpectedCloseError(err) {
				return fmt.Errorf("receiving from daemon: %w", err)
			}
			return nil
		}
	}
}

func printUsage(flagSet *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, `nm-proxy-client forwards a native-messaging session from inside a
sandbox to nm-proxy-daemon on the host.

Usage:
  nm-proxy-client [flags] <manifest-path> <extension-id>
  nm-proxy-client --identifier NAME [flags] <origin> [browser args...]

Flags:
`)
	flagSet.PrintDefaults()
}
