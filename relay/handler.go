// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"time"

	"github.com/bureau-foundation/nmproxy/lib/clock"
	"github.com/bureau-foundation/nmproxy/lib/config"
	"github.com/bureau-foundation/nmproxy/lib/handshake"
	"github.com/bureau-foundation/nmproxy/lib/process"
	"github.com/bureau-foundation/nmproxy/lib/resolve"
)

// ErrShuttingDown ends sessions that had not started relaying when
// shutdown began.
var ErrShuttingDown = errors.New("daemon is shutting down")

// Conn is the sandbox-side connection. *net.UnixConn satisfies it.
type Conn interface {
	net.Conn
	CloseWrite() error
}

// Spawner starts helpers. *process.Manager satisfies it.
type Spawner interface {
	Start(spec process.Spec) (*process.Child, error)
}

// Options are the per-session limits and grace periods.
type Options struct {
	// MaxHandshakeBytes bounds the handshake payload.
	MaxHandshakeBytes int

	// HandshakeTimeout bounds the wait for a complete handshake.
	HandshakeTimeout time.Duration

	// StdioCloseGrace is how long the helper may take to exit after
	// both relay directions finish, before SIGTERM.
	StdioCloseGrace time.Duration

	// TerminateTimeout is how long the helper may take to exit after
	// SIGTERM, before SIGKILL.
	TerminateTimeout time.Duration

	// DrainTimeout bounds the directions still open after the helper
	// exits.
	DrainTimeout time.Duration

	// CaptureStderr logs helper stderr lines instead of passing them
	// through to the daemon's stderr.
	CaptureStderr bool
}

// DefaultOptions returns the built-in limits.
func DefaultOptions() Options {
	return OptionsFromConfig(config.Default().Daemon)
}

// OptionsFromConfig maps the daemon configuration onto Options.
func OptionsFromConfig(daemon config.DaemonConfig) Options {
	return Options{
		MaxHandshakeBytes: daemon.MaxHandshakeBytes,
		HandshakeTimeout:  daemon.HandshakeTimeout.Std(),
		StdioCloseGrace:   daemon.StdioCloseGrace.Std(),
		TerminateTimeout:  daemon.TerminateTimeout.Std(),
		DrainTimeout:      daemon.DrainTimeout.Std(),
		CaptureStderr:     daemon.HelperStderr == config.StderrLog,
	}
}

// Handler serves sessions. It holds no per-session state and is safe
// for concurrent use.
type Handler struct {
	Resolver resolve.Resolver
	Spawner  Spawner
	Options  Options

	// Clock drives the grace periods. Nil means the real clock.
	Clock clock.Clock

	// Logger receives session events. Nil discards them.
	Logger *slog.Logger
}

// Session is one accepted connection handed to [Handler.Serve].
type Session struct {
	ID     uint64
	Target string
	Conn   Conn
}

// Result describes how a session ended.
type Result struct {
	SessionID  uint64
	Target     string
	Identifier string

	// State is StateDone or StateErrored.
	State State

	// FailedIn is the state the session was in when it failed. Only
	// meaningful when State is StateErrored.
	FailedIn State

	// Err is the failure, or nil.
	Err error

	// Spawned reports whether a helper was started. Status, Terminated
	// and Killed are only meaningful when it is true.
	Spawned    bool
	Status     process.ExitStatus
	Terminated bool
	Killed     bool

	// BytesToHelper and BytesFromHelper count relayed payload bytes.
	BytesToHelper   int64
	BytesFromHelper int64

	Duration time.Duration
}

// session is the mutable state of one Serve call.
type session struct {
	*Handler
	Session

	clock   clock.Clock
	logger  *slog.Logger
	started time.Time
	state   State
	result  Result
}

// Serve runs one session to completion. It always closes the
// connection and, if a helper was spawned, reaps it before returning.
func (h *Handler) Serve(ctx, killCtx context.Context, accepted Session) Result {
	s := &session{
		Handler: h,
		Session: accepted,
		clock:   h.Clock,
		logger:  h.Logger,
	}
	if s.clock == nil {
		s.clock = clock.Real()
	}
	if s.logger == nil {
		s.logger = slog.New(slog.DiscardHandler)
	}
	s.logger = s.logger.With("session_id", accepted.ID, "target", accepted.Target)
	s.started = s.clock.Now()
	s.result = Result{SessionID: accepted.ID, Target: accepted.Target}

	s.run(ctx, killCtx)
	s.result.State = s.state

	s.Conn.Close()
	s.result.Duration = s.clock.Now().Sub(s.started)
	s.report()
	return s.result
}

func (s *session) transition(next State) {
	s.logger.Debug("session state", "from", s.state.String(), "to", next.String())
	s.state = next
}

func (s *session) fail(err error) {
	s.result.FailedIn = s.state
	s.result.Err = err
	s.transition(StateErrored)
}

func (s *session) run(ctx, killCtx context.Context) {
	s.transition(StateHandshakePending)
	request, err := s.readHandshake(ctx)
	if err != nil {
		s.fail(err)
		return
	}
	s.result.Identifier = request.Identifier
	s.logger = s.logger.With("identifier", request.Identifier)

	s.transition(StateSpawning)
	if ctx.Err() != nil {
		s.fail(ErrShuttingDown)
		return
	}
	spec, err := s.Resolver.Resolve(ctx, s.Target, request)
	if err != nil {
		s.fail(err)
		return
	}
	var stderrLines *process.LineLogger
	if s.Options.CaptureStderr && spec.Stderr == nil {
		stderrLines = process.NewLineLogger(s.logger)
		spec.Stderr = stderrLines
	}
	child, err := s.Spawner.Start(spec)
	if err != nil {
		s.fail(err)
		return
	}
	s.result.Spawned = true
	s.logger = s.logger.With("pid", child.Pid)
	s.logger.Debug("helper spawned", "path", spec.Path, "args", spec.Args)

	s.transition(StateRelaying)
	hardError := s.relay(killCtx, child)

	s.transition(StateClosing)
	s.closeChild(killCtx, child)
	child.Close()
	if stderrLines != nil {
		stderrLines.Flush()
	}

	switch {
	case hardError != nil:
		s.fail(hardError)
	case !s.cleanExit():
		s.fail(fmt.Errorf("helper %s", s.result.Status))
	default:
		s.transition(StateDone)
	}
}

// readHandshake reads the handshake frame under the handshake timeout.
// Shutdown interrupts it through the same read deadline.
func (s *session) readHandshake(ctx context.Context) (handshake.Request, error) {
	if s.Options.HandshakeTimeout > 0 {
		s.Conn.SetReadDeadline(time.Now().Add(s.Options.HandshakeTimeout))
	}
	stop := context.AfterFunc(ctx, func() {
		s.Conn.SetReadDeadline(time.Unix(1, 0))
	})

	request, err := handshake.Read(s.Conn, s.Options.MaxHandshakeBytes)
	interrupted := !stop()
	if interrupted {
		return handshake.Request{}, ErrShuttingDown
	}
	if err != nil {
		return handshake.Request{}, err
	}
	if err := s.Conn.SetReadDeadline(time.Time{}); err != nil {
		return handshake.Request{}, fmt.Errorf("clearing handshake deadline: %w", err)
	}
	return request, nil
}

// relay runs both directions until they finish and returns the first
// socket-side failure, if any.
func (s *session) relay(killCtx context.Context, child *process.Child) error {
	results := make(chan pumpResult, 2)
	go func() {
		results <- pump(toHelper, child.Stdin, s.Conn, child.Stdin.Close)
	}()
	go func() {
		results <- pump(fromHelper, s.Conn, child.Stdout, s.Conn.CloseWrite)
	}()

	var (
		hardError  error
		drainTimer *clock.Timer
		drainC     <-chan time.Time
		childDone  = child.Done()
		killDone   = killCtx.Done()
	)
	defer func() {
		if drainTimer != nil {
			drainTimer.Stop()
		}
	}()

	// cut unblocks every pending read and write on the socket and on
	// the helper's pipes. Both pumps then finish on their own.
	cut := func() {
		past := time.Unix(1, 0)
		s.Conn.SetDeadline(past)
		child.Stdin.SetWriteDeadline(past)
		child.Stdout.SetReadDeadline(past)
	}

	for remaining := 2; remaining > 0; {
		select {
		case result := <-results:
			remaining--
			s.record(result)
			if err := result.unexpected(); err != nil && hardError == nil && s.socketSide(result) {
				hardError = fmt.Errorf("%s: %w", result.direction, err)
				cut()
			}
		case <-childDone:
			childDone = nil
			s.logger.Debug("helper exited during relay, draining", "timeout", s.Options.DrainTimeout)
			drainTimer = s.clock.NewTimer(s.Options.DrainTimeout)
			drainC = drainTimer.C
		case <-drainC:
			drainC = nil
			s.logger.Debug("drain timeout reached, closing relay")
			cut()
		case <-killDone:
			killDone = nil
			s.logger.Warn("shutdown grace period over, killing helper")
			child.Kill()
			s.result.Killed = true
			cut()
		}
	}
	return hardError
}

// socketSide reports whether the failure was on the sandbox socket.
// A helper that stops reading its stdin is not a session failure.
func (s *session) socketSide(result pumpResult) bool {
	if result.direction == toHelper {
		return result.readError != nil
	}
	return result.writeError != nil
}

func (s *session) record(result pumpResult) {
	switch result.direction {
	case toHelper:
		s.result.BytesToHelper = result.bytes
	case fromHelper:
		s.result.BytesFromHelper = result.bytes
	}
	attrs := []any{"direction", string(result.direction), "bytes", result.bytes}
	if result.forced() {
		attrs = append(attrs, "forced", true)
	}
	s.logger.Debug("relay direction finished", attrs...)
	if result.dropped > 0 {
		s.logger.Warn("relay dropped bytes",
			"direction", string(result.direction),
			"dropped", result.dropped,
			"error", result.writeError,
		)
	}
	if result.closeError != nil && !isAlreadyClosed(result.closeError) {
		s.logger.Debug("half-close failed", "direction", string(result.direction), "error", result.closeError)
	}
}

// closeChild waits out the grace period, then escalates SIGTERM and
// SIGKILL until the helper is reaped.
func (s *session) closeChild(killCtx context.Context, child *process.Child) {
	defer func() { s.result.Status = child.Wait() }()

	grace := s.clock.NewTimer(s.Options.StdioCloseGrace)
	defer grace.Stop()
	select {
	case <-child.Done():
		return
	case <-killCtx.Done():
		s.kill(child, "shutdown grace period over")
		return
	case <-grace.C:
	}

	s.logger.Debug("helper still running after stdio closed, sending SIGTERM", "grace", s.Options.StdioCloseGrace)
	if err := child.Terminate(); err != nil {
		s.logger.Debug("SIGTERM failed", "error", err)
	}
	s.result.Terminated = true

	terminate := s.clock.NewTimer(s.Options.TerminateTimeout)
	defer terminate.Stop()
	select {
	case <-child.Done():
	case <-killCtx.Done():
		s.kill(child, "shutdown grace period over")
	case <-terminate.C:
		s.kill(child, "helper ignored SIGTERM")
	}
}

func (s *session) kill(child *process.Child, reason string) {
	if child.Exited() {
		return
	}
	s.logger.Warn("killing helper", "reason", reason)
	if err := child.Kill(); err != nil {
		s.logger.Warn("SIGKILL failed", "error", err)
	}
	s.result.Killed = true
}

// cleanExit reports whether the helper's end counts as success: exit
// code 0, or a signal the session itself sent.
func (s *session) cleanExit() bool {
	status := s.result.Status
	if status.Success() {
		return true
	}
	if !status.Signaled {
		return false
	}
	return s.result.Terminated || s.result.Killed
}

func (s *session) report() {
	attrs := []any{
		"state", s.state.String(),
		"duration", s.result.Duration,
	}
	if s.result.Spawned {
		attrs = append(attrs,
			"bytes_to_helper", s.result.BytesToHelper,
			"bytes_from_helper", s.result.BytesFromHelper,
		)
		if s.result.Status.Signaled {
			attrs = append(attrs, "signal", s.result.Status.Signal.String())
		} else {
			attrs = append(attrs, "exit_code", s.result.Status.Code)
		}
	}

	switch {
	case s.state == StateDone:
		s.logger.Info("session finished", attrs...)
	case errors.Is(s.result.Err, ErrShuttingDown):
		s.logger.Info("session abandoned at shutdown", append(attrs, "failed_in", s.result.FailedIn.String())...)
	default:
		attrs = append(attrs, "failed_in", s.result.FailedIn.String(), "kind", errorKind(s.result.Err), "error", s.result.Err)
		s.logger.Error("session failed", attrs...)
	}
}

// errorKind classifies a session failure for the log.
func errorKind(err error) string {
	switch {
	case handshake.IsProtocolError(err):
		return "protocol"
	case resolve.IsConfigurationError(err):
		return "configuration"
	case process.IsSpawnError(err):
		return "spawn"
	default:
		return "resource"
	}
}

func isAlreadyClosed(err error) bool {
	return errors.Is(err, net.ErrClosed) || errors.Is(err, os.ErrClosed)
}
