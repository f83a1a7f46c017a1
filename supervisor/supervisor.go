// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package supervisor

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bureau-foundation/nmproxy/lib/activation"
	"github.com/bureau-foundation/nmproxy/lib/clock"
	"github.com/bureau-foundation/nmproxy/relay"
)

const (
	initialAcceptBackoff = 5 * time.Millisecond
	maxAcceptBackoff     = time.Second
)

// Listeners is the set of listening targets. *activation.Set satisfies
// it.
type Listeners interface {
	Names() []string
	Accept(ctx context.Context, name string) (*net.UnixConn, error)
}

// SessionServer runs one session to completion. *relay.Handler
// satisfies it.
type SessionServer interface {
	Serve(ctx, killCtx context.Context, session relay.Session) relay.Result
}

// Supervisor fans accepted connections out to sessions.
type Supervisor struct {
	Listeners Listeners
	Sessions  SessionServer

	// ShutdownGrace is how long sessions may keep running after Run's
	// context is cancelled.
	ShutdownGrace time.Duration

	// Clock drives the grace period and accept back-off. Nil means the
	// real clock.
	Clock clock.Clock

	// Logger receives supervisor events. Nil discards them.
	Logger *slog.Logger

	nextID   atomic.Uint64
	inFlight atomic.Int64
}

// InFlight returns the number of sessions currently running.
func (s *Supervisor) InFlight() int64 { return s.inFlight.Load() }

// Run accepts and serves connections until ctx is cancelled, then
// shuts down as described in the package documentation. It returns nil
// after a signal-driven shutdown and an error only if there is nothing
// to listen on.
func (s *Supervisor) Run(ctx context.Context) error {
	names := s.Listeners.Names()
	if len(names) == 0 {
		return errors.New("supervisor: no listening targets")
	}
	clk := s.Clock
	if clk == nil {
		clk = clock.Real()
	}
	logger := s.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	killCtx, kill := context.WithCancel(context.WithoutCancel(ctx))
	defer kill()

	var loops, sessions sync.WaitGroup
	for _, name := range names {
		loops.Add(1)
		go func() {
			defer loops.Done()
			s.acceptLoop(ctx, killCtx, name, clk, logger, &sessions)
		}()
		logger.Info("listening", "target", name)
	}

	<-ctx.Done()
	loops.Wait()
	logger.Info("shutting down", "in_flight", s.inFlight.Load(), "grace", s.ShutdownGrace)

	finished := make(chan struct{})
	go func() {
		sessions.Wait()
		close(finished)
	}()

	grace := clk.NewTimer(s.ShutdownGrace)
	defer grace.Stop()
	select {
	case <-finished:
		logger.Info("all sessions finished")
	case <-grace.C:
		logger.Warn("shutdown grace period exceeded, killing remaining helpers", "in_flight", s.inFlight.Load())
		kill()
		<-finished
	}
	return nil
}

func (s *Supervisor) acceptLoop(ctx, killCtx context.Context, name string, clk clock.Clock, logger *slog.Logger, sessions *sync.WaitGroup) {
	logger = logger.With("target", name)
	var backoff time.Duration
	for {
		conn, err := s.Listeners.Accept(ctx, name)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, activation.ErrStopped) {
				return
			}
			backoff = nextBackoff(backoff)
			logger.Error("accept failed", "error", err, "retry_in", backoff)
			timer := clk.NewTimer(backoff)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return
			}
			continue
		}
		backoff = 0

		session := relay.Session{
			ID:     s.nextID.Add(1),
			Target: name,
			Conn:   conn,
		}
		logger.Debug("connection accepted", "session_id", session.ID)
		sessions.Add(1)
		s.inFlight.Add(1)
		go func() {
			defer sessions.Done()
			defer s.inFlight.Add(-1)
			s.Sessions.Serve(ctx, killCtx, session)
		}()
	}
}

func nextBackoff(current time.Duration) time.Duration {
	if current <= 0 {
		return initialAcceptBackoff
	}
	return min(current*2, maxAcceptBackoff)
}
