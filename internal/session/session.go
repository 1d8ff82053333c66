// Package session runs one client WebSocket connection: it reads control
// commands into the registry and accepts outbound frames from broadcasts.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"distributor/internal/domain/topic"
	"distributor/internal/registry"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// State is the lifecycle state of a Session.
type State int32

const (
	StateConnecting State = iota
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateOpen:
		return "OPEN"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

var ErrClosed = errors.New("session closed")

// Transport is the subset of *websocket.Conn a Session uses.
type Transport interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetReadLimit(limit int64)
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	Close() error
}

// Registry is where a session records its subscriptions.
type Registry interface {
	Subscribe(t topic.Topic, c registry.Conn) bool
	Unsubscribe(t topic.Topic, c registry.Conn) bool
	RemoveSession(c registry.Conn) int
}

type Options struct {
	ReadLimit    int64
	WriteTimeout time.Duration
	PongWait     time.Duration
	PingPeriod   time.Duration
}

type Session struct {
	id        string
	transport Transport
	registry  Registry
	logger    *slog.Logger
	opts      Options

	state     atomic.Int32
	writeMu   sync.Mutex
	closeOnce sync.Once
	done      chan struct{}
}

func New(transport Transport, reg Registry, logger *slog.Logger, opts Options) *Session {
	id := uuid.NewString()
	return &Session{
		id:        id,
		transport: transport,
		registry:  reg,
		logger:    logger.With("session_id", id),
		opts:      opts,
		done:      make(chan struct{}),
	}
}

func (s *Session) ID() string   { return s.id }
func (s *Session) State() State { return State(s.state.Load()) }
func (s *Session) Open() bool   { return s.State() == StateOpen }

// Run moves the session to OPEN and reads commands until the client goes
// away, a transport error occurs, ctx is cancelled or Close is called.
// Registry cleanup runs exactly once, when Run returns. Run may only be
// called once.
func (s *Session) Run(ctx context.Context) error {
	if !s.state.CompareAndSwap(int32(StateConnecting), int32(StateOpen)) {
		return ErrClosed
	}
	defer func() {
		s.Close()
		removed := s.registry.RemoveSession(s)
		s.logger.Info("session closed", "subscriptions_removed", removed)
	}()
	s.logger.Info("session opened")

	if s.opts.ReadLimit > 0 {
		s.transport.SetReadLimit(s.opts.ReadLimit)
	}
	if s.opts.PongWait > 0 {
		_ = s.transport.SetReadDeadline(time.Now().Add(s.opts.PongWait))
		s.transport.SetPongHandler(func(string) error {
			return s.transport.SetReadDeadline(time.Now().Add(s.opts.PongWait))
		})
	}

	go s.watch(ctx)

	for {
		_, data, err := s.transport.ReadMessage()
		if err != nil {
			if s.Open() {
				s.logger.Debug("read loop ended", "error", err)
			}
			return nil
		}
		// A frame read just before Close must not re-subscribe a closed session.
		if !s.Open() {
			return nil
		}
		s.handle(data)
	}
}

func (s *Session) handle(data []byte) {
	cmd, err := ParseCommand(data)
	if err != nil {
		s.logger.Warn("ignoring client command", "error", err, "frame", clip(data, 256))
		return
	}

	switch cmd.Kind {
	case Subscribe, Identify:
		if s.registry.Subscribe(cmd.Topic, s) {
			s.logger.Info("session subscribed", "topic", cmd.Topic, "command", cmd.Kind)
		}
	case Unsubscribe:
		if s.registry.Unsubscribe(cmd.Topic, s) {
			s.logger.Info("session unsubscribed", "topic", cmd.Topic)
		}
	}
}

// watch closes the session on ctx cancellation and keeps the link alive with pings.
func (s *Session) watch(ctx context.Context) {
	var tick <-chan time.Time
	if s.opts.PingPeriod > 0 {
		ticker := time.NewTicker(s.opts.PingPeriod)
		defer ticker.Stop()
		tick = ticker.C
	}
	for {
		select {
		case <-ctx.Done():
			s.Close()
			return
		case <-s.done:
			return
		case <-tick:
			deadline := time.Now().Add(s.opts.WriteTimeout)
			if s.opts.WriteTimeout <= 0 {
				deadline = time.Time{}
			}
			if err := s.transport.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				s.logger.Debug("ping failed", "error", err)
				s.Close()
				return
			}
		}
	}
}

// Send writes payload as one text frame. A write error closes the session.
func (s *Session) Send(ctx context.Context, payload []byte) error {
	if !s.Open() {
		return ErrClosed
	}
	if err := s.write(ctx, payload); err != nil {
		s.Close()
		return err
	}
	return nil
}

func (s *Session) write(ctx context.Context, payload []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if !s.Open() {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.transport.SetWriteDeadline(s.writeDeadline(ctx)); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	if err := s.transport.WriteMessage(websocket.TextMessage, payload); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// writeDeadline is the earlier of ctx's deadline and the configured write
// timeout. The zero time means no deadline.
func (s *Session) writeDeadline(ctx context.Context) time.Time {
	var deadline time.Time
	if s.opts.WriteTimeout > 0 {
		deadline = time.Now().Add(s.opts.WriteTimeout)
	}
	if d, ok := ctx.Deadline(); ok && (deadline.IsZero() || d.Before(deadline)) {
		deadline = d
	}
	return deadline
}

// Close marks the session CLOSED and closes the transport, which ends Run.
// It is safe to call any number of times from any goroutine.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.state.Store(int32(StateClosed))
		close(s.done)
		if err := s.transport.Close(); err != nil {
			s.logger.Debug("transport close", "error", err)
		}
	})
}

func clip(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
