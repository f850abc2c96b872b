package live

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/livewire/pkg/audio"
)

// State is the life-cycle state of a [Session].
type State int32

const (
	// StateConnecting is the initial state: the transport is being dialed.
	StateConnecting State = iota

	// StateOpen means the transport is established and frames are flowing.
	StateOpen

	// StateClosed is terminal. It is entered on Close, on a fatal error, or
	// when the remote side ends the session.
	StateClosed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Callbacks receives session notifications. Every callback runs on the
// session's dispatch goroutine, one at a time, in the order the underlying
// events happened. Nil callbacks are skipped. Callbacks may call
// [Session.Send] and [Session.Close].
type Callbacks struct {
	// OnOpen is called at most once, when the transport is established.
	OnOpen func()

	// OnMessage is called for every inbound event, in arrival order. It is
	// not called after Close.
	OnMessage func(Event)

	// OnError is called at most once, with the fatal error that closed the
	// session. It is not called after a user-initiated Close.
	OnError func(error)

	// OnClose is called exactly once, after every other callback.
	OnClose func()
}

// Option is a functional option for [Open].
type Option func(*Session)

// WithLogger sets the session logger. The session adds a "session_id" attribute.
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) { s.log = l }
}

// WithEventBuffer sets how many inbound events may wait for the dispatch
// goroutine before the reader stops pulling from the transport. Default: 64.
func WithEventBuffer(n int) Option {
	return func(s *Session) {
		if n > 0 {
			s.bufSize = n
		}
	}
}

// WithID overrides the generated session identifier.
func WithID(id string) Option {
	return func(s *Session) { s.id = id }
}

type itemKind int

const (
	itemOpen itemKind = iota + 1
	itemEvent
)

type item struct {
	kind  itemKind
	event Event
}

// Session is a streaming session with a remote model.
//
// Send never blocks: frames submitted while connecting are queued and
// flushed in order once the transport is open. Close is idempotent and
// discards frames that were not sent yet. A transport or server error closes
// the session; there is no reconnect.
//
// All methods are safe for concurrent use.
type Session struct {
	id       string
	provider Provider
	cfg      Config
	cb       Callbacks
	log      *slog.Logger
	bufSize  int

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	state      State
	userClosed bool
	conn       Conn
	queue      []audio.AudioFrame
	err        error
	openedAt   time.Time

	wake   chan struct{}
	events chan item
	done   chan struct{}
}

// Open validates cfg and starts connecting in the background. It returns
// immediately in [StateConnecting]; Callbacks.OnOpen fires once the
// transport is ready. An invalid configuration is reported synchronously with
// an error wrapping [ErrInvalidConfig] and nothing is started.
//
// The session is bound to ctx: cancelling it closes the session as if by
// [Session.Close].
func Open(ctx context.Context, p Provider, cfg Config, cb Callbacks, opts ...Option) (*Session, error) {
	if p == nil {
		return nil, fmt.Errorf("%w: nil provider", ErrInvalidConfig)
	}
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Session{
		id:       uuid.NewString(),
		provider: p,
		cfg:      cfg,
		cb:       cb,
		log:      slog.Default(),
		bufSize:  64,
		state:    StateConnecting,
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	s.log = s.log.With("session_id", s.id, "provider", p.Name())
	s.events = make(chan item, s.bufSize)
	s.ctx, s.cancel = context.WithCancel(ctx)

	go s.watchParent()
	go s.run()
	go s.dispatch()
	return s, nil
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Config returns the effective session configuration.
func (s *Session) Config() Config { return s.cfg }

// State returns the current life-cycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns the fatal error that closed the session, or nil.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Done is closed after OnClose has returned.
func (s *Session) Done() <-chan struct{} { return s.done }

// Wait blocks until the session has fully shut down or ctx is done. It
// returns the session's fatal error, or ctx.Err().
func (s *Session) Wait(ctx context.Context) error {
	select {
	case <-s.done:
		return s.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Send queues frame for transmission and returns without blocking. Frames
// are transmitted in submission order. After the session has closed, Send
// returns [ErrSessionClosed].
func (s *Session) Send(frame audio.AudioFrame) error {
	if err := frame.Validate(); err != nil {
		return fmt.Errorf("live: send: %w", err)
	}
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	s.queue = append(s.queue, frame)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
	return nil
}

// Queued returns the number of frames waiting to be sent.
func (s *Session) Queued() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Close ends the session. Unsent frames are discarded and the transport is
// released, including one that a dial still in progress produces later.
// Close does not wait for the dispatch goroutine, so it is safe to call from
// a callback; use [Session.Done] to wait. Idempotent.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return nil
	}
	s.state = StateClosed
	s.userClosed = true
	dropped := len(s.queue)
	s.queue = nil
	conn := s.conn
	s.mu.Unlock()

	s.cancel()
	s.log.Debug("live: session closed", "dropped_frames", dropped)
	if conn == nil {
		return nil
	}
	if err := conn.Close(); err != nil {
		return fmt.Errorf("live: close transport: %w", err)
	}
	return nil
}

// fail moves the session to Closed because of err (nil for a clean remote
// close). It is a no-op when the session is already closed.
func (s *Session) fail(err error) {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	s.state = StateClosed
	s.err = err
	s.queue = nil
	conn := s.conn
	s.mu.Unlock()

	s.cancel()
	if conn != nil {
		_ = conn.Close()
	}
	if err != nil {
		s.log.Warn("live: session failed", "err", err)
	} else {
		s.log.Info("live: session ended by remote")
	}
}

// watchParent closes the session when the parent context ends.
func (s *Session) watchParent() {
	<-s.ctx.Done()
	s.mu.Lock()
	closed := s.state == StateClosed
	s.mu.Unlock()
	if !closed {
		_ = s.Close()
	}
}

// run dials the transport, then acts as the reader until the connection
// ends. It owns s.events and closes it on return.
func (s *Session) run() {
	defer close(s.events)

	start := time.Now()
	conn, err := s.provider.Dial(s.ctx, s.cfg)
	if err != nil {
		s.fail(fmt.Errorf("%w: dial %s: %w", ErrTransport, s.provider.Name(), err))
		return
	}

	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		_ = conn.Close()
		return
	}
	s.conn = conn
	s.state = StateOpen
	s.openedAt = time.Now()
	s.mu.Unlock()

	s.log.Info("live: session open", "model", s.cfg.Model, "connect_took", time.Since(start))
	if !s.push(item{kind: itemOpen}) {
		return
	}

	go s.writer(conn)
	s.reader(conn)
}

// push hands it to the dispatch goroutine unless the session context ended.
func (s *Session) push(it item) bool {
	select {
	case s.events <- it:
		return true
	case <-s.ctx.Done():
		return false
	}
}

func (s *Session) reader(conn Conn) {
	for {
		evs, err := conn.Receive(s.ctx)
		for _, ev := range evs {
			if !s.push(item{kind: itemEvent, event: ev}) {
				return
			}
		}
		if err == nil {
			continue
		}
		switch {
		case s.ctx.Err() != nil:
		case errors.Is(err, io.EOF):
			s.fail(nil)
		default:
			s.fail(fmt.Errorf("%w: receive: %w", ErrTransport, err))
		}
		return
	}
}

func (s *Session) writer(conn Conn) {
	for {
		s.mu.Lock()
		if s.state != StateOpen {
			s.mu.Unlock()
			return
		}
		if len(s.queue) == 0 {
			s.mu.Unlock()
			select {
			case <-s.wake:
				continue
			case <-s.ctx.Done():
				return
			}
		}
		frame := s.queue[0]
		s.queue[0] = audio.AudioFrame{}
		s.queue = s.queue[1:]
		s.mu.Unlock()

		if err := conn.SendAudio(s.ctx, frame); err != nil {
			if s.ctx.Err() == nil {
				s.fail(fmt.Errorf("%w: send: %w", ErrTransport, err))
			}
			return
		}
	}
}

// dispatch is the only goroutine that invokes callbacks.
func (s *Session) dispatch() {
	halted := false
	for it := range s.events {
		if halted || s.closedByUser() {
			continue
		}
		switch it.kind {
		case itemOpen:
			if s.cb.OnOpen != nil {
				s.cb.OnOpen()
			}
		case itemEvent:
			if it.event.Kind == EventError {
				halted = true
				s.fail(fmt.Errorf("%w: server: %w", ErrTransport, it.event.Err))
				continue
			}
			if s.cb.OnMessage != nil {
				s.cb.OnMessage(it.event)
			}
		}
	}

	s.mu.Lock()
	err, userClosed, opened := s.err, s.userClosed, s.openedAt
	s.mu.Unlock()

	if err != nil && !userClosed && s.cb.OnError != nil {
		s.cb.OnError(err)
	}
	if s.cb.OnClose != nil {
		s.cb.OnClose()
	}
	if !opened.IsZero() {
		s.log.Debug("live: dispatch finished", "open_for", time.Since(opened))
	}
	close(s.done)
}

func (s *Session) closedByUser() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userClosed
}
