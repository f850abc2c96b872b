// Package mock provides test doubles for the live package interfaces.
//
// Use Provider to control dialing (including holding a dial until the test
// releases it) and Conn to script inbound events and inspect sent frames.
//
// Example:
//
//	conn := mock.NewConn()
//	p := &mock.Provider{Conn: conn}
//	sess, _ := live.Open(ctx, p, live.Config{}, callbacks)
//	conn.Emit(live.AudioEvent(pcm, 24000, "audio/pcm;rate=24000"))
//	conn.EndStream()
package mock

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/MrWong99/livewire/pkg/audio"
	"github.com/MrWong99/livewire/pkg/provider/live"
)

var (
	_ live.Provider = (*Provider)(nil)
	_ live.Conn     = (*Conn)(nil)
)

// ErrConnClosed is returned by Conn methods after Close.
var ErrConnClosed = errors.New("mock: connection closed")

// DialCall records a single invocation of Provider.Dial.
type DialCall struct {
	// Cfg is the Config passed to Dial.
	Cfg live.Config
}

// Provider is a mock implementation of live.Provider.
type Provider struct {
	mu sync.Mutex

	// Conn is returned by Dial. If nil, Dial returns a new Conn.
	Conn *Conn

	// DialErr, if non-nil, is returned as the error from Dial.
	DialErr error

	// Gate, if non-nil, makes Dial wait until the channel is closed or
	// receives a value. Dial still observes ctx while waiting unless
	// IgnoreContext is set.
	Gate chan struct{}

	// IgnoreContext makes a gated Dial complete even when ctx is cancelled,
	// simulating a transport whose handshake finishes after Close.
	IgnoreContext bool

	// ProviderName is returned by Name. Default: "mock".
	ProviderName string

	// DialCalls records every call to Dial in order.
	DialCalls []DialCall

	dialed chan struct{}
}

// Dial records the call and returns Conn, DialErr.
func (p *Provider) Dial(ctx context.Context, cfg live.Config) (live.Conn, error) {
	p.mu.Lock()
	p.DialCalls = append(p.DialCalls, DialCall{Cfg: cfg})
	gate, ignore := p.Gate, p.IgnoreContext
	p.mu.Unlock()

	if gate != nil {
		if ignore {
			<-gate
		} else {
			select {
			case <-gate:
			case <-ctx.Done():
				p.markDialed()
				return nil, ctx.Err()
			}
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	defer p.markDialedLocked()
	if p.DialErr != nil {
		return nil, p.DialErr
	}
	if p.Conn == nil {
		p.Conn = NewConn()
	}
	return p.Conn, nil
}

// Name implements live.Provider.
func (p *Provider) Name() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ProviderName == "" {
		return "mock"
	}
	return p.ProviderName
}

// Dialed returns a channel that is closed once the first Dial returns.
func (p *Provider) Dialed() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.dialed == nil {
		p.dialed = make(chan struct{})
	}
	return p.dialed
}

func (p *Provider) markDialed() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.markDialedLocked()
}

func (p *Provider) markDialedLocked() {
	if p.dialed == nil {
		p.dialed = make(chan struct{})
	}
	select {
	case <-p.dialed:
	default:
		close(p.dialed)
	}
}

// Calls returns the number of Dial invocations.
func (p *Provider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.DialCalls)
}

// inbound is one scripted Receive result.
type inbound struct {
	events []live.Event
	err    error
}

// Conn is a scripted live.Conn. Inbound traffic is queued with Emit,
// EmitBatch, Fail, and EndStream; every SendAudio is recorded.
type Conn struct {
	mu     sync.Mutex
	sent   []audio.AudioFrame
	closed bool

	// SendErr, if non-nil, is returned by SendAudio.
	SendErr error

	// CloseCalls is the number of Close invocations.
	CloseCalls int

	inbox    chan inbound
	closedCh chan struct{}
	sentCh   chan struct{}
}

// NewConn returns an open Conn.
func NewConn() *Conn {
	return &Conn{
		inbox:    make(chan inbound, 256),
		closedCh: make(chan struct{}),
		sentCh:   make(chan struct{}, 1),
	}
}

// Emit queues events to be returned by a single Receive call.
func (c *Conn) Emit(events ...live.Event) {
	c.inbox <- inbound{events: events}
}

// Fail makes the next Receive return err after any queued events.
func (c *Conn) Fail(err error) {
	c.inbox <- inbound{err: err}
}

// EndStream makes the next Receive return io.EOF, as after a normal remote close.
func (c *Conn) EndStream() {
	c.inbox <- inbound{err: io.EOF}
}

// SendAudio implements live.Conn.
func (c *Conn) SendAudio(_ context.Context, frame audio.AudioFrame) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrConnClosed
	}
	if c.SendErr != nil {
		err := c.SendErr
		c.mu.Unlock()
		return err
	}
	c.sent = append(c.sent, frame)
	c.mu.Unlock()

	select {
	case c.sentCh <- struct{}{}:
	default:
	}
	return nil
}

// Receive implements live.Conn.
func (c *Conn) Receive(ctx context.Context) ([]live.Event, error) {
	select {
	case in := <-c.inbox:
		return in.events, in.err
	case <-c.closedCh:
		return nil, ErrConnClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close implements live.Conn.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CloseCalls++
	if !c.closed {
		c.closed = true
		close(c.closedCh)
	}
	return nil
}

// Sent returns a snapshot of the frames passed to SendAudio.
func (c *Conn) Sent() []audio.AudioFrame {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]audio.AudioFrame(nil), c.sent...)
}

// Closed reports whether Close has been called.
func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// SentSignal returns a channel that receives after each successful SendAudio
// (coalesced).
func (c *Conn) SentSignal() <-chan struct{} { return c.sentCh }
