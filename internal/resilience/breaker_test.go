package resilience

import (
	"errors"
	"sync"
	"testing"
	"time"
)

var errDial = errors.New("dial failed")

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestBreaker(maxFailures int, coolDown time.Duration) (*Breaker, *fakeClock) {
	clk := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	return NewBreaker(BreakerConfig{
		Name:        "test",
		MaxFailures: maxFailures,
		CoolDown:    coolDown,
		now:         clk.now,
	}), clk
}

func attempt(b *Breaker, err error) error {
	if aerr := b.Allow(); aerr != nil {
		return aerr
	}
	b.Record(err)
	return err
}

func TestNewBreaker_Defaults(t *testing.T) {
	t.Parallel()
	b := NewBreaker(BreakerConfig{})
	if b.maxFailures != 3 || b.coolDown != 30*time.Second {
		t.Errorf("defaults = %d, %v; want 3, 30s", b.maxFailures, b.coolDown)
	}
	if b.State() != StateClosed {
		t.Errorf("initial state = %v, want closed", b.State())
	}
}

func TestBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	t.Parallel()
	b, _ := newTestBreaker(3, time.Minute)

	_ = attempt(b, errDial)
	_ = attempt(b, errDial)
	if b.State() != StateClosed {
		t.Fatalf("state after 2 failures = %v, want closed", b.State())
	}
	_ = attempt(b, errDial)
	if b.State() != StateOpen {
		t.Fatalf("state after 3 failures = %v, want open", b.State())
	}
	if err := b.Allow(); !errors.Is(err, ErrBreakerOpen) {
		t.Errorf("Allow while open = %v, want ErrBreakerOpen", err)
	}
}

func TestBreaker_SuccessResetsCount(t *testing.T) {
	t.Parallel()
	b, _ := newTestBreaker(2, time.Minute)

	_ = attempt(b, errDial)
	_ = attempt(b, nil)
	_ = attempt(b, errDial)
	if b.State() != StateClosed {
		t.Errorf("state = %v, want closed (failures were not consecutive)", b.State())
	}
}

func TestBreaker_HalfOpenProbe(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		probe error
		want  State
	}{
		{"probe succeeds", nil, StateClosed},
		{"probe fails", errDial, StateOpen},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			b, clk := newTestBreaker(1, time.Minute)
			_ = attempt(b, errDial)

			clk.advance(time.Minute)
			if b.State() != StateHalfOpen {
				t.Fatalf("state after cool-down = %v, want half-open", b.State())
			}
			if err := b.Allow(); err != nil {
				t.Fatalf("probe Allow = %v", err)
			}
			if err := b.Allow(); !errors.Is(err, ErrBreakerOpen) {
				t.Errorf("second concurrent probe = %v, want ErrBreakerOpen", err)
			}
			b.Record(tc.probe)
			if got := b.State(); got != tc.want {
				t.Errorf("state after probe = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestBreaker_AbandonFreesProbe(t *testing.T) {
	t.Parallel()
	b, clk := newTestBreaker(1, time.Second)
	_ = attempt(b, errDial)
	clk.advance(time.Second)

	if err := b.Allow(); err != nil {
		t.Fatalf("Allow = %v", err)
	}
	b.abandon()
	if err := b.Allow(); err != nil {
		t.Errorf("Allow after abandon = %v, want nil", err)
	}
}

func TestBreaker_Reset(t *testing.T) {
	t.Parallel()
	b, _ := newTestBreaker(1, time.Hour)
	_ = attempt(b, errDial)
	b.Reset()
	if b.State() != StateClosed {
		t.Errorf("state after Reset = %v, want closed", b.State())
	}
	if err := b.Allow(); err != nil {
		t.Errorf("Allow after Reset = %v", err)
	}
}

func TestState_String(t *testing.T) {
	t.Parallel()
	for s, want := range map[State]string{
		StateClosed:   "closed",
		StateOpen:     "open",
		StateHalfOpen: "half-open",
		State(9):      "unknown",
	} {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", s, got, want)
		}
	}
}
