package resilience_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/livewire/internal/resilience"
	"github.com/MrWong99/livewire/pkg/provider/live"
	livemock "github.com/MrWong99/livewire/pkg/provider/live/mock"
)

func TestFailover_PrimaryServes(t *testing.T) {
	t.Parallel()

	primary := &livemock.Provider{ProviderName: "gemini-live"}
	fallback := &livemock.Provider{ProviderName: "openai-realtime"}
	f := resilience.NewFailover(resilience.BreakerConfig{}, primary, fallback)

	if _, err := f.Dial(context.Background(), live.Config{}); err != nil {
		t.Fatalf("Dial: %v", err)
	}
	if fallback.Calls() != 0 {
		t.Errorf("fallback dialed %d times, want 0", fallback.Calls())
	}
	if f.Active() != "gemini-live" || f.Name() != "gemini-live" {
		t.Errorf("Active = %q, Name = %q", f.Active(), f.Name())
	}
}

func TestFailover_FallsBack(t *testing.T) {
	t.Parallel()

	primary := &livemock.Provider{ProviderName: "gemini-live", DialErr: errors.New("503")}
	fallback := &livemock.Provider{ProviderName: "gemini-sdk"}
	f := resilience.NewFailover(resilience.BreakerConfig{MaxFailures: 2, CoolDown: time.Hour}, primary, fallback)

	for i := range 3 {
		if _, err := f.Dial(context.Background(), live.Config{Voice: "Puck"}); err != nil {
			t.Fatalf("Dial %d: %v", i, err)
		}
	}
	if f.Active() != "gemini-sdk" {
		t.Errorf("Active = %q, want gemini-sdk", f.Active())
	}
	// The breaker opened after two failures, so the third dial skipped the primary.
	if primary.Calls() != 2 {
		t.Errorf("primary dialed %d times, want 2", primary.Calls())
	}
	if got := f.Breaker("gemini-live").State(); got != resilience.StateOpen {
		t.Errorf("primary breaker = %v, want open", got)
	}
	if got := fallback.DialCalls[0].Cfg.Voice; got != "Puck" {
		t.Errorf("fallback got voice %q, want Puck", got)
	}
}

func TestFailover_AllFailed(t *testing.T) {
	t.Parallel()

	errA, errB := errors.New("a down"), errors.New("b down")
	f := resilience.NewFailover(resilience.BreakerConfig{},
		&livemock.Provider{ProviderName: "a", DialErr: errA},
		&livemock.Provider{ProviderName: "b", DialErr: errB},
	)

	_, err := f.Dial(context.Background(), live.Config{})
	if !errors.Is(err, resilience.ErrAllFailed) {
		t.Fatalf("Dial = %v, want ErrAllFailed", err)
	}
	if !errors.Is(err, errA) || !errors.Is(err, errB) {
		t.Errorf("error should wrap both causes, got %v", err)
	}
	if f.Active() != "" {
		t.Errorf("Active = %q, want empty", f.Active())
	}
}

func TestFailover_CancelStopsWalk(t *testing.T) {
	t.Parallel()

	primary := &livemock.Provider{ProviderName: "slow", Gate: make(chan struct{})}
	fallback := &livemock.Provider{ProviderName: "fast"}
	f := resilience.NewFailover(resilience.BreakerConfig{MaxFailures: 1}, primary, fallback)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := f.Dial(ctx, live.Config{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Dial = %v, want context.Canceled", err)
	}
	if fallback.Calls() != 0 {
		t.Error("fallback dialed after cancellation")
	}
	if got := f.Breaker("slow").State(); got != resilience.StateClosed {
		t.Errorf("cancelled dial opened the breaker: %v", got)
	}
}

func TestFailover_InSession(t *testing.T) {
	t.Parallel()

	conn := livemock.NewConn()
	f := resilience.NewFailover(resilience.BreakerConfig{},
		&livemock.Provider{ProviderName: "down", DialErr: errors.New("refused")},
		&livemock.Provider{ProviderName: "up", Conn: conn},
	)

	opened := make(chan struct{})
	sess, err := live.Open(context.Background(), f, live.Config{}, live.Callbacks{
		OnOpen: func() { close(opened) },
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer sess.Close()

	select {
	case <-opened:
	case <-time.After(2 * time.Second):
		t.Fatal("session did not open through fallback")
	}
}
