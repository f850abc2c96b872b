package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/MrWong99/livewire/pkg/provider/live"
)

// ErrAllFailed is returned by [FailoverProvider.Dial] when no provider could
// be dialed.
var ErrAllFailed = errors.New("resilience: all providers failed")

var _ live.Provider = (*FailoverProvider)(nil)

type candidate struct {
	provider live.Provider
	breaker  *Breaker
}

// FailoverProvider is a [live.Provider] that dials its providers in order
// until one succeeds.
type FailoverProvider struct {
	candidates []candidate
	log        *slog.Logger
	last       atomic.Int32
}

// NewFailover returns a FailoverProvider over primary followed by fallbacks.
// Each provider gets its own breaker configured from cfg; cfg.Name is
// replaced by the provider name.
func NewFailover(cfg BreakerConfig, primary live.Provider, fallbacks ...live.Provider) *FailoverProvider {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	f := &FailoverProvider{log: cfg.Logger}
	for _, p := range append([]live.Provider{primary}, fallbacks...) {
		bc := cfg
		bc.Name = p.Name()
		f.candidates = append(f.candidates, candidate{provider: p, breaker: NewBreaker(bc)})
	}
	f.last.Store(-1)
	return f
}

// Name returns the primary provider's name.
func (f *FailoverProvider) Name() string { return f.candidates[0].provider.Name() }

// Active returns the name of the provider that served the last successful
// Dial, or "" if none has.
func (f *FailoverProvider) Active() string {
	i := f.last.Load()
	if i < 0 {
		return ""
	}
	return f.candidates[i].provider.Name()
}

// Breaker returns the breaker guarding the named provider, or nil.
func (f *FailoverProvider) Breaker(name string) *Breaker {
	for _, c := range f.candidates {
		if c.provider.Name() == name {
			return c.breaker
		}
	}
	return nil
}

// Dial implements [live.Provider]. Providers with an open breaker are
// skipped. A cancelled ctx stops the walk and is not counted against the
// provider that was being dialed.
func (f *FailoverProvider) Dial(ctx context.Context, cfg live.Config) (live.Conn, error) {
	var errs []error
	for i, c := range f.candidates {
		name := c.provider.Name()
		if err := c.breaker.Allow(); err != nil {
			f.log.Debug("resilience: skipping provider", "provider", name, "err", err)
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			continue
		}

		conn, err := c.provider.Dial(ctx, cfg)
		if err != nil && ctx.Err() != nil {
			c.breaker.abandon()
			return nil, err
		}
		c.breaker.Record(err)
		if err == nil {
			if i > 0 {
				f.log.Warn("resilience: dialed fallback provider", "provider", name, "primary", f.Name())
			}
			f.last.Store(int32(i))
			return conn, nil
		}
		f.log.Warn("resilience: provider dial failed", "provider", name, "err", err)
		errs = append(errs, fmt.Errorf("%s: %w", name, err))
	}
	return nil, fmt.Errorf("%w: %w", ErrAllFailed, errors.Join(errs...))
}
