package audio

import "sync"

// Blocker re-frames an arbitrary stream of samples into blocks of exactly
// Size samples and hands each complete block to a callback. Host audio
// backends deliver whatever period size they negotiated; Blocker restores
// the fixed block cadence the capture pipeline expects.
//
// Write and Disable may be called from different goroutines.
type Blocker struct {
	size    int
	onBlock func([]float32)

	mu       sync.Mutex
	buf      []float32
	disabled bool
}

// NewBlocker returns a Blocker that emits blocks of size samples.
// A non-positive size selects [DefaultBlockSize].
func NewBlocker(size int, onBlock func([]float32)) *Blocker {
	if size <= 0 {
		size = DefaultBlockSize
	}
	return &Blocker{
		size:    size,
		onBlock: onBlock,
		buf:     make([]float32, 0, size),
	}
}

// Write appends samples and emits every block completed by them. The
// callback runs on the caller's goroutine while the Blocker's lock is held,
// which is what lets [Blocker.Disable] wait for an in-flight block.
func (b *Blocker) Write(samples []float32) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for len(samples) > 0 {
		if b.disabled {
			return
		}
		n := min(b.size-len(b.buf), len(samples))
		b.buf = append(b.buf, samples[:n]...)
		samples = samples[n:]
		if len(b.buf) == b.size {
			b.onBlock(b.buf)
			b.buf = b.buf[:0]
		}
	}
}

// Disable disconnects the callback. When Disable returns, any block that was
// being delivered has completed and no further block will be delivered.
// Buffered partial samples are discarded.
func (b *Blocker) Disable() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.disabled = true
	b.buf = b.buf[:0]
}

// Pending returns the number of buffered samples not yet emitted.
func (b *Blocker) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.buf)
}
