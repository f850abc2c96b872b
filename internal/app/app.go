// Package app wires capture, the live session and playback into a running
// conversation or transcription.
//
// A [Controller] owns at most one run at a time. Start acquires the output
// device (conversation mode only), opens the live session and starts the
// microphone pipeline with the session as its sink. Stop releases them in the
// reverse order: capture first, so no frame reaches a closing session, then
// the session, then the output device. A session that ends on its own (remote
// close or fatal error) triggers the same teardown.
//
// For testing, inject mock devices and providers through [Deps].
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/livewire/internal/config"
	"github.com/MrWong99/livewire/internal/observe"
	"github.com/MrWong99/livewire/pkg/audio"
	"github.com/MrWong99/livewire/pkg/audio/capture"
	"github.com/MrWong99/livewire/pkg/audio/playback"
	"github.com/MrWong99/livewire/pkg/provider/live"
)

// ErrAlreadyRunning is returned by [Controller.Start] while a run is active.
var ErrAlreadyRunning = errors.New("app: already running")

// State is the controller state.
type State int

const (
	// StateIdle means no run is active.
	StateIdle State = iota

	// StateRunning means devices and session are held.
	StateRunning
)

// String returns "idle" or "running".
func (s State) String() string {
	if s == StateRunning {
		return "running"
	}
	return "idle"
}

// Config selects what a run does.
type Config struct {
	// Mode is conversation (audio replies are played) or transcription
	// (the user's speech is transcribed; no output device is opened).
	Mode config.Mode

	// Session is the initial live session configuration. In transcription
	// mode InputTranscription is forced on.
	Session live.Config

	// Capture is the microphone format.
	Capture audio.CaptureConfig
}

// Deps are the collaborators a Controller drives.
type Deps struct {
	// Provider dials the live session. Required.
	Provider live.Provider

	// Input is the microphone. Required.
	Input audio.InputDevice

	// OpenOutput opens the speaker for one run. Required in conversation mode.
	OpenOutput func() (audio.OutputDevice, error)
}

// TranscriptEntry is one transcript fragment.
type TranscriptEntry struct {
	Source live.TranscriptSource
	Text   string
	At     time.Time
}

// Info describes the active run. While idle only SessionState is set, to
// [live.StateClosed].
type Info struct {
	SessionID    string         `json:"session_id,omitempty"`
	Mode         config.Mode    `json:"mode,omitempty"`
	StartedAt    time.Time      `json:"started_at,omitzero"`
	SessionState live.State     `json:"session_state"`
	Capture      capture.Stats  `json:"capture"`
	Playback     playback.Stats `json:"playback"`
}

// Option is a functional option for [New].
type Option func(*Controller)

// WithLogger sets the controller logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) { c.log = l }
}

// WithMetrics sets the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// WithTranscriptHook registers fn to be called for every transcript fragment.
// It runs on the session's dispatch goroutine and may call Stop.
func WithTranscriptHook(fn func(TranscriptEntry)) Option {
	return func(c *Controller) { c.onTranscript = fn }
}

// Controller runs live sessions. All exported methods are safe for
// concurrent use.
type Controller struct {
	cfg          Config
	deps         Deps
	log          *slog.Logger
	metrics      *observe.Metrics
	onTranscript func(TranscriptEntry)

	mu         sync.Mutex
	cur        *run
	transcript []TranscriptEntry
}

// run holds the resources of one Start..Stop cycle.
type run struct {
	ctx       context.Context
	span      trace.Span
	log       *slog.Logger
	startedAt time.Time

	sess    *live.Session
	capture *capture.Pipeline

	// playMu guards out and sched against release. Callbacks take it while
	// scheduling; release takes it to close the device.
	playMu   sync.Mutex
	out      audio.OutputDevice
	sched    *playback.Scheduler
	released bool

	counted     bool // included in ActiveSessions
	releaseOnce sync.Once
}

// New creates an idle controller.
func New(cfg Config, deps Deps, opts ...Option) (*Controller, error) {
	var errs []error
	if deps.Provider == nil {
		errs = append(errs, errors.New("app: provider is required"))
	}
	if deps.Input == nil {
		errs = append(errs, errors.New("app: input device is required"))
	}
	if cfg.Mode == "" {
		cfg.Mode = config.ModeConversation
	}
	if !cfg.Mode.IsValid() {
		errs = append(errs, fmt.Errorf("app: invalid mode %q", cfg.Mode))
	}
	if cfg.Mode == config.ModeConversation && deps.OpenOutput == nil {
		errs = append(errs, errors.New("app: conversation mode needs an output device"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	if cfg.Mode == config.ModeTranscription {
		cfg.Session.InputTranscription = true
	}
	cfg.Capture = cfg.Capture.WithDefaults()
	if cfg.Session.InputSampleRate == 0 {
		cfg.Session.InputSampleRate = cfg.Capture.SampleRate
	}

	c := &Controller{
		cfg:  cfg,
		deps: deps,
		log:  slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	return c, nil
}

// Start acquires the devices and opens the session. On any failure everything
// acquired so far is released and the controller stays idle.
//
// The session connects in the background; frames captured meanwhile are
// queued. The run outlives ctx: only its values are kept. Use [Controller.Run]
// to bind a run to a context.
func (c *Controller) Start(ctx context.Context) error {
	_, err := c.start(ctx)
	return err
}

func (c *Controller) start(ctx context.Context) (*run, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cur != nil {
		return nil, fmt.Errorf("%w (session=%s)", ErrAlreadyRunning, c.cur.sess.ID())
	}

	runCtx, span := observe.StartSpan(context.WithoutCancel(ctx), "livewire.run",
		trace.WithAttributes(
			attribute.String("mode", string(c.cfg.Mode)),
			attribute.String("provider", c.deps.Provider.Name()),
		),
	)
	// The session ID and run logger exist before any session goroutine does:
	// callbacks read r.log without locking.
	id := uuid.NewString()
	span.SetAttributes(attribute.String("session_id", id))
	r := &run{
		ctx:       runCtx,
		span:      span,
		startedAt: time.Now(),
		log:       observe.WithTrace(runCtx, c.log).With("session_id", id),
	}

	// ── 1. Output device ─────────────────────────────────────────────────
	if c.cfg.Mode == config.ModeConversation {
		out, err := c.deps.OpenOutput()
		if err != nil {
			c.abort(r, err)
			return nil, fmt.Errorf("app: open output: %w", err)
		}
		r.out = out
		r.sched = playback.New(out,
			playback.WithLogger(r.log),
			playback.WithGapHook(func(gap time.Duration) { c.metrics.RecordGap(runCtx, gap) }),
		)
	}

	// ── 2. Session ───────────────────────────────────────────────────────
	sess, err := live.Open(runCtx, c.deps.Provider, c.cfg.Session, live.Callbacks{
		OnOpen:    func() { c.handleOpen(r) },
		OnMessage: func(ev live.Event) { c.handleEvent(r, ev) },
		OnError:   func(err error) { c.handleError(r, err) },
		OnClose:   func() { c.endRun(r) },
	}, live.WithID(id), live.WithLogger(c.log))
	if err != nil {
		c.abort(r, err)
		return nil, fmt.Errorf("app: open session: %w", err)
	}
	r.sess = sess

	// ── 3. Capture ───────────────────────────────────────────────────────
	provider := c.deps.Provider.Name()
	r.capture = capture.New(c.deps.Input, sess,
		capture.WithConfig(c.cfg.Capture),
		capture.WithLogger(r.log),
		capture.WithFrameHook(func(_ audio.AudioFrame, err error) {
			c.metrics.RecordFrame(runCtx, provider, err == nil)
		}),
	)
	if err := r.capture.Start(runCtx); err != nil {
		c.abort(r, err)
		return nil, fmt.Errorf("app: start capture: %w", err)
	}

	c.cur = r
	c.transcript = nil
	r.counted = true
	c.metrics.ActiveSessions.Add(runCtx, 1)
	r.log.Info("run started", "mode", c.cfg.Mode, "provider", provider)
	return r, nil
}

// abort releases a run that never became current.
func (c *Controller) abort(r *run, err error) {
	observe.FailSpan(r.span, err)
	c.release(r)
}

// Stop ends the active run: capture is stopped synchronously, then the
// session is closed, then the output device is released. Idempotent; a no-op
// while idle.
func (c *Controller) Stop() error {
	c.mu.Lock()
	r := c.cur
	c.cur = nil
	c.mu.Unlock()

	if r == nil {
		return nil
	}
	err := c.release(r)
	r.log.Info("run stopped", "took", time.Since(r.startedAt))
	return err
}

// endRun is the session's OnClose: a session that ended by itself tears the
// run down. After a user Stop the run is no longer current and this is a no-op.
func (c *Controller) endRun(r *run) {
	c.mu.Lock()
	if c.cur != r {
		c.mu.Unlock()
		return
	}
	c.cur = nil
	c.mu.Unlock()

	if err := c.release(r); err != nil {
		r.log.Warn("teardown after session end", "err", err)
	}
	r.log.Info("run ended by session", "err", r.sess.Err())
}

// release stops capture, closes the session and the output device, in that
// order. Safe to call more than once.
func (c *Controller) release(r *run) error {
	var errs []error
	r.releaseOnce.Do(func() {
		if r.capture != nil {
			if err := r.capture.Stop(); err != nil {
				errs = append(errs, fmt.Errorf("app: stop capture: %w", err))
			}
		}
		if r.sess != nil {
			if err := r.sess.Close(); err != nil {
				errs = append(errs, fmt.Errorf("app: close session: %w", err))
			}
		}

		r.playMu.Lock()
		r.released = true
		if r.out != nil {
			if err := r.out.Close(); err != nil {
				errs = append(errs, fmt.Errorf("app: close output: %w", err))
			}
		}
		r.playMu.Unlock()

		if r.counted {
			c.metrics.ActiveSessions.Add(r.ctx, -1)
			c.metrics.SessionDuration.Record(r.ctx, time.Since(r.startedAt).Seconds())
		}
		if err := errors.Join(errs...); err != nil {
			r.span.RecordError(err)
		}
		r.span.End()
	})
	return errors.Join(errs...)
}

// Run starts a run and blocks until ctx is done or the session ends, then
// stops. It returns the session's fatal error, if any.
func (c *Controller) Run(ctx context.Context) error {
	r, err := c.start(ctx)
	if err != nil {
		return err
	}

	select {
	case <-ctx.Done():
	case <-r.sess.Done():
	}
	stopErr := c.Stop()
	if err := r.sess.Err(); err != nil {
		return err
	}
	return stopErr
}

// State returns the controller state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cur != nil {
		return StateRunning
	}
	return StateIdle
}

// ErrNotReady is returned by [Controller.Ready] while no open session exists.
var ErrNotReady = errors.New("app: no open session")

// Ready reports nil when a run is active and its session is open. It has the
// signature of a health check.
func (c *Controller) Ready(context.Context) error {
	c.mu.Lock()
	r := c.cur
	c.mu.Unlock()
	if r == nil {
		return ErrNotReady
	}
	if st := r.sess.State(); st != live.StateOpen {
		return fmt.Errorf("%w: session %s", ErrNotReady, st)
	}
	return nil
}

// Info describes the active run.
func (c *Controller) Info() Info {
	c.mu.Lock()
	r := c.cur
	c.mu.Unlock()
	if r == nil {
		return Info{SessionState: live.StateClosed}
	}

	info := Info{
		SessionID:    r.sess.ID(),
		Mode:         c.cfg.Mode,
		StartedAt:    r.startedAt,
		SessionState: r.sess.State(),
		Capture:      r.capture.Stats(),
	}
	r.playMu.Lock()
	if r.sched != nil {
		info.Playback = r.sched.Stats()
	}
	r.playMu.Unlock()
	return info
}

// Transcript returns the user's speech transcribed during the current or
// last run.
func (c *Controller) Transcript() string {
	return c.joined(live.SourceInput)
}

// Reply returns the model's transcribed speech during the current or last run.
func (c *Controller) Reply() string {
	return c.joined(live.SourceOutput)
}

// Entries returns a copy of all transcript fragments of the current or last run.
func (c *Controller) Entries() []TranscriptEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]TranscriptEntry(nil), c.transcript...)
}

func (c *Controller) joined(src live.TranscriptSource) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var b strings.Builder
	for _, e := range c.transcript {
		if e.Source == src {
			b.WriteString(e.Text)
		}
	}
	return b.String()
}

// ── Session callbacks (dispatch goroutine) ──────────────────────────────────

func (c *Controller) handleOpen(r *run) {
	took := time.Since(r.startedAt)
	c.metrics.ConnectDuration.Record(r.ctx, took.Seconds())
	r.log.Info("session open", "connect_took", took)
}

func (c *Controller) handleEvent(r *run, ev live.Event) {
	switch ev.Kind {
	case live.EventAudio:
		c.metrics.ChunksReceived.Add(r.ctx, 1)
		c.play(r, ev)

	case live.EventTranscript:
		entry := TranscriptEntry{Source: ev.Source, Text: ev.Text, At: time.Now()}
		c.mu.Lock()
		if c.cur == r {
			c.transcript = append(c.transcript, entry)
		}
		c.mu.Unlock()
		c.metrics.RecordTranscript(r.ctx, ev.Source.String())
		if c.onTranscript != nil {
			c.onTranscript(entry)
		}

	case live.EventInterrupted:
		r.playMu.Lock()
		if r.sched != nil && !r.released {
			pending := r.sched.Pending()
			r.sched.Reset()
			r.log.Debug("playback interrupted", "dropped", pending)
		}
		r.playMu.Unlock()

	case live.EventTurnComplete:
		r.log.Debug("turn complete")
	}
}

// play schedules one model audio chunk. Audio is dropped in transcription
// mode and after release.
func (c *Controller) play(r *run, ev live.Event) {
	r.playMu.Lock()
	defer r.playMu.Unlock()
	if r.sched == nil || r.released {
		return
	}
	if _, err := r.sched.Schedule(ev.Audio, ev.SampleRate); err != nil {
		if errors.Is(err, audio.ErrDecode) {
			c.metrics.DecodeErrors.Add(r.ctx, 1)
		}
		return
	}
	c.metrics.ChunksScheduled.Add(r.ctx, 1)
}

func (c *Controller) handleError(r *run, err error) {
	c.metrics.RecordSessionError(r.ctx, c.deps.Provider.Name())
	observe.FailSpan(r.span, err)
	r.log.Error("session failed", "err", err)
}
