// Package bargein implements the Barge-in Controller: a debounced
// voice-activity handler gated by conversation phase and remaining playback,
// trading a small fixed latency for rejecting microphone noise and tail
// coughs that a naive "cancel on first VAD trigger" would lose sentences to.
package bargein

import (
	"sync"
	"time"
)

// Phase mirrors the call's conversation phase; barge-in is never confirmed
// during greeting.
type Phase int

const (
	PhaseGreeting Phase = iota
	PhaseNormal
)

// Config holds the interruption-detection tunables.
type Config struct {
	DebounceMs    int
	MinRemainMs   int
}

// DefaultConfig returns the standard debounce/min-remain settings.
func DefaultConfig() Config {
	return Config{DebounceMs: 1000, MinRemainMs: 2000}
}

// PlaybackState is the minimal view of the Playback Tracker the controller needs.
type PlaybackState interface {
	RemainingMs() int
}

// Events are the controller's observable outcomes, used by the orchestrator
// to drive the carrier clear / model truncate sequence and by tests to
// assert on exact call counts.
type Events struct {
	OnIgnored   func(reason string)
	OnCancelled func(reason string)
	// OnConfirmed fires exactly once per confirmed barge-in; no arguments
	// beyond the trigger since the caller reads current tracker state itself.
	OnConfirmed func()
}

// Controller owns one debounce timer; safe for concurrent SpeechStarted /
// SpeechStopped calls from different reader goroutines, but only one
// SpeechStarted is ever pending at a time (pending is reset on confirm or cancel).
type Controller struct {
	cfg   Config
	ev    Events
	track PlaybackState

	mu      sync.Mutex
	phase   Phase
	pending bool
	timer   *time.Timer
}

// New constructs a Controller bound to a Playback Tracker view.
func New(cfg Config, track PlaybackState, ev Events) *Controller {
	return &Controller{cfg: cfg, ev: ev, track: track, phase: PhaseGreeting}
}

// SetPhase transitions the controller's notion of phase. Monotonic in
// practice (greeting -> normal) but the controller itself does not enforce
// monotonicity; the orchestrator owns that invariant.
func (c *Controller) SetPhase(p Phase) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.phase = p
}

// SpeechStarted handles an input_audio_buffer.speech_started event.
func (c *Controller) SpeechStarted() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.phase == PhaseGreeting {
		c.fireIgnored("greeting_phase")
		return
	}
	if c.track.RemainingMs() < c.cfg.MinRemainMs {
		c.fireIgnored("audio_almost_finished")
		return
	}

	if c.timer != nil {
		c.timer.Stop()
	}
	c.pending = true
	c.timer = time.AfterFunc(time.Duration(c.cfg.DebounceMs)*time.Millisecond, c.fire)
}

// SpeechStopped handles an input_audio_buffer.speech_stopped event. If a
// debounce timer is in flight it is cancelled — this is the dominant noise
// rejection path.
func (c *Controller) SpeechStopped() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.pending {
		return
	}
	if c.timer != nil {
		c.timer.Stop()
	}
	c.pending = false
	c.fireCancelled("speech_stopped_before_debounce")
}

// Shutdown cancels any in-flight timer; idempotent, safe to call on a
// controller that never started a timer.
func (c *Controller) Shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.timer != nil {
		c.timer.Stop()
	}
	c.pending = false
}

func (c *Controller) fire() {
	c.mu.Lock()
	if !c.pending {
		c.mu.Unlock()
		return
	}
	c.pending = false
	c.mu.Unlock()

	if c.ev.OnConfirmed != nil {
		c.ev.OnConfirmed()
	}
}

func (c *Controller) fireIgnored(reason string) {
	if c.ev.OnIgnored != nil {
		c.ev.OnIgnored(reason)
	}
}

func (c *Controller) fireCancelled(reason string) {
	if c.ev.OnCancelled != nil {
		c.ev.OnCancelled(reason)
	}
}
