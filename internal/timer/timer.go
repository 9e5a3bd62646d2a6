// Package timer implements a pausable countdown whose elapsed time is always
// derived from the wall clock, so missed or throttled ticks never drift it.
package timer

import (
	"sync"
	"time"

	"k8s.io/utils/clock"
)

const (
	DefaultInterval = time.Second

	lowTimeThreshold      = 300 // seconds
	criticalTimeThreshold = 60
)

// Tick is emitted on every tick of a running timer.
type Tick struct {
	TimeLeft int     `json:"timeLeft"`
	Elapsed  int     `json:"elapsed"`
	Progress float64 `json:"progress"`
}

// State is a point-in-time view of a timer. At most one of IsRunning and
// IsPaused is true; neither means stopped or not started.
type State struct {
	Duration  int  `json:"duration,omitempty"` // seconds, 0 = untimed
	TimeLeft  int  `json:"timeLeft"`
	Elapsed   int  `json:"elapsed"`
	IsRunning bool `json:"isRunning"`
	IsPaused  bool `json:"isPaused"`
}

func (s State) Timed() bool { return s.Duration > 0 }

// Progress is the consumed share of the duration, 0..100.
func (s State) Progress() float64 {
	if !s.Timed() {
		return 0
	}
	return float64(s.Duration-s.TimeLeft) / float64(s.Duration) * 100
}

func (s State) IsLowTime() bool      { return s.Timed() && s.TimeLeft <= lowTimeThreshold }
func (s State) IsCriticalTime() bool { return s.Timed() && s.TimeLeft <= criticalTimeThreshold }

type Options struct {
	Clock    clock.WithTicker
	Interval time.Duration
	OnTick   func(Tick)
	OnTimeUp func()
}

type Timer struct {
	mu       sync.Mutex
	clock    clock.WithTicker
	interval time.Duration
	onTick   func(Tick)
	onTimeUp func()

	duration time.Duration
	// startInstant is now minus the time already consumed, so elapsed is
	// always now - startInstant regardless of pauses.
	startInstant  time.Time
	pausedElapsed time.Duration
	elapsed       time.Duration
	running       bool
	paused        bool
	fired         bool
	stop          chan struct{}
}

func New(opts Options) *Timer {
	if opts.Clock == nil {
		opts.Clock = clock.RealClock{}
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	return &Timer{
		clock:    opts.Clock,
		interval: opts.Interval,
		onTick:   opts.OnTick,
		onTimeUp: opts.OnTimeUp,
	}
}

// SetDuration replaces the countdown length and resets the timer.
func (t *Timer) SetDuration(seconds int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if seconds < 0 {
		seconds = 0
	}
	t.duration = time.Duration(seconds) * time.Second
	t.resetLocked()
}

// Start begins counting from the consumed time. It is a no-op for untimed
// timers, when already running, or once the countdown has reached zero.
func (t *Timer) Start() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.duration <= 0 || t.running || t.fired || t.pausedElapsed >= t.duration {
		return
	}
	t.runLocked()
}

func (t *Timer) Pause() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.running {
		return
	}
	t.freezeLocked()
	t.paused = true
}

func (t *Timer) Resume() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.paused {
		return
	}
	t.runLocked()
}

// Stop halts ticking without resetting the consumed time.
func (t *Timer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.running {
		t.freezeLocked()
	}
	t.paused = false
}

func (t *Timer) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.resetLocked()
}

// Restore rebuilds a timer from a saved state. A saved running timer keeps
// ticking from the saved time left; if that is already zero the next tick
// reports time up.
func (t *Timer) Restore(s State) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s.Duration > 0 {
		t.duration = time.Duration(s.Duration) * time.Second
	}
	t.resetLocked()
	if t.duration <= 0 {
		return
	}
	left := time.Duration(s.TimeLeft) * time.Second
	if left < 0 {
		left = 0
	}
	if left > t.duration {
		left = t.duration
	}
	t.pausedElapsed = t.duration - left
	t.elapsed = t.pausedElapsed
	switch {
	case s.IsRunning:
		t.runLocked()
	case s.IsPaused:
		t.paused = true
	}
}

func (t *Timer) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.running {
		t.recomputeLocked()
	}
	return t.stateLocked()
}

func (t *Timer) stateLocked() State {
	el := int(t.elapsed / time.Second)
	dur := int(t.duration / time.Second)
	left := dur - el
	if left < 0 {
		left = 0
	}
	return State{
		Duration:  dur,
		TimeLeft:  left,
		Elapsed:   el,
		IsRunning: t.running,
		IsPaused:  t.paused,
	}
}

func (t *Timer) recomputeLocked() {
	el := t.clock.Since(t.startInstant)
	if el > t.duration {
		el = t.duration
	}
	if el < 0 {
		el = 0
	}
	t.elapsed = el
}

func (t *Timer) runLocked() {
	t.startInstant = t.clock.Now().Add(-t.pausedElapsed)
	t.running = true
	t.paused = false
	t.stopLoopLocked()
	stop := make(chan struct{})
	t.stop = stop
	tk := t.clock.NewTicker(t.interval)
	go t.loop(stop, tk)
}

func (t *Timer) freezeLocked() {
	t.recomputeLocked()
	t.pausedElapsed = t.elapsed
	t.running = false
	t.stopLoopLocked()
}

func (t *Timer) resetLocked() {
	t.stopLoopLocked()
	t.pausedElapsed = 0
	t.elapsed = 0
	t.running = false
	t.paused = false
	t.fired = false
}

func (t *Timer) stopLoopLocked() {
	if t.stop != nil {
		close(t.stop)
		t.stop = nil
	}
}

func (t *Timer) loop(stop chan struct{}, tk clock.Ticker) {
	defer tk.Stop()
	for {
		select {
		case <-stop:
			return
		case <-tk.C():
			if !t.tick(stop) {
				return
			}
		}
	}
}

// tick reports whether the loop should keep going. Callbacks run without
// the lock held so they may call back into the timer.
func (t *Timer) tick(stop chan struct{}) bool {
	t.mu.Lock()
	if t.stop != stop || !t.running {
		t.mu.Unlock()
		return false
	}
	t.recomputeLocked()
	st := t.stateLocked()
	up := st.TimeLeft <= 0 && !t.fired
	if up {
		t.fired = true
		t.pausedElapsed = t.duration
		t.running = false
		t.paused = false
		t.stopLoopLocked()
	}
	onTick, onTimeUp := t.onTick, t.onTimeUp
	t.mu.Unlock()

	if onTick != nil {
		onTick(Tick{TimeLeft: st.TimeLeft, Elapsed: st.Elapsed, Progress: st.Progress()})
	}
	if up && onTimeUp != nil {
		onTimeUp()
	}
	return !up
}
