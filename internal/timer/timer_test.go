package timer

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clocktesting "k8s.io/utils/clock/testing"
)

const wait = 2 * time.Second

type recorder struct {
	mu     sync.Mutex
	ticks  []Tick
	timeUp int32
}

func (r *recorder) onTick(t Tick) {
	r.mu.Lock()
	r.ticks = append(r.ticks, t)
	r.mu.Unlock()
}

func (r *recorder) last() (Tick, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.ticks) == 0 {
		return Tick{}, false
	}
	return r.ticks[len(r.ticks)-1], true
}

func newTimer(seconds int) (*Timer, *clocktesting.FakeClock, *recorder) {
	fc := clocktesting.NewFakeClock(time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC))
	rec := &recorder{}
	tm := New(Options{
		Clock:    fc,
		OnTick:   rec.onTick,
		OnTimeUp: func() { atomic.AddInt32(&rec.timeUp, 1) },
	})
	tm.SetDuration(seconds)
	return tm, fc, rec
}

func TestUntimedNeverStarts(t *testing.T) {
	tm, fc, rec := newTimer(0)
	tm.Start()
	st := tm.State()
	assert.False(t, st.IsRunning)
	assert.False(t, st.IsLowTime())
	assert.False(t, st.IsCriticalTime())
	assert.False(t, fc.HasWaiters())

	fc.Step(time.Hour)
	assert.Zero(t, atomic.LoadInt32(&rec.timeUp))
}

func TestTickReportsTimeLeft(t *testing.T) {
	tm, fc, rec := newTimer(60)
	tm.Start()
	fc.Step(time.Second)

	require.Eventually(t, func() bool {
		tk, ok := rec.last()
		return ok && tk.TimeLeft == 59
	}, wait, time.Millisecond)
	tk, _ := rec.last()
	assert.Equal(t, 1, tk.Elapsed)
	assert.InDelta(t, 100.0/60, tk.Progress, 1e-9)
}

func TestMissedTicksDoNotDrift(t *testing.T) {
	tm, fc, rec := newTimer(60)
	tm.Start()
	fc.Step(45 * time.Second) // one delivered tick for 45 seconds of wall time

	require.Eventually(t, func() bool {
		tk, ok := rec.last()
		return ok && tk.TimeLeft == 15
	}, wait, time.Millisecond)
	assert.Equal(t, 45, tm.State().Elapsed)
}

func TestPauseResumeContinuity(t *testing.T) {
	tm, fc, _ := newTimer(120)
	tm.Start()
	fc.Step(10 * time.Second)
	require.Equal(t, 10, tm.State().Elapsed)

	tm.Pause()
	st := tm.State()
	assert.True(t, st.IsPaused)
	assert.False(t, st.IsRunning)
	assert.Equal(t, 10, st.Elapsed)

	fc.Step(100 * time.Second)
	assert.Equal(t, 10, tm.State().Elapsed, "paused time is not counted")

	tm.Resume()
	st = tm.State()
	assert.True(t, st.IsRunning)
	assert.False(t, st.IsPaused)
	assert.Equal(t, 10, st.Elapsed, "no jump and no double count across resume")

	fc.Step(5 * time.Second)
	assert.Equal(t, 15, tm.State().Elapsed)
	assert.Equal(t, 105, tm.State().TimeLeft)
}

func TestTimeUpFiresOnce(t *testing.T) {
	tm, fc, rec := newTimer(60)
	tm.Start()
	fc.Step(60 * time.Second)

	require.Eventually(t, func() bool { return atomic.LoadInt32(&rec.timeUp) == 1 }, wait, time.Millisecond)
	st := tm.State()
	assert.False(t, st.IsRunning)
	assert.False(t, st.IsPaused)
	assert.Zero(t, st.TimeLeft)

	for i := 0; i < 5; i++ {
		fc.Step(time.Second)
	}
	tm.Start() // no restart without reset
	fc.Step(time.Second)
	time.Sleep(20 * time.Millisecond)
	assert.EqualValues(t, 1, atomic.LoadInt32(&rec.timeUp))

	tm.Reset()
	assert.Equal(t, 60, tm.State().TimeLeft)
	tm.Start()
	fc.Step(60 * time.Second)
	require.Eventually(t, func() bool { return atomic.LoadInt32(&rec.timeUp) == 2 }, wait, time.Millisecond)
}

func TestInvalidTransitionsAreNoops(t *testing.T) {
	tm, _, _ := newTimer(60)
	tm.Pause()
	assert.Equal(t, State{Duration: 60, TimeLeft: 60}, tm.State())
	tm.Resume()
	assert.Equal(t, State{Duration: 60, TimeLeft: 60}, tm.State())

	tm.Start()
	tm.Start()
	assert.True(t, tm.State().IsRunning)
	tm.Resume()
	assert.True(t, tm.State().IsRunning)
	assert.False(t, tm.State().IsPaused)
}

func TestRestoreRunning(t *testing.T) {
	tm, fc, rec := newTimer(0)
	tm.Restore(State{Duration: 600, TimeLeft: 120, Elapsed: 480, IsRunning: true})

	st := tm.State()
	assert.Equal(t, 120, st.TimeLeft)
	assert.True(t, st.IsRunning)
	assert.True(t, st.IsLowTime())
	assert.False(t, st.IsCriticalTime())

	fc.Step(time.Second)
	require.Eventually(t, func() bool {
		tk, ok := rec.last()
		return ok && tk.TimeLeft == 119
	}, wait, time.Millisecond)
}

func TestRestorePausedAndExpired(t *testing.T) {
	tm, fc, rec := newTimer(300)
	tm.Restore(State{TimeLeft: 30, IsPaused: true})
	st := tm.State()
	assert.True(t, st.IsPaused)
	assert.Equal(t, 30, st.TimeLeft)
	assert.True(t, st.IsCriticalTime())

	tm.Restore(State{TimeLeft: 0, IsRunning: true})
	fc.Step(time.Second)
	require.Eventually(t, func() bool { return atomic.LoadInt32(&rec.timeUp) == 1 }, wait, time.Millisecond)
}

func TestStopKeepsConsumedTime(t *testing.T) {
	tm, fc, _ := newTimer(60)
	tm.Start()
	fc.Step(20 * time.Second)
	tm.Stop()
	st := tm.State()
	assert.False(t, st.IsRunning)
	assert.False(t, st.IsPaused)
	assert.Equal(t, 40, st.TimeLeft)
}
