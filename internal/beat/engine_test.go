package beat

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T) (*clockwork.FakeClock, *Engine, chan Tick) {
	t.Helper()
	clock := clockwork.NewFakeClock()
	ticks := make(chan Tick, 32)
	engine := NewEngine(clock, func(tick Tick) { ticks <- tick })
	return clock, engine, ticks
}

func waitTick(t *testing.T, ticks chan Tick) Tick {
	t.Helper()
	select {
	case tick := <-ticks:
		return tick
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for tick")
		return Tick{}
	}
}

func assertNoTick(t *testing.T, ticks chan Tick) {
	t.Helper()
	select {
	case tick := <-ticks:
		t.Fatalf("unexpected tick: %+v", tick)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestEngineFirstTickIsImmediate(t *testing.T) {
	_, engine, ticks := newTestEngine(t)

	engine.Start(context.Background())
	defer engine.Stop()

	tick := waitTick(t, ticks)
	assert.Equal(t, 1, tick.Beat)
	assert.True(t, tick.Downbeat)
}

func TestEngineTicksAtTempo(t *testing.T) {
	clock, engine, ticks := newTestEngine(t)
	require.NoError(t, engine.SetTempo(120)) // 500ms per beat

	engine.Start(context.Background())
	defer engine.Stop()

	start := clock.Now()
	first := waitTick(t, ticks)
	assert.Equal(t, start, first.At)

	for i := 2; i <= 5; i++ {
		clock.BlockUntil(1)
		clock.Advance(500 * time.Millisecond)
		tick := waitTick(t, ticks)
		assert.Equal(t, start.Add(time.Duration(i-1)*500*time.Millisecond), tick.At,
			"tick %d target time drifted", i)
	}
}

func TestEngineDriftCorrection(t *testing.T) {
	clock, engine, ticks := newTestEngine(t)
	require.NoError(t, engine.SetTempo(60)) // 1s per beat

	engine.Start(context.Background())
	defer engine.Stop()

	start := clock.Now()
	waitTick(t, ticks)

	// Overshoot the deadline: the timer fires late, but the next target
	// stays on the original grid instead of accumulating the overshoot.
	clock.BlockUntil(1)
	clock.Advance(1300 * time.Millisecond)
	second := waitTick(t, ticks)
	assert.Equal(t, start.Add(1*time.Second), second.At)

	// The following tick is due 700ms later, back on the grid.
	clock.BlockUntil(1)
	clock.Advance(700 * time.Millisecond)
	third := waitTick(t, ticks)
	assert.Equal(t, start.Add(2*time.Second), third.At)
}

func TestEngineDownbeatCycle(t *testing.T) {
	clock, engine, ticks := newTestEngine(t)
	require.NoError(t, engine.SetTempo(60))
	require.NoError(t, engine.SetBeatsPerMeasure(3))

	engine.Start(context.Background())
	defer engine.Stop()

	var beats []int
	var downbeats []bool
	tick := waitTick(t, ticks)
	beats = append(beats, tick.Beat)
	downbeats = append(downbeats, tick.Downbeat)
	for i := 0; i < 3; i++ {
		clock.BlockUntil(1)
		clock.Advance(time.Second)
		tick = waitTick(t, ticks)
		beats = append(beats, tick.Beat)
		downbeats = append(downbeats, tick.Downbeat)
	}

	assert.Equal(t, []int{1, 2, 3, 1}, beats)
	assert.Equal(t, []bool{true, false, false, true}, downbeats)
}

func TestEngineStopCancelsPendingTick(t *testing.T) {
	clock, engine, ticks := newTestEngine(t)
	require.NoError(t, engine.SetTempo(60))

	engine.Start(context.Background())
	waitTick(t, ticks)

	clock.BlockUntil(1)
	engine.Stop()
	assert.False(t, engine.Running())

	// Advancing past the old deadline must produce nothing: stop leaves
	// no orphaned scheduled tick behind.
	clock.Advance(10 * time.Second)
	assertNoTick(t, ticks)
}

func TestEngineTempoChangeTakesEffectNextTick(t *testing.T) {
	clock, engine, ticks := newTestEngine(t)
	require.NoError(t, engine.SetTempo(60))

	engine.Start(context.Background())
	defer engine.Stop()

	start := clock.Now()
	waitTick(t, ticks)

	// The pending tick keeps its 1s deadline; the interval after it is
	// derived from the new tempo.
	require.NoError(t, engine.SetTempo(120))
	clock.BlockUntil(1)
	clock.Advance(time.Second)
	second := waitTick(t, ticks)
	assert.Equal(t, start.Add(time.Second), second.At)

	clock.BlockUntil(1)
	clock.Advance(500 * time.Millisecond)
	third := waitTick(t, ticks)
	assert.Equal(t, start.Add(1500*time.Millisecond), third.At)
}

func TestEngineStartTwiceIsNoop(t *testing.T) {
	clock, engine, ticks := newTestEngine(t)
	require.NoError(t, engine.SetTempo(60))

	engine.Start(context.Background())
	defer engine.Stop()
	waitTick(t, ticks)

	engine.Start(context.Background())
	clock.BlockUntil(1)
	clock.Advance(time.Second)
	waitTick(t, ticks)
	// A second Start did not spawn a second scheduler emitting duplicates.
	assertNoTick(t, ticks)
}

func TestEngineContextCancelStops(t *testing.T) {
	clock, engine, ticks := newTestEngine(t)
	require.NoError(t, engine.SetTempo(60))

	ctx, cancel := context.WithCancel(context.Background())
	engine.Start(ctx)
	waitTick(t, ticks)

	clock.BlockUntil(1)
	cancel()
	require.Eventually(t, func() bool { return !engine.Running() }, time.Second, 5*time.Millisecond)

	clock.Advance(10 * time.Second)
	assertNoTick(t, ticks)
}

func TestEngineValidation(t *testing.T) {
	_, engine, _ := newTestEngine(t)

	assert.ErrorIs(t, engine.SetTempo(0), ErrInvalidTempo)
	assert.ErrorIs(t, engine.SetTempo(-10), ErrInvalidTempo)
	assert.ErrorIs(t, engine.SetBeatsPerMeasure(0), ErrInvalidSignature)
}
