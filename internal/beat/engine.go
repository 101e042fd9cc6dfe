// Package beat is the client-side tick scheduler: it turns the tempo and
// transport events a room broadcasts into a steady local beat. Scheduling is
// self-correcting: the next tick's delay is recomputed from the accumulated
// target time rather than a fixed interval, so timer jitter never compounds.
package beat

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// ErrInvalidTempo is returned for a non-positive tempo.
var ErrInvalidTempo = errors.New("tempo must be positive")

// ErrInvalidSignature is returned for a beats-per-measure below one.
var ErrInvalidSignature = errors.New("beats per measure must be at least 1")

// Tick is one beat. Beat counts from 1 within the measure; the downbeat is
// beat 1, which UIs accent.
type Tick struct {
	Beat     int
	Downbeat bool
	At       time.Time
}

// Engine schedules ticks for one client. All methods are safe for concurrent
// use; the tick callback runs on the engine's own goroutine and should return
// quickly.
type Engine struct {
	clock  clockwork.Clock
	onTick func(Tick)

	mu              sync.Mutex
	tempo           float64
	beatsPerMeasure int
	running         bool
	stop            chan struct{}
	nextTick        time.Time
	beat            int
}

// NewEngine creates a stopped engine at 90 bpm in 4/4. A nil clock selects
// the real clock; tests pass a fake one.
func NewEngine(clock clockwork.Clock, onTick func(Tick)) *Engine {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Engine{
		clock:           clock,
		onTick:          onTick,
		tempo:           90,
		beatsPerMeasure: 4,
	}
}

// SetTempo changes the tempo. While running, the new interval takes effect
// from the next tick onward; the tick already scheduled keeps its deadline.
func (e *Engine) SetTempo(bpm float64) error {
	if bpm <= 0 {
		return ErrInvalidTempo
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.tempo = bpm
	return nil
}

// SetBeatsPerMeasure changes the measure length used for downbeat accents.
func (e *Engine) SetBeatsPerMeasure(beats int) error {
	if beats < 1 {
		return ErrInvalidSignature
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.beatsPerMeasure = beats
	return nil
}

// Running reports whether the engine is ticking.
func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.running
}

// Start begins ticking immediately: the first tick fires at once, as the
// shared transport start is the downbeat. Starting a running engine is a
// no-op.
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return
	}
	e.running = true
	e.stop = make(chan struct{})
	e.nextTick = e.clock.Now()
	e.beat = 0
	stop := e.stop
	e.mu.Unlock()

	go e.run(ctx, stop)
}

// Stop halts the engine and cancels the pending tick immediately; no
// scheduled tick survives a stop. Stopping a stopped engine is a no-op.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.running {
		return
	}
	e.running = false
	close(e.stop)
}

func (e *Engine) run(ctx context.Context, stop chan struct{}) {
	for {
		now := e.clock.Now()

		e.mu.Lock()
		if !e.running {
			e.mu.Unlock()
			return
		}
		fire := !e.nextTick.After(now)
		var tick Tick
		if fire {
			e.beat++
			if e.beat > e.beatsPerMeasure {
				e.beat = 1
			}
			tick = Tick{Beat: e.beat, Downbeat: e.beat == 1, At: e.nextTick}
			e.nextTick = e.nextTick.Add(interval(e.tempo))
		}
		next := e.nextTick
		e.mu.Unlock()

		if fire && e.onTick != nil {
			e.onTick(tick)
		}

		timer := e.clock.NewTimer(next.Sub(e.clock.Now()))
		select {
		case <-timer.Chan():
		case <-stop:
			stopAndDrainTimer(timer)
			return
		case <-ctx.Done():
			stopAndDrainTimer(timer)
			e.mu.Lock()
			if e.running && e.stop == stop {
				e.running = false
				close(e.stop)
			}
			e.mu.Unlock()
			log.Debug().Msg("beat engine cancelled")
			return
		}
	}
}

func interval(bpm float64) time.Duration {
	return time.Duration(float64(time.Minute) / bpm)
}

// stopAndDrainTimer safely stops a timer and drains its channel so no fired
// tick leaks past a stop.
func stopAndDrainTimer(timer clockwork.Timer) {
	if !timer.Stop() {
		select {
		case <-timer.Chan():
		default:
		}
	}
}
