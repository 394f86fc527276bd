// Package sim runs behavior scripts on thread schedulers.
//
// Every [World] owns one scheduler and one virtual clock: an operation that
// does work advances the clock by its cost instead of burning real time, so
// a run is fully deterministic and as fast as the scheduler allows.
package sim

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/b97tsk/thread"
	"github.com/b97tsk/thread/internal/script"
)

// A World is one simulated world running the roots of a script.
// A World is not safe for concurrent use; separate worlds are independent.
type World struct {
	id        uuid.UUID
	name      string
	script    *script.Script
	clock     *thread.ManualClock
	sched     *thread.Scheduler
	logger    *slog.Logger
	verbosity int
	bodies    map[string]thread.Body
	roots     []*thread.Thread
	failures  []string // every "fail" op that ran, in order
	stats     Totals
	lastPass  uint64
}

// Totals sums the frame stats of every pass a [World] has run.
type Totals struct {
	Frames   int
	Steps    int
	Slices   int
	Calls    int
	Finished int
	Warnings int
	Busy     time.Duration // time spent in passes, by the virtual clock
	Exits    map[string]int
}

// Option configures a [World].
type Option func(*World)

// WithName names the world in logs and reports.
func WithName(name string) Option {
	return func(w *World) {
		w.name = name
	}
}

// WithLogger makes the world log to logger instead of the logger found in
// the context given to [World.Run].
func WithLogger(logger *slog.Logger) Option {
	return func(w *World) {
		w.logger = logger
	}
}

// WithVerbosity sets the trace verbosity of flows that do not set one.
func WithVerbosity(v int) Option {
	return func(w *World) {
		w.verbosity = v
	}
}

// NewWorld creates a world for s. Roots are started by the first call to
// [World.Run].
func NewWorld(s *script.Script, opts ...Option) *World {
	w := &World{
		id:     uuid.New(),
		script: s,
		clock:  new(thread.ManualClock),
		bodies: make(map[string]thread.Body, len(s.Flows)),
		stats:  Totals{Exits: make(map[string]int)},
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.name == "" {
		w.name = "world-" + w.id.String()[:8]
	}
	for name, f := range s.Flows {
		w.bodies[name] = w.body(f)
	}
	return w
}

// ID returns the unique identifier of w.
func (w *World) ID() uuid.UUID { return w.id }

// Name returns the name of w.
func (w *World) Name() string { return w.name }

// Scheduler returns the scheduler of w.
func (w *World) Scheduler() *thread.Scheduler { return w.sched }

// Now returns the virtual time of w.
func (w *World) Now() time.Duration { return w.clock.Now() }

// Roots returns the roots w started, in script order.
func (w *World) Roots() []*thread.Thread { return w.roots }

func (w *World) start(ctx context.Context) {
	if w.logger == nil {
		w.logger = Logger(ctx)
	}
	w.logger = w.logger.With("world", w.name, "world_id", w.id)
	w.sched = thread.New(
		thread.WithClock(w.clock),
		thread.WithLogger(w.logger),
		thread.WithVerbosity(w.verbosity),
	)
	for _, r := range w.script.Roots {
		f := w.script.Flows[r.Flow]
		for i := range r.Count {
			name := r.Flow
			if r.Count > 1 {
				name = fmt.Sprintf("%s[%d]", r.Flow, i+1)
			}
			w.roots = append(w.roots, w.sched.Start(name, w.bodies[r.Flow], f.Verbosity))
		}
	}
	w.logger.Debug("World started.", "roots", len(w.roots))
}

// Run drives w one pass of quota per frame until every root has finished,
// frames passes have run (when frames > 0), or ctx is done.
// Run can be called again to continue where it left off.
func (w *World) Run(ctx context.Context, frames int, quota time.Duration) (Report, error) {
	if w.sched == nil {
		w.start(ctx)
	}
	for ran := 0; frames <= 0 || ran < frames; ran++ {
		if err := ctx.Err(); err != nil {
			w.logger.Warn("World stopped early.", "frames", w.stats.Frames, "err", err)
			return w.Report(), fmt.Errorf("%s: %w", w.name, err)
		}
		t0 := w.clock.Now()
		more := w.sched.UpdateAll(quota)
		w.add(w.sched.FrameStats(), w.clock.Now()-t0)
		if !more {
			break
		}
	}
	w.logger.Debug("World ran.", "frames", w.stats.Frames, "virtual_time", w.clock.Now(), "idle", w.sched.Len() == 0)
	return w.Report(), nil
}

func (w *World) add(f thread.FrameStats, busy time.Duration) {
	if f.Pass == w.lastPass {
		return // UpdateAll had nothing to do
	}
	w.lastPass = f.Pass
	t := &w.stats
	t.Frames++
	t.Steps += f.Steps
	t.Slices += f.Slices
	t.Calls += f.Calls
	t.Finished += f.Finished
	t.Warnings += f.Warnings
	t.Busy += busy
	t.Exits[f.Exit.String()]++
}

// FailError is what a "fail" operation panics with.
type FailError struct {
	Flow    string
	Message string
}

func (e *FailError) Error() string {
	return fmt.Sprintf("flow %s failed: %s", e.Flow, e.Message)
}

// body turns f into a generator.
//
// A "work" op advances the clock and keeps running in the same slice, so
// that the scheduler's slice and budget accounting sees its cost.
// A "return" without a value returns the result of the last call.
func (w *World) body(f *script.Flow) thread.Func {
	return func(th *thread.Thread, yield func(any) bool) any {
		var last any
		start := 0
		rounds := make(map[int]int)
		for pc := 0; pc < len(f.Ops); pc++ {
			op := &f.Ops[pc]
			switch op.Kind {
			case script.OpWork:
				w.clock.Advance(op.Cost)
				if !yield(nil) {
					return nil
				}
			case script.OpYield:
				if !yield(thread.Pass) {
					return nil
				}
			case script.OpCall:
				callee := th.Call(op.Target, w.bodies[op.Target], w.script.Flows[op.Target].Verbosity)
				if callee == nil {
					return nil
				}
				if !yield(callee) {
					return nil
				}
				last = th.Result()
			case script.OpRepeat:
				if rounds[pc]++; rounds[pc] < op.Times {
					pc = start - 1
					continue
				}
				delete(rounds, pc)
				start = pc + 1
			case script.OpFail:
				err := &FailError{Flow: f.Name, Message: op.Message}
				w.failures = append(w.failures, fmt.Sprintf("%v: %v", th, err))
				panic(err)
			case script.OpReturn:
				if op.Value != nil {
					return op.Value
				}
				return last
			}
		}
		return last
	}
}

// Failed returns every thread of w that was ended by a panic at least once,
// depth first. A pooled thread that failed and was then called again is
// still listed, although its Err may be nil by now.
func (w *World) Failed() []*thread.Thread {
	var out []*thread.Thread
	var walk func(th *thread.Thread)
	walk = func(th *thread.Thread) {
		if th.Stats().Failures != 0 {
			out = append(out, th)
		}
		if c := th.Callee(); c != nil && !c.Pooled() {
			walk(c)
		}
		for p := range th.Pool() {
			walk(p)
		}
	}
	for _, root := range w.roots {
		walk(root)
	}
	return out
}

// IsFailure reports whether err is, or wraps, the error of a "fail"
// operation.
func IsFailure(err error) bool {
	var fe *FailError
	return errors.As(err, &fe)
}
