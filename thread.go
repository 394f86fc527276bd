package thread

import (
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// A Thread is one resumable computation tracked by a [Scheduler].
//
// A Thread is created by [Scheduler.Start] (a root) or by [Scheduler.Call]
// (a callee).
// A callee is owned by its caller: when it stops, it goes back into its
// caller's pool, and the next Call with the same name from the same caller
// reuses it with a fresh [Coroutine].
//
// A Thread is not safe for concurrent use.
// It must only be used from the goroutine that drives its Scheduler.
type Thread struct {
	sched     *Scheduler
	id        uuid.UUID
	name      string
	co        Coroutine
	closing   Coroutine // to be closed once the running step returns
	verbosity int
	caller    *Thread
	callee    *Thread
	result    any
	err       error
	pool      map[string]*Thread
	pooled    bool
	slots     [numLists]int32

	// Slice state; only meaningful for roots.
	newSlice   bool
	sliceTicks time.Duration
	visited    uint64

	stats Stats
}

// Stats holds the counters of a [Thread].
type Stats struct {
	Calls    int // times started or called
	Slices   int // slices started, roots only
	Steps    int // times resumed
	Yields   int // times ceded or awaited
	Warnings int // starvation warnings
	Failures int // times ended by a panic, kept across pooled calls

	Self     time.Duration // time spent in the thread's own steps
	Total    time.Duration // Self plus the time of every callee
	Overhead time.Duration // scheduler time while the thread was active
}

func (s *Scheduler) newThread(name string) *Thread {
	return &Thread{
		sched:     s,
		id:        uuid.New(),
		name:      name,
		verbosity: TraceInherit,
	}
}

// Name returns the name of th.
func (th *Thread) Name() string {
	return th.name
}

// ID returns a unique identifier of th, assigned when th was created.
// A pooled thread keeps its ID across calls.
func (th *Thread) ID() uuid.UUID {
	return th.id
}

// Scheduler returns the scheduler th belongs to.
func (th *Thread) Scheduler() *Scheduler {
	return th.sched
}

// Valid reports whether th is a thread that has not finished.
// It is safe to call Valid on a nil *Thread.
func (th *Thread) Valid() bool {
	return th != nil && th.co != nil
}

// Finished reports whether th has finished.
// It is safe to call Finished on a nil *Thread, which counts as finished.
func (th *Thread) Finished() bool {
	return th == nil || th.co == nil
}

// Result returns the result slot of th.
//
// After th stops, it holds the result th stopped with.
// While th waits on a callee, it is cleared; once the callee stops, it holds
// the callee's result, which is how a caller observes what it called.
func (th *Thread) Result() any {
	return th.result
}

// Err returns the [*PanicError] that ended th, or nil.
func (th *Thread) Err() error {
	return th.err
}

// Caller returns the thread that called th, or nil if th is a root.
func (th *Thread) Caller() *Thread {
	return th.caller
}

// Callee returns the thread th is blocked on, or nil.
func (th *Thread) Callee() *Thread {
	return th.callee
}

// Root returns the root of the call chain th is in.
func (th *Thread) Root() *Thread {
	root := th
	for root.caller != nil {
		root = root.caller
	}
	return root
}

// Pooled reports whether th is kept in its caller's pool.
func (th *Thread) Pooled() bool {
	return th.pooled
}

// Stats returns a copy of the counters of th.
func (th *Thread) Stats() Stats {
	return th.stats
}

// Depth returns the number of callers above th.
func (th *Thread) Depth() int {
	n := 0
	for p := th.caller; p != nil; p = p.caller {
		n++
	}
	return n
}

func (th *Thread) String() string {
	if th == nil {
		return "<nil>"
	}
	return th.name + "#" + th.id.String()[:8]
}

// Call calls a named sub-thread from th, which must be the running thread.
// See [Scheduler.Call].
func (th *Thread) Call(name string, body Body, verbosity int) *Thread {
	s := th.sched
	if s.current != th {
		s.logf(th, TraceQuiet, slog.LevelError, "cannot call %q from a thread that is not running: %v", name, ErrNotRunning)
		return nil
	}
	return s.Call(name, body, verbosity)
}

// Stop stops th with result.
//
// If th is blocked on a callee, the deepest callee is stopped first, then
// every thread up to th, all with the same result.
// result is stored in th and in th's caller, if any.
// Stopping a finished thread does nothing.
//
// Stop may be called by th itself, by another thread, or by the code that
// drives the scheduler between passes.
func (th *Thread) Stop(result any) {
	if th == nil {
		return
	}
	s := th.sched
	if s.reentered("Stop") {
		return
	}
	s.stop(th, result)
}
