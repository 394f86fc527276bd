package thread

import (
	"fmt"
	"log/slog"
	"time"
)

// A Scheduler drives threads forward, one step at a time, on a single
// goroutine.
//
// Threads are kept in a ready list in execution order.
// [Scheduler.UpdateAll] makes one pass over the ready list, stepping the
// thread at its front until that thread cedes, blocks on a callee, finishes,
// or uses up its slice, and then moving on, until the quota for the pass is
// used up or every root has had its turn.
//
// Time is accounted per root: a root and every thread it (indirectly) calls
// share one slice.
// A thread that never yields cannot be preempted; it is only reported.
//
// The zero value for Scheduler is ready to use; it logs to [slog.Default]
// and measures time with [MonotonicClock].
// A Scheduler is not safe for concurrent use.
// Start, Call, Stop and UpdateAll must all be called from one goroutine.
type Scheduler struct {
	ready     list
	roots     list
	current   *Thread
	root      *Thread
	stepping  *Thread
	running   bool
	inSink    bool
	inited    bool
	deferred  []entry
	sink      Sink
	clock     clock
	verbosity int
	mark      time.Duration
	pass      uint64
	frame     FrameStats
}

// ExitReason tells why a pass of [Scheduler.UpdateAll] ended.
type ExitReason uint8

const (
	ExitNone   ExitReason = iota // no pass has run
	ExitIdle                     // the ready list ran empty
	ExitLooped                   // every ready root had its turn
	ExitAlone                    // the only ready thread ceded
	ExitBudget                   // the quota was used up
)

func (r ExitReason) String() string {
	switch r {
	case ExitIdle:
		return "idle"
	case ExitLooped:
		return "looped"
	case ExitAlone:
		return "alone"
	case ExitBudget:
		return "budget"
	default:
		return "none"
	}
}

// FrameStats describes the last pass of [Scheduler.UpdateAll].
type FrameStats struct {
	Pass     uint64
	Quota    time.Duration
	Elapsed  time.Duration
	Overhead time.Duration
	Steps    int
	Roots    int // distinct roots that ran
	Slices   int // slices started
	Calls    int
	Finished int // threads that finished during the pass, however they were stopped
	Warnings int
	Exit     ExitReason
}

// New creates a [Scheduler] configured with opts.
func New(opts ...Option) *Scheduler {
	s := new(Scheduler)
	for _, opt := range opts {
		opt(s)
	}
	s.init()
	return s
}

func (s *Scheduler) init() {
	if s.inited {
		return
	}
	s.inited = true
	s.roots.kind = rootList
	if s.sink == nil {
		s.sink = SlogSink(nil)
	}
	if s.clock.src == nil {
		s.clock.src = MonotonicClock()
	}
}

// Current returns the running thread, or nil outside of a step.
func (s *Scheduler) Current() *Thread {
	return s.current
}

// Len returns the number of threads in the ready list.
func (s *Scheduler) Len() int {
	return s.ready.Len()
}

// Start creates a root thread named name to run body, and adds it to the
// back of the ready list.
//
// Start is meant to be called between passes. Calling it from a running
// thread is reported, since [Scheduler.Call] is likely what was meant, but
// the new root is still started, at the front of the ready list.
//
// If body is nil, no thread is created and Start returns nil.
func (s *Scheduler) Start(name string, body Body, verbosity int) *Thread {
	s.init()
	if s.reentered("Start") {
		return nil
	}
	if isNilBody(body) {
		if verbosity >= TraceDebug {
			s.emit(fmt.Sprintf("start %q: no body, nothing to run", name), slog.LevelDebug)
		}
		return nil
	}
	co := s.newCoroutine(nil, name, body)
	if co == nil {
		return nil
	}
	th := s.newThread(name)
	th.co = co
	th.SetVerbosity(verbosity)
	th.newSlice = true
	th.stats.Calls++
	s.roots.PushBack(th)
	if cur := s.current; cur != nil {
		s.logf(cur, TraceQuiet, slog.LevelWarn, "started root %v from a running thread; did you mean Call?", th)
		s.ready.PushFront(th)
	} else {
		s.ready.PushBack(th)
	}
	s.logf(th, TraceFlow, slog.LevelInfo, "started")
	return th
}

// Call calls a sub-thread named name from the running thread, and returns
// it.
//
// The running thread must then yield the returned thread (or return
// [Await] of it) to block on it; it is resumed as soon as the callee stops,
// with the callee's result in its result slot.
//
// The callee comes from the caller's pool when the caller has called name
// before, and always runs a fresh coroutine created from body.
// It is put at the front of the ready list, ahead of everything else.
//
// Call returns nil, and reports the misuse, when no thread is running or
// the running thread already has a pending callee.
func (s *Scheduler) Call(name string, body Body, verbosity int) *Thread {
	s.init()
	if s.reentered("Call") {
		return nil
	}
	caller := s.current
	if caller == nil {
		s.emit(fmt.Sprintf("cannot call %q: %v", name, ErrNotRunning), slog.LevelError)
		return nil
	}
	if caller.callee != nil {
		s.logf(caller, TraceQuiet, slog.LevelError, "cannot call %q while waiting on %v: %v", name, caller.callee, ErrCallPending)
		return nil
	}
	if isNilBody(body) {
		s.logf(caller, TraceQuiet, slog.LevelError, "cannot call %q: no body", name)
		return nil
	}
	co := s.newCoroutine(caller, name, body)
	if co == nil {
		return nil
	}
	th := s.pooledThread(caller, name)
	if old := th.co; old != nil {
		th.co = nil
		s.ready.Remove(th)
		s.closeCoroutine(th, old)
	}
	th.co = co
	th.caller = caller
	th.callee = nil
	th.result = nil
	th.err = nil
	th.SetVerbosity(verbosity)
	th.stats.Calls++
	caller.callee = th
	caller.result = nil
	s.frame.Calls++
	s.ready.PushFront(th)
	s.logf(th, TraceFlow, slog.LevelInfo, "called by %v", caller)
	return th
}

// Return stops the running thread with result.
// See [Thread.Stop].
func (s *Scheduler) Return(result any) {
	s.init()
	if s.reentered("Return") {
		return
	}
	th := s.current
	if th == nil {
		s.emit(fmt.Sprintf("cannot return: %v", ErrNotRunning), slog.LevelError)
		return
	}
	s.stop(th, result)
}

func (s *Scheduler) newCoroutine(owner *Thread, name string, body Body) Coroutine {
	var co Coroutine
	if perr := try(func() { co = body.NewCoroutine() }); perr != nil {
		s.logf(owner, TraceQuiet, slog.LevelError, "creating %q panicked: %v", name, perr.Value)
		return nil
	}
	if co == nil {
		s.logf(owner, TraceQuiet, slog.LevelError, "creating %q returned no coroutine", name)
	}
	return co
}

func (s *Scheduler) closeCoroutine(th *Thread, co Coroutine) {
	if perr := try(co.Close); perr != nil {
		if th.err == nil {
			th.err = perr
			th.stats.Failures++
		}
		s.logf(th, TraceQuiet, slog.LevelError, "panicked while closing: %v", perr.Value)
	}
}

func (s *Scheduler) stop(th *Thread, result any) {
	if th.co == nil {
		s.logf(th, TraceDebug, slog.LevelDebug, "stop: %v", ErrFinished)
		return
	}
	s.finish(th, result)
	// The running thread is handed back by UpdateAll once its step returns.
	if caller := th.caller; caller != nil && caller.callee == th && th != s.current {
		s.handBack(th)
	}
}

// finish stops th and, before it, every callee below th.
func (s *Scheduler) finish(th *Thread, result any) {
	if callee := th.callee; callee != nil {
		th.callee = nil
		if callee.co != nil {
			s.finish(callee, result)
		}
	}
	s.ready.Remove(th)
	if s.running {
		s.frame.Finished++
	}
	th.result = result
	caller := th.caller
	if caller != nil {
		caller.result = result
	}
	co := th.co
	th.co = nil
	if th == s.stepping {
		th.closing = co
	} else {
		s.closeCoroutine(th, co)
	}
	if caller != nil {
		s.release(caller, th)
	} else {
		s.roots.Remove(th)
	}
	s.logf(th, TraceFlow, slog.LevelInfo, "stopped with %v", result)
}

func (s *Scheduler) handBack(th *Thread) {
	caller := th.caller
	caller.callee = nil
	s.ready.PushFront(caller)
	s.logf(caller, TraceStep, slog.LevelDebug, "resumed by %v", th)
}

// UpdateAll makes one pass over the ready list, and reports whether there is
// still work left.
//
// The pass ends when the time spent in it reaches quota, when the ready list
// runs empty, or when it comes back to a root that already had its turn.
// The step in flight when quota runs out is always allowed to finish, so
// a pass can overrun quota by up to one step.
//
// UpdateAll on an empty ready list returns false and changes nothing.
//
// Panics in thread bodies never escape UpdateAll. The one exception is
// [runtime.Goexit] called from a body: it cannot be recovered, so UpdateAll
// panics instead of letting the driving goroutine die silently.
func (s *Scheduler) UpdateAll(quota time.Duration) bool {
	s.init()
	if s.reentered("UpdateAll") {
		return s.ready.Len() != 0
	}
	if s.running {
		s.logf(s.current, TraceQuiet, slog.LevelError, "UpdateAll called from a running thread: %v", ErrReentrant)
		return s.ready.Len() != 0
	}
	if s.ready.Len() == 0 {
		return false
	}
	quota = max(quota, 0)

	s.running = true
	s.pass++
	start := s.clock.now()
	s.mark = start
	s.frame = FrameStats{Pass: s.pass, Quota: quota}
	s.root = nil
	s.activate(s.ready.Front())

	for {
		th := s.current
		s.flushOverhead(th)
		st := s.step(th)
		now := s.clock.now()
		elapsed := now - s.mark
		s.mark = now
		s.account(th, elapsed)
		if elapsed > quota {
			s.starving(th, elapsed, quota)
		}

		next, exit := s.pick(th, st, quota)
		if exit == ExitNone && s.clock.now()-start >= quota {
			exit = ExitBudget
		}
		if exit != ExitNone {
			s.frame.Exit = exit
			break
		}
		s.activate(next)
	}

	s.flushOverhead(s.current)
	s.frame.Elapsed = s.clock.now() - start
	s.current = nil
	s.root = nil
	s.running = false
	s.logf(nil, TraceSlice, slog.LevelDebug, "pass %d: %s", s.frame.Pass, s.frame.summary())
	return s.ready.Len() != 0
}

// activate makes th the running thread, starting a new slice for its root
// if the root changed and asked for one.
func (s *Scheduler) activate(th *Thread) {
	s.current = th
	root := th.Root()
	if root == s.root {
		return
	}
	s.root = root
	if root.visited != s.pass {
		root.visited = s.pass
		s.frame.Roots++
	}
	if root.newSlice {
		root.newSlice = false
		root.sliceTicks = 0
		root.stats.Slices++
		s.frame.Slices++
	}
	s.logf(th, TraceSlice, slog.LevelDebug, "switched to root %v (slice %d, %v used)", root, root.stats.Slices, root.sliceTicks)
}

// step resumes th once and classifies what it did.
func (s *Scheduler) step(th *Thread) Step {
	th.stats.Steps++
	s.frame.Steps++
	co := th.co
	if co == nil {
		s.logf(th, TraceQuiet, slog.LevelWarn, "stepped after it finished: %v", ErrFinished)
		return Step{kind: stepDone}
	}

	var st Step
	s.stepping = th
	perr := try(func() { st = co.Resume(th) })
	s.stepping = nil
	if c := th.closing; c != nil {
		th.closing = nil
		s.closeCoroutine(th, c)
	}

	if perr != nil {
		if th.err == nil {
			th.stats.Failures++
		}
		th.err = perr
		s.logf(th, TraceQuiet, slog.LevelError, "panicked: %v", perr.Value)
		if th.co != nil {
			s.finish(th, nil)
		}
		return Step{kind: stepDone}
	}
	if th.co == nil {
		return Step{kind: stepDone}
	}

	s.logf(th, TraceStep, slog.LevelDebug, "step %d: %v", th.stats.Steps, st)
	switch st.kind {
	case stepDone:
		s.finish(th, st.value)
	case stepAwait:
		th.stats.Yields++
		switch callee := st.callee; {
		case callee == nil:
			s.logf(th, TraceQuiet, slog.LevelError, "awaited nothing: %v", ErrBadYield)
			st = Cede()
		case callee == th.callee:
		case callee.caller == th && callee.co == nil:
			st = Continue() // The callee is done already.
		default:
			s.logf(th, TraceQuiet, slog.LevelError, "awaited %v, which it did not call: %v", callee, ErrBadYield)
			st = Cede()
		}
	case stepCede:
		th.stats.Yields++
	case stepInvalid:
		th.stats.Yields++
		s.logf(th, TraceQuiet, slog.LevelError, "yielded %T(%v): %v", st.value, st.value, ErrBadYield)
		st = Cede()
	}
	return st
}

// account charges elapsed to th, to the total of th and every caller above
// it, and to the slice of their root.
func (s *Scheduler) account(th *Thread, elapsed time.Duration) {
	th.stats.Self += elapsed
	root := th
	for p := th; p != nil; p = p.caller {
		p.stats.Total += elapsed
		root = p
	}
	root.sliceTicks += elapsed
}

// flushOverhead charges the time since the last checkpoint to the chain of
// th as overhead.
func (s *Scheduler) flushOverhead(th *Thread) {
	now := s.clock.now()
	d := now - s.mark
	s.mark = now
	if d <= 0 {
		return
	}
	s.frame.Overhead += d
	for p := th; p != nil; p = p.caller {
		p.stats.Overhead += d
	}
}

// starving reports th for holding on to the scheduler for longer than
// quota, on the 1st, 2nd, 4th, 8th, ... occurrence.
func (s *Scheduler) starving(th *Thread, elapsed, quota time.Duration) {
	th.stats.Warnings++
	n := th.stats.Warnings
	if n&(n-1) != 0 {
		return
	}
	s.frame.Warnings++
	s.logf(th, TraceQuiet, slog.LevelWarn, "step took %v, over the quota of %v (%d times)", elapsed, quota, n)
}

// pick decides which thread runs next after th made step st.
func (s *Scheduler) pick(th *Thread, st Step, quota time.Duration) (*Thread, ExitReason) {
	switch {
	case th.co == nil:
		if caller := th.caller; caller != nil {
			if caller.callee == th {
				s.handBack(th)
			}
			if head := s.ready.Front(); head != nil && head.Root() == s.root {
				return head, ExitNone
			}
		}
		return s.nextRoot()
	case th.callee != nil:
		s.ready.Remove(th)
		return th.callee, ExitNone
	case st.kind == stepCede || s.root.sliceTicks > quota:
		s.root.newSlice = true
		s.ready.PushBack(th)
		if s.ready.Len() == 1 {
			return nil, ExitAlone
		}
		return s.nextRoot()
	default:
		return th, ExitNone
	}
}

// nextRoot returns the front of the ready list, unless its root already had
// its turn in this pass.
func (s *Scheduler) nextRoot() (*Thread, ExitReason) {
	head := s.ready.Front()
	switch {
	case head == nil:
		return nil, ExitIdle
	case head.Root().visited == s.pass:
		return nil, ExitLooped
	}
	return head, ExitNone
}
