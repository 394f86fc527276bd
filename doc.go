// Package thread is a cooperative, single-threaded scheduler for long-running,
// multi-step logic, such as AI decision sequences or scripted behaviors that
// span many simulation ticks.
//
// Rather than one goroutine per behavior, every behavior is a [Thread]: a
// resumable computation that runs a little, yields, and later resumes when
// the [Scheduler] gets back to it.
// Nothing is ever preempted. Exactly one thread runs at any instant, and the
// order threads run in is fully determined by what they yield.
//
// # Driving a Scheduler
//
// A simulation loop calls [Scheduler.UpdateAll] once per tick with a quota,
// the wall-clock budget for that tick.
// UpdateAll steps threads until the quota is used up, or every root has had
// its turn, and reports whether there is work left.
//
//	var s thread.Scheduler
//
//	s.Start("patrol", patrol, thread.TraceQuiet)
//
//	for s.UpdateAll(2 * time.Millisecond) {
//	    renderFrame()
//	}
//
// # Writing Threads
//
// A thread runs a [Body]. The simplest Body is a [Func], a generator that
// yields one of three things:
//   - nil, to keep running in the same slice;
//   - [Pass], to give up the rest of its slice and go to the back of the
//     ready list;
//   - a *Thread returned by [Thread.Call], to block until that thread stops.
//
// The value a Func returns is its result.
//
//	patrol := thread.Func(func(th *thread.Thread, yield func(any) bool) any {
//	    for range 3 {
//	        walk()
//	        if !yield(thread.Pass) {
//	            return nil
//	        }
//	    }
//	    scan := th.Call("scan", scanArea, thread.TraceInherit)
//	    if !yield(scan) {
//	        return nil
//	    }
//	    return th.Result() // What scan returned.
//	})
//
// A Body can also be a [Factory] of [Coroutine]s, for example a [StepFunc]
// state machine, when a generator is not wanted.
//
// # Calls
//
// A call behaves like a synchronous function call, even though unrelated
// roots may run in between: the callee runs right away, ahead of everything
// else, and as soon as it stops its caller resumes with the callee's result.
//
// A caller keeps the threads it calls in a pool, by name.
// Calling the same name again reuses the pooled thread, with a fresh
// coroutine, instead of allocating a new one.
//
// # Time
//
// A root and every thread below it share one time slice.
// A chain runs until it yields [Pass] or its slice exceeds the quota, then it
// goes to the back of the ready list.
// The time of every step is charged to the thread that ran it (self time) and
// to every thread up its call chain (total time).
// Time spent in the scheduler itself is charged separately as overhead, and
// time spent in the log [Sink] is charged to no one.
//
// A thread that never yields cannot be stopped by the scheduler; it is
// reported with a starvation warning instead.
//
// # Errors
//
// Misuse, such as calling [Scheduler.Call] outside of a running thread, is
// reported through the [Sink] and otherwise ignored.
// A thread whose body panics is stopped with a nil result; the panic is
// reported and kept as a [*PanicError] (see [Thread.Err]).
// Nothing ever panics out of [Scheduler.UpdateAll].
package thread
