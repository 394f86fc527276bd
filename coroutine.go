package thread

import "iter"

type stepKind uint8

const (
	_ stepKind = iota
	stepContinue
	stepCede
	stepAwait
	stepDone
	stepInvalid
)

// A Step is what a [Coroutine] reports back to a [Scheduler] each time it is
// resumed.
//
// A Step can be created by calling one of the following functions:
//   - [Continue]: keep running in the same slice;
//   - [Cede]: give up the rest of the slice, like yielding [Pass];
//   - [Await]: block on a thread obtained from [Scheduler.Call];
//   - [Done]: finish with a result.
type Step struct {
	kind   stepKind
	callee *Thread
	value  any
}

// Continue returns a [Step] that keeps the running thread in the same slice.
func Continue() Step { return Step{kind: stepContinue} }

// Cede returns a [Step] that moves the running thread to the back of the
// ready list for its next slice.
func Cede() Step { return Step{kind: stepCede} }

// Await returns a [Step] that blocks the running thread on callee until
// callee stops.
// callee must be the thread returned by the last [Scheduler.Call] made from
// the running thread.
func Await(callee *Thread) Step { return Step{kind: stepAwait, callee: callee} }

// Done returns a [Step] that finishes the running thread with result.
func Done(result any) Step { return Step{kind: stepDone, value: result} }

func (st Step) String() string {
	switch st.kind {
	case stepContinue:
		return "continue"
	case stepCede:
		return "cede"
	case stepAwait:
		return "await"
	case stepDone:
		return "done"
	default:
		return "invalid"
	}
}

type pass struct{}

// Pass is the value a [Func] yields to give up the rest of its slice.
//
// Yielding nil keeps running in the same slice, and yielding a *Thread
// returned by [Thread.Call] blocks until that thread stops.
// Anything else is reported as an error and treated like Pass.
var Pass any = pass{}

func stepOf(v any) Step {
	switch v := v.(type) {
	case nil:
		return Continue()
	case pass:
		return Cede()
	case *Thread:
		if v == nil {
			return Step{kind: stepInvalid, value: v}
		}
		return Await(v)
	case Step:
		if v.kind == 0 {
			return Step{kind: stepInvalid, value: v}
		}
		return v
	default:
		return Step{kind: stepInvalid, value: v}
	}
}

// A Coroutine is a resumable computation driven by a [Scheduler].
//
// Resume runs the computation up to its next suspension point and reports
// what to do next. Close abandons the computation; it is called at most once,
// never while Resume is running.
type Coroutine interface {
	Resume(th *Thread) Step
	Close()
}

// A Body creates the [Coroutine] a thread runs.
// NewCoroutine is called once per [Scheduler.Start] or [Scheduler.Call], so
// that a pooled thread never resumes stale state.
type Body interface {
	NewCoroutine() Coroutine
}

// Func is a [Body] written as a generator.
//
// The function yields values (see [Pass]) and its return value becomes the
// thread's result. When yield returns false, the thread has been stopped and
// the function should return as soon as possible.
//
//	thread.Func(func(th *thread.Thread, yield func(any) bool) any {
//	    scan := th.Call("scan", scanBody, thread.TraceInherit)
//	    if !yield(scan) {
//	        return nil
//	    }
//	    return th.Result()
//	})
type Func func(th *Thread, yield func(any) bool) any

// NewCoroutine implements the [Body] interface.
func (f Func) NewCoroutine() Coroutine {
	return &seqCoroutine{f: f}
}

type seqCoroutine struct {
	f      Func
	next   func() (any, bool)
	stop   func()
	result any
}

func (c *seqCoroutine) Resume(th *Thread) Step {
	if c.next == nil {
		f := c.f
		c.next, c.stop = iter.Pull(func(yield func(any) bool) {
			c.result = f(th, yield)
		})
	}
	v, ok := c.next()
	if !ok {
		return Done(c.result)
	}
	return stepOf(v)
}

func (c *seqCoroutine) Close() {
	if c.stop != nil {
		c.stop()
	}
}

// StepFunc is a [Coroutine] written as an explicit state machine.
// Each call advances it by one step.
type StepFunc func(th *Thread) Step

// Resume implements the [Coroutine] interface.
func (f StepFunc) Resume(th *Thread) Step { return f(th) }

// Close implements the [Coroutine] interface.
func (f StepFunc) Close() {}

// Factory is a [Body] that returns a fresh [Coroutine] on every call.
//
//	thread.Factory(func() thread.Coroutine {
//	    n := 0
//	    return thread.StepFunc(func(th *thread.Thread) thread.Step {
//	        if n++; n < 3 {
//	            return thread.Cede()
//	        }
//	        return thread.Done(n)
//	    })
//	})
type Factory func() Coroutine

// NewCoroutine implements the [Body] interface.
func (f Factory) NewCoroutine() Coroutine { return f() }

func isNilBody(b Body) bool {
	switch b := b.(type) {
	case nil:
		return true
	case Func:
		return b == nil
	case Factory:
		return b == nil
	}
	return false
}
