package thread

import (
	"errors"
	"fmt"
	"runtime/debug"
)

var (
	// ErrNotRunning is reported when an operation that needs a running thread
	// is used outside of one.
	ErrNotRunning = errors.New("thread: no thread is running")

	// ErrReentrant is reported when the scheduler is entered again from
	// a place that must not do so, e.g. from inside its log sink.
	ErrReentrant = errors.New("thread: scheduler reentered")

	// ErrBadYield is reported when a thread yields something the scheduler
	// does not understand.
	ErrBadYield = errors.New("thread: unrecognized yield value")

	// ErrFinished is reported when a finished thread is used as if it were
	// still running.
	ErrFinished = errors.New("thread: thread has finished")

	// ErrCallPending is reported when a thread calls another thread while
	// a previous call has not been awaited.
	ErrCallPending = errors.New("thread: call already pending")
)

// PanicError is the error recorded for a thread whose body panicked.
// See [Thread.Err].
type PanicError struct {
	Value any
	Stack []byte
}

func (p *PanicError) Error() string {
	return fmt.Sprintf("thread: panic: %v", p.Value)
}

// ErrorWithStack returns the panic value followed by the stack trace captured
// when the panic was recovered.
func (p *PanicError) ErrorWithStack() string {
	return fmt.Sprintf("%v\n\n%s", p.Value, p.Stack)
}

// Unwrap returns the panic value if it is an error.
func (p *PanicError) Unwrap() error {
	err, _ := p.Value.(error)
	return err
}

// try calls f and returns the recovered panic, if any.
func try(f func()) (perr *PanicError) {
	ok := false
	defer func() {
		if !ok {
			v := recover()
			if v == nil {
				panic("thread: runtime.Goexit is not supported in a thread body")
			}
			perr = &PanicError{Value: v, Stack: debug.Stack()}
		}
	}()
	f()
	ok = true
	return nil
}
