package thread

import (
	"context"
	"fmt"
	"log/slog"
)

// Trace verbosity levels.
//
// A message tagged with some level is emitted only when the effective
// verbosity of the thread it concerns is at least that level.
// Errors and warnings are tagged with TraceQuiet, so they always get through.
const (
	TraceInherit = -1 // use the caller's verbosity
	TraceQuiet   = 0  // errors and warnings only
	TraceFlow    = 1  // start, call and stop
	TraceSlice   = 2  // root switches and slices
	TraceStep    = 3  // every step
	TraceDebug   = 4
)

// A Sink receives every diagnostic a [Scheduler] produces.
//
// The time spent in a Sink is measured and excluded from all accounting.
// A Sink must not call back into the [Scheduler] that invoked it.
type Sink func(msg string, level slog.Level)

// SlogSink returns a [Sink] that forwards to logger.
// If logger is nil, [slog.Default] is used at the time of each message.
func SlogSink(logger *slog.Logger) Sink {
	return func(msg string, level slog.Level) {
		l := logger
		if l == nil {
			l = slog.Default()
		}
		l.Log(context.Background(), level, msg)
	}
}

type entry struct {
	msg   string
	level slog.Level
}

// Verbosity returns the effective trace verbosity of th: its own, if set,
// or else that of the nearest caller which has one.
func (th *Thread) Verbosity() int {
	for p := th; p != nil; p = p.caller {
		if p.verbosity >= 0 {
			return p.verbosity
		}
	}
	return th.sched.verbosity
}

// SetVerbosity sets the trace verbosity of th.
// [TraceInherit] makes th follow its caller again.
func (th *Thread) SetVerbosity(v int) {
	if v < TraceInherit {
		v = TraceInherit
	}
	th.verbosity = v
}

func (s *Scheduler) tracing(th *Thread, v int) bool {
	if th == nil {
		return s.verbosity >= v
	}
	return th.Verbosity() >= v
}

// logf formats a message about th and emits it if th's verbosity reaches v.
func (s *Scheduler) logf(th *Thread, v int, level slog.Level, format string, args ...any) {
	if !s.tracing(th, v) {
		return
	}
	msg := fmt.Sprintf(format, args...)
	if th != nil {
		msg = th.String() + ": " + msg
	}
	s.emit(msg, level)
}

func (s *Scheduler) emit(msg string, level slog.Level) {
	if s.inSink {
		s.deferred = append(s.deferred, entry{msg, level})
		return
	}
	s.inSink = true
	s.clock.exclude(func() {
		defer func() { s.inSink = false }()
		s.deliver(entry{msg, level})
		for len(s.deferred) != 0 {
			e := s.deferred[0]
			s.deferred[0] = entry{}
			s.deferred = s.deferred[1:]
			s.deliver(e)
		}
		s.deferred = nil
	})
}

func (s *Scheduler) deliver(e entry) {
	if perr := try(func() { s.sink(e.msg, e.level) }); perr != nil {
		slog.Error("thread: log sink panicked", "panic", perr.Value, "msg", e.msg)
	}
}

// reentered reports, and logs, whether op is being called from inside the
// log sink.
func (s *Scheduler) reentered(op string) bool {
	if !s.inSink {
		return false
	}
	s.emit(fmt.Sprintf("%s called from the log sink: %v", op, ErrReentrant), slog.LevelError)
	return true
}
