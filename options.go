package thread

import "log/slog"

// An Option configures a [Scheduler] created by [New].
type Option func(*Scheduler)

// WithSink makes the scheduler send its diagnostics to sink.
func WithSink(sink Sink) Option {
	return func(s *Scheduler) {
		s.sink = sink
	}
}

// WithLogger makes the scheduler send its diagnostics to logger.
// It is a shorthand for WithSink(SlogSink(logger)).
func WithLogger(logger *slog.Logger) Option {
	return WithSink(SlogSink(logger))
}

// WithClock makes the scheduler measure time with c instead of
// [MonotonicClock].
func WithClock(c Clock) Option {
	return func(s *Scheduler) {
		s.clock.src = c
	}
}

// WithVerbosity sets the verbosity of threads that neither set one nor have
// a caller that does. The default is [TraceQuiet].
func WithVerbosity(v int) Option {
	return func(s *Scheduler) {
		if v < TraceQuiet {
			v = TraceQuiet
		}
		s.verbosity = v
	}
}
