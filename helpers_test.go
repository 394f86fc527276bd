package thread_test

import (
	"log/slog"
	"strings"
	"time"

	"github.com/b97tsk/thread"
)

type record struct {
	Msg   string
	Level slog.Level
}

// capture is a Sink that keeps every message it receives.
type capture struct {
	records []record
}

func (c *capture) sink(msg string, level slog.Level) {
	c.records = append(c.records, record{msg, level})
}

func (c *capture) count(level slog.Level) int {
	n := 0
	for _, r := range c.records {
		if r.Level == level {
			n++
		}
	}
	return n
}

func (c *capture) matching(substr string) []record {
	var out []record
	for _, r := range c.records {
		if strings.Contains(r.Msg, substr) {
			out = append(out, r)
		}
	}
	return out
}

// newTest returns a scheduler on a manual clock that logs into a capture.
func newTest(opts ...thread.Option) (*thread.Scheduler, *thread.ManualClock, *capture) {
	clk := new(thread.ManualClock)
	c := new(capture)
	opts = append([]thread.Option{thread.WithClock(clk), thread.WithSink(c.sink)}, opts...)
	return thread.New(opts...), clk, c
}

// drain runs s until it is idle and returns the number of passes it took.
// It gives up after limit passes.
func drain(s *thread.Scheduler, quota time.Duration, limit int) int {
	for n := 1; n <= limit; n++ {
		if !s.UpdateAll(quota) {
			return n
		}
	}
	return limit
}

// ceding returns a body that yields Pass n times and then returns result.
func ceding(n int, result any) thread.Func {
	return func(th *thread.Thread, yield func(any) bool) any {
		for range n {
			if !yield(thread.Pass) {
				return nil
			}
		}
		return result
	}
}

// forever returns a body that yields v until it is stopped.
func forever(v any) thread.Func {
	return func(th *thread.Thread, yield func(any) bool) any {
		for yield(v) {
		}
		return nil
	}
}

// working returns a body that advances clk by d on every step, yielding v
// in between, n times.
func working(clk *thread.ManualClock, d time.Duration, n int, v any) thread.Func {
	return func(th *thread.Thread, yield func(any) bool) any {
		for range n {
			clk.Advance(d)
			if !yield(v) {
				return nil
			}
		}
		return nil
	}
}
