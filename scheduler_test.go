package thread_test

import (
	"errors"
	"log/slog"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/b97tsk/thread"
)

func TestUpdateAll(t *testing.T) {
	t.Run("Empty", func(t *testing.T) {
		s, _, c := newTest()

		for range 3 {
			assert.False(t, s.UpdateAll(time.Millisecond))
		}
		assert.Equal(t, thread.FrameStats{}, s.FrameStats())
		assert.Zero(t, s.Len())
		assert.Empty(t, c.records)
	})
	t.Run("ZeroValue", func(t *testing.T) {
		var s thread.Scheduler

		assert.False(t, s.UpdateAll(time.Millisecond))

		th := s.Start("a", ceding(1, "ok"), thread.TraceQuiet)
		require.NotNil(t, th)

		for s.UpdateAll(time.Hour) {
		}

		assert.Equal(t, "ok", th.Result())
	})
	t.Run("OneStepPerPass", func(t *testing.T) {
		s, _, c := newTest()

		a := s.Start("A", thread.Func(func(th *thread.Thread, yield func(any) bool) any {
			for range 2 {
				if !yield(nil) {
					return nil
				}
			}
			return 7
		}), thread.TraceQuiet)

		assert.True(t, s.UpdateAll(0))
		assert.True(t, s.UpdateAll(0))
		assert.Nil(t, a.Result())
		assert.False(t, s.UpdateAll(0))

		assert.Equal(t, 7, a.Result())
		assert.True(t, a.Finished())
		assert.Zero(t, s.Len())
		assert.Equal(t, 3, a.Stats().Steps)
		assert.Empty(t, c.records)

		frame := s.FrameStats()
		assert.Equal(t, thread.ExitIdle, frame.Exit)
		assert.Equal(t, 1, frame.Finished)

		assert.False(t, s.UpdateAll(0))
		assert.Equal(t, frame, s.FrameStats(), "an empty pass changed the frame stats")
	})
	t.Run("CallReturn", func(t *testing.T) {
		s, _, _ := newTest()

		var events []string

		c := thread.Func(func(th *thread.Thread, yield func(any) bool) any {
			for i := range 2 {
				events = append(events, "C "+string(rune('0'+i)))
				if !yield(thread.Pass) {
					return nil
				}
			}
			events = append(events, "C end")
			return "c"
		})

		var callee *thread.Thread

		a := s.Start("A", thread.Func(func(th *thread.Thread, yield func(any) bool) any {
			events = append(events, "A start")
			callee = th.Call("C", c, thread.TraceInherit)
			if !yield(callee) {
				return nil
			}
			events = append(events, "A got "+th.Result().(string))
			return nil
		}), thread.TraceQuiet)

		s.Start("B", thread.Func(func(th *thread.Thread, yield func(any) bool) any {
			for i := range 3 {
				events = append(events, "B "+string(rune('0'+i)))
				if !yield(thread.Pass) {
					return nil
				}
			}
			return nil
		}), thread.TraceQuiet)

		assert.Equal(t, 4, drain(s, time.Millisecond, 10))
		assert.Equal(t, []string{
			"A start",
			"C 0",
			"B 0",
			"C 1",
			"B 1",
			"C end",
			"A got c",
			"B 2",
		}, events)

		require.NotNil(t, callee)
		assert.Same(t, a, callee.Caller())
		assert.Same(t, a, callee.Root())
		assert.True(t, callee.Pooled())
		assert.Same(t, callee, a.PooledThread("C"))
		assert.Equal(t, 3, a.Stats().Slices)
		assert.Zero(t, callee.Stats().Slices)
	})
	t.Run("Fairness", func(t *testing.T) {
		s, _, _ := newTest()

		var roots []*thread.Thread
		for _, name := range []string{"a", "b", "c"} {
			roots = append(roots, s.Start(name, forever(thread.Pass), thread.TraceQuiet))
		}

		for range 10 {
			require.True(t, s.UpdateAll(time.Millisecond))
			frame := s.FrameStats()
			assert.Equal(t, thread.ExitLooped, frame.Exit)
			assert.Equal(t, 3, frame.Roots)
			assert.Equal(t, 3, frame.Slices)
		}

		for _, th := range roots {
			assert.Equal(t, 10, th.Stats().Steps, th.Name())
			assert.Equal(t, 10, th.Stats().Slices, th.Name())
		}
	})
	t.Run("Budget", func(t *testing.T) {
		s, clk, _ := newTest()

		s.Start("busy", working(clk, time.Millisecond, 100, nil), thread.TraceQuiet)
		s.Start("idle", forever(thread.Pass), thread.TraceQuiet)

		require.True(t, s.UpdateAll(3*time.Millisecond))

		frame := s.FrameStats()
		assert.Equal(t, thread.ExitBudget, frame.Exit)
		assert.Equal(t, 3, frame.Steps)
		assert.Equal(t, 3*time.Millisecond, frame.Elapsed)
		assert.Equal(t, 1, frame.Roots, "idle ran although the quota was used up")
	})
	t.Run("SliceExhausted", func(t *testing.T) {
		s, clk, _ := newTest()

		busy := s.Start("busy", working(clk, time.Millisecond, 100, nil), thread.TraceQuiet)
		idle := s.Start("idle", forever(thread.Pass), thread.TraceQuiet)

		// busy uses up the first pass and keeps its slice going into the
		// next one, where the slice is over the smaller quota after a single
		// step; busy goes to the back and idle gets its turn.
		require.True(t, s.UpdateAll(10*time.Millisecond))
		assert.Zero(t, idle.Stats().Steps)

		require.True(t, s.UpdateAll(1500*time.Microsecond))
		assert.Equal(t, thread.ExitLooped, s.FrameStats().Exit)
		assert.Equal(t, 1, idle.Stats().Steps)
		assert.Equal(t, 11, busy.Stats().Steps)
		assert.Equal(t, 1, busy.Stats().Slices)

		require.True(t, s.UpdateAll(10*time.Millisecond))
		assert.Equal(t, 2, busy.Stats().Slices)
	})
	t.Run("Starvation", func(t *testing.T) {
		s, clk, c := newTest()

		hog := s.Start("hog", working(clk, 5*time.Millisecond, 5, nil), thread.TraceQuiet)

		assert.Equal(t, 6, drain(s, time.Millisecond, 10))
		assert.Equal(t, 5, hog.Stats().Warnings)
		assert.Len(t, c.matching("over the quota"), 3, "warnings are not rate-limited")

		for _, r := range c.matching("over the quota") {
			assert.Equal(t, slog.LevelWarn, r.Level)
		}
	})
	t.Run("Panic", func(t *testing.T) {
		s, _, c := newTest()

		bad := s.Start("bad", thread.Func(func(th *thread.Thread, yield func(any) bool) any {
			yield(thread.Pass)
			panic("boom")
		}), thread.TraceQuiet)

		good := s.Start("good", ceding(3, "ok"), thread.TraceQuiet)

		drain(s, time.Millisecond, 10)

		assert.Equal(t, 1, c.count(slog.LevelError), c.records)
		assert.True(t, bad.Finished())
		assert.Nil(t, bad.Result())

		var perr *thread.PanicError
		require.ErrorAs(t, bad.Err(), &perr)
		assert.Equal(t, "boom", perr.Value)
		assert.NotEmpty(t, perr.Stack)

		assert.Equal(t, "ok", good.Result())
		assert.NoError(t, good.Err())
		assert.Zero(t, s.Len())
	})
	t.Run("PanicInCallee", func(t *testing.T) {
		s, _, c := newTest()

		errBoom := errors.New("boom")

		var sub *thread.Thread

		a := s.Start("A", thread.Func(func(th *thread.Thread, yield func(any) bool) any {
			sub = th.Call("sub", thread.Func(func(th *thread.Thread, yield func(any) bool) any {
				panic(errBoom)
			}), thread.TraceInherit)
			if !yield(sub) {
				return nil
			}
			return th.Result() == nil
		}), thread.TraceQuiet)

		drain(s, time.Millisecond, 10)

		assert.Equal(t, 1, c.count(slog.LevelError))
		assert.ErrorIs(t, sub.Err(), errBoom)
		assert.Equal(t, true, a.Result(), "the caller did not resume with a nil result")
		assert.NoError(t, a.Err())
	})
	t.Run("BadYield", func(t *testing.T) {
		s, _, c := newTest()

		th := s.Start("A", thread.Func(func(th *thread.Thread, yield func(any) bool) any {
			if !yield(42) {
				return nil
			}
			return "ok"
		}), thread.TraceQuiet)

		require.True(t, s.UpdateAll(time.Millisecond))
		assert.Equal(t, thread.ExitAlone, s.FrameStats().Exit)
		require.False(t, s.UpdateAll(time.Millisecond))

		assert.Equal(t, "ok", th.Result())
		assert.Len(t, c.matching(thread.ErrBadYield.Error()), 1)
		assert.Equal(t, 1, th.Stats().Yields)
	})
	t.Run("AwaitStranger", func(t *testing.T) {
		s, _, c := newTest()

		other := s.Start("other", forever(thread.Pass), thread.TraceQuiet)

		s.Start("A", thread.Func(func(th *thread.Thread, yield func(any) bool) any {
			yield(other)
			return nil
		}), thread.TraceQuiet)

		s.UpdateAll(time.Millisecond)

		assert.Len(t, c.matching("which it did not call"), 1)
	})
	t.Run("Goexit", func(t *testing.T) {
		s, _, _ := newTest()

		s.Start("quitter", thread.Factory(func() thread.Coroutine {
			return thread.StepFunc(func(*thread.Thread) thread.Step {
				runtime.Goexit()
				return thread.Done(nil)
			})
		}), thread.TraceQuiet)

		// Goexit keeps unwinding after the panic is recovered, so the
		// scheduler must be driven from a goroutine of its own.
		recovered := make(chan any, 1)
		go func() {
			defer func() { recovered <- recover() }()
			s.UpdateAll(time.Millisecond)
		}()

		assert.Equal(t, "thread: runtime.Goexit is not supported in a thread body", <-recovered)
	})
	t.Run("Reentrant", func(t *testing.T) {
		s, _, c := newTest()

		var inner bool

		s.Start("A", thread.Func(func(th *thread.Thread, yield func(any) bool) any {
			inner = th.Scheduler().UpdateAll(time.Millisecond)
			return nil
		}), thread.TraceQuiet)

		s.UpdateAll(time.Millisecond)

		assert.True(t, inner, "the nested UpdateAll lost track of the running thread")
		assert.Len(t, c.matching(thread.ErrReentrant.Error()), 1)
	})
}

func TestStart(t *testing.T) {
	t.Run("NilBody", func(t *testing.T) {
		s, _, c := newTest()

		assert.Nil(t, s.Start("a", nil, thread.TraceQuiet))
		assert.Nil(t, s.Start("b", thread.Func(nil), thread.TraceQuiet))
		assert.Empty(t, c.records)

		assert.Nil(t, s.Start("c", thread.Factory(nil), thread.TraceDebug))
		assert.Len(t, c.records, 1)
		assert.Equal(t, slog.LevelDebug, c.records[0].Level)
		assert.Zero(t, s.Len())
	})
	t.Run("Order", func(t *testing.T) {
		s, _, _ := newTest()

		a := s.Start("a", forever(thread.Pass), thread.TraceQuiet)
		b := s.Start("b", forever(thread.Pass), thread.TraceQuiet)

		assert.Equal(t, 2, s.Len())
		assert.NotEqual(t, a.ID(), b.ID())

		var got []*thread.Thread
		for th := range s.Roots() {
			got = append(got, th)
		}
		assert.Equal(t, []*thread.Thread{a, b}, got)
	})
	t.Run("FromRunningThread", func(t *testing.T) {
		s, _, c := newTest()

		var events []string

		s.Start("A", thread.Func(func(th *thread.Thread, yield func(any) bool) any {
			th.Scheduler().Start("B", thread.Func(func(th *thread.Thread, yield func(any) bool) any {
				events = append(events, "B")
				return nil
			}), thread.TraceQuiet)
			yield(thread.Pass)
			return nil
		}), thread.TraceQuiet)

		s.Start("C", thread.Func(func(th *thread.Thread, yield func(any) bool) any {
			events = append(events, "C")
			return nil
		}), thread.TraceQuiet)

		s.UpdateAll(time.Millisecond)

		assert.Equal(t, []string{"B", "C"}, events)
		require.Len(t, c.matching("did you mean Call"), 1)
		assert.Equal(t, slog.LevelWarn, c.matching("did you mean Call")[0].Level)
	})
}

func TestCall(t *testing.T) {
	t.Run("NotRunning", func(t *testing.T) {
		s, _, c := newTest()

		assert.Nil(t, s.Call("x", ceding(0, nil), thread.TraceQuiet))

		a := s.Start("A", ceding(1, nil), thread.TraceQuiet)
		assert.Nil(t, a.Call("x", ceding(0, nil), thread.TraceQuiet))

		assert.Len(t, c.matching(thread.ErrNotRunning.Error()), 2)
		assert.Equal(t, 1, s.Len())
	})
	t.Run("FailuresKept", func(t *testing.T) {
		s, _, c := newTest()

		var sub *thread.Thread
		a := s.Start("A", thread.Func(func(th *thread.Thread, yield func(any) bool) any {
			sub = th.Call("sub", thread.Func(func(*thread.Thread, func(any) bool) any {
				panic("boom")
			}), thread.TraceInherit)
			yield(sub)
			again := th.Call("sub", ceding(0, "fine"), thread.TraceInherit)
			yield(again)
			return th.Result()
		}), thread.TraceQuiet)

		drain(s, time.Millisecond, 10)

		assert.Equal(t, "fine", a.Result())
		require.NotNil(t, sub)
		assert.Same(t, sub, a.PooledThread("sub"))
		assert.NoError(t, sub.Err(), "the second call did not reset Err")
		assert.Equal(t, 1, sub.Stats().Failures)
		assert.Equal(t, 2, sub.Stats().Calls)
		assert.Equal(t, 1, c.count(slog.LevelError))
	})
	t.Run("Pending", func(t *testing.T) {
		s, _, c := newTest()

		var first, second *thread.Thread

		a := s.Start("A", thread.Func(func(th *thread.Thread, yield func(any) bool) any {
			first = th.Call("x", ceding(0, "x"), thread.TraceInherit)
			second = th.Call("y", ceding(0, "y"), thread.TraceInherit)
			if !yield(first) {
				return nil
			}
			return th.Result()
		}), thread.TraceQuiet)

		drain(s, time.Millisecond, 10)

		assert.NotNil(t, first)
		assert.Nil(t, second)
		assert.Len(t, c.matching(thread.ErrCallPending.Error()), 1)
		assert.Equal(t, "x", a.Result())
	})
	t.Run("PoolReuse", func(t *testing.T) {
		s, _, _ := newTest()

		// Each coroutine counts its own steps; a pooled thread must start
		// over from zero every time it is called.
		sub := thread.Func(func(th *thread.Thread, yield func(any) bool) any {
			n := 0
			for range 2 {
				n++
				if !yield(thread.Pass) {
					return nil
				}
			}
			return n
		})

		var callees []*thread.Thread
		var results []any

		a := s.Start("A", thread.Func(func(th *thread.Thread, yield func(any) bool) any {
			for range 3 {
				callee := th.Call("sub", sub, thread.TraceInherit)
				callees = append(callees, callee)
				if !yield(callee) {
					return nil
				}
				results = append(results, th.Result())
			}
			return nil
		}), thread.TraceQuiet)

		drain(s, time.Millisecond, 100)

		assert.Equal(t, []any{2, 2, 2}, results)
		require.Len(t, callees, 3)
		assert.Same(t, callees[0], callees[1])
		assert.Same(t, callees[0], callees[2])
		assert.Equal(t, 3, callees[0].Stats().Calls)
		assert.Equal(t, 1, a.PoolLen())
	})
	t.Run("ImmediateReturn", func(t *testing.T) {
		s, _, _ := newTest()

		a := s.Start("A", thread.Func(func(th *thread.Thread, yield func(any) bool) any {
			sum := 0
			for i := range 5 {
				sub := th.Call("sub", ceding(0, i), thread.TraceInherit)
				if !yield(sub) {
					return nil
				}
				sum += th.Result().(int)
			}
			return sum
		}), thread.TraceQuiet)

		assert.Equal(t, 1, drain(s, time.Millisecond, 10), "calls that return right away should not end the pass")
		assert.Equal(t, 10, a.Result())
	})
	t.Run("Nested", func(t *testing.T) {
		s, _, _ := newTest()

		leaf := ceding(1, "leaf")

		mid := thread.Func(func(th *thread.Thread, yield func(any) bool) any {
			if !yield(th.Call("leaf", leaf, thread.TraceInherit)) {
				return nil
			}
			return "mid+" + th.Result().(string)
		})

		a := s.Start("A", thread.Func(func(th *thread.Thread, yield func(any) bool) any {
			if !yield(th.Call("mid", mid, thread.TraceInherit)) {
				return nil
			}
			return th.Result()
		}), thread.TraceQuiet)

		drain(s, time.Millisecond, 10)

		assert.Equal(t, "mid+leaf", a.Result())
		m := a.PooledThread("mid")
		require.NotNil(t, m)
		assert.Equal(t, 1, m.Depth())
		assert.Equal(t, 2, m.PooledThread("leaf").Depth())
		assert.Same(t, a, m.PooledThread("leaf").Root())
	})
	t.Run("Accounting", func(t *testing.T) {
		s, clk, _ := newTest()

		a := s.Start("A", thread.Func(func(th *thread.Thread, yield func(any) bool) any {
			clk.Advance(time.Millisecond)
			if !yield(th.Call("sub", working(clk, 2*time.Millisecond, 3, thread.Pass), thread.TraceInherit)) {
				return nil
			}
			clk.Advance(time.Millisecond)
			return nil
		}), thread.TraceQuiet)

		drain(s, time.Second, 10)

		sub := a.PooledThread("sub")
		require.NotNil(t, sub)
		assert.Equal(t, 6*time.Millisecond, sub.Stats().Self)
		assert.Equal(t, 6*time.Millisecond, sub.Stats().Total)
		assert.Equal(t, 2*time.Millisecond, a.Stats().Self)
		assert.Equal(t, 8*time.Millisecond, a.Stats().Total)
		assert.Zero(t, a.Stats().Overhead)
	})
}

func TestStop(t *testing.T) {
	t.Run("Recursive", func(t *testing.T) {
		s, _, _ := newTest()

		var closed []string

		body := func(name string, next thread.Body) thread.Func {
			return func(th *thread.Thread, yield func(any) bool) any {
				if next == nil {
					for yield(thread.Pass) {
					}
				} else {
					yield(th.Call(name, next, thread.TraceInherit))
				}
				closed = append(closed, th.Name())
				return "ignored"
			}
		}

		a := s.Start("A", body("B", body("C", body("", nil))), thread.TraceQuiet)

		require.True(t, s.UpdateAll(time.Millisecond))
		require.True(t, s.UpdateAll(time.Millisecond))

		b := a.Callee()
		require.NotNil(t, b)
		c := b.Callee()
		require.NotNil(t, c)

		a.Stop("halt")

		assert.Equal(t, []string{"C", "B", "A"}, closed)
		for _, th := range []*thread.Thread{a, b, c} {
			assert.True(t, th.Finished(), th.Name())
			assert.Equal(t, "halt", th.Result(), th.Name())
			assert.Nil(t, th.Callee(), th.Name())
		}
		assert.Zero(t, s.Len())
		assert.False(t, s.UpdateAll(time.Millisecond))

		a.Stop("again")
		assert.Equal(t, "halt", a.Result(), "stopping a finished thread changed it")
	})
	t.Run("HandBack", func(t *testing.T) {
		s, _, _ := newTest()

		var got any

		a := s.Start("A", thread.Func(func(th *thread.Thread, yield func(any) bool) any {
			if !yield(th.Call("B", forever(thread.Pass), thread.TraceInherit)) {
				return nil
			}
			got = th.Result()
			return "done"
		}), thread.TraceQuiet)

		require.True(t, s.UpdateAll(time.Millisecond))

		b := a.Callee()
		require.NotNil(t, b)
		b.Stop("early")

		assert.Nil(t, a.Callee())
		assert.Equal(t, 1, s.Len())
		assert.Equal(t, "early", a.Result())

		assert.False(t, s.UpdateAll(time.Millisecond))
		assert.Equal(t, "early", got)
		assert.Equal(t, "done", a.Result())
	})
	t.Run("FromAnotherThread", func(t *testing.T) {
		s, _, _ := newTest()

		victim := s.Start("victim", forever(thread.Pass), thread.TraceQuiet)

		s.Start("killer", thread.Func(func(th *thread.Thread, yield func(any) bool) any {
			victim.Stop("killed")
			return nil
		}), thread.TraceQuiet)

		drain(s, time.Millisecond, 10)

		assert.Equal(t, "killed", victim.Result())
		assert.Zero(t, s.Len())
	})
	t.Run("Self", func(t *testing.T) {
		s, _, c := newTest()

		var resumed bool

		a := s.Start("A", thread.Func(func(th *thread.Thread, yield func(any) bool) any {
			th.Stop(5)
			resumed = yield(nil)
			return 6
		}), thread.TraceQuiet)

		assert.False(t, s.UpdateAll(time.Millisecond))
		assert.False(t, resumed)
		assert.Equal(t, 5, a.Result())
		assert.Empty(t, c.records)
	})
	t.Run("Return", func(t *testing.T) {
		s, _, c := newTest()

		s.Return(1)
		assert.Len(t, c.matching(thread.ErrNotRunning.Error()), 1)

		var got any

		s.Start("A", thread.Func(func(th *thread.Thread, yield func(any) bool) any {
			sub := th.Call("sub", thread.Func(func(th *thread.Thread, yield func(any) bool) any {
				th.Scheduler().Return("early")
				yield(nil)
				return "late"
			}), thread.TraceInherit)
			if !yield(sub) {
				return nil
			}
			got = th.Result()
			return nil
		}), thread.TraceQuiet)

		drain(s, time.Millisecond, 10)

		assert.Equal(t, "early", got)
	})
	t.Run("Nil", func(t *testing.T) {
		var th *thread.Thread

		assert.NotPanics(t, func() { th.Stop(nil) })
		assert.False(t, th.Valid())
		assert.True(t, th.Finished())
		assert.Equal(t, "<nil>", th.String())
	})
	t.Run("FinishedCount", func(t *testing.T) {
		s, _, _ := newTest()

		var a *thread.Thread
		chain := func(name string, next thread.Body) thread.Func {
			return func(th *thread.Thread, yield func(any) bool) any {
				if next == nil {
					for yield(thread.Pass) {
					}
					return nil
				}
				yield(th.Call(name, next, thread.TraceInherit))
				return nil
			}
		}
		a = s.Start("A", chain("B", chain("C", chain("", nil))), thread.TraceQuiet)
		s.Start("D", thread.Func(func(th *thread.Thread, yield func(any) bool) any {
			yield(thread.Pass)
			a.Stop("halt")
			return "done"
		}), thread.TraceQuiet)

		require.True(t, s.UpdateAll(time.Millisecond))
		assert.Zero(t, s.FrameStats().Finished)

		require.False(t, s.UpdateAll(time.Millisecond))
		frame := s.FrameStats()
		assert.Equal(t, 4, frame.Finished, "C, B and A stopped by D, then D itself")
		assert.Equal(t, thread.ExitIdle, frame.Exit)
	})
}
