package thread

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPool(t *testing.T) {
	var failures []string

	s := New(
		WithClock(new(ManualClock)),
		WithSink(func(msg string, level slog.Level) {
			if level == slog.LevelError {
				failures = append(failures, msg)
			}
		}),
	)

	caller := s.newThread("caller")

	a := s.pooledThread(caller, "a")
	require.NotNil(t, a)
	assert.NotNil(t, caller.pool, "pool not created on first use")
	assert.Zero(t, caller.PoolLen(), "a thread is pooled only once it is released")

	s.release(caller, a)
	assert.True(t, a.Pooled())
	assert.Same(t, a, caller.PooledThread("a"))
	assert.Same(t, a, s.pooledThread(caller, "a"))

	s.release(caller, a)
	assert.Equal(t, 1, caller.PoolLen())

	// A thread that is still running cannot be pooled.
	b := s.newThread("b")
	b.co = StepFunc(func(*Thread) Step { return Done(nil) })
	s.release(caller, b)
	assert.False(t, b.Pooled())
	assert.Nil(t, caller.PooledThread("b"))
	require.Len(t, failures, 1)

	// A pooled thread handed out while running is reported but returned.
	a.co = b.co
	assert.Same(t, a, s.pooledThread(caller, "a"))
	require.Len(t, failures, 2)
	a.co = nil

	// A second thread with a taken name is dropped.
	dup := s.newThread("a")
	s.release(caller, dup)
	assert.False(t, dup.Pooled())
	assert.Same(t, a, caller.PooledThread("a"))
	assert.Len(t, failures, 2)

	s.release(caller, s.newThread("c"))
	assert.Equal(t, []string{"a", "c"}, caller.poolNames())
}

func TestPoolIterator(t *testing.T) {
	s := New(WithClock(new(ManualClock)))

	caller := s.newThread("caller")
	for _, name := range []string{"c", "a", "b"} {
		s.release(caller, s.newThread(name))
	}

	var got []string
	for th := range caller.Pool() {
		got = append(got, th.Name())
		if th.Name() == "b" {
			break
		}
	}

	assert.Equal(t, []string{"a", "b"}, got)
}
