package thread

import (
	"iter"
	"log/slog"
	"maps"
	"slices"
)

// pooledThread returns the thread caller keeps under name, creating one if
// there is none yet.
// A pooled thread that is still running is a misuse; it is reported and
// handed out anyway.
func (s *Scheduler) pooledThread(caller *Thread, name string) *Thread {
	if caller.pool == nil {
		caller.pool = make(map[string]*Thread)
	}
	if th := caller.pool[name]; th != nil {
		if th.co != nil {
			s.logf(caller, TraceQuiet, slog.LevelError, "pooled thread %v is still running", th)
		}
		return th
	}
	return s.newThread(name)
}

// release puts th back into the pool of caller.
func (s *Scheduler) release(caller, th *Thread) {
	if th.co != nil {
		s.logf(caller, TraceQuiet, slog.LevelError, "cannot pool %v while it is running", th)
		return
	}
	if th.pooled {
		return
	}
	if caller.pool == nil {
		caller.pool = make(map[string]*Thread)
	}
	if old := caller.pool[th.name]; old != nil {
		s.logf(caller, TraceDebug, slog.LevelDebug, "pool already holds %v, dropping %v", old, th)
		return
	}
	caller.pool[th.name] = th
	th.pooled = true
}

// PoolLen returns the number of threads th keeps in its pool.
func (th *Thread) PoolLen() int {
	return len(th.pool)
}

// PooledThread returns the thread th keeps in its pool under name, or nil.
func (th *Thread) PooledThread(name string) *Thread {
	return th.pool[name]
}

// Pool returns an iterator over the threads th keeps in its pool, sorted by
// name.
func (th *Thread) Pool() iter.Seq[*Thread] {
	return func(yield func(*Thread) bool) {
		for _, name := range th.poolNames() {
			if !yield(th.pool[name]) {
				return
			}
		}
	}
}

// poolNames returns the names in th's pool in sorted order.
func (th *Thread) poolNames() []string {
	return slices.Sorted(maps.Keys(th.pool))
}
