package thread

import (
	"fmt"
	"iter"
	"strings"
	"time"
)

// FrameStats returns the statistics of the last pass of
// [Scheduler.UpdateAll].
func (s *Scheduler) FrameStats() FrameStats {
	return s.frame
}

// FrameStatsText returns a one-line description of the last pass of
// [Scheduler.UpdateAll].
func (s *Scheduler) FrameStatsText() string {
	return fmt.Sprintf("pass %d: %s", s.frame.Pass, s.frame.summary())
}

func (f *FrameStats) summary() string {
	return fmt.Sprintf(
		"%v of %v (overhead %v), %d steps, %d roots, %d slices, %d calls, %d finished, %d warnings, exit %v",
		f.Elapsed, f.Quota, f.Overhead, f.Steps, f.Roots, f.Slices, f.Calls, f.Finished, f.Warnings, f.Exit,
	)
}

// Roots returns an iterator over every root that has not finished, in the
// order they were started.
func (s *Scheduler) Roots() iter.Seq[*Thread] {
	return s.roots.All()
}

// Find returns the first thread named name, or nil.
//
// Only roots are searched unless recursive is true, in which case pending
// callees and pooled threads are searched too, depth first.
// If partial is true, any name containing name matches.
func (s *Scheduler) Find(name string, recursive, partial bool) *Thread {
	match := func(th *Thread) bool {
		if partial {
			return strings.Contains(th.name, name)
		}
		return th.name == name
	}
	for root := range s.roots.All() {
		if th := root.find(match, recursive); th != nil {
			return th
		}
	}
	return nil
}

func (th *Thread) find(match func(*Thread) bool, recursive bool) *Thread {
	if match(th) {
		return th
	}
	if !recursive {
		return nil
	}
	if c := th.callee; c != nil && !c.pooled {
		if found := c.find(match, recursive); found != nil {
			return found
		}
	}
	for _, name := range th.poolNames() {
		if found := th.pool[name].find(match, recursive); found != nil {
			return found
		}
	}
	return nil
}

// AllProfileText returns the profile of every root that has not finished.
// See [Thread.ProfileText].
func (s *Scheduler) AllProfileText() string {
	var b strings.Builder
	for root := range s.roots.All() {
		root.writeProfile(&b, 0)
	}
	return b.String()
}

// ProfileText returns the profile of th and the threads in its pool, one per
// line, indented by call depth:
//
//	patrol#1f0c3a9e calls=1 slices=4 steps=9 yields=8 self=1.2ms total=3.5ms overhead=2.1%
//	  scan#77b0e2d1 calls=3 slices=0 steps=6 yields=3 self=2.3ms total=2.3ms overhead=0.8%
//
// It is meant for manual performance triage only; the format may change.
func (th *Thread) ProfileText() string {
	var b strings.Builder
	th.writeProfile(&b, 0)
	return b.String()
}

func (th *Thread) writeProfile(b *strings.Builder, depth int) {
	st := &th.stats
	fmt.Fprintf(b, "%s%v calls=%d slices=%d steps=%d yields=%d self=%v total=%v overhead=%.1f%%",
		strings.Repeat("  ", depth), th, st.Calls, st.Slices, st.Steps, st.Yields,
		st.Self, st.Total, percent(st.Overhead, st.Total+st.Overhead))
	if st.Warnings != 0 {
		fmt.Fprintf(b, " warnings=%d", st.Warnings)
	}
	if th.err != nil {
		b.WriteString(" failed")
	}
	b.WriteByte('\n')
	if c := th.callee; c != nil && !c.pooled {
		c.writeProfile(b, depth+1)
	}
	for _, name := range th.poolNames() {
		th.pool[name].writeProfile(b, depth+1)
	}
}

func percent(part, whole time.Duration) float64 {
	if whole <= 0 {
		return 0
	}
	return float64(part) / float64(whole) * 100
}
