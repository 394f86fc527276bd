package sim

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Report describes the state of a [World] after a run.
type Report struct {
	World   string
	ID      uuid.UUID
	Totals  Totals
	Now     time.Duration // virtual time
	Idle    bool          // every root has finished
	Results map[string]any
	Failed  []string      // one entry per "fail" op that ran
	Frame   string        // the last pass, as text
	Profile string
}

// Report returns the current state of w.
func (w *World) Report() Report {
	r := Report{
		World:   w.name,
		ID:      w.id,
		Totals:  w.stats,
		Now:     w.clock.Now(),
		Results: make(map[string]any, len(w.roots)),
	}
	r.Totals.Exits = maps.Clone(w.stats.Exits)
	if w.sched == nil {
		r.Idle = len(w.script.Roots) == 0
		return r
	}
	r.Idle = w.sched.Len() == 0
	r.Frame = w.sched.FrameStatsText()

	var b strings.Builder
	for _, root := range w.roots {
		if root.Finished() {
			r.Results[root.Name()] = root.Result()
		}
		b.WriteString(root.ProfileText())
	}
	r.Profile = b.String()

	r.Failed = slices.Clone(w.failures)
	return r
}

// Summary returns a short, multi-line description of r.
func (r *Report) Summary() string {
	var b strings.Builder
	state := "running"
	if r.Idle {
		state = "idle"
	}
	fmt.Fprintf(&b, "%s (%s): %s after %d frames, %v virtual, %v busy\n",
		r.World, r.ID, state, r.Totals.Frames, r.Now, r.Totals.Busy)
	fmt.Fprintf(&b, "  %d steps, %d slices, %d calls, %d finished, %d warnings\n",
		r.Totals.Steps, r.Totals.Slices, r.Totals.Calls, r.Totals.Finished, r.Totals.Warnings)
	if len(r.Totals.Exits) != 0 {
		b.WriteString("  exits:")
		for _, k := range slices.Sorted(maps.Keys(r.Totals.Exits)) {
			fmt.Fprintf(&b, " %s=%d", k, r.Totals.Exits[k])
		}
		b.WriteByte('\n')
	}
	for _, k := range slices.Sorted(maps.Keys(r.Results)) {
		fmt.Fprintf(&b, "  %s => %v\n", k, r.Results[k])
	}
	for _, f := range r.Failed {
		fmt.Fprintf(&b, "  failed: %s\n", f)
	}
	return b.String()
}
