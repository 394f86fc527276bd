// Package script loads behavior scripts.
//
// A behavior script is an HCL file that describes flows as lists of simple
// operations, and which flows to start as roots:
//
//	flow "patrol" {
//	  verbosity = 1
//
//	  op "work"   { cost = "300us" }
//	  op "yield"  {}
//	  op "repeat" { times = 3 }
//	  op "call"   { target = "scan" }
//	  op "return" { value = "done" }
//	}
//
//	flow "scan" {
//	  op "work"   { cost = "1ms" }
//	  op "return" { value = 3 }
//	}
//
//	root "patrol" { count = 2 }
//
// Scripts drive simulations of a thread scheduler; see package sim.
package script

import (
	"maps"
	"slices"
	"time"

	"github.com/hashicorp/hcl/v2"
)

// OpKind names an operation.
type OpKind string

const (
	OpWork   OpKind = "work"   // spend Cost of clock time
	OpYield  OpKind = "yield"  // give up the rest of the slice
	OpCall   OpKind = "call"   // call Target and wait for it
	OpRepeat OpKind = "repeat" // run the ops since the last repeat Times times in total
	OpFail   OpKind = "fail"   // panic with Message
	OpReturn OpKind = "return" // stop with Value
)

// Op is one operation of a [Flow].
type Op struct {
	Kind    OpKind
	Cost    time.Duration
	Target  string
	Times   int
	Message string
	Value   any

	Range hcl.Range
}

// Flow is a named list of operations.
type Flow struct {
	Name      string
	Verbosity int // -1 unless set
	Ops       []Op

	Range hcl.Range
}

// Root asks for Count roots running Flow.
type Root struct {
	Flow  string
	Count int
}

// Script is a loaded behavior script.
type Script struct {
	Flows map[string]*Flow
	Roots []Root
}

// FlowNames returns the names of every flow in s, sorted.
func (s *Script) FlowNames() []string {
	return slices.Sorted(maps.Keys(s.Flows))
}

// RootCount returns the number of roots s starts.
func (s *Script) RootCount() int {
	n := 0
	for _, r := range s.Roots {
		n += r.Count
	}
	return n
}
