package script

import (
	"fmt"
	"io"
	"time"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/gocty"
)

// Loader parses behavior scripts, and remembers their sources so that
// diagnostics can be printed with context.
type Loader struct {
	parser *hclparse.Parser
}

// NewLoader creates a new Loader.
func NewLoader() *Loader {
	return &Loader{parser: hclparse.NewParser()}
}

type fileSchema struct {
	Flows []*flowSchema `hcl:"flow,block"`
	Roots []*rootSchema `hcl:"root,block"`
}

type flowSchema struct {
	Name      string      `hcl:"name,label"`
	Verbosity *int        `hcl:"verbosity,optional"`
	Ops       []*opSchema `hcl:"op,block"`
	Remain    hcl.Body    `hcl:",remain"`
}

type opSchema struct {
	Kind   string   `hcl:"kind,label"`
	Remain hcl.Body `hcl:",remain"`
}

type rootSchema struct {
	Flow   string   `hcl:"flow,label"`
	Count  *int     `hcl:"count,optional"`
	Remain hcl.Body `hcl:",remain"`
}

// Load parses the script in the file at path.
func (l *Loader) Load(path string) (*Script, hcl.Diagnostics) {
	f, diags := l.parser.ParseHCLFile(path)
	if diags.HasErrors() {
		return nil, diags
	}
	s, more := decode(f.Body)
	return s, append(diags, more...)
}

// Parse parses the script in src. filename is only used in diagnostics.
func (l *Loader) Parse(src []byte, filename string) (*Script, hcl.Diagnostics) {
	f, diags := l.parser.ParseHCL(src, filename)
	if diags.HasErrors() {
		return nil, diags
	}
	s, more := decode(f.Body)
	return s, append(diags, more...)
}

// WriteDiagnostics writes diags to w, quoting the sources they refer to.
func (l *Loader) WriteDiagnostics(w io.Writer, diags hcl.Diagnostics) error {
	return hcl.NewDiagnosticTextWriter(w, l.parser.Files(), 78, false).WriteDiagnostics(diags)
}

// Load parses the script in the file at path with a new [Loader].
func Load(path string) (*Script, hcl.Diagnostics) {
	return NewLoader().Load(path)
}

// Parse parses the script in src with a new [Loader].
func Parse(src []byte, filename string) (*Script, hcl.Diagnostics) {
	return NewLoader().Parse(src, filename)
}

func decode(body hcl.Body) (*Script, hcl.Diagnostics) {
	var root fileSchema
	diags := gohcl.DecodeBody(body, nil, &root)
	if diags.HasErrors() {
		return nil, diags
	}

	s := &Script{Flows: make(map[string]*Flow)}

	for _, fs := range root.Flows {
		flow, more := decodeFlow(fs)
		diags = append(diags, more...)
		if prev, ok := s.Flows[flow.Name]; ok {
			diags = append(diags, &hcl.Diagnostic{
				Severity: hcl.DiagError,
				Summary:  "Duplicate flow",
				Detail:   fmt.Sprintf("A flow named %q was already declared at %v.", flow.Name, prev.Range),
				Subject:  flow.Range.Ptr(),
			})
			continue
		}
		s.Flows[flow.Name] = flow
	}

	for _, rs := range root.Roots {
		r, more := decodeRoot(rs, s.Flows)
		diags = append(diags, more...)
		if r.Count > 0 {
			s.Roots = append(s.Roots, r)
		}
	}

	diags = append(diags, checkCalls(s)...)
	if diags.HasErrors() {
		return nil, diags
	}
	return s, diags
}

func decodeFlow(fs *flowSchema) (*Flow, hcl.Diagnostics) {
	diags := noExtras(fs.Remain)
	flow := &Flow{
		Name:      fs.Name,
		Verbosity: -1,
		Range:     fs.Remain.MissingItemRange(),
	}
	if fs.Verbosity != nil {
		if *fs.Verbosity < 0 {
			diags = append(diags, &hcl.Diagnostic{
				Severity: hcl.DiagError,
				Summary:  "Invalid verbosity",
				Detail:   "The verbosity of a flow must not be negative; leave it out to inherit it from the caller.",
				Subject:  flow.Range.Ptr(),
			})
		} else {
			flow.Verbosity = *fs.Verbosity
		}
	}

	returned := false
	for _, o := range fs.Ops {
		op, more := decodeOp(o)
		diags = append(diags, more...)
		if returned {
			diags = append(diags, &hcl.Diagnostic{
				Severity: hcl.DiagWarning,
				Summary:  "Unreachable operation",
				Detail:   fmt.Sprintf("This %q operation comes after the flow has already returned or failed.", o.Kind),
				Subject:  op.Range.Ptr(),
			})
		}
		if op.Kind == OpReturn || op.Kind == OpFail {
			returned = true
		}
		flow.Ops = append(flow.Ops, op)
	}
	return flow, diags
}

func decodeRoot(rs *rootSchema, flows map[string]*Flow) (Root, hcl.Diagnostics) {
	diags := noExtras(rs.Remain)
	rng := rs.Remain.MissingItemRange()
	r := Root{Flow: rs.Flow, Count: 1}
	if rs.Count != nil {
		r.Count = *rs.Count
	}
	if r.Count < 0 {
		diags = append(diags, &hcl.Diagnostic{
			Severity: hcl.DiagError,
			Summary:  "Invalid count",
			Detail:   "The count of a root must not be negative.",
			Subject:  rng.Ptr(),
		})
		r.Count = 0
	}
	if _, ok := flows[r.Flow]; !ok {
		diags = append(diags, &hcl.Diagnostic{
			Severity: hcl.DiagError,
			Summary:  "Unknown flow",
			Detail:   fmt.Sprintf("There is no flow named %q to start.", r.Flow),
			Subject:  rng.Ptr(),
		})
		r.Count = 0
	}
	return r, diags
}

// opArgs lists the arguments each kind of operation takes, and whether each
// is required.
var opArgs = map[OpKind]map[string]bool{
	OpWork:   {"cost": true},
	OpYield:  {},
	OpCall:   {"target": true},
	OpRepeat: {"times": true},
	OpFail:   {"message": false},
	OpReturn: {"value": false},
}

func decodeOp(o *opSchema) (Op, hcl.Diagnostics) {
	op := Op{Kind: OpKind(o.Kind), Range: o.Remain.MissingItemRange()}

	args, known := opArgs[op.Kind]
	if !known {
		return op, hcl.Diagnostics{{
			Severity: hcl.DiagError,
			Summary:  "Unknown operation",
			Detail:   fmt.Sprintf("%q is not an operation; expected one of work, yield, call, repeat, fail or return.", o.Kind),
			Subject:  op.Range.Ptr(),
		}}
	}

	attrs, diags := o.Remain.JustAttributes()
	if diags.HasErrors() {
		return op, diags
	}

	for name, attr := range attrs {
		if _, ok := args[name]; !ok {
			diags = append(diags, &hcl.Diagnostic{
				Severity: hcl.DiagError,
				Summary:  "Unsupported argument",
				Detail:   fmt.Sprintf("An argument named %q is not expected in a %q operation.", name, op.Kind),
				Subject:  attr.NameRange.Ptr(),
			})
		}
	}
	for name, required := range args {
		if _, ok := attrs[name]; required && !ok {
			diags = append(diags, &hcl.Diagnostic{
				Severity: hcl.DiagError,
				Summary:  "Missing required argument",
				Detail:   fmt.Sprintf("The argument %q is required in a %q operation.", name, op.Kind),
				Subject:  op.Range.Ptr(),
			})
		}
	}
	if diags.HasErrors() {
		return op, diags
	}

	switch op.Kind {
	case OpWork:
		var cost string
		diags = append(diags, decodeAttr(attrs["cost"], &cost)...)
		if !diags.HasErrors() {
			d, err := time.ParseDuration(cost)
			if err != nil || d < 0 {
				diags = append(diags, &hcl.Diagnostic{
					Severity: hcl.DiagError,
					Summary:  "Invalid cost",
					Detail:   fmt.Sprintf("The cost must be a non-negative duration such as \"300us\" or \"2ms\"; got %q.", cost),
					Subject:  attrs["cost"].Expr.Range().Ptr(),
				})
			}
			op.Cost = d
		}
	case OpCall:
		diags = append(diags, decodeAttr(attrs["target"], &op.Target)...)
	case OpRepeat:
		diags = append(diags, decodeAttr(attrs["times"], &op.Times)...)
		if !diags.HasErrors() && op.Times < 1 {
			diags = append(diags, &hcl.Diagnostic{
				Severity: hcl.DiagError,
				Summary:  "Invalid times",
				Detail:   "A repeat must run its operations at least once.",
				Subject:  attrs["times"].Expr.Range().Ptr(),
			})
		}
	case OpFail:
		op.Message = "failed"
		if attr, ok := attrs["message"]; ok {
			diags = append(diags, decodeAttr(attr, &op.Message)...)
		}
	case OpReturn:
		if attr, ok := attrs["value"]; ok {
			v, more := attr.Expr.Value(nil)
			diags = append(diags, more...)
			if !more.HasErrors() {
				native, err := toNative(v)
				if err != nil {
					diags = append(diags, &hcl.Diagnostic{
						Severity: hcl.DiagError,
						Summary:  "Invalid return value",
						Detail:   err.Error(),
						Subject:  attr.Expr.Range().Ptr(),
					})
				}
				op.Value = native
			}
		}
	}
	return op, diags
}

// decodeAttr evaluates attr and stores it into the Go value pointed to by
// target.
func decodeAttr(attr *hcl.Attribute, target any) hcl.Diagnostics {
	v, diags := attr.Expr.Value(nil)
	if diags.HasErrors() {
		return diags
	}
	if v.IsNull() {
		return append(diags, &hcl.Diagnostic{
			Severity: hcl.DiagError,
			Summary:  fmt.Sprintf("Invalid %s", attr.Name),
			Detail:   fmt.Sprintf("The argument %q must not be null.", attr.Name),
			Subject:  attr.Expr.Range().Ptr(),
		})
	}
	if _, ok := target.(*string); ok && v.Type() != cty.String {
		return append(diags, &hcl.Diagnostic{
			Severity: hcl.DiagError,
			Summary:  fmt.Sprintf("Invalid %s", attr.Name),
			Detail:   fmt.Sprintf("The argument %q must be a string.", attr.Name),
			Subject:  attr.Expr.Range().Ptr(),
		})
	}
	if err := gocty.FromCtyValue(v, target); err != nil {
		return append(diags, &hcl.Diagnostic{
			Severity: hcl.DiagError,
			Summary:  fmt.Sprintf("Invalid %s", attr.Name),
			Detail:   fmt.Sprintf("The argument %q has the wrong type: %v.", attr.Name, err),
			Subject:  attr.Expr.Range().Ptr(),
		})
	}
	return diags
}

// noExtras reports every argument and block left in body once its schema
// has been decoded. Blocks the schema consumed, such as the ops of a flow,
// stay hidden.
func noExtras(body hcl.Body) hcl.Diagnostics {
	_, diags := body.Content(&hcl.BodySchema{})
	return diags
}

// checkCalls reports calls to flows that do not exist, and call cycles,
// which would nest threads without end.
func checkCalls(s *Script) hcl.Diagnostics {
	var diags hcl.Diagnostics

	const (
		unseen = iota
		onPath
		done
	)
	state := make(map[string]int)

	var visit func(f *Flow)
	visit = func(f *Flow) {
		state[f.Name] = onPath
		for _, op := range f.Ops {
			if op.Kind != OpCall {
				continue
			}
			callee, ok := s.Flows[op.Target]
			if !ok {
				diags = append(diags, &hcl.Diagnostic{
					Severity: hcl.DiagError,
					Summary:  "Unknown call target",
					Detail:   fmt.Sprintf("Flow %q calls %q, which is not declared.", f.Name, op.Target),
					Subject:  op.Range.Ptr(),
				})
				continue
			}
			switch state[callee.Name] {
			case unseen:
				visit(callee)
			case onPath:
				diags = append(diags, &hcl.Diagnostic{
					Severity: hcl.DiagError,
					Summary:  "Recursive call",
					Detail:   fmt.Sprintf("Flow %q calls %q, which is already on the call path.", f.Name, callee.Name),
					Subject:  op.Range.Ptr(),
				})
			}
		}
		state[f.Name] = done
	}

	for _, name := range s.FlowNames() {
		if state[name] == unseen {
			visit(s.Flows[name])
		}
	}
	return diags
}
