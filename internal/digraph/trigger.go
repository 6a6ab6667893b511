package digraph

import (
	"fmt"
	"strings"

	"github.com/cycleflow-dev/cycleflow/internal/cycling"
)

// Standard output labels. Tasks may also emit custom labels declared in
// their definition.
const (
	OutputSucceeded = "succeeded"
	OutputFailed    = "failed"
	OutputStarted   = "started"
	OutputSubmitted = "submitted"
)

// canonicalOutput maps graph qualifier spellings to output labels.
func canonicalOutput(qual string) string {
	switch qual {
	case "", "succeed", "succeeded":
		return OutputSucceeded
	case "fail", "failed":
		return OutputFailed
	case "start", "started":
		return OutputStarted
	case "submit", "submitted":
		return OutputSubmitted
	default:
		return qual // custom output label
	}
}

// Op is a node kind in a trigger expression tree.
type Op int

const (
	OpLeaf Op = iota
	OpAnd
	OpOr
)

// output is an unbound trigger leaf: a task output at a cycle-point offset
// relative to the instance being triggered.
type output struct {
	task   string
	label  string
	offset cycling.Interval // zero interval = same point
}

func (o output) String() string {
	var b strings.Builder
	b.WriteString(o.task)
	if !o.offset.IsZero() {
		sign := "+"
		if o.offset.Negative() {
			sign = ""
		}
		fmt.Fprintf(&b, "[%s%s]", sign, o.offset)
	}
	if o.label != OutputSucceeded {
		b.WriteString(":" + o.label)
	}
	return b.String()
}

// trigger is an unbound boolean expression over task outputs.
type trigger struct {
	op          Op
	left, right *trigger
	out         output
}

func leaf(o output) *trigger     { return &trigger{op: OpLeaf, out: o} }
func and(l, r *trigger) *trigger { return &trigger{op: OpAnd, left: l, right: r} }
func or(l, r *trigger) *trigger  { return &trigger{op: OpOr, left: l, right: r} }
func (t *trigger) leaves() []output {
	if t == nil {
		return nil
	}
	if t.op == OpLeaf {
		return []output{t.out}
	}
	return append(t.left.leaves(), t.right.leaves()...)
}

// BoundOutput is a trigger leaf resolved to a concrete task instance.
type BoundOutput struct {
	Task   string
	Point  cycling.Point
	Output string
}

func (o BoundOutput) String() string {
	s := fmt.Sprintf("%s.%s", o.Task, o.Point)
	if o.Output != OutputSucceeded {
		s += ":" + o.Output
	}
	return s
}

// BoundTrigger is a trigger expression resolved against a concrete cycle
// point. Leaves that fell before the workflow's initial point are pruned at
// binding time and treated as satisfied.
type BoundTrigger struct {
	Op          Op
	Left, Right *BoundTrigger
	Out         BoundOutput
}

// Satisfied evaluates the expression against the signals received so far.
// The expression is satisfied as soon as it is satisfiable by those signals;
// OR branches never taken are not required to resolve.
func (t *BoundTrigger) Satisfied(has func(BoundOutput) bool) bool {
	if t == nil {
		return true
	}
	switch t.Op {
	case OpAnd:
		return t.Left.Satisfied(has) && t.Right.Satisfied(has)
	case OpOr:
		return t.Left.Satisfied(has) || t.Right.Satisfied(has)
	default:
		return has(t.Out)
	}
}

// Leaves returns every concrete upstream output referenced by the trigger.
func (t *BoundTrigger) Leaves() []BoundOutput {
	if t == nil {
		return nil
	}
	if t.Op == OpLeaf {
		return []BoundOutput{t.Out}
	}
	return append(t.Left.Leaves(), t.Right.Leaves()...)
}

func (t *BoundTrigger) String() string {
	if t == nil {
		return ""
	}
	switch t.Op {
	case OpAnd:
		return fmt.Sprintf("(%s & %s)", t.Left, t.Right)
	case OpOr:
		return fmt.Sprintf("(%s | %s)", t.Left, t.Right)
	default:
		return t.Out.String()
	}
}

// bind resolves the trigger against point p. Leaves whose upstream point
// falls before the initial point are dropped: history before the start of
// the workflow is taken as given.
func (t *trigger) bind(p, initial cycling.Point) (*BoundTrigger, error) {
	if t == nil {
		return nil, nil
	}
	switch t.op {
	case OpLeaf:
		up := p
		if !t.out.offset.IsZero() {
			var err error
			up, err = p.Add(t.out.offset)
			if err != nil {
				return nil, err
			}
		}
		if up.Before(initial) {
			return nil, nil
		}
		return &BoundTrigger{
			Op:  OpLeaf,
			Out: BoundOutput{Task: t.out.task, Point: up, Output: t.out.label},
		}, nil
	case OpAnd, OpOr:
		left, err := t.left.bind(p, initial)
		if err != nil {
			return nil, err
		}
		right, err := t.right.bind(p, initial)
		if err != nil {
			return nil, err
		}
		if left == nil {
			if t.op == OpOr {
				// A pre-initial branch counts as satisfied, so the
				// whole disjunction is satisfied.
				return nil, nil
			}
			return right, nil
		}
		if right == nil {
			if t.op == OpOr {
				return nil, nil
			}
			return left, nil
		}
		return &BoundTrigger{Op: t.op, Left: left, Right: right}, nil
	default:
		return nil, fmt.Errorf("unknown trigger op %d", t.op)
	}
}
