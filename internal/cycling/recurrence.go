package cycling

import (
	"fmt"
	"strings"

	"github.com/robfig/cron/v3"
)

// Recurrence generates a sequence of cycle points: a start point advanced by
// a fixed interval up to an optional end point. The sequence is conceptually
// unbounded; callers always bound expansion with an explicit window.
type Recurrence struct {
	start Point
	end   Point // zero means unbounded
	step  Interval
	once  bool          // single occurrence at start
	clock cron.Schedule // wall-clock recurrence, datetime mode only
	spec  string        // original literal, for display
}

// ParseRecurrence parses a recurrence spec from a workflow graph section.
// Accepted forms:
//
//	P1, PT6H, P1D ...   repeat from the initial point with the given step
//	R1                  once, at the initial point
//	R1/<point>          once, at the given point
func ParseRecurrence(spec string, mode Mode, initial, final Point) (Recurrence, error) {
	spec = strings.TrimSpace(spec)
	r, err := parseRecurrence(spec, mode, initial, final)
	if err != nil {
		return Recurrence{}, err
	}
	r.spec = spec
	return r, nil
}

func parseRecurrence(spec string, mode Mode, initial, final Point) (Recurrence, error) {
	if spec == "R1" {
		return Recurrence{start: initial, end: initial, once: true}, nil
	}
	if rest, ok := strings.CutPrefix(spec, "R1/"); ok {
		p, err := ParsePoint(rest, mode)
		if err != nil {
			return Recurrence{}, fmt.Errorf("recurrence %q: %w", spec, err)
		}
		return Recurrence{start: p, end: p, once: true}, nil
	}
	if mode == ModeDatetime && looksLikeCron(spec) {
		return ParseClockRecurrence(spec, initial, final)
	}
	step, err := ParseInterval(spec, mode)
	if err != nil {
		return Recurrence{}, fmt.Errorf("recurrence %q: %w", spec, err)
	}
	if step.IsZero() || step.Negative() {
		return Recurrence{}, fmt.Errorf("recurrence %q: step must be positive", spec)
	}
	return Recurrence{start: initial, end: final, step: step}, nil
}

// NewRecurrence builds a recurrence directly. A zero end leaves the sequence
// unbounded above.
func NewRecurrence(start, end Point, step Interval) Recurrence {
	return Recurrence{start: start, end: end, step: step}
}

// Start returns the first point of the sequence.
func (r Recurrence) Start() Point { return r.start }

// Step returns the recurrence interval; the zero interval for one-off
// recurrences.
func (r Recurrence) Step() Interval { return r.step }

// Bounded reports whether the sequence has an upper bound.
func (r Recurrence) Bounded() bool { return !r.end.IsZero() }

func (r Recurrence) String() string {
	if r.spec != "" {
		return r.spec
	}
	if r.once {
		return fmt.Sprintf("R1/%s", r.start)
	}
	return fmt.Sprintf("%s/%s", r.start, r.step)
}

// stepLimit caps sequence iteration so a runaway window request fails
// instead of spinning.
const stepLimit = 1 << 20

// OnOrAfter returns the first sequence point at or after p, or false when
// the sequence is exhausted before reaching p.
func (r Recurrence) OnOrAfter(p Point) (Point, bool, error) {
	if r.once {
		if !r.start.Before(p) {
			return r.start, true, nil
		}
		return Point{}, false, nil
	}
	if r.clock != nil {
		return r.clockOnOrAfter(p)
	}
	cur := r.start
	if p.Before(cur) {
		p = cur
	}
	// Integer sequences land directly; calendar steps are irregular so
	// datetime sequences walk forward from the start point.
	if cur.Mode() == ModeInteger && r.step.steps > 0 {
		n := (p.Int() - cur.Int()) / r.step.steps
		cur = IntegerPoint(cur.Int() + n*r.step.steps)
	}
	for i := 0; i < stepLimit; i++ {
		if !cur.Before(p) {
			if r.Bounded() && cur.After(r.end) {
				return Point{}, false, nil
			}
			return cur, true, nil
		}
		next, err := cur.Add(r.step)
		if err != nil {
			return Point{}, false, err
		}
		cur = next
	}
	return Point{}, false, fmt.Errorf("%w: recurrence %s did not reach %s", ErrDomain, r, p)
}

// Next returns the first sequence point strictly after p.
func (r Recurrence) Next(p Point) (Point, bool, error) {
	onOrAfter, ok, err := r.OnOrAfter(p)
	if err != nil || !ok {
		return Point{}, false, err
	}
	if onOrAfter.After(p) {
		return onOrAfter, true, nil
	}
	if r.once {
		return Point{}, false, nil
	}
	if r.clock != nil {
		t := r.clock.Next(p.Time())
		if t.IsZero() {
			return Point{}, false, nil
		}
		next := DatetimePoint(t)
		if r.Bounded() && next.After(r.end) {
			return Point{}, false, nil
		}
		return next, true, nil
	}
	next, err := onOrAfter.Add(r.step)
	if err != nil {
		return Point{}, false, err
	}
	if r.Bounded() && next.After(r.end) {
		return Point{}, false, nil
	}
	return next, true, nil
}

// Contains reports whether p lies on the sequence.
func (r Recurrence) Contains(p Point) (bool, error) {
	onOrAfter, ok, err := r.OnOrAfter(p)
	if err != nil || !ok {
		return false, err
	}
	return onOrAfter.Equal(p), nil
}

// Points returns every sequence point within [lo, hi], in order. Expanding
// the same window twice yields identical results.
func (r Recurrence) Points(lo, hi Point) ([]Point, error) {
	var out []Point
	p, ok, err := r.OnOrAfter(lo)
	if err != nil {
		return nil, err
	}
	for ok && !p.After(hi) {
		out = append(out, p)
		p, ok, err = r.Next(p)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}
