package cycling

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Mode selects the cycling domain for a workflow. All points and intervals
// within one workflow share a single mode.
type Mode int

const (
	// ModeInteger cycles over integer points (1, 2, 3, ...).
	ModeInteger Mode = iota
	// ModeDatetime cycles over calendar timestamps, always held in UTC.
	ModeDatetime
)

func (m Mode) String() string {
	if m == ModeDatetime {
		return "datetime"
	}
	return "integer"
}

// ParseMode parses a cycling mode name from a workflow definition.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "integer":
		return ModeInteger, nil
	case "datetime", "gregorian", "iso8601":
		return ModeDatetime, nil
	default:
		return ModeInteger, fmt.Errorf("unknown cycling mode %q", s)
	}
}

// Point is a discrete coordinate at which the workflow graph is evaluated.
// It is an immutable value; arithmetic returns new points.
type Point struct {
	mode Mode
	num  int64
	t    time.Time
}

// Accepted datetime layouts, most specific first. Points always normalize
// to UTC.
var pointLayouts = []string{
	"20060102T150405Z",
	"20060102T1504Z",
	"20060102T15Z",
	"2006-01-02T15:04:05Z",
	"2006-01-02T15:04Z",
	"20060102",
	"2006-01-02",
}

// IntegerPoint returns an integer-mode point.
func IntegerPoint(n int64) Point {
	return Point{mode: ModeInteger, num: n}
}

// DatetimePoint returns a datetime-mode point, normalized to UTC.
func DatetimePoint(t time.Time) Point {
	return Point{mode: ModeDatetime, t: t.UTC()}
}

// ParsePoint parses a cycle point literal in the given mode.
func ParsePoint(s string, mode Mode) (Point, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Point{}, fmt.Errorf("%w: empty literal", ErrInvalidPoint)
	}
	switch mode {
	case ModeInteger:
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return Point{}, fmt.Errorf("%w: %q", ErrInvalidPoint, s)
		}
		return IntegerPoint(n), nil
	case ModeDatetime:
		for _, layout := range pointLayouts {
			if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
				return DatetimePoint(t), nil
			}
		}
		return Point{}, fmt.Errorf("%w: %q", ErrInvalidPoint, s)
	default:
		return Point{}, fmt.Errorf("%w: unknown mode %d", ErrInvalidPoint, mode)
	}
}

// Mode returns the cycling mode the point belongs to.
func (p Point) Mode() Mode { return p.mode }

// IsZero reports whether the point is the zero value (no point).
func (p Point) IsZero() bool {
	return p == Point{}
}

func (p Point) String() string {
	if p.mode == ModeDatetime {
		return p.t.Format("20060102T1504Z")
	}
	return strconv.FormatInt(p.num, 10)
}

// Compare returns -1, 0 or 1 ordering p against q. Points of different
// modes never arise within one workflow; comparing them panics to surface
// the programming error early.
func (p Point) Compare(q Point) int {
	if p.mode != q.mode {
		panic("cycling: comparing points of different modes")
	}
	if p.mode == ModeDatetime {
		return p.t.Compare(q.t)
	}
	switch {
	case p.num < q.num:
		return -1
	case p.num > q.num:
		return 1
	default:
		return 0
	}
}

func (p Point) Before(q Point) bool { return p.Compare(q) < 0 }
func (p Point) After(q Point) bool  { return p.Compare(q) > 0 }
func (p Point) Equal(q Point) bool  { return p.Compare(q) == 0 }

// Datetime points must remain within these years; beyond them calendar
// arithmetic is considered out of domain.
const (
	minYear = 1
	maxYear = 9999
)

// Add returns the point displaced by the interval. The interval's sign is
// honored, so subtraction is Add of a negative interval.
func (p Point) Add(iv Interval) (Point, error) {
	if p.mode != iv.mode {
		return Point{}, fmt.Errorf("%w: %s interval applied to %s point", ErrDomain, iv.mode, p.mode)
	}
	if p.mode == ModeInteger {
		step := iv.steps * int64(iv.sign)
		sum := p.num + step
		if (step > 0 && sum < p.num) || (step < 0 && sum > p.num) {
			return Point{}, fmt.Errorf("%w: integer overflow at %d%+d", ErrDomain, p.num, step)
		}
		return IntegerPoint(sum), nil
	}
	s := iv.sign
	t := p.t.AddDate(iv.years*s, iv.months*s, iv.days*s)
	t = t.Add(time.Duration(s) * iv.dur)
	if y := t.Year(); y < minYear || y > maxYear {
		return Point{}, fmt.Errorf("%w: year %d from %s %s", ErrDomain, y, p, iv)
	}
	return DatetimePoint(t), nil
}

// Sub returns the point displaced backwards by the interval.
func (p Point) Sub(iv Interval) (Point, error) {
	return p.Add(iv.Negated())
}

// Int returns the integer value of an integer-mode point.
func (p Point) Int() int64 { return p.num }

// Time returns the timestamp of a datetime-mode point.
func (p Point) Time() time.Time { return p.t }

// MinPoint returns the smaller of two points.
func MinPoint(a, b Point) Point {
	if a.Compare(b) <= 0 {
		return a
	}
	return b
}

// MaxPoint returns the larger of two points.
func MaxPoint(a, b Point) Point {
	if a.Compare(b) >= 0 {
		return a
	}
	return b
}

// approxSeconds estimates an interval's span in seconds, used only for
// sizing validation horizons (months and years use nominal lengths).
func (iv Interval) approxSeconds() float64 {
	if iv.mode == ModeInteger {
		return float64(iv.steps)
	}
	secs := iv.dur.Seconds()
	secs += float64(iv.days) * 86400
	secs += float64(iv.months) * 86400 * 30
	secs += float64(iv.years) * 86400 * 365
	return math.Abs(secs)
}
