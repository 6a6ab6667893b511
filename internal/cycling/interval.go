package cycling

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Interval is a displacement between cycle points: an integer step count in
// integer mode, or an ISO8601-like duration in datetime mode. Immutable.
type Interval struct {
	mode Mode
	sign int // +1 or -1

	steps int64 // integer mode, non-negative

	// datetime mode, all non-negative
	years  int
	months int
	days   int
	dur    time.Duration
}

var (
	integerIntervalRe  = regexp.MustCompile(`^([+-])?P(\d+)$`)
	durationIntervalRe = regexp.MustCompile(
		`^([+-])?P(?:(\d+)Y)?(?:(\d+)M)?(?:(\d+)W)?(?:(\d+)D)?` +
			`(?:T(?:(\d+)H)?(?:(\d+)M)?(?:(\d+)S)?)?$`)
)

// ParseInterval parses an interval literal in the given mode. Integer mode
// accepts "P<n>"; datetime mode accepts ISO8601 durations such as "PT6H",
// "P1D", "P1Y" or "P1DT12H". A leading "+" or "-" sets the direction.
func ParseInterval(s string, mode Mode) (Interval, error) {
	s = strings.TrimSpace(s)
	if mode == ModeInteger {
		m := integerIntervalRe.FindStringSubmatch(s)
		if m == nil {
			return Interval{}, fmt.Errorf("%w: interval %q", ErrInvalidPoint, s)
		}
		steps, err := strconv.ParseInt(m[2], 10, 64)
		if err != nil {
			return Interval{}, fmt.Errorf("%w: interval %q", ErrInvalidPoint, s)
		}
		return Interval{mode: ModeInteger, sign: parseSign(m[1]), steps: steps}, nil
	}

	m := durationIntervalRe.FindStringSubmatch(s)
	if m == nil || s == "P" || s == "+P" || s == "-P" {
		return Interval{}, fmt.Errorf("%w: interval %q", ErrInvalidPoint, s)
	}
	if m[2] == "" && m[3] == "" && m[4] == "" && m[5] == "" &&
		m[6] == "" && m[7] == "" && m[8] == "" {
		return Interval{}, fmt.Errorf("%w: interval %q", ErrInvalidPoint, s)
	}
	iv := Interval{mode: ModeDatetime, sign: parseSign(m[1])}
	iv.years = atoiOrZero(m[2])
	iv.months = atoiOrZero(m[3])
	iv.days = 7*atoiOrZero(m[4]) + atoiOrZero(m[5])
	iv.dur = time.Duration(atoiOrZero(m[6]))*time.Hour +
		time.Duration(atoiOrZero(m[7]))*time.Minute +
		time.Duration(atoiOrZero(m[8]))*time.Second
	return iv, nil
}

func parseSign(s string) int {
	if s == "-" {
		return -1
	}
	return 1
}

func atoiOrZero(s string) int {
	if s == "" {
		return 0
	}
	n, _ := strconv.Atoi(s)
	return n
}

// IntegerInterval returns an integer-mode interval of the given step count.
func IntegerInterval(steps int64) Interval {
	sign := 1
	if steps < 0 {
		sign = -1
		steps = -steps
	}
	return Interval{mode: ModeInteger, sign: sign, steps: steps}
}

// Mode returns the cycling mode the interval belongs to.
func (iv Interval) Mode() Mode { return iv.mode }

// IsZero reports whether the interval is a zero displacement.
func (iv Interval) IsZero() bool {
	if iv.mode == ModeInteger {
		return iv.steps == 0
	}
	return iv.years == 0 && iv.months == 0 && iv.days == 0 && iv.dur == 0
}

// Negative reports whether the interval points backwards.
func (iv Interval) Negative() bool { return iv.sign < 0 }

// Negated returns the interval with its direction flipped.
func (iv Interval) Negated() Interval {
	iv.sign = -iv.sign
	return iv
}

func (iv Interval) String() string {
	var b strings.Builder
	if iv.sign < 0 {
		b.WriteByte('-')
	}
	b.WriteByte('P')
	if iv.mode == ModeInteger {
		b.WriteString(strconv.FormatInt(iv.steps, 10))
		return b.String()
	}
	if iv.years > 0 {
		fmt.Fprintf(&b, "%dY", iv.years)
	}
	if iv.months > 0 {
		fmt.Fprintf(&b, "%dM", iv.months)
	}
	if iv.days > 0 {
		fmt.Fprintf(&b, "%dD", iv.days)
	}
	if iv.dur > 0 {
		b.WriteByte('T')
		d := iv.dur
		if h := d / time.Hour; h > 0 {
			fmt.Fprintf(&b, "%dH", h)
			d -= h * time.Hour
		}
		if m := d / time.Minute; m > 0 {
			fmt.Fprintf(&b, "%dM", m)
			d -= m * time.Minute
		}
		if s := d / time.Second; s > 0 {
			fmt.Fprintf(&b, "%dS", s)
		}
	}
	if b.Len() == 1 || (iv.sign < 0 && b.Len() == 2) {
		b.WriteString("0D")
	}
	return b.String()
}
