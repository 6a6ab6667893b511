package cycling

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParsePointInteger(t *testing.T) {
	p, err := ParsePoint("42", ModeInteger)
	require.NoError(t, err)
	require.Equal(t, int64(42), p.Int())
	require.Equal(t, "42", p.String())

	_, err = ParsePoint("abc", ModeInteger)
	require.ErrorIs(t, err, ErrInvalidPoint)

	_, err = ParsePoint("", ModeInteger)
	require.ErrorIs(t, err, ErrInvalidPoint)
}

func TestParsePointDatetime(t *testing.T) {
	for _, literal := range []string{
		"20100101T0000Z",
		"2010-01-01T00:00Z",
		"20100101",
	} {
		p, err := ParsePoint(literal, ModeDatetime)
		require.NoError(t, err, "literal %q", literal)
		require.Equal(t, "20100101T0000Z", p.String())
	}

	_, err := ParsePoint("2010-13-40", ModeDatetime)
	require.ErrorIs(t, err, ErrInvalidPoint)
}

func TestPointOrdering(t *testing.T) {
	a := IntegerPoint(1)
	b := IntegerPoint(2)
	require.True(t, a.Before(b))
	require.True(t, b.After(a))
	require.True(t, a.Equal(IntegerPoint(1)))
	require.Equal(t, a, MinPoint(a, b))
	require.Equal(t, b, MaxPoint(a, b))
}

func TestIntervalParse(t *testing.T) {
	tests := []struct {
		spec string
		mode Mode
		want string
	}{
		{"P3", ModeInteger, "P3"},
		{"-P1", ModeInteger, "-P1"},
		{"PT6H", ModeDatetime, "PT6H"},
		{"P1Y", ModeDatetime, "P1Y"},
		{"-P1Y", ModeDatetime, "-P1Y"},
		{"P1DT12H", ModeDatetime, "P1DT12H"},
		{"P2W", ModeDatetime, "P14D"},
	}
	for _, tc := range tests {
		iv, err := ParseInterval(tc.spec, tc.mode)
		require.NoError(t, err, "spec %q", tc.spec)
		require.Equal(t, tc.want, iv.String())
	}

	for _, bad := range []string{"", "P", "3", "PT", "P1X", "PT6H!"} {
		_, err := ParseInterval(bad, ModeDatetime)
		require.ErrorIs(t, err, ErrInvalidPoint, "spec %q", bad)
	}
}

func TestPointArithmetic(t *testing.T) {
	p := IntegerPoint(5)
	step, err := ParseInterval("P3", ModeInteger)
	require.NoError(t, err)

	next, err := p.Add(step)
	require.NoError(t, err)
	require.Equal(t, int64(8), next.Int())

	prev, err := p.Sub(step)
	require.NoError(t, err)
	require.Equal(t, int64(2), prev.Int())

	start, err := ParsePoint("20100101T0000Z", ModeDatetime)
	require.NoError(t, err)
	year, err := ParseInterval("P1Y", ModeDatetime)
	require.NoError(t, err)
	next, err = start.Add(year)
	require.NoError(t, err)
	require.Equal(t, "20110101T0000Z", next.String())
	back, err := next.Add(year.Negated())
	require.NoError(t, err)
	require.True(t, back.Equal(start))
}

func TestPointArithmeticDomainErrors(t *testing.T) {
	// Mixed modes.
	_, err := IntegerPoint(1).Add(Interval{mode: ModeDatetime, sign: 1, dur: time.Hour})
	require.ErrorIs(t, err, ErrDomain)

	// Integer overflow.
	_, err = IntegerPoint(math.MaxInt64).Add(IntegerInterval(1))
	require.ErrorIs(t, err, ErrDomain)

	// Calendar bounds.
	far, err := ParsePoint("99990101T0000Z", ModeDatetime)
	require.NoError(t, err)
	year, err := ParseInterval("P1Y", ModeDatetime)
	require.NoError(t, err)
	_, err = far.Add(year)
	require.ErrorIs(t, err, ErrDomain)
}

func TestRecurrencePoints(t *testing.T) {
	initial := IntegerPoint(1)
	final := IntegerPoint(10)

	r, err := ParseRecurrence("P3", ModeInteger, initial, final)
	require.NoError(t, err)

	points, err := r.Points(IntegerPoint(1), IntegerPoint(10))
	require.NoError(t, err)
	require.Equal(t, []Point{
		IntegerPoint(1), IntegerPoint(4), IntegerPoint(7), IntegerPoint(10),
	}, points)

	// Expansion is a pure function of the window: identical on repeat and
	// unaffected by prior overlapping requests.
	again, err := r.Points(IntegerPoint(1), IntegerPoint(10))
	require.NoError(t, err)
	require.Equal(t, points, again)

	mid, err := r.Points(IntegerPoint(4), IntegerPoint(8))
	require.NoError(t, err)
	require.Equal(t, []Point{IntegerPoint(4), IntegerPoint(7)}, mid)
}

func TestRecurrenceBounds(t *testing.T) {
	r, err := ParseRecurrence("P2", ModeInteger, IntegerPoint(1), IntegerPoint(5))
	require.NoError(t, err)

	// Nothing beyond the final point.
	points, err := r.Points(IntegerPoint(1), IntegerPoint(100))
	require.NoError(t, err)
	require.Equal(t, []Point{IntegerPoint(1), IntegerPoint(3), IntegerPoint(5)}, points)

	ok, err := r.Contains(IntegerPoint(3))
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = r.Contains(IntegerPoint(4))
	require.NoError(t, err)
	require.False(t, ok)

	_, ok, err = r.Next(IntegerPoint(5))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRecurrenceOnce(t *testing.T) {
	r, err := ParseRecurrence("R1", ModeInteger, IntegerPoint(3), IntegerPoint(9))
	require.NoError(t, err)

	points, err := r.Points(IntegerPoint(1), IntegerPoint(9))
	require.NoError(t, err)
	require.Equal(t, []Point{IntegerPoint(3)}, points)

	r, err = ParseRecurrence("R1/7", ModeInteger, IntegerPoint(3), IntegerPoint(9))
	require.NoError(t, err)
	points, err = r.Points(IntegerPoint(1), IntegerPoint(9))
	require.NoError(t, err)
	require.Equal(t, []Point{IntegerPoint(7)}, points)
}

func TestRecurrenceDatetime(t *testing.T) {
	initial, err := ParsePoint("20100101T0000Z", ModeDatetime)
	require.NoError(t, err)
	r, err := ParseRecurrence("PT6H", ModeDatetime, initial, Point{})
	require.NoError(t, err)

	hi, err := ParsePoint("20100101T1800Z", ModeDatetime)
	require.NoError(t, err)
	points, err := r.Points(initial, hi)
	require.NoError(t, err)
	require.Len(t, points, 4)
	require.Equal(t, "20100101T0600Z", points[1].String())
}

func TestClockRecurrence(t *testing.T) {
	initial, err := ParsePoint("20100101T0000Z", ModeDatetime)
	require.NoError(t, err)

	r, err := ParseRecurrence("0 6 * * *", ModeDatetime, initial, Point{})
	require.NoError(t, err)

	hi, err := ParsePoint("20100103T0000Z", ModeDatetime)
	require.NoError(t, err)
	points, err := r.Points(initial, hi)
	require.NoError(t, err)
	require.Equal(t, 2, len(points))
	require.Equal(t, "20100101T0600Z", points[0].String())
	require.Equal(t, "20100102T0600Z", points[1].String())

	_, err = ParseRecurrence("not a cron spec at all", ModeDatetime, initial, Point{})
	require.Error(t, err)
}

func TestRecurrenceRejectsBadStep(t *testing.T) {
	_, err := ParseRecurrence("-P1", ModeInteger, IntegerPoint(1), IntegerPoint(5))
	require.Error(t, err)
	_, err = ParseRecurrence("garbage", ModeInteger, IntegerPoint(1), IntegerPoint(5))
	require.Error(t, err)
}
