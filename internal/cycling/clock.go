package cycling

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Clock recurrences tie datetime cycling to wall-clock schedules expressed
// in crontab syntax ("0 6 * * *", "@daily", ...). They behave like any other
// recurrence, bounded below by the workflow's initial point.

func looksLikeCron(spec string) bool {
	return strings.HasPrefix(spec, "@") || strings.Count(strings.TrimSpace(spec), " ") >= 4
}

// ParseClockRecurrence parses a crontab expression into a recurrence over
// the datetime point domain.
func ParseClockRecurrence(spec string, initial, final Point) (Recurrence, error) {
	sched, err := cron.ParseStandard(spec)
	if err != nil {
		return Recurrence{}, fmt.Errorf("recurrence %q: %w", spec, err)
	}
	return Recurrence{start: initial, end: final, clock: sched}, nil
}

// clockOnOrAfter finds the first schedule activation at or after p.
func (r Recurrence) clockOnOrAfter(p Point) (Point, bool, error) {
	if p.Before(r.start) {
		p = r.start
	}
	// cron.Schedule.Next is strictly-after, so back off one second.
	t := r.clock.Next(p.Time().Add(-time.Second))
	if t.IsZero() {
		return Point{}, false, nil
	}
	next := DatetimePoint(t)
	if r.Bounded() && next.After(r.end) {
		return Point{}, false, nil
	}
	return next, true, nil
}
