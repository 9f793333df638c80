package scheduler

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Schedule defines when a job should run.
type Schedule interface {
	// Next returns the next run time strictly after t.
	Next(t time.Time) time.Time

	// String returns a human-readable representation of the schedule.
	String() string
}

// ParseSchedule accepts a 5-field cron expression or "@every <duration>".
func ParseSchedule(expr string) (Schedule, error) {
	expr = strings.TrimSpace(expr)
	if rest, ok := strings.CutPrefix(expr, "@every"); ok {
		d, err := time.ParseDuration(strings.TrimSpace(rest))
		if err != nil {
			return nil, fmt.Errorf("invalid interval %q: %w", expr, err)
		}
		if d < time.Second {
			return nil, fmt.Errorf("interval %s is below one second", d)
		}
		return NewIntervalSchedule(d), nil
	}
	return ParseCronExpression(expr)
}

// ══════════════════════════════════════════════════════════════════════════════
// INTERVAL
// ══════════════════════════════════════════════════════════════════════════════

// IntervalSchedule schedules a job to run at a fixed interval.
type IntervalSchedule struct {
	Interval time.Duration
}

// NewIntervalSchedule creates a new IntervalSchedule.
func NewIntervalSchedule(interval time.Duration) *IntervalSchedule {
	return &IntervalSchedule{Interval: interval}
}

// Next returns the next scheduled time.
func (s *IntervalSchedule) Next(t time.Time) time.Time {
	return t.Add(s.Interval)
}

func (s *IntervalSchedule) String() string {
	return "@every " + s.Interval.String()
}

// ══════════════════════════════════════════════════════════════════════════════
// CRON
// ══════════════════════════════════════════════════════════════════════════════

// CronExpression is a parsed 5-field cron expression:
// minute hour day-of-month month day-of-week.
// Each field supports *, */n, n, n-m, n-m/s and comma lists.
// As in classic cron, when both day fields are restricted a time matches if
// either of them does.
type CronExpression struct {
	raw      string
	minutes  uint64
	hours    uint64
	days     uint64
	months   uint64
	weekdays uint64

	daysRestricted     bool
	weekdaysRestricted bool
}

type cronField struct {
	name     string
	min, max int
}

var cronFields = [5]cronField{
	{"minute", 0, 59},
	{"hour", 0, 23},
	{"day", 1, 31},
	{"month", 1, 12},
	{"weekday", 0, 6},
}

// ParseCronExpression parses a cron expression string.
func ParseCronExpression(expr string) (*CronExpression, error) {
	parts := strings.Fields(expr)
	if len(parts) != len(cronFields) {
		return nil, fmt.Errorf("invalid cron expression: expected 5 fields, got %d", len(parts))
	}

	var masks [5]uint64
	for i, f := range cronFields {
		mask, err := parseCronField(parts[i], f.min, f.max)
		if err != nil {
			return nil, fmt.Errorf("invalid %s field: %w", f.name, err)
		}
		masks[i] = mask
	}

	return &CronExpression{
		raw:                expr,
		minutes:            masks[0],
		hours:              masks[1],
		days:               masks[2],
		months:             masks[3],
		weekdays:           masks[4],
		daysRestricted:     parts[2] != "*",
		weekdaysRestricted: parts[4] != "*",
	}, nil
}

// MustParseCronExpression parses a cron expression or panics.
func MustParseCronExpression(expr string) *CronExpression {
	ce, err := ParseCronExpression(expr)
	if err != nil {
		panic(fmt.Sprintf("invalid cron expression %q: %v", expr, err))
	}
	return ce
}

func parseCronField(field string, min, max int) (uint64, error) {
	var mask uint64
	for _, item := range strings.Split(field, ",") {
		lo, hi, step := min, max, 1

		rangePart, stepPart, hasStep := strings.Cut(item, "/")
		if hasStep {
			s, err := strconv.Atoi(stepPart)
			if err != nil || s <= 0 {
				return 0, fmt.Errorf("invalid step %q", stepPart)
			}
			step = s
		}

		switch {
		case rangePart == "*":
		case strings.Contains(rangePart, "-"):
			a, b, _ := strings.Cut(rangePart, "-")
			var err error
			if lo, err = strconv.Atoi(a); err != nil {
				return 0, fmt.Errorf("invalid range start %q", a)
			}
			if hi, err = strconv.Atoi(b); err != nil {
				return 0, fmt.Errorf("invalid range end %q", b)
			}
		default:
			v, err := strconv.Atoi(rangePart)
			if err != nil {
				return 0, fmt.Errorf("invalid value %q", rangePart)
			}
			lo = v
			if !hasStep {
				hi = v
			}
		}

		if lo < min || hi > max || lo > hi {
			return 0, fmt.Errorf("%q out of range [%d-%d]", item, min, max)
		}
		for v := lo; v <= hi; v += step {
			mask |= 1 << uint(v)
		}
	}
	return mask, nil
}

func (ce *CronExpression) String() string {
	return ce.raw
}

// Next returns the first matching minute after t, or the zero time when the
// expression matches nothing within five years (e.g. "0 0 31 2 *").
func (ce *CronExpression) Next(t time.Time) time.Time {
	next := time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute()+1, 0, 0, t.Location())
	limit := next.AddDate(5, 0, 0)

	for next.Before(limit) {
		if ce.months&(1<<uint(next.Month())) == 0 {
			next = time.Date(next.Year(), next.Month()+1, 1, 0, 0, 0, 0, next.Location())
			continue
		}
		if !ce.dayMatches(next) {
			next = time.Date(next.Year(), next.Month(), next.Day()+1, 0, 0, 0, 0, next.Location())
			continue
		}
		if ce.hours&(1<<uint(next.Hour())) == 0 {
			next = time.Date(next.Year(), next.Month(), next.Day(), next.Hour()+1, 0, 0, 0, next.Location())
			continue
		}
		if ce.minutes&(1<<uint(next.Minute())) == 0 {
			next = next.Add(time.Minute)
			continue
		}
		return next
	}
	return time.Time{}
}

func (ce *CronExpression) dayMatches(t time.Time) bool {
	dom := ce.days&(1<<uint(t.Day())) != 0
	dow := ce.weekdays&(1<<uint(t.Weekday())) != 0
	if ce.daysRestricted && ce.weekdaysRestricted {
		return dom || dow
	}
	return dom && dow
}
