package service

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// CronSchedule is a five-field cron expression restricted to wildcards and
// comma-separated discrete values (no ranges or steps). Fields are minute,
// hour, day of month, month, day of week.
type CronSchedule struct {
	minutes  map[int]bool // nil means any
	hours    map[int]bool
	days     map[int]bool
	months   map[int]bool
	weekdays map[int]bool
}

type cronField struct {
	name string
	min  int
	max  int
}

var cronFields = []cronField{
	{"minute", 0, 59},
	{"hour", 0, 23},
	{"day of month", 1, 31},
	{"month", 1, 12},
	{"day of week", 0, 6},
}

// ParseCron parses an expression like "0 3 * * *" (daily at 03:00).
func ParseCron(expr string) (*CronSchedule, error) {
	parts := strings.Fields(expr)
	if len(parts) != len(cronFields) {
		return nil, fmt.Errorf("%w: expected %d cron fields, got %d", ErrInvalidConfig, len(cronFields), len(parts))
	}

	sets := make([]map[int]bool, len(cronFields))
	for i, part := range parts {
		set, err := parseCronField(part, cronFields[i])
		if err != nil {
			return nil, err
		}
		sets[i] = set
	}

	return &CronSchedule{
		minutes:  sets[0],
		hours:    sets[1],
		days:     sets[2],
		months:   sets[3],
		weekdays: sets[4],
	}, nil
}

func parseCronField(part string, f cronField) (map[int]bool, error) {
	if part == "*" {
		return nil, nil
	}
	set := make(map[int]bool)
	for _, tok := range strings.Split(part, ",") {
		v, err := strconv.Atoi(tok)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid %s value %q", ErrInvalidConfig, f.name, tok)
		}
		if v < f.min || v > f.max {
			return nil, fmt.Errorf("%w: %s value %d out of range [%d,%d]", ErrInvalidConfig, f.name, v, f.min, f.max)
		}
		set[v] = true
	}
	return set, nil
}

func matchField(set map[int]bool, v int) bool {
	return set == nil || set[v]
}

// Matches reports whether the instant (truncated to the minute) satisfies the
// schedule.
func (c *CronSchedule) Matches(t time.Time) bool {
	return matchField(c.minutes, t.Minute()) &&
		matchField(c.hours, t.Hour()) &&
		matchField(c.days, t.Day()) &&
		matchField(c.months, int(t.Month())) &&
		matchField(c.weekdays, int(t.Weekday()))
}

// Next returns the first matching instant strictly after t, scanning minute
// by minute. The four-year horizon bounds degenerate expressions like a
// February 30th.
func (c *CronSchedule) Next(t time.Time) time.Time {
	cur := t.Truncate(time.Minute).Add(time.Minute)
	horizon := t.AddDate(4, 0, 0)
	for cur.Before(horizon) {
		if c.Matches(cur) {
			return cur
		}
		cur = cur.Add(time.Minute)
	}
	return time.Time{}
}
