// Package calendar evaluates five-field schedule expressions
// (minute hour day-of-month month weekday) against wall-clock instants.
//
// Unlike classic cron, both day fields are AND-ed: a schedule restricting
// day-of-month and weekday only fires when both match. Any malformed
// expression is never due.
package calendar

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var ErrInvalidSchedule = errors.New("invalid schedule expression")

type field int

const (
	fieldMinute field = iota
	fieldHour
	fieldDayOfMonth
	fieldMonth
	fieldWeekday
)

var fieldNames = [...]string{"minute", "hour", "day-of-month", "month", "weekday"}

// bounds per field, inclusive
var bounds = [...][2]int{
	{0, 59},
	{0, 23},
	{1, 31},
	{1, 12},
	{0, 6},
}

const fieldCount = 5

// maxSearch bounds Next so that impossible combinations (e.g. Feb 30) terminate
const maxSearch = 4 * 366 * 24 * time.Hour

type termKind int

const (
	kindWildcard termKind = iota
	kindRange
	kindValue
)

type term struct {
	kind termKind
	lo   int
	hi   int
	step int
}

func (t term) matches(v int) bool {
	switch t.kind {
	case kindWildcard:
		return v%t.step == 0
	case kindRange:
		return v >= t.lo && v <= t.hi && (v-t.lo)%t.step == 0
	default:
		return v == t.lo && v%t.step == 0
	}
}

// Expression is a parsed, immutable schedule
type Expression struct {
	raw    string
	fields [fieldCount][]term
}

// Parse validates expr and returns its parsed form. The returned error wraps
// ErrInvalidSchedule.
func Parse(expr string) (Expression, error) {
	parts := strings.Fields(expr)
	if len(parts) != fieldCount {
		return Expression{}, fmt.Errorf("%w: expected %d fields, got %d", ErrInvalidSchedule, fieldCount, len(parts))
	}

	e := Expression{raw: strings.Join(parts, " ")}
	for i, part := range parts {
		terms, err := parseField(part, field(i))
		if err != nil {
			return Expression{}, fmt.Errorf("%w: %s field %q: %v", ErrInvalidSchedule, fieldNames[i], part, err)
		}
		e.fields[i] = terms
	}
	return e, nil
}

// IsDue reports whether expr is due at now. Malformed expressions are never due.
func IsDue(expr string, now time.Time) bool {
	e, err := Parse(expr)
	if err != nil {
		return false
	}
	return e.Matches(now)
}

// Valid reports whether expr parses
func Valid(expr string) bool {
	_, err := Parse(expr)
	return err == nil
}

func (e Expression) String() string {
	return e.raw
}

// Matches reports whether all five fields match the instant
func (e Expression) Matches(t time.Time) bool {
	if e.raw == "" {
		return false
	}
	values := [fieldCount]int{t.Minute(), t.Hour(), t.Day(), int(t.Month()), int(t.Weekday())}
	for i, v := range values {
		if !e.fieldMatches(field(i), v) {
			return false
		}
	}
	return true
}

// Next returns the first minute strictly after the given instant at which the
// expression is due. ok is false when nothing matches within four years.
func (e Expression) Next(after time.Time) (next time.Time, ok bool) {
	if e.raw == "" {
		return time.Time{}, false
	}
	loc := after.Location()
	t := after.Truncate(time.Minute).Add(time.Minute)
	limit := after.Add(maxSearch)

	for t.Before(limit) {
		if !e.fieldMatches(fieldMonth, int(t.Month())) {
			t = time.Date(t.Year(), t.Month()+1, 1, 0, 0, 0, 0, loc)
			continue
		}
		if !e.fieldMatches(fieldDayOfMonth, t.Day()) || !e.fieldMatches(fieldWeekday, int(t.Weekday())) {
			t = time.Date(t.Year(), t.Month(), t.Day()+1, 0, 0, 0, 0, loc)
			continue
		}
		if !e.fieldMatches(fieldHour, t.Hour()) {
			t = time.Date(t.Year(), t.Month(), t.Day(), t.Hour()+1, 0, 0, 0, loc)
			continue
		}
		if !e.fieldMatches(fieldMinute, t.Minute()) {
			t = t.Add(time.Minute)
			continue
		}
		return t, true
	}
	return time.Time{}, false
}

func (e Expression) fieldMatches(f field, v int) bool {
	for _, t := range e.fields[f] {
		if t.matches(v) {
			return true
		}
	}
	return false
}

func parseField(s string, f field) ([]term, error) {
	raw := strings.Split(s, ",")
	terms := make([]term, 0, len(raw))
	for _, r := range raw {
		t, err := parseTerm(r, f)
		if err != nil {
			return nil, err
		}
		terms = append(terms, t)
	}
	return terms, nil
}

func parseTerm(s string, f field) (term, error) {
	if s == "" {
		return term{}, errors.New("empty term")
	}

	body, stepStr, hasStep := strings.Cut(s, "/")
	step := 1
	if hasStep {
		n, err := number(stepStr)
		if err != nil {
			return term{}, fmt.Errorf("step: %w", err)
		}
		step = max(n, 1)
	}

	if body == "*" {
		return term{kind: kindWildcard, step: step}, nil
	}

	lo, hi := bounds[f][0], bounds[f][1]
	if a, b, isRange := strings.Cut(body, "-"); isRange {
		start, err := number(a)
		if err != nil {
			return term{}, err
		}
		end, err := number(b)
		if err != nil {
			return term{}, err
		}
		if start > end {
			return term{}, fmt.Errorf("inverted range %d-%d", start, end)
		}
		if start < lo || end > hi {
			return term{}, fmt.Errorf("range %d-%d outside %d-%d", start, end, lo, hi)
		}
		return term{kind: kindRange, lo: start, hi: end, step: step}, nil
	}

	v, err := number(body)
	if err != nil {
		return term{}, err
	}
	if v < lo || v > hi {
		return term{}, fmt.Errorf("value %d outside %d-%d", v, lo, hi)
	}
	return term{kind: kindValue, lo: v, hi: v, step: step}, nil
}

// number accepts plain decimal digits only, so "+5" and "-5" are rejected
func number(s string) (int, error) {
	if s == "" {
		return 0, errors.New("missing number")
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, fmt.Errorf("not a number: %q", s)
		}
	}
	return strconv.Atoi(s)
}
