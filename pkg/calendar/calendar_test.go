package calendar

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 2024-01-01 is a Monday
var monday = time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)

func matchingMinutes(t *testing.T, expr string) []int {
	t.Helper()
	var got []int
	for m := 0; m < 60; m++ {
		if IsDue(expr, monday.Add(time.Duration(m)*time.Minute)) {
			got = append(got, m)
		}
	}
	return got
}

func TestStepOverWildcardFullDay(t *testing.T) {
	var got []time.Time
	for m := 0; m < 24*60; m++ {
		at := monday.Add(time.Duration(m) * time.Minute)
		if IsDue("*/15 * * * *", at) {
			got = append(got, at)
		}
	}

	require.Len(t, got, 24*4)
	for _, at := range got {
		assert.Contains(t, []int{0, 15, 30, 45}, at.Minute())
	}
}

func TestFieldTerms(t *testing.T) {
	tests := []struct {
		name string
		expr string
		want []int
	}{
		{"range with step", "10-20/5 * * * *", []int{10, 15, 20}},
		{"plain range", "3-6 * * * *", []int{3, 4, 5, 6}},
		{"list", "1,7,59 * * * *", []int{1, 7, 59}},
		{"mixed list", "0-2,30,*/20 * * * *", []int{0, 1, 2, 20, 30, 40}},
		{"single value", "42 * * * *", []int{42}},
		{"value with step divisible", "10/5 * * * *", []int{10}},
		{"value with step not divisible", "12/5 * * * *", nil},
		{"zero step clamps to one", "*/0 * * * *", allMinutes()},
		{"wildcard", "* * * * *", allMinutes()},
		{"range step from offset", "7-30/10 * * * *", []int{7, 17, 27}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, matchingMinutes(t, tt.expr))
		})
	}
}

func allMinutes() []int {
	m := make([]int, 60)
	for i := range m {
		m[i] = i
	}
	return m
}

func TestWrongFieldCountNeverMatches(t *testing.T) {
	for _, expr := range []string{"* * * *", "* * * * * *", "", "*"} {
		t.Run(expr, func(t *testing.T) {
			_, err := Parse(expr)
			assert.True(t, errors.Is(err, ErrInvalidSchedule))

			for m := 0; m < 24*60; m++ {
				if IsDue(expr, monday.Add(time.Duration(m)*time.Minute)) {
					t.Fatalf("%q matched at minute %d", expr, m)
				}
			}
		})
	}
}

func TestMalformedTermsFailClosed(t *testing.T) {
	for _, expr := range []string{
		"a * * * *",
		"20-10 * * * *",
		"1,,2 * * * *",
		"*/x * * * *",
		"-5 * * * *",
		"+5 * * * *",
		"60 * * * *",
		"* 24 * * *",
		"* * 0 * *",
		"* * * 13 *",
		"* * * * 7",
		"1-2-3 * * * *",
		"* * * * mon",
	} {
		t.Run(expr, func(t *testing.T) {
			_, err := Parse(expr)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidSchedule)
			assert.False(t, Valid(expr))
			assert.False(t, IsDue(expr, monday))
		})
	}
}

func TestNewYearOnly(t *testing.T) {
	assert.True(t, IsDue("0 0 1 1 *", monday))
	assert.False(t, IsDue("0 0 1 1 *", monday.Add(time.Minute)))
	assert.False(t, IsDue("0 0 1 1 *", monday.Add(time.Hour)))
	assert.False(t, IsDue("0 0 1 1 *", monday.AddDate(0, 0, 1)))
	assert.False(t, IsDue("0 0 1 1 *", monday.AddDate(0, 1, 0)))
	assert.True(t, IsDue("0 0 1 1 *", monday.AddDate(1, 0, 0)))
}

func TestDayFieldsAreAnded(t *testing.T) {
	expr := "0 12 13 * 5"

	friday13 := time.Date(2024, time.September, 13, 12, 0, 0, 0, time.UTC)
	saturday13 := time.Date(2024, time.January, 13, 12, 0, 0, 0, time.UTC)
	friday20 := time.Date(2024, time.September, 20, 12, 0, 0, 0, time.UTC)

	require.Equal(t, time.Friday, friday13.Weekday())
	require.Equal(t, time.Saturday, saturday13.Weekday())
	require.Equal(t, time.Friday, friday20.Weekday())

	assert.True(t, IsDue(expr, friday13))
	assert.False(t, IsDue(expr, saturday13))
	assert.False(t, IsDue(expr, friday20))
}

func TestWeekdaySundayIsZero(t *testing.T) {
	sunday := monday.AddDate(0, 0, 6)
	require.Equal(t, time.Sunday, sunday.Weekday())

	assert.True(t, IsDue("0 0 * * 0", sunday))
	assert.False(t, IsDue("0 0 * * 0", monday))
	assert.True(t, IsDue("0 0 * * 1-5", monday))
}

func TestIsDueDeterministic(t *testing.T) {
	at := time.Date(2024, time.March, 5, 9, 30, 0, 0, time.UTC)
	for _, expr := range []string{"*/15 9-17 * * 1-5", "0 0 1 1 *", "bad"} {
		first := IsDue(expr, at)
		for i := 0; i < 10; i++ {
			assert.Equal(t, first, IsDue(expr, at))
		}
	}
}

func TestParseNormalizesWhitespace(t *testing.T) {
	e, err := Parse("  */5   *  * * *  ")
	require.NoError(t, err)
	assert.Equal(t, "*/5 * * * *", e.String())
}

func TestZeroExpressionNeverMatches(t *testing.T) {
	var e Expression
	assert.False(t, e.Matches(monday))
	_, ok := e.Next(monday)
	assert.False(t, ok)
}

func TestNext(t *testing.T) {
	tests := []struct {
		name  string
		expr  string
		after time.Time
		want  time.Time
	}{
		{
			name:  "next quarter hour",
			expr:  "*/15 * * * *",
			after: time.Date(2024, time.January, 1, 10, 7, 30, 0, time.UTC),
			want:  time.Date(2024, time.January, 1, 10, 15, 0, 0, time.UTC),
		},
		{
			name:  "strictly after a matching minute",
			expr:  "*/15 * * * *",
			after: time.Date(2024, time.January, 1, 10, 15, 0, 0, time.UTC),
			want:  time.Date(2024, time.January, 1, 10, 30, 0, 0, time.UTC),
		},
		{
			name:  "new year",
			expr:  "0 0 1 1 *",
			after: time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC),
			want:  time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC),
		},
		{
			name:  "weekday business hours",
			expr:  "30 9 * * 1-5",
			after: time.Date(2024, time.January, 5, 10, 0, 0, 0, time.UTC), // Friday
			want:  time.Date(2024, time.January, 8, 9, 30, 0, 0, time.UTC),
		},
		{
			name:  "friday the thirteenth",
			expr:  "0 0 13 * 5",
			after: time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC),
			want:  time.Date(2024, time.September, 13, 0, 0, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, err := Parse(tt.expr)
			require.NoError(t, err)

			got, ok := e.Next(tt.after)
			require.True(t, ok)
			assert.Equal(t, tt.want, got)
			assert.True(t, e.Matches(got))
		})
	}
}

func TestNextImpossibleDate(t *testing.T) {
	e, err := Parse("0 0 30 2 *")
	require.NoError(t, err)

	_, ok := e.Next(monday)
	assert.False(t, ok)
}
