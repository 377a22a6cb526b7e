package ledger

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/0xPuncker/panelcron/pkg/types"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type markCall struct {
	id      int64
	at      time.Time
	summary *types.RunSummary
}

type fakeMarker struct {
	calls []markCall
	err   error
}

func (f *fakeMarker) MarkRun(ctx context.Context, id int64, at time.Time, summary *types.RunSummary) error {
	f.calls = append(f.calls, markCall{id: id, at: at, summary: summary})
	return f.err
}

type fakeNotifier struct {
	alerts []types.Outcome
}

func (f *fakeNotifier) SendFailureAlert(outcome types.Outcome) error {
	f.alerts = append(f.alerts, outcome)
	return nil
}

var now = time.Date(2024, time.May, 4, 10, 30, 0, 0, time.UTC)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func executed(id int64, code int, output ...string) types.Outcome {
	return types.Outcome{
		JobID:    id,
		Owner:    "alice",
		Schedule: "* * * * *",
		State:    types.StateExecuted,
		ExitCode: &code,
		Output:   output,
		Started:  now,
	}
}

func TestRecordExecuted(t *testing.T) {
	var out bytes.Buffer
	marker := &fakeMarker{}
	l := New(marker, &out, quietLogger(), Options{})

	require.NoError(t, l.Record(context.Background(), now, executed(4, 0, "hello", "world")))

	assert.Equal(t, "[RUN] Job #4 (* * * * *) rc=0\nhello\nworld\n", out.String())
	require.Len(t, marker.calls, 1)
	assert.Equal(t, int64(4), marker.calls[0].id)
	assert.Equal(t, now, marker.calls[0].at)
	assert.Equal(t, &types.RunSummary{ExitCode: 0, Output: "hello\nworld"}, marker.calls[0].summary)
}

func TestRecordFailedRunStillMarked(t *testing.T) {
	var out bytes.Buffer
	marker := &fakeMarker{}
	notifier := &fakeNotifier{}
	l := New(marker, &out, quietLogger(), Options{Notifier: notifier})

	require.NoError(t, l.Record(context.Background(), now, executed(5, 3, "boom")))

	assert.Equal(t, "[RUN] Job #5 (* * * * *) rc=3\nboom\n", out.String())
	require.Len(t, marker.calls, 1)
	assert.Equal(t, 3, marker.calls[0].summary.ExitCode)
	require.Len(t, notifier.alerts, 1)
	assert.Equal(t, int64(5), notifier.alerts[0].JobID)
}

func TestRecordSkipped(t *testing.T) {
	tests := []struct {
		state       types.State
		markSkipped bool
		wantMark    bool
	}{
		{types.StateSkippedInvalidCommandShape, false, false},
		{types.StateSkippedOutsideSandbox, false, false},
		{types.StateSkippedInvalidCommandShape, true, true},
		{types.StateSkippedOutsideSandbox, true, true},
		{types.StateSkippedNotDue, true, false},
		{types.StateSkippedInvalidSchedule, true, false},
		{types.StateSkippedLocked, true, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.state), func(t *testing.T) {
			var out bytes.Buffer
			marker := &fakeMarker{}
			notifier := &fakeNotifier{}
			l := New(marker, &out, quietLogger(), Options{MarkSkipped: tt.markSkipped, Notifier: notifier})

			err := l.Record(context.Background(), now, types.Outcome{JobID: 9, State: tt.state, Reason: "because"})
			require.NoError(t, err)

			assert.Equal(t, "[SKIP] Job #9 because\n", out.String())
			assert.Empty(t, notifier.alerts)
			if tt.wantMark {
				require.Len(t, marker.calls, 1)
				assert.Nil(t, marker.calls[0].summary)
			} else {
				assert.Empty(t, marker.calls)
			}
		})
	}
}

func TestQuietNotDue(t *testing.T) {
	var out bytes.Buffer
	l := New(&fakeMarker{}, &out, quietLogger(), Options{QuietNotDue: true})

	require.NoError(t, l.Record(context.Background(), now, types.Outcome{JobID: 1, State: types.StateSkippedNotDue, Reason: "not due"}))
	require.NoError(t, l.Record(context.Background(), now, types.Outcome{JobID: 2, State: types.StateSkippedOutsideSandbox, Reason: "outside"}))

	assert.Equal(t, "[SKIP] Job #2 outside\n", out.String())
}

func TestRecordMarkError(t *testing.T) {
	marker := &fakeMarker{err: errors.New("db down")}
	l := New(marker, io.Discard, quietLogger(), Options{})

	err := l.Record(context.Background(), now, executed(1, 0))
	assert.Error(t, err)
}

func TestSummaryIsTruncated(t *testing.T) {
	marker := &fakeMarker{}
	l := New(marker, io.Discard, quietLogger(), Options{MaxOutputBytes: 32})

	long := strings.Repeat("x", 100) + "TAIL"
	require.NoError(t, l.Record(context.Background(), now, executed(1, 0, long)))

	got := marker.calls[0].summary.Output
	assert.Len(t, got, 32)
	assert.True(t, strings.HasPrefix(got, "...\n"))
	assert.True(t, strings.HasSuffix(got, "TAIL"))
}

func TestTruncateTail(t *testing.T) {
	assert.Equal(t, "short", truncateTail("short", 10))
	assert.Equal(t, "cd", truncateTail("abcd", 2))
	// never splits a multi-byte rune
	got := truncateTail(strings.Repeat("é", 20), 11)
	assert.True(t, strings.HasPrefix(got, "...\n"))
	assert.Equal(t, "...\nééé", got)
}
