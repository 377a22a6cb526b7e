package cron

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/0xPuncker/panelcron/internal/testutil"
	"github.com/0xPuncker/panelcron/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchedulerRunNowKeepsLastReport(t *testing.T) {
	web := testutil.NewWebRoot(t)
	script := web.Script(t, "alice", "x.php", "echo ok\n")
	h := newHarness(t, web, job(1, "alice", "* * * * *", "php "+script))

	s := NewScheduler(h.driver, testutil.Logger(), time.UTC)

	last, err := s.LastReport()
	assert.Nil(t, last)
	assert.NoError(t, err)

	report, err := s.RunNow(context.Background())
	require.NoError(t, err)

	last, err = s.LastReport()
	require.NoError(t, err)
	assert.Same(t, report, last)
	assert.Equal(t, 1, last.Count(types.StateExecuted))

	// a failed pass keeps the previous report but surfaces the error
	h.store.Err = errors.New("database is locked")
	_, err = s.RunNow(context.Background())
	require.ErrorIs(t, err, ErrSourceUnavailable)

	last, err = s.LastReport()
	assert.Same(t, report, last)
	assert.ErrorIs(t, err, ErrSourceUnavailable)
}

func TestSchedulerStartStop(t *testing.T) {
	h := newHarness(t, testutil.NewWebRoot(t))
	s := NewScheduler(h.driver, testutil.Logger(), time.UTC)

	assert.False(t, s.IsRunning())
	assert.True(t, s.NextTick().IsZero())

	require.NoError(t, s.Start())
	assert.True(t, s.IsRunning())
	assert.Error(t, s.Start())

	next := s.NextTick()
	assert.False(t, next.IsZero())
	assert.Equal(t, 0, next.Second())
	assert.WithinDuration(t, time.Now(), next, time.Minute+time.Second)

	s.Stop()
	assert.False(t, s.IsRunning())
	assert.True(t, s.NextTick().IsZero())

	// restarting reuses the existing entry
	require.NoError(t, s.Start())
	assert.Len(t, s.cron.Entries(), 1)
	s.Stop()
	s.Stop()
}

func TestCronLoggerFields(t *testing.T) {
	f := fields([]interface{}{"now", "x", "entry", 3, "dangling"})
	assert.Equal(t, "x", f["now"])
	assert.Equal(t, 3, f["entry"])
	assert.Len(t, f, 2)
}
