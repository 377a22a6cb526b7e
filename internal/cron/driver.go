package cron

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/0xPuncker/panelcron/internal/command"
	"github.com/0xPuncker/panelcron/internal/executor"
	"github.com/0xPuncker/panelcron/internal/lease"
	"github.com/0xPuncker/panelcron/pkg/calendar"
	"github.com/0xPuncker/panelcron/pkg/types"
	"github.com/0xPuncker/panelcron/pkg/utils"
	"github.com/sirupsen/logrus"
)

var ErrSourceUnavailable = errors.New("job source unavailable")

// spawnFailureExit is reported when the shell itself could not be started
const spawnFailureExit = 127

const DefaultLeaseTTL = 10 * time.Minute

type Source interface {
	EnabledJobs(ctx context.Context) ([]types.Job, error)
}

type Resolver interface {
	Resolve(path, owner string) (string, error)
}

type Runner interface {
	Run(cmd command.CommandString, dir string, env ...string) (executor.Result, error)
}

type Recorder interface {
	Record(ctx context.Context, now time.Time, outcome types.Outcome) error
}

type DriverConfig struct {
	Source      Source
	Sandbox     Resolver
	Interpreter command.Interpreter
	Executor    Runner
	Ledger      Recorder
	Leaser      lease.Leaser
	LeaseTTL    time.Duration
	Location    *time.Location
	Logger      *logrus.Logger
	// Clock defaults to time.Now
	Clock func() time.Time
}

// Driver runs one pass over the enabled jobs: every job is evaluated against
// the same instant and processed sequentially.
type Driver struct {
	cfg DriverConfig
}

func NewDriver(cfg DriverConfig) *Driver {
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = DefaultLeaseTTL
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &Driver{cfg: cfg}
}

// Run evaluates all enabled jobs at the current minute
func (d *Driver) Run(ctx context.Context) (*types.Report, error) {
	return d.RunAt(ctx, d.cfg.Clock())
}

// RunAt evaluates all enabled jobs at the minute containing at. Only a failure
// to list jobs is returned as an error; per-job problems end up in the report.
func (d *Driver) RunAt(ctx context.Context, at time.Time) (*types.Report, error) {
	now := at.In(d.cfg.Location).Truncate(time.Minute)
	logger := d.cfg.Logger

	jobs, err := d.cfg.Source.EnabledJobs(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSourceUnavailable, err)
	}

	logger.WithFields(logrus.Fields{
		"now":  now.Format(time.RFC3339),
		"jobs": len(jobs),
	}).Debug("Starting scheduler run")

	report := &types.Report{
		Now:      now,
		Outcomes: make([]types.Outcome, 0, len(jobs)),
	}

	for _, job := range jobs {
		if !job.Enabled {
			continue
		}

		outcome, release := d.process(ctx, now, job)
		if err := d.cfg.Ledger.Record(ctx, now, outcome); err != nil {
			logger.WithError(err).WithField("job_id", job.ID).Error("Failed to record job outcome")
		}
		release()

		report.Outcomes = append(report.Outcomes, outcome)
	}

	logger.WithFields(logrus.Fields{
		"now":      now.Format(time.RFC3339),
		"executed": report.Count(types.StateExecuted),
		"not_due":  report.Count(types.StateSkippedNotDue),
		"rejected": report.Count(types.StateSkippedInvalidSchedule) +
			report.Count(types.StateSkippedInvalidCommandShape) +
			report.Count(types.StateSkippedOutsideSandbox),
		"locked": report.Count(types.StateSkippedLocked),
	}).Info("Scheduler run completed")

	return report, nil
}

func noRelease() {}

// process walks one job through validation and execution. The returned func
// releases the job's lease and must be called after the outcome is recorded.
func (d *Driver) process(ctx context.Context, now time.Time, job types.Job) (types.Outcome, func()) {
	outcome := types.Outcome{
		JobID:    job.ID,
		Owner:    job.Owner,
		Schedule: job.Schedule,
	}
	skip := func(state types.State, reason string) (types.Outcome, func()) {
		outcome.State = state
		outcome.Reason = reason
		return outcome, noRelease
	}

	expr, err := calendar.Parse(job.Schedule)
	if err != nil {
		return skip(types.StateSkippedInvalidSchedule, fmt.Sprintf("invalid schedule %q", job.Schedule))
	}
	// normalized so a stored schedule cannot break the ledger line
	outcome.Schedule = expr.String()
	if !expr.Matches(now) {
		return skip(types.StateSkippedNotDue, "not due")
	}
	if job.LastRun != nil && job.LastRun.In(now.Location()).Truncate(time.Minute).Equal(now) {
		return skip(types.StateSkippedNotDue, "already ran this minute")
	}

	line, err := d.cfg.Interpreter.Parse(job.Command)
	if err != nil {
		return skip(types.StateSkippedInvalidCommandShape, err.Error())
	}

	script, err := d.cfg.Sandbox.Resolve(line.Script, job.Owner)
	if err != nil {
		return skip(types.StateSkippedOutsideSandbox, fmt.Sprintf("script %q rejected: %v", line.Script, err))
	}

	held, err := d.cfg.Leaser.Acquire(ctx, lease.JobKey(job.ID), d.cfg.LeaseTTL)
	if err != nil {
		if !errors.Is(err, lease.ErrHeld) {
			d.cfg.Logger.WithError(err).WithField("job_id", job.ID).Error("Failed to acquire job lease")
		}
		return skip(types.StateSkippedLocked, "already running elsewhere")
	}
	release := func() {
		if err := held.Release(); err != nil {
			d.cfg.Logger.WithError(err).WithField("job_id", job.ID).Warn("Failed to release job lease")
		}
	}

	inv := d.cfg.Interpreter.NewInvocation(script, line.Args)
	env := []string{
		fmt.Sprintf("PANELCRON_JOB_ID=%d", job.ID),
		"PANELCRON_OWNER=" + job.Owner,
	}

	d.cfg.Logger.WithFields(logrus.Fields{
		"job_id":   job.ID,
		"owner":    job.Owner,
		"schedule": job.Schedule,
		"script":   script,
	}).Info("Starting job execution")

	result, err := d.cfg.Executor.Run(inv.Command(), filepath.Dir(script), env...)
	if err != nil {
		d.cfg.Logger.WithError(err).WithField("job_id", job.ID).Error("Failed to spawn job")
		result = executor.Result{
			ExitCode:  spawnFailureExit,
			Output:    []string{err.Error()},
			StartedAt: time.Now(),
		}
	}

	exitCode := result.ExitCode
	outcome.State = types.StateExecuted
	outcome.ExitCode = &exitCode
	outcome.Output = result.Output
	outcome.Started = result.StartedAt
	outcome.Duration = utils.FormatElapsed(result.Duration)
	return outcome, release
}
