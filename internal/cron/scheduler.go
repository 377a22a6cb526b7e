package cron

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/0xPuncker/panelcron/pkg/types"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// EveryMinute is the tick on which the daemon fires the driver
const EveryMinute = "* * * * *"

// Scheduler keeps a Driver firing once a minute for daemon deployments.
// Ticks may overlap when a run outlasts a minute; per-job leases keep a job
// from running twice.
type Scheduler struct {
	cron    *cron.Cron
	driver  *Driver
	logger  *logrus.Logger
	spec    string
	mu      sync.RWMutex
	started bool
	entry   cron.EntryID
	last    *types.Report
	lastErr error
}

func NewScheduler(driver *Driver, logger *logrus.Logger, loc *time.Location) *Scheduler {
	if loc == nil {
		loc = time.Local
	}
	cl := cronLogger{logger: logger}
	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl)),
		),
		driver: driver,
		logger: logger,
		spec:   EveryMinute,
	}
}

// RunNow performs one driver pass immediately and remembers its report
func (s *Scheduler) RunNow(ctx context.Context) (*types.Report, error) {
	start := time.Now()
	report, err := s.driver.Run(ctx)

	s.mu.Lock()
	if report != nil {
		s.last = report
	}
	s.lastErr = err
	s.mu.Unlock()

	if err != nil {
		s.logger.WithFields(logrus.Fields{
			"error":    err.Error(),
			"duration": time.Since(start).String(),
		}).Error("Scheduler run failed")
	}
	return report, err
}

// LastReport returns the most recent successful run and the error of the
// most recent attempt
func (s *Scheduler) LastReport() (*types.Report, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last, s.lastErr
}

func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return fmt.Errorf("scheduler already started")
	}

	if s.entry == 0 {
		id, err := s.cron.AddFunc(s.spec, func() {
			_, _ = s.RunNow(context.Background())
		})
		if err != nil {
			return fmt.Errorf("failed to schedule driver: %w", err)
		}
		s.entry = id
	}

	s.cron.Start()
	s.started = true
	s.logger.Info("Scheduler started...")

	return nil
}

// Stop halts the ticker and waits for a running pass to finish
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	s.mu.Unlock()

	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("Scheduler stopped")
}

func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.started
}

// NextTick reports when the driver fires next, zero if stopped
func (s *Scheduler) NextTick() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.started {
		return time.Time{}
	}
	return s.cron.Entry(s.entry).Next
}

// cronLogger adapts logrus to cron.Logger
type cronLogger struct {
	logger *logrus.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.WithFields(fields(keysAndValues)).Debug(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.WithFields(fields(keysAndValues)).WithError(err).Error(msg)
}

func fields(keysAndValues []interface{}) logrus.Fields {
	f := logrus.Fields{}
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		f[fmt.Sprint(keysAndValues[i])] = keysAndValues[i+1]
	}
	return f
}
