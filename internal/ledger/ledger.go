// Package ledger records job outcomes: one operator-facing line per job, the
// last-run write-back to the job store, and optional failure alerts.
package ledger

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/0xPuncker/panelcron/pkg/types"
	"github.com/sirupsen/logrus"
)

const DefaultMaxOutputBytes = 16 * 1024

// Marker is the write side of the job store
type Marker interface {
	MarkRun(ctx context.Context, id int64, at time.Time, summary *types.RunSummary) error
}

// Notifier is told about executed jobs that exited non-zero
type Notifier interface {
	SendFailureAlert(outcome types.Outcome) error
}

type Options struct {
	// MarkSkipped also stamps last run on due jobs rejected for their command
	// shape or sandbox, so a broken job is not re-reported every tick
	MarkSkipped bool
	// QuietNotDue suppresses [SKIP] lines for jobs that simply are not due
	QuietNotDue    bool
	MaxOutputBytes int
	Notifier       Notifier
}

type Ledger struct {
	marker Marker
	out    io.Writer
	logger *logrus.Logger
	opts   Options
	mu     sync.Mutex
}

func New(marker Marker, out io.Writer, logger *logrus.Logger, opts Options) *Ledger {
	if opts.MaxOutputBytes <= 0 {
		opts.MaxOutputBytes = DefaultMaxOutputBytes
	}
	return &Ledger{
		marker: marker,
		out:    out,
		logger: logger,
		opts:   opts,
	}
}

// Record writes the operational line for outcome and, for executed jobs,
// stamps the job's last run with now regardless of exit code
func (l *Ledger) Record(ctx context.Context, now time.Time, outcome types.Outcome) error {
	l.writeLine(outcome)

	fields := logrus.Fields{
		"job_id": outcome.JobID,
		"owner":  outcome.Owner,
		"state":  outcome.State,
	}

	if outcome.State != types.StateExecuted {
		l.logger.WithFields(fields).WithField("reason", outcome.Reason).Debug("Job skipped")
		if l.opts.MarkSkipped && attemptedSkip(outcome.State) {
			if err := l.marker.MarkRun(ctx, outcome.JobID, now, nil); err != nil {
				return fmt.Errorf("failed to record skipped job %d: %w", outcome.JobID, err)
			}
		}
		return nil
	}

	exitCode := 0
	if outcome.ExitCode != nil {
		exitCode = *outcome.ExitCode
	}
	fields["exit_code"] = exitCode
	fields["duration"] = outcome.Duration

	if exitCode != 0 {
		l.logger.WithFields(fields).Warn("Job exited with non-zero status")
		if l.opts.Notifier != nil {
			if err := l.opts.Notifier.SendFailureAlert(outcome); err != nil {
				l.logger.WithFields(fields).WithError(err).Error("Failed to send failure alert")
			}
		}
	} else {
		l.logger.WithFields(fields).Info("Job executed")
	}

	summary := &types.RunSummary{
		ExitCode: exitCode,
		Output:   truncateTail(strings.Join(outcome.Output, "\n"), l.opts.MaxOutputBytes),
	}
	if err := l.marker.MarkRun(ctx, outcome.JobID, now, summary); err != nil {
		return fmt.Errorf("failed to record run of job %d: %w", outcome.JobID, err)
	}
	return nil
}

func (l *Ledger) writeLine(outcome types.Outcome) {
	if outcome.State == types.StateSkippedNotDue && l.opts.QuietNotDue {
		return
	}

	var b strings.Builder
	if outcome.State == types.StateExecuted {
		exitCode := 0
		if outcome.ExitCode != nil {
			exitCode = *outcome.ExitCode
		}
		fmt.Fprintf(&b, "[RUN] Job #%d (%s) rc=%d\n", outcome.JobID, outcome.Schedule, exitCode)
		for _, line := range outcome.Output {
			b.WriteString(line)
			b.WriteByte('\n')
		}
	} else {
		fmt.Fprintf(&b, "[SKIP] Job #%d %s\n", outcome.JobID, outcome.Reason)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := io.WriteString(l.out, b.String()); err != nil {
		l.logger.WithError(err).Error("Failed to write ledger line")
	}
}

// attemptedSkip reports skips where the job was due but refused
func attemptedSkip(state types.State) bool {
	return state == types.StateSkippedInvalidCommandShape || state == types.StateSkippedOutsideSandbox
}

// truncateTail keeps the last max bytes, where errors usually are
func truncateTail(s string, max int) string {
	if len(s) <= max {
		return s
	}
	const marker = "...\n"
	if max <= len(marker) {
		return s[len(s)-max:]
	}
	cut := len(s) - max + len(marker)
	for cut < len(s) && !utf8Start(s[cut]) {
		cut++
	}
	return marker + s[cut:]
}

func utf8Start(b byte) bool {
	return b&0xC0 != 0x80
}
