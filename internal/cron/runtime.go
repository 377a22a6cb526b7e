package cron

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/0xPuncker/panelcron/internal/command"
	"github.com/0xPuncker/panelcron/internal/config"
	"github.com/0xPuncker/panelcron/internal/executor"
	"github.com/0xPuncker/panelcron/internal/lease"
	"github.com/0xPuncker/panelcron/internal/ledger"
	"github.com/0xPuncker/panelcron/internal/notifications"
	"github.com/0xPuncker/panelcron/internal/sandbox"
	"github.com/0xPuncker/panelcron/internal/store"
	"github.com/sirupsen/logrus"
)

// Runtime is a Driver assembled from configuration together with the job
// store it reads from
type Runtime struct {
	Driver   *Driver
	Store    store.Store
	Location *time.Location
}

// NewRuntime wires the driver described by cfg. Ledger lines go to out.
// A store that cannot be opened is reported as ErrSourceUnavailable; anything
// else is a configuration problem.
func NewRuntime(ctx context.Context, cfg *config.Config, logger *logrus.Logger, out io.Writer) (*Runtime, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	ttl, err := cfg.LeaseTTL()
	if err != nil {
		return nil, err
	}

	validator, err := sandbox.NewValidator(cfg.Sandbox.WebRoot, logger)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", config.ErrInvalidConfig, err)
	}

	var leaser lease.Leaser
	switch cfg.Lease.Backend {
	case config.LeaseMemory:
		leaser = lease.NewMemoryLeaser(logger)
	default:
		fl, err := lease.NewFileLeaser(cfg.Lease.Dir, logger)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", config.ErrInvalidConfig, err)
		}
		leaser = fl
	}

	opts := ledger.Options{
		MarkSkipped:    cfg.Ledger.MarkSkipped,
		QuietNotDue:    cfg.Ledger.QuietNotDue,
		MaxOutputBytes: cfg.Ledger.MaxOutputBytes,
	}
	if cfg.Slack.WebhookURL != "" {
		slack, err := notifications.NewSlackService(cfg.Slack.WebhookURL, logger)
		if err != nil {
			logger.Warnf("Failed to initialize Slack service: %v", err)
		} else {
			opts.Notifier = slack
		}
	}

	src, err := store.Open(ctx, cfg.Store.Driver, cfg.Store.DSN, cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSourceUnavailable, err)
	}

	driver := NewDriver(DriverConfig{
		Source:  src,
		Sandbox: validator,
		Interpreter: command.Interpreter{
			Name:   cfg.Interpreter.Name,
			Binary: cfg.Interpreter.Binary,
		},
		Executor: executor.New(cfg.Shell, logger),
		Ledger:   ledger.New(src, out, logger, opts),
		Leaser:   leaser,
		LeaseTTL: ttl,
		Location: loc,
		Logger:   logger,
	})

	return &Runtime{Driver: driver, Store: src, Location: loc}, nil
}

func (r *Runtime) Close() error {
	return r.Store.Close()
}
