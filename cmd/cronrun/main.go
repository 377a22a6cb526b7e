package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/0xPuncker/panelcron/internal/config"
	"github.com/0xPuncker/panelcron/internal/cron"
	"github.com/sirupsen/logrus"
)

const (
	exitOK                = 0
	exitConfigError       = 1
	exitSourceUnavailable = 2
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config/config.json", "path to config file")
	at := flag.String("at", "", "evaluate schedules at this RFC3339 instant instead of now")
	flag.Parse()

	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	logger.SetFormatter(&logrus.TextFormatter{
		TimestampFormat: "2006-01-02T15:04:05-07:00",
	})

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Errorf("Failed to load config: %v", err)
		return exitConfigError
	}
	level, _ := cfg.Level()
	logger.SetLevel(level)

	instant := time.Now()
	if *at != "" {
		instant, err = time.Parse(time.RFC3339, *at)
		if err != nil {
			logger.Errorf("Invalid -at value: %v", err)
			return exitConfigError
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := cron.NewRuntime(ctx, cfg, logger, os.Stdout)
	if err != nil {
		logger.Errorf("Failed to initialize runner: %v", err)
		if errors.Is(err, cron.ErrSourceUnavailable) {
			return exitSourceUnavailable
		}
		return exitConfigError
	}
	defer rt.Close()

	if _, err := rt.Driver.RunAt(ctx, instant); err != nil {
		logger.Errorf("Scheduler run failed: %v", err)
		return exitSourceUnavailable
	}
	return exitOK
}
