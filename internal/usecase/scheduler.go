package usecase

import (
	"context"
	"log/slog"
	"time"

	"TenderScanner/internal/ports"
)

// Scheduler wires the cron driver with unattended scrape runs.
type Scheduler struct {
	driver     ports.Scheduler
	dispatcher *Dispatcher
	logger     *slog.Logger
}

// NewScheduler returns a helper to start/stop recurring scrapes.
func NewScheduler(driver ports.Scheduler, dispatcher *Dispatcher, log *slog.Logger) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{driver: driver, dispatcher: dispatcher, logger: log.With("component", "scheduler")}
}

// Start registers a full scrape of every active source with the driver.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.driver == nil || s.dispatcher == nil {
		return nil
	}

	job := func(trigger time.Time) {
		id, err := s.dispatcher.StartScrape(ctx, nil)
		if err != nil {
			s.logger.Error("scheduled scrape not started", "trigger", trigger, "err", err)
			return
		}
		s.logger.Info("scheduled scrape started", "trigger", trigger, "session", id)
	}

	return s.driver.Start(ctx, job)
}

// Stop gracefully tears down the underlying scheduler.
func (s *Scheduler) Stop(ctx context.Context) error {
	if s.driver == nil {
		return nil
	}

	return s.driver.Stop(ctx)
}
