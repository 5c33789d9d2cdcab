// Package logger adapts slog to the logging interfaces of third-party libraries.
package logger

import (
	"log/slog"

	"github.com/robfig/cron/v3"
)

// CronLogger satisfies cron.Logger on top of slog.
type CronLogger struct {
	l *slog.Logger
}

var _ cron.Logger = (*CronLogger)(nil)

// New returns a cron logger tagged with component.
func New(base *slog.Logger, component string) *CronLogger {
	if base == nil {
		base = slog.Default()
	}
	return &CronLogger{l: base.With("component", component)}
}

// Info logs routine scheduler events at debug level; cron is chatty.
func (c *CronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debug(msg, keysAndValues...)
}

// Error logs scheduler failures, including recovered job panics.
func (c *CronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Error(msg, append([]interface{}{"err", err}, keysAndValues...)...)
}
