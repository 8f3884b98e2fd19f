package scheduler

import (
	"log/slog"

	"github.com/robfig/cron/v3"
)

type slogLogger struct {
	log *slog.Logger
}

// NewLogger adapts slog to cron.Logger. Cron's routine info messages (every wake-up and
// schedule evaluation) are demoted to debug.
func NewLogger(log *slog.Logger) cron.Logger {
	return slogLogger{log: log.With("component", "scheduler")}
}

func (l slogLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug(msg, keysAndValues...)
}

func (l slogLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error(msg, append(keysAndValues, "error", err)...)
}
