package notification

import (
	"context"
	"strings"
	"time"

	"guardian/internal/guardian"
	"guardian/internal/logging"
)

// LogSink writes events to a logger. Failures are logged at warn level, every
// other event at info.
type LogSink struct {
	logger logging.Logger
}

// NewLogSink creates a LogSink. A nil logger uses the "notification" component
// logger.
func NewLogSink(logger logging.Logger) *LogSink {
	if logging.IsNil(logger) {
		logger = logging.NewComponentLogger("notification")
	}
	return &LogSink{logger: logger}
}

// Notify logs the event, tagged with the task id carried by ctx.
func (s *LogSink) Notify(ctx context.Context, event guardian.Event) error {
	logger := logging.WithContext(ctx, s.logger)
	format := "[%s] [%s] %s: %s"
	args := []any{
		event.Timestamp.UTC().Format(time.RFC3339),
		strings.ToUpper(string(event.Kind)),
		event.TaskID,
		Summary(event),
	}
	if event.Kind == guardian.EventFailed {
		logger.Warn(format, args...)
		return nil
	}
	logger.Info(format, args...)
	return nil
}
