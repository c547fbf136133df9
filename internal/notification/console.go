package notification

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"guardian/internal/guardian"

	"github.com/fatih/color"
)

var kindColors = map[guardian.EventKind]color.Attribute{
	guardian.EventCreated:            color.FgCyan,
	guardian.EventUpdated:            color.FgBlue,
	guardian.EventCompleted:          color.FgGreen,
	guardian.EventFailed:             color.FgRed,
	guardian.EventDependencyResolved: color.FgYellow,
}

// ConsoleSink prints one colored line per event.
type ConsoleSink struct {
	mu      sync.Mutex
	out     io.Writer
	noColor bool
}

// ConsoleOption configures a ConsoleSink.
type ConsoleOption func(*ConsoleSink)

// WithoutColor disables ANSI colors regardless of the terminal.
func WithoutColor() ConsoleOption {
	return func(s *ConsoleSink) {
		s.noColor = true
	}
}

// NewConsoleSink creates a ConsoleSink writing to out, or stdout when out is nil.
func NewConsoleSink(out io.Writer, opts ...ConsoleOption) *ConsoleSink {
	if out == nil {
		out = os.Stdout
	}
	s := &ConsoleSink{out: out}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Notify writes the event line.
func (s *ConsoleSink) Notify(_ context.Context, event guardian.Event) error {
	kind := color.New(kindColors[event.Kind], color.Bold)
	dim := color.New(color.FgHiBlack)
	if s.noColor {
		kind.DisableColor()
		dim.DisableColor()
	}

	line := fmt.Sprintf("%s %s %s %s\n",
		dim.Sprint(event.Timestamp.Format("15:04:05")),
		kind.Sprintf("%-19s", strings.ToUpper(string(event.Kind))),
		event.TaskID,
		Summary(event),
	)

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := io.WriteString(s.out, line)
	return err
}
