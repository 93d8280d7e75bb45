package notify

import (
	"context"

	"github.com/rs/zerolog"
)

// Console logs notifications through zerolog at a level mapped from
// the event severity.
type Console struct {
	logger zerolog.Logger
}

// NewConsole creates a console notifier.
func NewConsole(logger zerolog.Logger) *Console {
	return &Console{logger: logger.With().Str("component", "notification").Logger()}
}

func (c *Console) Name() string { return "console" }

func (c *Console) Send(_ context.Context, ev Event) error {
	var event *zerolog.Event
	switch ev.Severity {
	case SeverityCritical:
		event = c.logger.Error()
	case SeverityWarning:
		event = c.logger.Warn()
	default:
		event = c.logger.Info()
	}
	event = event.Str("severity", ev.Severity)
	if len(ev.Metadata) > 0 {
		event = event.Interface("metadata", ev.Metadata)
	}
	event.Msg(ev.Message)
	return nil
}
