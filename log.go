package relay

import (
	"io"
	"time"

	"github.com/rs/zerolog"
)

// NewConsoleLogger returns a human-readable zerolog logger tagged with app.
// Pass it to WithLogger; the package never installs a global logger.
func NewConsoleLogger(w io.Writer, app string) zerolog.Logger {
	output := zerolog.ConsoleWriter{
		Out:        w,
		TimeFormat: time.RFC3339,
	}
	return zerolog.New(output).With().Timestamp().Str("app", app).Logger()
}

// exchangeEvent decorates a log event with the exchange identity.
func exchangeEvent(e *zerolog.Event, ex *Exchange) *zerolog.Event {
	e = e.Str("exchange_id", ex.ID())
	if cid := ex.CorrelationID(); cid != "" {
		e = e.Str("correlation_id", cid)
	}
	return e
}
