package relay

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// LogRelay accepts every message and logs it. It stands in for a real
// transport in development and in the seeded demo environment.
type LogRelay struct {
	Logger zerolog.Logger
}

func NewLogRelay(logger zerolog.Logger) *LogRelay {
	return &LogRelay{Logger: logger.With().Str("component", "log-relay").Logger()}
}

func (r *LogRelay) Verify(_ context.Context) error {
	return nil
}

func (r *LogRelay) Send(_ context.Context, msg *Message) (*Result, error) {
	id := uuid.NewString()
	r.Logger.Info().
		Str("message_id", id).
		Str("to", msg.To).
		Str("subject", msg.Subject).
		Msg("message accepted")
	return &Result{ID: id}, nil
}

var _ Relay = (*LogRelay)(nil)
