package kafka

import (
	"context"

	"github.com/rs/zerolog"
)

// LogSink writes events to a logger instead of a broker.
type LogSink struct {
	log zerolog.Logger
}

func NewLogSink(log zerolog.Logger) *LogSink {
	return &LogSink{log: log}
}

func (s *LogSink) Send(_ context.Context, key, value []byte) error {
	s.log.Info().Bytes("key", key).RawJSON("event", value).Msg("change")
	return nil
}

func (s *LogSink) Close() error { return nil }
