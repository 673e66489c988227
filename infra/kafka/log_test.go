package kafka

import (
	"bytes"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogSinkWritesEvent(t *testing.T) {
	var buf bytes.Buffer
	var sink Sink = NewLogSink(zerolog.New(&buf))

	require.NoError(t, sink.Send(t.Context(), []byte("/rig/temp"), []byte(`{"serial":"2"}`)))
	assert.Contains(t, buf.String(), `"event":{"serial":"2"}`)
	require.NoError(t, sink.Close())
}
