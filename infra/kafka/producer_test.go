package kafka

import (
	"context"
	"errors"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func TestProducerSends(t *testing.T) {
	w := &fakeWriter{}
	var sink Sink = newProducer(w, "changes")

	require.NoError(t, sink.Send(t.Context(), []byte("/rig/temp"), []byte(`{"serial":"2"}`)))
	require.Len(t, w.msgs, 1)
	assert.Equal(t, "/rig/temp", string(w.msgs[0].Key))
	assert.Equal(t, `{"serial":"2"}`, string(w.msgs[0].Value))
	assert.Equal(t, []kafka.Header{{Key: "content-type", Value: []byte(contentType)}}, w.msgs[0].Headers)

	w.err = kafka.LeaderNotAvailable
	err := sink.Send(t.Context(), []byte("/rig/temp"), []byte("{}"))
	assert.True(t, errors.Is(err, kafka.LeaderNotAvailable))
	assert.Contains(t, err.Error(), "changes")

	require.NoError(t, sink.Close())
	assert.True(t, w.closed)
}
