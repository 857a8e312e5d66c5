package publish

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"darms/internal/config"
	"darms/internal/model"
)

type recordingWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *recordingWriter) Close() error {
	w.closed = true
	return nil
}

func TestDisabledPublisherIsNil(t *testing.T) {
	assert.Nil(t, NewPublisher(config.KafkaConfig{}, nil))
}

func TestEnabledPublisherTargetsTopic(t *testing.T) {
	p := NewPublisher(config.KafkaConfig{Enabled: true, Brokers: []string{"localhost:9092"}, Topic: "darms.runs"}, nil)
	require.NotNil(t, p)
	kp := p.(*KafkaPublisher)
	w := kp.writer.(*kafka.Writer)
	assert.Equal(t, "darms.runs", w.Topic)
	assert.Equal(t, "localhost:9092", w.Addr.String())
}

func TestPublishEncodesReport(t *testing.T) {
	w := &recordingWriter{}
	p := &KafkaPublisher{writer: w, topic: "runs"}
	report := model.Report{RunID: "abc", Mode: "decomposed", Rule: "constant", CreatedAt: time.Unix(100, 0).UTC(), ViolationRate: 0.05}
	require.NoError(t, p.Publish(context.Background(), report))
	require.Len(t, w.msgs, 1)
	assert.Equal(t, "abc", string(w.msgs[0].Key))

	var got model.Report
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &got))
	assert.Equal(t, "decomposed", got.Mode)
	assert.Equal(t, 0.05, got.ViolationRate)

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}

func TestPublishPropagatesWriterError(t *testing.T) {
	p := &KafkaPublisher{writer: &recordingWriter{err: errors.New("broker down")}}
	assert.Error(t, p.Publish(context.Background(), model.Report{RunID: "x"}))
}
