package alerts

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gosight/neuroloop/internal/config"
	"github.com/gosight/neuroloop/internal/healing"
	"github.com/gosight/neuroloop/internal/recommend"
)

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func fixedNow() time.Time { return time.UnixMilli(1_700_000_000_000) }

func TestPublisher_PublishInsight(t *testing.T) {
	w := &fakeWriter{}
	p := NewPublisherWithWriter(w, "s1", fixedNow)

	p.PublishInsight(recommend.Insight{ID: "insight_1", Kind: recommend.InsightRecommendation, Title: "System health"})

	require.Len(t, w.msgs, 1)
	assert.Equal(t, []byte("s1"), w.msgs[0].Key)

	var got struct {
		Type        string                 `json:"type"`
		SessionID   string                 `json:"session_id"`
		PublishedAt int64                  `json:"published_at"`
		Data        map[string]interface{} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &got))
	assert.Equal(t, TypeInsight, got.Type)
	assert.Equal(t, int64(1_700_000_000_000), got.PublishedAt)
	assert.Equal(t, "insight_1", got.Data["id"])
	assert.Equal(t, "recommendation", got.Data["type"])
}

func TestPublisher_PublishAction(t *testing.T) {
	w := &fakeWriter{}
	p := NewPublisherWithWriter(w, "s1", fixedNow)

	p.PublishAction(healing.RecoveryAction{ID: "recovery_1", Strategy: healing.StrategyStateReset, Target: "emergency"})

	require.Len(t, w.msgs, 1)
	var got Alert
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &got))
	assert.Equal(t, TypeRecoveryAction, got.Type)
	assert.Equal(t, "s1", got.SessionID)
}

func TestPublisher_WriteFailureIsSwallowed(t *testing.T) {
	w := &fakeWriter{err: errors.New("broker down")}
	p := NewPublisherWithWriter(w, "s1", nil)

	assert.NotPanics(t, func() { p.PublishAction(healing.RecoveryAction{}) })
	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}

func TestNewPublisher_RequiresTopicAndBrokers(t *testing.T) {
	assert.Nil(t, NewPublisher(config.KafkaConfig{Topics: map[string]string{"alerts": "a"}}, "s1"))
	assert.Nil(t, NewPublisher(config.KafkaConfig{Brokers: []string{"localhost:9092"}}, "s1"))

	p := NewPublisher(config.KafkaConfig{
		Brokers: []string{"localhost:9092"},
		Topics:  map[string]string{"alerts": "neuroloop.alerts"},
	}, "s1")
	require.NotNil(t, p)
	require.NoError(t, p.Close())
}
