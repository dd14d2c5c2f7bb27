package consumer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gosight/neuroloop/internal/config"
	"github.com/gosight/neuroloop/internal/telemetry"
)

type captured struct {
	kind    telemetry.Kind
	payload map[string]interface{}
	ctx     telemetry.Context
}

type recordingSink struct {
	calls []captured
}

func (r *recordingSink) Capture(kind telemetry.Kind, payload map[string]interface{}, overrides telemetry.Context) telemetry.Event {
	r.calls = append(r.calls, captured{kind: kind, payload: payload, ctx: overrides})
	return telemetry.Event{Kind: kind, Payload: payload, Context: overrides}
}

func TestDecode(t *testing.T) {
	msg, err := Decode([]byte(`{
		"type": "navigation",
		"payload": {"from": "/"},
		"context": {"route": "/lectoguia", "component": "Router", "session": "s1"},
		"user_id": "u42"
	}`))
	require.NoError(t, err)

	assert.Equal(t, "navigation", msg.Type)
	assert.Equal(t, "/lectoguia", msg.Context.Route)
	assert.Equal(t, "Router", msg.Context.Component)
	assert.Equal(t, "u42", msg.Payload["user_id"])
	assert.Equal(t, "/", msg.Payload["from"])
}

func TestDecode_UserIDWithoutPayload(t *testing.T) {
	msg, err := Decode([]byte(`{"type":"learning","user_id":"u1"}`))
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"user_id": "u1"}, msg.Payload)
}

func TestDecode_Rejects(t *testing.T) {
	for name, raw := range map[string]string{
		"malformed":    `{"type":`,
		"unknown kind": `{"type":"click"}`,
		"missing kind": `{"payload":{}}`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Decode([]byte(raw))
			assert.Error(t, err)
		})
	}
}

func TestKafkaConsumer_Handle(t *testing.T) {
	sink := &recordingSink{}
	c := NewKafkaConsumer(config.KafkaConfig{Brokers: []string{"localhost:9092"}, ConsumerGroup: "test"}, sink)
	defer c.Close()

	require.NoError(t, c.Handle([]byte(`{"type":"interaction","payload":{"target":"button"},"context":{"component":"Quiz"}}`)))
	assert.Error(t, c.Handle([]byte(`not json`)))

	require.Len(t, sink.calls, 1)
	assert.Equal(t, telemetry.KindInteraction, sink.calls[0].kind)
	assert.Equal(t, "Quiz", sink.calls[0].ctx.ComponentName)
	assert.Equal(t, "button", sink.calls[0].payload["target"])
}

func TestNewKafkaConsumer_DefaultTopic(t *testing.T) {
	c := NewKafkaConsumer(config.KafkaConfig{Brokers: []string{"localhost:9092"}, ConsumerGroup: "g"}, &recordingSink{})
	defer c.Close()
	assert.Equal(t, defaultTopic, c.reader.Config().Topic)
}
