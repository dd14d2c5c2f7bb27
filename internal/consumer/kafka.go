package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"github.com/gosight/neuroloop/internal/config"
	"github.com/gosight/neuroloop/internal/instrument"
	"github.com/gosight/neuroloop/internal/telemetry"
)

const defaultTopic = "neuroloop.telemetry"

// Message is the inbound telemetry wire format
type Message struct {
	Type    string                 `json:"type"`
	Payload map[string]interface{} `json:"payload"`
	Context struct {
		Route     string `json:"route"`
		Component string `json:"component"`
		Session   string `json:"session"`
	} `json:"context"`
	UserID string `json:"user_id"`
}

// Decode parses and validates one message
func Decode(data []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return Message{}, err
	}
	if !telemetry.Kind(msg.Type).Valid() {
		return Message{}, fmt.Errorf("unknown event type %q", msg.Type)
	}
	if msg.UserID != "" {
		if msg.Payload == nil {
			msg.Payload = make(map[string]interface{}, 1)
		}
		if _, ok := msg.Payload["user_id"]; !ok {
			msg.Payload["user_id"] = msg.UserID
		}
	}
	return msg, nil
}

// KafkaConsumer feeds telemetry from Kafka into a sink
type KafkaConsumer struct {
	reader *kafka.Reader
	sink   telemetry.Sink
}

// NewKafkaConsumer creates a new Kafka consumer
func NewKafkaConsumer(cfg config.KafkaConfig, sink telemetry.Sink) *KafkaConsumer {
	topic := cfg.Topics["events"]
	if topic == "" {
		topic = defaultTopic
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		Topic:          topic,
		GroupID:        cfg.ConsumerGroup,
		MinBytes:       1e3,  // 1KB
		MaxBytes:       10e6, // 10MB
		CommitInterval: time.Second,
		StartOffset:    kafka.LastOffset,
	})

	return &KafkaConsumer{
		reader: reader,
		sink:   sink,
	}
}

// Handle captures one raw message. Malformed messages are reported and
// dropped.
func (c *KafkaConsumer) Handle(value []byte) error {
	msg, err := Decode(value)
	if err != nil {
		instrument.MessagesConsumed.WithLabelValues("invalid").Inc()
		return err
	}

	c.sink.Capture(telemetry.Kind(msg.Type), msg.Payload, telemetry.Context{
		Route:         msg.Context.Route,
		ComponentName: msg.Context.Component,
		SessionID:     msg.Context.Session,
	})
	instrument.MessagesConsumed.WithLabelValues("captured").Inc()
	return nil
}

// Start consumes messages until ctx is cancelled
func (c *KafkaConsumer) Start(ctx context.Context) {
	log.Info().
		Str("topic", c.reader.Config().Topic).
		Str("group", c.reader.Config().GroupID).
		Msg("Starting Kafka consumer")

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				log.Info().Msg("Kafka consumer stopped")
				return
			}
			log.Error().Err(err).Msg("Failed to fetch message")
			continue
		}

		if err := c.Handle(msg.Value); err != nil {
			log.Error().
				Err(err).
				Str("value", string(msg.Value)).
				Msg("Failed to parse message")
		}

		// Commit even on parse failure to avoid getting stuck
		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			log.Error().Err(err).Msg("Failed to commit message")
		}
	}
}

// Close closes the consumer
func (c *KafkaConsumer) Close() error {
	log.Info().Msg("Closing Kafka consumer")
	return c.reader.Close()
}
