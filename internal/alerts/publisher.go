package alerts

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"github.com/gosight/neuroloop/internal/config"
	"github.com/gosight/neuroloop/internal/healing"
	"github.com/gosight/neuroloop/internal/instrument"
	"github.com/gosight/neuroloop/internal/recommend"
)

// Alert types
const (
	TypeInsight        = "insight"
	TypeRecoveryAction = "recovery_action"
)

// MessageWriter is the subset of kafka.Writer the publisher needs
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Alert is the outbound envelope
type Alert struct {
	Type        string      `json:"type"`
	SessionID   string      `json:"session_id"`
	PublishedAt int64       `json:"published_at"`
	Data        interface{} `json:"data"`
}

// Publisher sends insights and recovery actions to the alerts topic for
// downstream processing
type Publisher struct {
	writer    MessageWriter
	sessionID string
	now       func() time.Time
}

// NewPublisher returns a publisher for the alerts topic, or nil when no
// alerts topic or brokers are configured
func NewPublisher(cfg config.KafkaConfig, sessionID string) *Publisher {
	topic, ok := cfg.Topics["alerts"]
	if !ok || topic == "" || len(cfg.Brokers) == 0 {
		return nil
	}

	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		BatchSize:    1,
		BatchTimeout: 10 * time.Millisecond,
		Async:        true,
		Completion: func(messages []kafka.Message, err error) {
			if err != nil {
				log.Error().Err(err).Int("count", len(messages)).Msg("Failed to deliver alerts")
			}
		},
	}

	log.Info().Str("topic", topic).Msg("Kafka alert publishing enabled")
	return NewPublisherWithWriter(w, sessionID, time.Now)
}

// NewPublisherWithWriter creates a publisher over an existing writer
func NewPublisherWithWriter(w MessageWriter, sessionID string, now func() time.Time) *Publisher {
	if now == nil {
		now = time.Now
	}
	return &Publisher{writer: w, sessionID: sessionID, now: now}
}

// PublishInsight publishes a generated insight
func (p *Publisher) PublishInsight(in recommend.Insight) {
	p.publish(TypeInsight, in)
}

// PublishAction publishes an executed recovery action
func (p *Publisher) PublishAction(a healing.RecoveryAction) {
	p.publish(TypeRecoveryAction, a)
}

func (p *Publisher) publish(alertType string, data interface{}) {
	payload, err := json.Marshal(Alert{
		Type:        alertType,
		SessionID:   p.sessionID,
		PublishedAt: p.now().UnixMilli(),
		Data:        data,
	})
	if err != nil {
		log.Error().Err(err).Str("type", alertType).Msg("Failed to marshal alert")
		instrument.AlertsPublished.WithLabelValues(alertType, "error").Inc()
		return
	}

	err = p.writer.WriteMessages(context.Background(), kafka.Message{
		Key:   []byte(p.sessionID),
		Value: payload,
	})
	if err != nil {
		log.Error().Err(err).Str("type", alertType).Msg("Failed to publish alert to Kafka")
		instrument.AlertsPublished.WithLabelValues(alertType, "error").Inc()
		return
	}

	instrument.AlertsPublished.WithLabelValues(alertType, "ok").Inc()
	log.Debug().Str("type", alertType).Msg("Alert published to Kafka")
}

// Close flushes pending messages and closes the writer
func (p *Publisher) Close() error {
	return p.writer.Close()
}
