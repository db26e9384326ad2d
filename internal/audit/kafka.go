package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
)

// DefaultTopic is the Kafka topic login events are streamed to.
const DefaultTopic = "tokenly.login-events"

// KafkaSink streams login attempt entries to Kafka for external analytics
// and lockout consumers.
type KafkaSink struct {
	client *kgo.Client
	topic  string
}

// KafkaConfig holds sink configuration.
type KafkaConfig struct {
	Brokers string
	Topic   string
}

// NewKafkaSink creates a Kafka-backed sink. Returns nil when no brokers are
// configured.
func NewKafkaSink(cfg KafkaConfig) (*KafkaSink, error) {
	if cfg.Brokers == "" {
		return nil, nil
	}
	if cfg.Topic == "" {
		cfg.Topic = DefaultTopic
	}

	client, err := kgo.NewClient(
		kgo.SeedBrokers(strings.Split(cfg.Brokers, ",")...),
		kgo.RequiredAcks(kgo.LeaderAck()),
		kgo.DisableIdempotentWrite(),
		kgo.ProducerLinger(5*time.Millisecond),
		kgo.RecordDeliveryTimeout(10*time.Second),
		kgo.AllowAutoTopicCreation(),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka audit sink: %w", err)
	}
	return &KafkaSink{client: client, topic: cfg.Topic}, nil
}

type kafkaEvent struct {
	ID             string    `json:"id"`
	ApplicationID  string    `json:"applicationId"`
	UserID         string    `json:"userId,omitempty"`
	EmailAttempted string    `json:"emailAttempted"`
	IPAddress      string    `json:"ipAddress,omitempty"`
	UserAgent      string    `json:"userAgent,omitempty"`
	Status         Status    `json:"status"`
	FailureReason  string    `json:"failureReason,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
}

// Publish streams one entry, keyed by application so per-tenant ordering is
// preserved.
func (s *KafkaSink) Publish(ctx context.Context, e *Entry) error {
	event := kafkaEvent{
		ID:             e.ID.String(),
		ApplicationID:  e.ApplicationID.String(),
		EmailAttempted: e.EmailAttempted,
		IPAddress:      e.IPAddress,
		UserAgent:      e.UserAgent,
		Status:         e.Status,
		FailureReason:  e.FailureReason,
		CreatedAt:      e.CreatedAt,
	}
	if e.UserID != nil {
		event.UserID = e.UserID.String()
	}
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode login event: %w", err)
	}

	record := &kgo.Record{
		Topic: s.topic,
		Key:   []byte(e.ApplicationID.String()),
		Value: value,
	}
	if err := s.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("produce login event: %w", err)
	}
	return nil
}

// Close flushes and releases the Kafka client.
func (s *KafkaSink) Close() {
	s.client.Close()
}
