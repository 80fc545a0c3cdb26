package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
)

// Event is published once per dispatch resolution.
type Event struct {
	OTPID         string    `json:"otp_id"`
	CorrelationID string    `json:"correlation_id"`
	DeviceKey     string    `json:"device_key,omitempty"`
	Status        string    `json:"status"`
	Error         string    `json:"error,omitempty"`
	PhoneMasked   string    `json:"phone_masked"`
	Region        string    `json:"region,omitempty"`
	LatencyMS     int64     `json:"latency_ms"`
	At            time.Time `json:"at"`
}

// EventSink receives dispatch events. Publish failures are logged, never retried.
type EventSink interface {
	Publish(ctx context.Context, ev Event) error
	Close() error
}

// NopSink discards events.
type NopSink struct{}

func (NopSink) Publish(context.Context, Event) error { return nil }
func (NopSink) Close() error                         { return nil }

// KafkaSink writes events as JSON keyed by OTP id so one code's events stay ordered.
type KafkaSink struct {
	w   *kafka.Writer
	log *slog.Logger
}

// NewKafkaSink returns a synchronous producer for topic.
func NewKafkaSink(brokers []string, topic string, log *slog.Logger) (*KafkaSink, error) {
	if len(brokers) == 0 || topic == "" {
		return nil, fmt.Errorf("%w: kafka brokers and topic required", ErrConfig)
	}
	if log == nil {
		log = slog.Default()
	}

	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		MaxAttempts:  3,
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
	}
	log.Info("dispatch.sink.kafka", "brokers", brokers, "topic", topic)
	return &KafkaSink{w: w, log: log}, nil
}

func (s *KafkaSink) Publish(ctx context.Context, ev Event) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if err := s.w.WriteMessages(ctx, kafka.Message{
		Key:   []byte(ev.OTPID),
		Value: b,
		Time:  ev.At,
		Headers: []kafka.Header{
			{Key: "correlation_id", Value: []byte(ev.CorrelationID)},
			{Key: "status", Value: []byte(ev.Status)},
		},
	}); err != nil {
		return fmt.Errorf("kafka write: %w", err)
	}
	return nil
}

func (s *KafkaSink) Close() error {
	if err := s.w.Close(); err != nil {
		s.log.Error("dispatch.sink.close.fail", "err", err)
		return err
	}
	return nil
}
