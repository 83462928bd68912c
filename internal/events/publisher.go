// Package events publishes assistance results and session signals to Kafka.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"ai-call-assist-service/internal/models"
	"ai-call-assist-service/internal/observability/metrics"
)

// Default topic names.
const (
	DefaultTopicAssistance = "callassist.assistance"
	DefaultTopicSignal     = "callassist.session.signal"
)

// messageWriter is the subset of *kafka.Writer used by the publisher.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher publishes assistance results and session signals to separate topics.
// With Kafka disabled it only logs the events.
type Publisher struct {
	writerAssistance messageWriter
	writerSignal     messageWriter
	principal        string
	topicAssistance  string
	topicSignal      string
	enabled          bool
	metrics          *metrics.Metrics
}

// Config holds Kafka publisher configuration.
type Config struct {
	Brokers         []string
	TopicAssistance string
	TopicSignal     string
	Principal       string
	Enabled         bool
}

// New creates a Kafka event publisher.
func New(cfg *Config) *Publisher {
	m := metrics.DefaultMetrics

	if cfg == nil {
		log.Info().Msg("Kafka disabled (nil config), using log-only mode")
		return &Publisher{
			topicAssistance: DefaultTopicAssistance,
			topicSignal:     DefaultTopicSignal,
			metrics:         m,
		}
	}

	topicAssistance := cfg.TopicAssistance
	if topicAssistance == "" {
		topicAssistance = DefaultTopicAssistance
	}
	topicSignal := cfg.TopicSignal
	if topicSignal == "" {
		topicSignal = DefaultTopicSignal
	}

	if !cfg.Enabled || len(cfg.Brokers) == 0 {
		log.Info().Msg("Kafka disabled, using log-only mode")
		return &Publisher{
			principal:       cfg.Principal,
			topicAssistance: topicAssistance,
			topicSignal:     topicSignal,
			metrics:         m,
		}
	}

	// Longer dial timeout for DNS resolution in Kubernetes
	dialer := &kafka.Dialer{
		Timeout:   10 * time.Second,
		DualStack: true,
	}
	transport := &kafka.Transport{
		Dial: dialer.DialFunc,
	}

	newWriter := func(topic string) *kafka.Writer {
		return &kafka.Writer{
			Addr:  kafka.TCP(cfg.Brokers...),
			Topic: topic,
			// Hash keeps every message of a session on one partition, in order.
			Balancer:     &kafka.Hash{},
			BatchTimeout: 10 * time.Millisecond,
			WriteTimeout: 10 * time.Second,
			RequiredAcks: kafka.RequireOne,
			Transport:    transport,
		}
	}

	log.Info().
		Strs("brokers", cfg.Brokers).
		Str("topicAssistance", topicAssistance).
		Str("topicSignal", topicSignal).
		Str("principal", cfg.Principal).
		Msg("Kafka publisher initialized")

	return &Publisher{
		writerAssistance: newWriter(topicAssistance),
		writerSignal:     newWriter(topicSignal),
		principal:        cfg.Principal,
		topicAssistance:  topicAssistance,
		topicSignal:      topicSignal,
		enabled:          true,
		metrics:          m,
	}
}

// PublishAssistance publishes one pipeline result keyed by session id.
func (p *Publisher) PublishAssistance(ctx context.Context, a models.RealTimeAssistance) error {
	return p.publish(ctx, p.writerAssistance, p.topicAssistance, models.EventTypeAssistance, a.SessionID, a)
}

// PublishSignal publishes a session status signal keyed by session id.
func (p *Publisher) PublishSignal(ctx context.Context, s models.SessionSignal) error {
	return p.publish(ctx, p.writerSignal, p.topicSignal, string(s.Type), s.SessionID, s)
}

func (p *Publisher) publish(ctx context.Context, writer messageWriter, topic, eventType, key string, event any) error {
	start := time.Now()

	payload, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Str("topic", topic).Msg("Failed to marshal event")
		return err
	}

	log.Debug().
		Str("principal", p.principal).
		Str("topic", topic).
		Str("key", key).
		RawJSON("payload", payload).
		Msg("Publishing event")

	if !p.enabled || writer == nil {
		p.metrics.RecordKafkaPublish(topic, eventType, nil, time.Since(start).Seconds())
		return nil
	}

	msg := kafka.Message{
		Key:   []byte(key),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "eventType", Value: []byte(eventType)},
			{Key: "principal", Value: []byte(p.principal)},
		},
	}

	if err := writer.WriteMessages(ctx, msg); err != nil {
		log.Error().
			Err(err).
			Str("topic", topic).
			Str("key", key).
			Msg("Failed to write to Kafka")
		p.metrics.RecordKafkaPublish(topic, eventType, err, time.Since(start).Seconds())
		return err
	}

	p.metrics.RecordKafkaPublish(topic, eventType, nil, time.Since(start).Seconds())
	return nil
}

// Close closes both Kafka writers.
func (p *Publisher) Close() error {
	var err error
	if p.writerAssistance != nil {
		if e := p.writerAssistance.Close(); e != nil {
			log.Error().Err(e).Msg("Error closing assistance writer")
			err = e
		}
	}
	if p.writerSignal != nil {
		if e := p.writerSignal.Close(); e != nil {
			log.Error().Err(e).Msg("Error closing signal writer")
			err = e
		}
	}
	return err
}
