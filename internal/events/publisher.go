// Package events publishes pipeline events to Kafka.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"voice-form-service/internal/models"
	"voice-form-service/internal/observability/metrics"
	"voice-form-service/internal/schema"
)

// TranscriptEvent is published for every final utterance.
type TranscriptEvent struct {
	SessionID string    `json:"sessionId"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// UnderstandingEvent is published for every classification result.
type UnderstandingEvent struct {
	SessionID     string               `json:"sessionId"`
	Understanding models.Understanding `json:"understanding"`
	Fallback      bool                 `json:"fallback"`
	Timestamp     time.Time            `json:"timestamp"`
}

// SubmissionEvent is published when the form is submitted.
type SubmissionEvent struct {
	SessionID string               `json:"sessionId"`
	Record    models.ContactRecord `json:"record"`
	Timestamp time.Time            `json:"timestamp"`
}

// Publisher publishes pipeline events to separate Kafka topics. When
// disabled it runs in log-only mode.
type Publisher struct {
	writerTranscripts    *kafka.Writer
	writerUnderstandings *kafka.Writer
	writerSubmissions    *kafka.Writer

	topicTranscripts    string
	topicUnderstandings string
	topicSubmissions    string

	principal string
	enabled   bool
	validator *schema.Validator
	metrics   *metrics.Metrics
}

// Config holds Kafka publisher configuration.
type Config struct {
	Brokers             []string
	TopicTranscripts    string
	TopicUnderstandings string
	TopicSubmissions    string
	Principal           string
	Enabled             bool
}

// New creates a Kafka event publisher with one writer per topic.
func New(cfg *Config) *Publisher {
	m := metrics.DefaultMetrics
	v := schema.New()

	if cfg == nil {
		log.Info().Msg("Kafka disabled (nil config), using log-only mode")
		return &Publisher{enabled: false, validator: v, metrics: m}
	}

	if !cfg.Enabled || len(cfg.Brokers) == 0 {
		log.Info().Msg("Kafka disabled, using log-only mode")
		return &Publisher{
			topicTranscripts:    cfg.TopicTranscripts,
			topicUnderstandings: cfg.TopicUnderstandings,
			topicSubmissions:    cfg.TopicSubmissions,
			principal:           cfg.Principal,
			enabled:             false,
			validator:           v,
			metrics:             m,
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
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        topic,
			Balancer:     &kafka.LeastBytes{},
			BatchTimeout: 10 * time.Millisecond,
			WriteTimeout: 10 * time.Second,
			RequiredAcks: kafka.RequireOne,
			Transport:    transport,
		}
	}

	log.Info().
		Strs("brokers", cfg.Brokers).
		Str("topicTranscripts", cfg.TopicTranscripts).
		Str("topicUnderstandings", cfg.TopicUnderstandings).
		Str("topicSubmissions", cfg.TopicSubmissions).
		Str("principal", cfg.Principal).
		Msg("Kafka publisher initialized")

	return &Publisher{
		writerTranscripts:    newWriter(cfg.TopicTranscripts),
		writerUnderstandings: newWriter(cfg.TopicUnderstandings),
		writerSubmissions:    newWriter(cfg.TopicSubmissions),
		topicTranscripts:     cfg.TopicTranscripts,
		topicUnderstandings:  cfg.TopicUnderstandings,
		topicSubmissions:     cfg.TopicSubmissions,
		principal:            cfg.Principal,
		enabled:              true,
		validator:            v,
		metrics:              m,
	}
}

// PublishTranscript publishes a final utterance transcript.
func (p *Publisher) PublishTranscript(ctx context.Context, sessionID, text string) error {
	event := TranscriptEvent{SessionID: sessionID, Text: text, Timestamp: time.Now().UTC()}
	return p.publish(ctx, p.writerTranscripts, p.topicTranscripts, "transcript", sessionID, event)
}

// PublishUnderstanding validates and publishes a classification result.
func (p *Publisher) PublishUnderstanding(ctx context.Context, sessionID string, u models.Understanding, fallback bool) error {
	if err := p.validator.ValidateUnderstanding(u); err != nil {
		log.Error().Err(err).Str("sessionId", sessionID).Msg("Dropping invalid understanding")
		return err
	}
	event := UnderstandingEvent{
		SessionID:     sessionID,
		Understanding: u,
		Fallback:      fallback,
		Timestamp:     time.Now().UTC(),
	}
	return p.publish(ctx, p.writerUnderstandings, p.topicUnderstandings, "understanding", sessionID, event)
}

// PublishSubmission validates and publishes a submitted contact record.
func (p *Publisher) PublishSubmission(ctx context.Context, sessionID string, rec models.ContactRecord) error {
	if err := p.validator.ValidateRecord(rec); err != nil {
		log.Error().Err(err).Str("sessionId", sessionID).Msg("Dropping invalid submission")
		return err
	}
	event := SubmissionEvent{SessionID: sessionID, Record: rec, Timestamp: time.Now().UTC()}
	return p.publish(ctx, p.writerSubmissions, p.topicSubmissions, "submission", sessionID, event)
}

func (p *Publisher) publish(ctx context.Context, writer *kafka.Writer, topic, eventType, key string, event any) error {
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

	// Log-only mode
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

// Close closes all Kafka writers.
func (p *Publisher) Close() error {
	var err error
	for _, w := range []*kafka.Writer{p.writerTranscripts, p.writerUnderstandings, p.writerSubmissions} {
		if w == nil {
			continue
		}
		if e := w.Close(); e != nil {
			log.Error().Err(e).Str("topic", w.Topic).Msg("Error closing writer")
			err = e
		}
	}
	return err
}
