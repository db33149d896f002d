package audit

import (
	"context"

	"github.com/IBM/sarama"
	json "github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/PNdlovu/WriteCareNotes-sub010/pkg/connector/core"
	"github.com/PNdlovu/WriteCareNotes-sub010/pkg/errors"
	"github.com/PNdlovu/WriteCareNotes-sub010/pkg/logger"
)

// KafkaSink publishes audit events to a Kafka topic. Events are keyed by
// resource id so all records for one instance land on the same partition in
// order.
type KafkaSink struct {
	producer sarama.SyncProducer
	topic    string
	logger   *zap.Logger
}

// KafkaConfig configures the Kafka audit sink.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

// NewKafkaSink creates a Kafka-backed audit sink with idempotent,
// acks-all production.
func NewKafkaSink(cfg KafkaConfig) (*KafkaSink, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New(errors.ErrorTypeConfig, "kafka audit sink requires at least one broker")
	}
	if cfg.Topic == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "kafka audit sink requires a topic")
	}

	saramaCfg := sarama.NewConfig()
	saramaCfg.Producer.RequiredAcks = sarama.WaitForAll
	saramaCfg.Producer.Retry.Max = 3
	saramaCfg.Producer.Return.Successes = true
	saramaCfg.Producer.Idempotent = true
	saramaCfg.Net.MaxOpenRequests = 1

	producer, err := sarama.NewSyncProducer(cfg.Brokers, saramaCfg)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to create kafka producer")
	}

	return &KafkaSink{
		producer: producer,
		topic:    cfg.Topic,
		logger:   logger.Get().With(zap.String("component", "audit_kafka")),
	}, nil
}

// Record publishes the event synchronously.
func (s *KafkaSink) Record(_ context.Context, event core.AuditEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeData, "failed to encode audit event")
	}

	_, _, err = s.producer.SendMessage(&sarama.ProducerMessage{
		Topic: s.topic,
		Key:   sarama.StringEncoder(event.ResourceID),
		Value: sarama.ByteEncoder(payload),
	})
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "failed to publish audit event")
	}
	return nil
}

// Close shuts down the underlying producer.
func (s *KafkaSink) Close() error {
	return s.producer.Close()
}
