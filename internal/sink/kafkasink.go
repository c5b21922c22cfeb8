package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"go.uber.org/zap"

	"github.com/shortontech/cloakgate/internal/event"
	"github.com/shortontech/cloakgate/pkg/config"
)

// KafkaSink produces events to Kafka with key=event_id so consumers can
// deduplicate.
type KafkaSink struct {
	cfg      config.KafkaConfig
	producer *kafka.Producer
	logger   *zap.Logger
}

func NewKafkaSink(cfg config.KafkaConfig, logger *zap.Logger) *KafkaSink {
	if cfg.Acks == "" {
		cfg.Acks = "all"
	}
	return &KafkaSink{cfg: cfg, logger: logger.Named("kafka")}
}

func (s *KafkaSink) producerConfig() kafka.ConfigMap {
	configMap := kafka.ConfigMap{
		"bootstrap.servers": strings.Join(s.cfg.Brokers, ","),
		"acks":              s.cfg.Acks,
		"retries":           10,
		"retry.backoff.ms":  100,
		"batch.size":        16384,
		"linger.ms":         10,
	}

	if s.cfg.Compression != "" {
		configMap["compression.type"] = s.cfg.Compression
	}

	if s.cfg.SASLMechanism != "" {
		configMap["security.protocol"] = "SASL_SSL"
		configMap["sasl.mechanism"] = s.cfg.SASLMechanism
		if s.cfg.SASLUser != "" {
			configMap["sasl.username"] = s.cfg.SASLUser
		}
		if s.cfg.SASLPassword != "" {
			configMap["sasl.password"] = s.cfg.SASLPassword
		}
	}

	if s.cfg.TLSCAPath != "" {
		if s.cfg.SASLMechanism == "" {
			configMap["security.protocol"] = "SSL"
		}
		configMap["ssl.ca.location"] = s.cfg.TLSCAPath
	}

	if s.cfg.TLSSkipVerify {
		configMap["ssl.endpoint.identification.algorithm"] = "none"
	}
	return configMap
}

func (s *KafkaSink) Start(ctx context.Context) error {
	if len(s.cfg.Brokers) == 0 {
		return fmt.Errorf("kafka sink: no brokers configured")
	}
	if s.cfg.Topic == "" {
		return fmt.Errorf("kafka sink: no topic configured")
	}

	configMap := s.producerConfig()
	producer, err := kafka.NewProducer(&configMap)
	if err != nil {
		return fmt.Errorf("failed to create Kafka producer: %w", err)
	}
	s.producer = producer

	go s.handleDeliveryReports(ctx)

	s.logger.Info("producer started",
		zap.Strings("brokers", s.cfg.Brokers),
		zap.String("topic", s.cfg.Topic))
	return nil
}

func (s *KafkaSink) message(e event.Event) (*kafka.Message, error) {
	value, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize event: %w", err)
	}
	return &kafka.Message{
		TopicPartition: kafka.TopicPartition{
			Topic:     &s.cfg.Topic,
			Partition: kafka.PartitionAny,
		},
		Key:   []byte(e.EventID),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(e.Type)},
			{Key: "classification", Value: []byte(e.Decision.Classification)},
			{Key: "schema", Value: []byte("v1")},
		},
	}, nil
}

func (s *KafkaSink) Enqueue(e event.Event) error {
	if s.producer == nil {
		return fmt.Errorf("kafka producer not initialized")
	}
	msg, err := s.message(e)
	if err != nil {
		return err
	}
	if err := s.producer.Produce(msg, nil); err != nil {
		return fmt.Errorf("failed to produce message: %w", err)
	}
	return nil
}

func (s *KafkaSink) Close() error {
	if s.producer == nil {
		return nil
	}
	defer s.producer.Close()

	// wait up to 10 seconds for in-flight messages
	if remaining := s.producer.Flush(10 * 1000); remaining > 0 {
		return fmt.Errorf("failed to flush %d remaining messages", remaining)
	}
	return nil
}

func (s *KafkaSink) Name() string { return "kafka" }

func (s *KafkaSink) handleDeliveryReports(ctx context.Context) {
	events := s.producer.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			switch e := ev.(type) {
			case *kafka.Message:
				if e.TopicPartition.Error != nil {
					s.logger.Warn("delivery failed",
						zap.ByteString("event_id", e.Key),
						zap.Error(e.TopicPartition.Error))
				}
			case kafka.Error:
				s.logger.Error("client error", zap.Error(e))
			}
		}
	}
}
