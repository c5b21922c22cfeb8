package sink

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"go.uber.org/zap"

	"github.com/shortontech/cloakgate/pkg/config"
)

func TestNewKafkaSink(t *testing.T) {
	s := NewKafkaSink(config.KafkaConfig{Brokers: []string{"b1:9092"}, Topic: "cloakgate.decisions"}, zap.NewNop())
	if s.cfg.Acks != "all" {
		t.Errorf("Acks = %q, want all", s.cfg.Acks)
	}
	if s.Name() != "kafka" {
		t.Errorf("Name() = %q", s.Name())
	}
}

func TestKafkaSinkProducerConfig(t *testing.T) {
	base := config.KafkaConfig{
		Brokers: []string{"b1:9092", "b2:9092"},
		Topic:   "cloakgate.decisions",
		Acks:    "1",
	}

	tests := []struct {
		name   string
		mutate func(*config.KafkaConfig)
		want   map[string]kafka.ConfigValue
		absent []string
	}{
		{
			name: "basic configuration",
			want: map[string]kafka.ConfigValue{
				"bootstrap.servers": "b1:9092,b2:9092",
				"acks":              "1",
				"linger.ms":         10,
			},
			absent: []string{"compression.type", "security.protocol"},
		},
		{
			name:   "with compression",
			mutate: func(c *config.KafkaConfig) { c.Compression = "zstd" },
			want:   map[string]kafka.ConfigValue{"compression.type": "zstd"},
		},
		{
			name: "with SASL configuration",
			mutate: func(c *config.KafkaConfig) {
				c.SASLMechanism = "SCRAM-SHA-512"
				c.SASLUser = "svc"
				c.SASLPassword = "secret"
			},
			want: map[string]kafka.ConfigValue{
				"security.protocol": "SASL_SSL",
				"sasl.mechanism":    "SCRAM-SHA-512",
				"sasl.username":     "svc",
				"sasl.password":     "secret",
			},
		},
		{
			name:   "with TLS configuration",
			mutate: func(c *config.KafkaConfig) { c.TLSCAPath = "/etc/ssl/ca.pem" },
			want: map[string]kafka.ConfigValue{
				"security.protocol": "SSL",
				"ssl.ca.location":   "/etc/ssl/ca.pem",
			},
		},
		{
			name: "with SASL and TLS",
			mutate: func(c *config.KafkaConfig) {
				c.SASLMechanism = "PLAIN"
				c.TLSCAPath = "/etc/ssl/ca.pem"
			},
			want: map[string]kafka.ConfigValue{
				"security.protocol": "SASL_SSL",
				"ssl.ca.location":   "/etc/ssl/ca.pem",
			},
		},
		{
			name:   "with TLS skip verify",
			mutate: func(c *config.KafkaConfig) { c.TLSSkipVerify = true },
			want:   map[string]kafka.ConfigValue{"ssl.endpoint.identification.algorithm": "none"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			if tt.mutate != nil {
				tt.mutate(&cfg)
			}
			cm := NewKafkaSink(cfg, zap.NewNop()).producerConfig()
			for k, want := range tt.want {
				if got := cm[k]; got != want {
					t.Errorf("%s = %v, want %v", k, got, want)
				}
			}
			for _, k := range tt.absent {
				if _, ok := cm[k]; ok {
					t.Errorf("%s should not be set", k)
				}
			}
		})
	}
}

func TestKafkaSinkMessage(t *testing.T) {
	s := NewKafkaSink(config.KafkaConfig{Brokers: []string{"b1:9092"}, Topic: "decisions"}, zap.NewNop())
	msg, err := s.message(testEvent("evt-42"))
	if err != nil {
		t.Fatalf("message() error = %v", err)
	}

	if string(msg.Key) != "evt-42" {
		t.Errorf("Key = %q, want event id", msg.Key)
	}
	if *msg.TopicPartition.Topic != "decisions" {
		t.Errorf("Topic = %q", *msg.TopicPartition.Topic)
	}
	headers := map[string]string{}
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	if headers["event_type"] != "decision" || headers["classification"] != "bot" || headers["schema"] != "v1" {
		t.Errorf("Headers = %v", headers)
	}
	if !json.Valid(msg.Value) {
		t.Error("Value is not JSON")
	}
}

func TestKafkaSinkWithoutProducer(t *testing.T) {
	s := NewKafkaSink(config.KafkaConfig{Brokers: []string{"b1:9092"}, Topic: "t"}, zap.NewNop())

	if err := s.Enqueue(testEvent("x")); err == nil {
		t.Error("Enqueue() without producer should fail")
	}
	if err := s.Close(); err != nil {
		t.Errorf("Close() without start error = %v", err)
	}
}

func TestKafkaSinkStartValidation(t *testing.T) {
	t.Run("no brokers", func(t *testing.T) {
		s := NewKafkaSink(config.KafkaConfig{Topic: "t"}, zap.NewNop())
		if err := s.Start(context.Background()); err == nil {
			t.Error("Start() should fail without brokers")
		}
	})
	t.Run("no topic", func(t *testing.T) {
		s := NewKafkaSink(config.KafkaConfig{Brokers: []string{"b1:9092"}}, zap.NewNop())
		if err := s.Start(context.Background()); err == nil {
			t.Error("Start() should fail without topic")
		}
	})
}
