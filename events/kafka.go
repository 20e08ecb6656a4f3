package events

import (
	"context"
	"encoding/json"
	"os"
	"strings"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
)

// kafkaPublisher writes project events to a Kafka topic, one JSON message per
// event, keyed by project id so that per-project ordering is preserved.
type kafkaPublisher struct {
	writer *kafka.Writer
}

// NewKafkaPublisher creates a publisher for the given brokers and topic.
func NewKafkaPublisher(brokers []string, topic string) Publisher {
	return &kafkaPublisher{
		writer: &kafka.Writer{
			Addr:     kafka.TCP(brokers...),
			Topic:    topic,
			Balancer: &kafka.Hash{},
		},
	}
}

func (p *kafkaPublisher) Publish(ctx context.Context, event ProjectEvent) error {
	value, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.ProjectID),
		Value: value,
	})
}

func (p *kafkaPublisher) Close() error {
	return p.writer.Close()
}

// FromEnv returns a Kafka publisher when KAFKA_BROKERS is set, otherwise a
// NopPublisher.
func FromEnv() Publisher {
	brokers := os.Getenv("KAFKA_BROKERS")
	if brokers == "" {
		return NopPublisher{}
	}
	topic := os.Getenv("KAFKA_TOPIC")
	if topic == "" {
		topic = "designboard.project-events"
	}
	logrus.WithFields(logrus.Fields{
		"brokers": brokers,
		"topic":   topic,
	}).Info("Publishing project events to Kafka")
	return NewKafkaPublisher(strings.Split(brokers, ","), topic)
}
