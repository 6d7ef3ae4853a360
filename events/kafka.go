package events

import (
	"context"
	"fmt"
	"log"

	"github.com/IBM/sarama"
)

// KafkaPublisher publishes outbox messages with a synchronous producer.
type KafkaPublisher struct {
	producer sarama.SyncProducer
}

// NewKafkaPublisher connects to brokers. Every message waits for all in-sync
// replicas before it counts as sent.
func NewKafkaPublisher(brokers []string) (*KafkaPublisher, error) {
	cfg := sarama.NewConfig()
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 3
	cfg.Producer.Return.Successes = true

	producer, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}
	log.Printf("[Outbox] Kafka producer connected to %v", brokers)
	return NewKafkaPublisherFromProducer(producer), nil
}

func NewKafkaPublisherFromProducer(p sarama.SyncProducer) *KafkaPublisher {
	return &KafkaPublisher{producer: p}
}

func (k *KafkaPublisher) Publish(_ context.Context, msg OutboxMessage) error {
	_, _, err := k.producer.SendMessage(&sarama.ProducerMessage{
		Topic: msg.Topic,
		Key:   sarama.StringEncoder(msg.Key),
		Value: sarama.ByteEncoder(msg.Payload),
		Headers: []sarama.RecordHeader{
			{Key: []byte("message-id"), Value: []byte(msg.ID)},
		},
	})
	return err
}

func (k *KafkaPublisher) Close() error {
	return k.producer.Close()
}

// LogPublisher writes messages to the log. Used when no brokers are configured.
type LogPublisher struct{}

func (LogPublisher) Publish(_ context.Context, msg OutboxMessage) error {
	log.Printf("[Outbox] %s key=%s %s", msg.Topic, msg.Key, msg.Payload)
	return nil
}

func (LogPublisher) Close() error { return nil }
