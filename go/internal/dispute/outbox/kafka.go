package outbox

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"
)

// KafkaPublisher writes outbox events to one topic keyed by lot id, so a
// lot's events stay ordered within a partition.
type KafkaPublisher struct {
	writer *kafka.Writer
	topic  string
}

func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Topic:                  topic,
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireAll,
			AllowAutoTopicCreation: true,
		},
		topic: topic,
	}
}

func (p *KafkaPublisher) Publish(ctx context.Context, event OutboxEvent) error {
	data, err := encodeEnvelope(event)
	if err != nil {
		return err
	}

	msg := kafka.Message{
		Key:   []byte(event.PartitionKey()),
		Value: data,
		Time:  time.Now(),
		Headers: []kafka.Header{
			{Key: "Event-Type", Value: []byte(event.EventType)},
			{Key: "Event-ID", Value: []byte(event.ID.String())},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write to kafka topic %s: %w", p.topic, err)
	}

	log.Debug().
		Str("topic", p.topic).
		Str("key", event.PartitionKey()).
		Str("event_id", event.ID.String()).
		Msg("published to Kafka")
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
