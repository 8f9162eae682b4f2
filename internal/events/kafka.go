package events

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
)

// messageWriter is the part of *kafka.Writer the publisher needs.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes events to a single topic keyed by order id.
type KafkaPublisher struct {
	w     messageWriter
	topic string
}

// NewKafkaPublisher creates a publisher for the given brokers and topic.
func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return newKafkaPublisherWithWriter(&kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 50 * time.Millisecond,
	}, topic)
}

func newKafkaPublisherWithWriter(w messageWriter, topic string) *KafkaPublisher {
	return &KafkaPublisher{w: w, topic: topic}
}

func (p *KafkaPublisher) Publish(ctx context.Context, e Event) error {
	value, err := encode(e)
	if err != nil {
		return errors.Wrap(err, "encode event")
	}
	if err := p.w.WriteMessages(ctx, kafka.Message{
		Topic: p.topic,
		Key:   []byte(e.Key()),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte(e.EventType())},
		},
	}); err != nil {
		return errors.Wrap(err, "kafka publish")
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.w.Close()
}

var _ Publisher = (*KafkaPublisher)(nil)
