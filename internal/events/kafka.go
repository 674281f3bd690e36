// Package events publishes register side effects to Kafka.
package events

import (
	"context"
	"errors"
	"time"

	"github.com/segmentio/kafka-go"
)

// messageWriter is implemented by *kafka.Writer.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher writes keyed messages to Kafka topics.
type Publisher struct {
	writer messageWriter
	now    func() time.Time
}

// NewPublisher constructs a Publisher for brokers.
func NewPublisher(brokers []string) (*Publisher, error) {
	if len(brokers) == 0 {
		return nil, errors.New("kafka publisher requires at least one broker")
	}
	return newPublisher(&kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		RequiredAcks:           kafka.RequireAll,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
	}), nil
}

func newPublisher(w messageWriter) *Publisher {
	return &Publisher{writer: w, now: time.Now}
}

// Publish writes payload to topic under key.
func (p *Publisher) Publish(ctx context.Context, topic, key string, payload []byte) error {
	return p.writer.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: payload,
		Time:  p.now().UTC(),
	})
}

// Close flushes pending writes.
func (p *Publisher) Close() error {
	return p.writer.Close()
}
