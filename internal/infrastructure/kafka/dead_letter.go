package kafka

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
)

const (
	HeaderReason       = "x-dlq-reason"
	HeaderSourceTopic  = "x-source-topic"
	HeaderSourceOffset = "x-source-offset"
)

type DeadLetterConfig struct {
	Brokers []string
	Topic   string
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// DeadLetterPublisher copies dropped records to a dead-letter topic with
// the drop reason and origin in headers.
type DeadLetterPublisher struct {
	writer messageWriter
	topic  string
}

func NewDeadLetterPublisher(cfg DeadLetterConfig) *DeadLetterPublisher {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		MaxAttempts:            5,
		ReadTimeout:            10 * time.Second,
		WriteTimeout:           10 * time.Second,
		Async:                  false,
		AllowAutoTopicCreation: true,
	}
	return &DeadLetterPublisher{writer: w, topic: cfg.Topic}
}

func (p *DeadLetterPublisher) Publish(ctx context.Context, msg kafka.Message, reason string) error {
	headers := make([]kafka.Header, 0, len(msg.Headers)+3)
	headers = append(headers, msg.Headers...)
	headers = append(headers,
		kafka.Header{Key: HeaderReason, Value: []byte(reason)},
		kafka.Header{Key: HeaderSourceTopic, Value: []byte(msg.Topic)},
		kafka.Header{Key: HeaderSourceOffset, Value: []byte(strconv.FormatInt(msg.Offset, 10))},
	)

	err := p.writer.WriteMessages(ctx, kafka.Message{
		Key:     msg.Key,
		Value:   msg.Value,
		Headers: headers,
	})
	if err != nil {
		return fmt.Errorf("write to dead-letter topic %s: %w", p.topic, err)
	}
	return nil
}

func (p *DeadLetterPublisher) Topic() string {
	return p.topic
}

func (p *DeadLetterPublisher) Close() error {
	return p.writer.Close()
}
