package broker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

const kafkaDialTimeout = 5 * time.Second

// kafkaProducer writes one message per publish with no key.
// BatchTimeout is kept at its floor so a typed line leaves immediately.
type kafkaProducer struct {
	w *kafka.Writer
}

func newKafkaProducer(addrs []string) *kafkaProducer {
	return &kafkaProducer{w: &kafka.Writer{
		Addr:                   kafka.TCP(addrs...),
		Balancer:               &kafka.LeastBytes{},
		BatchSize:              1,
		BatchTimeout:           time.Millisecond,
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
	}}
}

func (p *kafkaProducer) Publish(ctx context.Context, topic string, value []byte) error {
	err := p.w.WriteMessages(ctx, kafka.Message{Topic: topic, Value: value})
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return publishErr(topic, err)
	}
	return nil
}

func (p *kafkaProducer) Close() error {
	return p.w.Close()
}

// kafkaConsumer reads as a member of a consumer group. Offsets are committed by
// the reader after each fetch.
type kafkaConsumer struct {
	r *kafka.Reader
}

func newKafkaConsumer(addrs []string, groupID string, topics []string) *kafkaConsumer {
	cfg := kafka.ReaderConfig{
		Brokers:     addrs,
		GroupID:     groupID,
		StartOffset: kafka.LastOffset,
		MinBytes:    1,
		MaxBytes:    10e6,
		MaxWait:     500 * time.Millisecond,
	}
	if len(topics) == 1 {
		cfg.Topic = topics[0]
	} else {
		cfg.GroupTopics = topics
	}
	return &kafkaConsumer{r: kafka.NewReader(cfg)}
}

func (c *kafkaConsumer) Receive(ctx context.Context) (Message, error) {
	m, err := c.r.ReadMessage(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return Message{}, ctx.Err()
		}
		if errors.Is(err, kafka.ErrGroupClosed) {
			return Message{}, receiveErr(ErrClosed)
		}
		return Message{}, receiveErr(err)
	}
	return Message{
		Topic:     m.Topic,
		Partition: m.Partition,
		Offset:    m.Offset,
		Value:     m.Value,
		Time:      m.Time,
	}, nil
}

func (c *kafkaConsumer) Close() error {
	return c.r.Close()
}

func openKafka(ctx context.Context, opts Options) (Producer, Consumer, error) {
	if len(opts.Addresses) == 0 {
		return nil, nil, fmt.Errorf("kafka: no bootstrap addresses")
	}
	if err := probeKafka(ctx, opts.Addresses); err != nil {
		return nil, nil, err
	}
	return newKafkaProducer(opts.Addresses), newKafkaConsumer(opts.Addresses, opts.GroupID, opts.Topics), nil
}

func openKafkaProducer(ctx context.Context, opts Options) (Producer, error) {
	if len(opts.Addresses) == 0 {
		return nil, fmt.Errorf("kafka: no bootstrap addresses")
	}
	if err := probeKafka(ctx, opts.Addresses); err != nil {
		return nil, err
	}
	return newKafkaProducer(opts.Addresses), nil
}

// probeKafka dials the bootstrap list until one broker answers.
func probeKafka(ctx context.Context, addrs []string) error {
	ctx, cancel := context.WithTimeout(ctx, kafkaDialTimeout)
	defer cancel()

	var lastErr error
	for _, addr := range addrs {
		conn, err := kafka.DialContext(ctx, "tcp", addr)
		if err != nil {
			lastErr = err
			continue
		}
		_ = conn.Close()
		return nil
	}
	return fmt.Errorf("%w: kafka %v: %w", ErrBrokerUnavailable, addrs, lastErr)
}
