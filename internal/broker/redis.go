package broker

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	redisValueField = "value"
	// redisBlock bounds each XREADGROUP so cancellation is observed between calls.
	redisBlock = 2 * time.Second
	// redisCleanupTimeout bounds group removal on Close.
	redisCleanupTimeout = 2 * time.Second
)

// redisProducer appends each publish to the stream named after the topic.
type redisProducer struct {
	client *redis.Client
}

func (p *redisProducer) Publish(ctx context.Context, topic string, value []byte) error {
	err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: topic,
		Values: map[string]interface{}{redisValueField: value},
	}).Err()
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return publishErr(topic, err)
	}
	return nil
}

func (p *redisProducer) Close() error {
	return p.client.Close()
}

// redisConsumer reads the streams as one member of a consumer group created at
// the stream tail, so only entries added after subscription are delivered.
// Redis keeps group state until it is destroyed, so a session-scoped group is
// removed from every stream on Close.
type redisConsumer struct {
	client  *redis.Client
	group   string
	name    string
	topics  []string
	streams []string
	pending []Message
	destroy bool
}

func newRedisConsumer(ctx context.Context, client *redis.Client, groupID string, topics []string, destroy bool) (*redisConsumer, error) {
	for _, t := range topics {
		err := client.XGroupCreateMkStream(ctx, t, groupID, "$").Err()
		if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
			return nil, fmt.Errorf("redis: create group %s on %s: %w", groupID, t, err)
		}
	}

	streams := make([]string, 0, 2*len(topics))
	streams = append(streams, topics...)
	for range topics {
		streams = append(streams, ">")
	}
	return &redisConsumer{
		client:  client,
		group:   groupID,
		name:    "relay-" + uuid.NewString()[:8],
		topics:  topics,
		streams: streams,
		destroy: destroy,
	}, nil
}

func (c *redisConsumer) Receive(ctx context.Context) (Message, error) {
	for len(c.pending) == 0 {
		if err := ctx.Err(); err != nil {
			return Message{}, err
		}
		res, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    c.group,
			Consumer: c.name,
			Streams:  c.streams,
			Count:    16,
			Block:    redisBlock,
		}).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return Message{}, ctx.Err()
			}
			if errors.Is(err, redis.ErrClosed) {
				return Message{}, receiveErr(ErrClosed)
			}
			return Message{}, receiveErr(err)
		}
		for _, stream := range res {
			for _, xm := range stream.Messages {
				c.pending = append(c.pending, redisMessage(stream.Stream, xm))
				if err := c.client.XAck(ctx, stream.Stream, c.group, xm.ID).Err(); err != nil {
					return Message{}, receiveErr(fmt.Errorf("ack %s: %w", xm.ID, err))
				}
			}
		}
	}

	msg := c.pending[0]
	c.pending = c.pending[1:]
	return msg, nil
}

func (c *redisConsumer) Close() error {
	var cleanupErr error
	if c.destroy {
		ctx, cancel := context.WithTimeout(context.Background(), redisCleanupTimeout)
		for _, t := range c.topics {
			if err := c.client.XGroupDestroy(ctx, t, c.group).Err(); err != nil && cleanupErr == nil {
				cleanupErr = fmt.Errorf("redis: destroy group %s on %s: %w", c.group, t, err)
			}
		}
		cancel()
	}
	if err := c.client.Close(); err != nil {
		return err
	}
	return cleanupErr
}

func redisMessage(stream string, xm redis.XMessage) Message {
	msg := Message{Topic: stream, ID: xm.ID}
	switch v := xm.Values[redisValueField].(type) {
	case string:
		msg.Value = []byte(v)
	case []byte:
		msg.Value = v
	}
	// Stream ids are "<unix-ms>-<seq>".
	if ms, _, ok := strings.Cut(xm.ID, "-"); ok {
		if n, err := strconv.ParseInt(ms, 10, 64); err == nil {
			msg.Time = time.UnixMilli(n)
		}
	}
	return msg
}

func redisAddr(opts Options) string {
	if len(opts.Addresses) > 0 {
		return opts.Addresses[0]
	}
	return "localhost:6379"
}

// dialRedis creates a client and checks the server answers.
func dialRedis(ctx context.Context, o *redis.Options) (*redis.Client, error) {
	client := redis.NewClient(o)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: redis %s: %w", ErrBrokerUnavailable, o.Addr, err)
	}
	return client, nil
}

func openRedisProducer(ctx context.Context, opts Options) (Producer, error) {
	pub, err := dialRedis(ctx, &redis.Options{Addr: redisAddr(opts)})
	if err != nil {
		return nil, err
	}
	return &redisProducer{client: pub}, nil
}

// openRedis connects a producer and a group consumer. ephemeral marks a
// generated group id whose group is destroyed when the consumer closes.
func openRedis(ctx context.Context, opts Options, ephemeral bool) (Producer, Consumer, error) {
	addr := redisAddr(opts)
	pub, err := dialRedis(ctx, &redis.Options{Addr: addr})
	if err != nil {
		return nil, nil, err
	}

	// Blocking reads hold a connection, so the consumer gets its own client.
	sub := redis.NewClient(&redis.Options{Addr: addr, ReadTimeout: redisBlock + 3*time.Second})
	c, err := newRedisConsumer(ctx, sub, opts.GroupID, opts.Topics, ephemeral)
	if err != nil {
		_ = pub.Close()
		_ = sub.Close()
		return nil, nil, err
	}
	return &redisProducer{client: pub}, c, nil
}
