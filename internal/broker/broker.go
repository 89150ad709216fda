// Package broker adapts message brokers to the two calls the relay makes:
// publish bytes to a topic, and receive the next message from a subscription.
package broker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrBrokerUnavailable is returned when a backend cannot be reached at open time.
	ErrBrokerUnavailable = errors.New("broker unavailable")
	// ErrPublishFailed wraps any failure to hand a message to the broker.
	ErrPublishFailed = errors.New("publish failed")
	// ErrReceiveFailed wraps any failure to read the next message.
	ErrReceiveFailed = errors.New("receive failed")
	// ErrClosed is returned by operations on a closed producer or consumer.
	ErrClosed = errors.New("broker client closed")
)

// Kind names a broker backend.
type Kind string

const (
	KindKafka  Kind = "kafka"
	KindRedis  Kind = "redis"
	KindP2P    Kind = "p2p"
	KindMemory Kind = "memory"
)

// Kinds lists every supported backend.
var Kinds = []Kind{KindKafka, KindRedis, KindP2P, KindMemory}

// ParseKind validates a backend name.
func ParseKind(s string) (Kind, error) {
	for _, k := range Kinds {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown broker kind %q (want kafka, redis, p2p or memory)", s)
}

// Message is one record received from a subscription.
type Message struct {
	Topic     string
	Partition int
	Offset    int64
	ID        string
	Value     []byte
	Time      time.Time
}

// Producer publishes raw bytes to a topic. No key is supplied; the broker routes.
type Producer interface {
	Publish(ctx context.Context, topic string, value []byte) error
	Close() error
}

// Consumer yields messages from the subscribed topics, blocking until one is available.
// A Consumer is used by a single goroutine.
type Consumer interface {
	Receive(ctx context.Context) (Message, error)
	Close() error
}

// P2POptions configures the gossip backend.
type P2POptions struct {
	ListenAddrs     []string
	Bootstrap       []string
	Rendezvous      string
	EnableMDNS      bool
	IdentityKeyFile string
}

// Options selects and configures a backend.
type Options struct {
	Kind      Kind
	Addresses []string
	Topics    []string

	// GroupID is the consumer group. Empty means a fresh NewGroupID per Open.
	GroupID string

	P2P P2POptions

	// Memory is the hub used by KindMemory. Nil creates a private one.
	Memory *Memory
}

// NewGroupID returns a session-scoped consumer group id. Two runs never share
// committed offsets, so each run sees only messages published after it joined.
func NewGroupID() string {
	return "consumer-" + uuid.NewString()
}

// Open connects a producer and a consumer subscribed to opts.Topics.
// A group id generated here belongs to this session only; backends that keep
// group state on the server remove it when the consumer is closed.
func Open(ctx context.Context, opts Options) (Producer, Consumer, error) {
	ephemeral := opts.GroupID == ""
	if ephemeral {
		opts.GroupID = NewGroupID()
	}
	if len(opts.Topics) == 0 {
		return nil, nil, fmt.Errorf("no topics to subscribe")
	}

	switch opts.Kind {
	case KindKafka:
		return openKafka(ctx, opts)
	case KindRedis:
		return openRedis(ctx, opts, ephemeral)
	case KindP2P:
		ps, err := NewGossip(ctx, opts.P2P)
		if err != nil {
			return nil, nil, err
		}
		c, err := ps.Subscribe(opts.Topics...)
		if err != nil {
			_ = ps.Close()
			return nil, nil, err
		}
		return ps, c, nil
	case KindMemory:
		hub := opts.Memory
		if hub == nil {
			hub = NewMemory()
		}
		return hub.Producer(), hub.Subscribe(opts.GroupID, opts.Topics...), nil
	default:
		return nil, nil, fmt.Errorf("unknown broker kind %q", opts.Kind)
	}
}

// OpenProducer connects only a producer. No consumer group is joined or
// created, so one-shot publishers leave no state behind on the broker.
func OpenProducer(ctx context.Context, opts Options) (Producer, error) {
	switch opts.Kind {
	case KindKafka:
		return openKafkaProducer(ctx, opts)
	case KindRedis:
		return openRedisProducer(ctx, opts)
	case KindP2P:
		return NewGossip(ctx, opts.P2P)
	case KindMemory:
		hub := opts.Memory
		if hub == nil {
			hub = NewMemory()
		}
		return hub.Producer(), nil
	default:
		return nil, fmt.Errorf("unknown broker kind %q", opts.Kind)
	}
}

func publishErr(topic string, err error) error {
	return fmt.Errorf("%w: topic %s: %w", ErrPublishFailed, topic, err)
}

func receiveErr(err error) error {
	return fmt.Errorf("%w: %w", ErrReceiveFailed, err)
}
