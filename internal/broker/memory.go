package broker

import (
	"context"
	"sync"
	"time"
)

// Memory is a process-local broker. Every consumer group subscribed to a topic
// gets its own copy of each message, in publish order. Consumers sharing a
// group id share one queue, so each message goes to one of them. Used by tests
// and by `--broker memory`, where the session receives its own publishes back.
type Memory struct {
	mu     sync.RWMutex
	offset map[string]int64
	groups map[string]*memoryGroup
	subs   map[string]map[*memoryGroup]struct{}
}

// NewMemory creates an empty hub.
func NewMemory() *Memory {
	return &Memory{
		offset: make(map[string]int64),
		groups: make(map[string]*memoryGroup),
		subs:   make(map[string]map[*memoryGroup]struct{}),
	}
}

// Producer returns a producer publishing into the hub.
func (m *Memory) Producer() Producer {
	return &memoryProducer{hub: m}
}

// Publish delivers value to every group subscribed to topic.
func (m *Memory) Publish(topic string, value []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	off := m.offset[topic]
	m.offset[topic] = off + 1
	now := time.Now()
	for g := range m.subs[topic] {
		g.push(Message{
			Topic:  topic,
			Offset: off,
			Value:  append([]byte(nil), value...),
			Time:   now,
		})
	}
}

// Subscribe registers a consumer in groupID for topics. Messages published
// before the group first subscribed to a topic are not delivered. An empty
// groupID gets a private group.
func (m *Memory) Subscribe(groupID string, topics ...string) Consumer {
	m.mu.Lock()
	defer m.mu.Unlock()

	g := m.groups[groupID]
	if g == nil {
		g = &memoryGroup{
			id:     groupID,
			topics: make(map[string]int),
			ready:  make(chan struct{}, 1),
		}
		if groupID != "" {
			m.groups[groupID] = g
		}
	}
	g.members++
	for _, t := range topics {
		g.topics[t]++
		if m.subs[t] == nil {
			m.subs[t] = make(map[*memoryGroup]struct{})
		}
		m.subs[t][g] = struct{}{}
	}

	return &memoryConsumer{
		hub:    m,
		group:  g,
		topics: topics,
		done:   make(chan struct{}),
	}
}

func (m *Memory) unsubscribe(c *memoryConsumer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g := c.group
	for _, t := range c.topics {
		g.topics[t]--
		if g.topics[t] > 0 {
			continue
		}
		delete(g.topics, t)
		delete(m.subs[t], g)
		if len(m.subs[t]) == 0 {
			delete(m.subs, t)
		}
	}
	g.members--
	if g.members == 0 && m.groups[g.id] == g {
		delete(m.groups, g.id)
	}
}

type memoryProducer struct {
	hub    *Memory
	mu     sync.Mutex
	closed bool
}

func (p *memoryProducer) Publish(ctx context.Context, topic string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return publishErr(topic, ErrClosed)
	}
	p.hub.Publish(topic, value)
	return nil
}

func (p *memoryProducer) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return nil
}

// memoryGroup is the queue shared by every consumer of one group id.
// topics and members are guarded by the hub lock.
type memoryGroup struct {
	id      string
	topics  map[string]int
	members int

	mu    sync.Mutex
	queue []Message
	ready chan struct{}
}

func (g *memoryGroup) push(msg Message) {
	g.mu.Lock()
	g.queue = append(g.queue, msg)
	g.mu.Unlock()
	g.signal()
}

func (g *memoryGroup) signal() {
	select {
	case g.ready <- struct{}{}:
	default:
	}
}

// pop takes the next message. A non-empty remainder wakes another waiter.
func (g *memoryGroup) pop() (Message, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.queue) == 0 {
		return Message{}, false
	}
	msg := g.queue[0]
	g.queue = g.queue[1:]
	if len(g.queue) > 0 {
		g.signal()
	}
	return msg, true
}

type memoryConsumer struct {
	hub    *Memory
	group  *memoryGroup
	topics []string

	done chan struct{}
	once sync.Once
}

func (c *memoryConsumer) Receive(ctx context.Context) (Message, error) {
	for {
		select {
		case <-c.done:
			return Message{}, receiveErr(ErrClosed)
		default:
		}
		if msg, ok := c.group.pop(); ok {
			return msg, nil
		}

		select {
		case <-c.group.ready:
		case <-c.done:
			return Message{}, receiveErr(ErrClosed)
		case <-ctx.Done():
			return Message{}, ctx.Err()
		}
	}
}

func (c *memoryConsumer) Close() error {
	c.once.Do(func() {
		c.hub.unsubscribe(c)
		close(c.done)
		// Hand any pending wakeup to the remaining members.
		c.group.signal()
	})
	return nil
}
