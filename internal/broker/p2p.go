package broker

import (
	"context"
	"crypto/rand"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	libp2p "github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	mdns "github.com/libp2p/go-libp2p/p2p/discovery/mdns"
	ma "github.com/multiformats/go-multiaddr"
)

// Gossip is a brokerless backend: peers exchange messages over gossipsub.
// There are no consumer groups or offsets; every subscriber sees every message
// published while it is connected.
type Gossip struct {
	ctx    context.Context
	cancel context.CancelFunc

	host host.Host
	ps   *pubsub.PubSub

	mu     sync.Mutex
	topics map[string]*pubsub.Topic
}

// NewGossip starts a libp2p host with gossipsub.
func NewGossip(parent context.Context, opts P2POptions) (*Gossip, error) {
	ctx, cancel := context.WithCancel(parent)

	listenAddrs := make([]ma.Multiaddr, 0, len(opts.ListenAddrs))
	for _, s := range opts.ListenAddrs {
		if s == "" {
			continue
		}
		a, err := ma.NewMultiaddr(s)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("invalid listen multiaddr %q: %w", s, err)
		}
		listenAddrs = append(listenAddrs, a)
	}
	if len(listenAddrs) == 0 {
		a, _ := ma.NewMultiaddr("/ip4/0.0.0.0/tcp/0")
		listenAddrs = append(listenAddrs, a)
	}

	p2pOpts := []libp2p.Option{libp2p.ListenAddrs(listenAddrs...)}
	if opts.IdentityKeyFile != "" {
		key, err := loadOrCreateIdentityKey(opts.IdentityKeyFile)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("load identity key: %w", err)
		}
		p2pOpts = append(p2pOpts, libp2p.Identity(key))
	}

	h, err := libp2p.New(p2pOpts...)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("%w: create libp2p host: %w", ErrBrokerUnavailable, err)
	}

	ps, err := pubsub.NewGossipSub(ctx, h)
	if err != nil {
		_ = h.Close()
		cancel()
		return nil, fmt.Errorf("%w: create gossipsub: %w", ErrBrokerUnavailable, err)
	}

	g := &Gossip{
		ctx:    ctx,
		cancel: cancel,
		host:   h,
		ps:     ps,
		topics: make(map[string]*pubsub.Topic),
	}

	if opts.EnableMDNS {
		service := mdns.NewMdnsService(h, opts.Rendezvous, &mdnsNotifee{host: h})
		if err := service.Start(); err != nil {
			fmt.Fprintf(os.Stderr, "p2p: mdns start: %v\n", err)
		}
	}

	connected := 0
	for _, raw := range opts.Bootstrap {
		if raw == "" {
			continue
		}
		addr, err := ma.NewMultiaddr(raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "p2p: skip bootstrap addr %q: %v\n", raw, err)
			continue
		}
		info, err := peer.AddrInfoFromP2pAddr(addr)
		if err != nil {
			fmt.Fprintf(os.Stderr, "p2p: skip bootstrap addr %q: %v\n", raw, err)
			continue
		}
		if err := h.Connect(ctx, *info); err != nil {
			fmt.Fprintf(os.Stderr, "p2p: bootstrap connect %s: %v\n", info.ID, err)
			continue
		}
		connected++
	}
	if len(opts.Bootstrap) > 0 && connected == 0 && !opts.EnableMDNS {
		_ = g.Close()
		return nil, fmt.Errorf("%w: no bootstrap peer reachable", ErrBrokerUnavailable)
	}

	return g, nil
}

// Publish sends value to every peer subscribed to topic.
func (g *Gossip) Publish(ctx context.Context, topic string, value []byte) error {
	t, err := g.join(topic)
	if err != nil {
		return publishErr(topic, err)
	}
	if err := t.Publish(ctx, value); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return publishErr(topic, err)
	}
	return nil
}

// Subscribe joins topics and returns a consumer over all of them.
func (g *Gossip) Subscribe(topics ...string) (Consumer, error) {
	c := &gossipConsumer{
		out:  make(chan Message),
		errs: make(chan error, 1),
	}
	ctx, cancel := context.WithCancel(g.ctx)
	c.cancel = cancel

	for _, name := range topics {
		t, err := g.join(name)
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("join %s: %w", name, err)
		}
		sub, err := t.Subscribe()
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("subscribe %s: %w", name, err)
		}
		c.subs = append(c.subs, sub)
		go c.forward(ctx, name, sub)
	}
	return c, nil
}

// PeerID returns this host's peer id.
func (g *Gossip) PeerID() string {
	return g.host.ID().String()
}

// ListenAddrs returns dialable addresses including the peer id.
func (g *Gossip) ListenAddrs() []string {
	out := make([]string, 0, len(g.host.Addrs()))
	for _, addr := range g.host.Addrs() {
		out = append(out, fmt.Sprintf("%s/p2p/%s", addr.String(), g.host.ID().String()))
	}
	return out
}

// Close leaves all topics and shuts the host down.
func (g *Gossip) Close() error {
	g.cancel()
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, t := range g.topics {
		_ = t.Close()
	}
	return g.host.Close()
}

func (g *Gossip) join(name string) (*pubsub.Topic, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if t, ok := g.topics[name]; ok {
		return t, nil
	}
	t, err := g.ps.Join(name)
	if err != nil {
		return nil, err
	}
	g.topics[name] = t
	return t, nil
}

type gossipConsumer struct {
	cancel context.CancelFunc
	subs   []*pubsub.Subscription
	out    chan Message
	errs   chan error
	once   sync.Once
}

func (c *gossipConsumer) forward(ctx context.Context, topic string, sub *pubsub.Subscription) {
	for {
		msg, err := sub.Next(ctx)
		if err != nil {
			if ctx.Err() == nil {
				select {
				case c.errs <- err:
				default:
				}
			}
			return
		}
		select {
		case c.out <- Message{Topic: topic, ID: msg.ID, Value: append([]byte(nil), msg.Data...)}:
		case <-ctx.Done():
			return
		}
	}
}

func (c *gossipConsumer) Receive(ctx context.Context) (Message, error) {
	select {
	case m := <-c.out:
		return m, nil
	case err := <-c.errs:
		return Message{}, receiveErr(err)
	case <-ctx.Done():
		return Message{}, ctx.Err()
	}
}

func (c *gossipConsumer) Close() error {
	c.once.Do(func() {
		c.cancel()
		for _, s := range c.subs {
			s.Cancel()
		}
	})
	return nil
}

type mdnsNotifee struct {
	host host.Host
}

func (n *mdnsNotifee) HandlePeerFound(info peer.AddrInfo) {
	if err := n.host.Connect(context.Background(), info); err != nil {
		fmt.Fprintf(os.Stderr, "p2p: mdns connect %s: %v\n", info.ID, err)
	}
}

func loadOrCreateIdentityKey(path string) (crypto.PrivKey, error) {
	if b, err := os.ReadFile(path); err == nil && len(b) > 0 {
		key, err := crypto.UnmarshalPrivateKey(b)
		if err != nil {
			return nil, fmt.Errorf("unmarshal private key: %w", err)
		}
		return key, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir key dir: %w", err)
	}
	key, _, err := crypto.GenerateEd25519Key(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate ed25519 key: %w", err)
	}
	raw, err := crypto.MarshalPrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("marshal private key: %w", err)
	}
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		return nil, fmt.Errorf("write private key: %w", err)
	}
	return key, nil
}
