package eventbus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisBus is a Redis Pub/Sub-backed transport for multi-node deployments.
// Subjects map to Redis channels; pattern subscriptions use PSUBSCRIBE with
// the bus wildcards translated to glob form.
type RedisBus struct {
	client        redis.UniversalClient
	channelPrefix string
	bufferSize    int

	mu          sync.Mutex
	subscribers map[*Subscription]*redisForwarder
	closed      bool
}

type redisForwarder struct {
	pubsub *redis.PubSub
	cancel context.CancelFunc
}

// NewRedisBus creates a Redis-backed transport.
func NewRedisBus(client redis.UniversalClient, channelPrefix string, bufferSize int) *RedisBus {
	if channelPrefix == "" {
		channelPrefix = "flowforge:events:"
	}
	if bufferSize <= 0 {
		bufferSize = 32
	}
	return &RedisBus{
		client:        client,
		channelPrefix: channelPrefix,
		bufferSize:    bufferSize,
		subscribers:   make(map[*Subscription]*redisForwarder),
	}
}

// Publish sends the payload on the subject's Redis channel.
func (b *RedisBus) Publish(ctx context.Context, subject string, payload []byte) error {
	if subject == "" {
		return fmt.Errorf("eventbus: subject cannot be empty")
	}
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return fmt.Errorf("eventbus: redis bus is closed")
	}
	return b.client.Publish(ctx, b.channelPrefix+subject, payload).Err()
}

// Subscribe creates a pattern subscription backed by PSUBSCRIBE. The
// returned subscription delivers messages until Close is called on it or on
// the bus.
func (b *RedisBus) Subscribe(ctx context.Context, pattern string) (*Subscription, error) {
	if pattern == "" {
		return nil, fmt.Errorf("eventbus: subscription pattern cannot be empty")
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, fmt.Errorf("eventbus: redis bus is closed")
	}

	pubsub := b.client.PSubscribe(ctx, b.channelPrefix+globPattern(pattern))
	subCtx, cancel := context.WithCancel(ctx)
	sub := &Subscription{
		pattern: pattern,
		ch:      make(chan Message, b.bufferSize),
	}
	fwd := &redisForwarder{pubsub: pubsub, cancel: cancel}
	b.subscribers[sub] = fwd

	go b.forward(subCtx, pubsub, sub.ch)

	sub.closer = func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if fwd, ok := b.subscribers[sub]; ok {
			fwd.cancel()
			delete(b.subscribers, sub)
		}
	}
	return sub, nil
}

func (b *RedisBus) forward(ctx context.Context, pubsub *redis.PubSub, ch chan Message) {
	defer func() {
		_ = pubsub.Close()
	}()

	redisCh := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-redisCh:
			if !ok {
				return
			}
			out := Message{
				Subject:   trimPrefix(msg.Channel, b.channelPrefix),
				Payload:   []byte(msg.Payload),
				Timestamp: time.Now().UTC(),
			}
			select {
			case ch <- out:
			default:
				// Drop the oldest buffered message to make room.
				select {
				case <-ch:
				default:
				}
				select {
				case ch <- out:
				default:
				}
			}
		}
	}
}

// Close shuts down all subscriptions and the bus.
func (b *RedisBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for sub, fwd := range b.subscribers {
		fwd.cancel()
		delete(b.subscribers, sub)
	}
	return nil
}

// Healthy checks whether the Redis connection is alive.
func (b *RedisBus) Healthy(ctx context.Context) bool {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return false
	}
	return b.client.Ping(ctx).Err() == nil
}

// globPattern translates bus wildcards ("*" segment, ">" suffix) into Redis
// glob form.
func globPattern(pattern string) string {
	if pattern == ">" {
		return "*"
	}
	out := make([]byte, 0, len(pattern))
	for i := 0; i < len(pattern); i++ {
		switch pattern[i] {
		case '>':
			out = append(out, '*')
		default:
			out = append(out, pattern[i])
		}
	}
	return string(out)
}

func trimPrefix(channel, prefix string) string {
	if len(channel) >= len(prefix) && channel[:len(prefix)] == prefix {
		return channel[len(prefix):]
	}
	return channel
}
