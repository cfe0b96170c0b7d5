package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/Tyrowin/gochat-relay/internal/logging"
)

var errBrokerClosed = errors.New("redis broker closed")

// RedisBroker implements Broker over Redis Pub/Sub, so every instance
// connected to the same Redis sees every published message.
type RedisBroker struct {
	client *redis.Client
	logger *slog.Logger

	mu     sync.Mutex
	subs   []*redis.PubSub
	closed bool
}

// NewRedisClient builds a client from a redis:// or rediss:// URL.
func NewRedisClient(url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return redis.NewClient(opt), nil
}

// NewRedisBroker returns a broker using client. The caller owns the client.
func NewRedisBroker(client *redis.Client, logger *slog.Logger) *RedisBroker {
	return &RedisBroker{client: client, logger: logging.OrDefault(logger)}
}

// Publish implements Broker.
func (b *RedisBroker) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := b.client.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", channel, err)
	}
	return nil
}

// Subscribe implements Broker. It waits for Redis to confirm the
// subscription before returning.
func (b *RedisBroker) Subscribe(ctx context.Context, channel string, handler Handler) error {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return errBrokerClosed
	}

	ps := b.client.Subscribe(ctx, channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return fmt.Errorf("redis subscribe %s: %w", channel, err)
	}

	if err := b.track(ps); err != nil {
		return err
	}

	messages := ps.Channel()
	go func() {
		defer func() {
			_ = ps.Close()
			b.logger.Debug("redis subscription ended", "channel", channel)
		}()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-messages:
				if !ok {
					return
				}
				handler(ctx, []byte(msg.Payload))
			}
		}
	}()

	return nil
}

// track records ps so Close can end it. If Close already ran, ps is closed
// here instead.
func (b *RedisBroker) track(ps *redis.PubSub) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		_ = ps.Close()
		return errBrokerClosed
	}
	b.subs = append(b.subs, ps)
	return nil
}

// Close ends all subscriptions. It does not close the client.
func (b *RedisBroker) Close() error {
	b.mu.Lock()
	subs := b.subs
	b.subs = nil
	b.closed = true
	b.mu.Unlock()

	var errs []error
	for _, ps := range subs {
		if err := ps.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
