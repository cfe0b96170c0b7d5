package relay

import (
	"context"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/Tyrowin/gochat-relay/internal/logging"
)

// MemoryBroker implements Broker with watermill's in-process GoChannel. It
// only fans out within one process, which is enough for a single instance or
// for several hubs sharing one broker in tests.
type MemoryBroker struct {
	ch     *gochannel.GoChannel
	logger *slog.Logger
}

// NewMemoryBroker returns a ready MemoryBroker.
func NewMemoryBroker(logger *slog.Logger) *MemoryBroker {
	ch := gochannel.NewGoChannel(
		gochannel.Config{OutputChannelBuffer: 256},
		watermill.NewStdLogger(false, false),
	)
	return &MemoryBroker{ch: ch, logger: logging.OrDefault(logger)}
}

// Publish implements Broker.
func (b *MemoryBroker) Publish(_ context.Context, channel string, payload []byte) error {
	msg := message.NewMessage(watermill.NewUUID(), payload)
	return b.ch.Publish(channel, msg)
}

// Subscribe implements Broker.
func (b *MemoryBroker) Subscribe(ctx context.Context, channel string, handler Handler) error {
	messages, err := b.ch.Subscribe(ctx, channel)
	if err != nil {
		return err
	}

	go func() {
		for msg := range messages {
			handler(ctx, msg.Payload)
			msg.Ack()
		}
		b.logger.Debug("memory subscription ended", "channel", channel)
	}()

	return nil
}

// Close shuts the channel down and ends all subscriptions.
func (b *MemoryBroker) Close() error {
	return b.ch.Close()
}
