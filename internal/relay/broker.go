package relay

import "context"

// Handler processes one payload received on a subscribed channel.
type Handler func(ctx context.Context, payload []byte)

// Broker is a named-channel publish/subscribe transport shared by all
// instances. Delivery is treated as at-least-once and unordered.
type Broker interface {
	// Publish sends payload to every subscriber of channel.
	Publish(ctx context.Context, channel string, payload []byte) error
	// Subscribe registers handler for channel and returns once the
	// subscription is active. Messages are handled on a background goroutine
	// until ctx is cancelled or the broker is closed.
	Subscribe(ctx context.Context, channel string, handler Handler) error
	Close() error
}
