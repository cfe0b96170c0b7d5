// Package relay fans chat messages out across server instances.
//
// Every instance publishes the messages its clients send to one shared broker
// channel and subscribes to that same channel. Local delivery happens only
// from the subscription, including for messages the instance published
// itself, so each connected client receives one copy per message regardless
// of which instance it arrived on.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/Tyrowin/gochat-relay/internal/logging"
)

// Deliverer hands an encoded frame to every client connected to this instance.
type Deliverer interface {
	Deliver(ctx context.Context, frame []byte) error
}

// Relay connects the local hub to the shared broker channel.
type Relay struct {
	broker  Broker
	channel string
	local   Deliverer
	logger  *slog.Logger
}

// New returns a Relay on channel. An empty channel uses DefaultChannel.
func New(broker Broker, channel string, local Deliverer, logger *slog.Logger) *Relay {
	if channel == "" {
		channel = DefaultChannel
	}
	return &Relay{
		broker:  broker,
		channel: channel,
		local:   local,
		logger:  logging.OrDefault(logger),
	}
}

// Channel returns the broker channel name.
func (r *Relay) Channel() string {
	return r.channel
}

// Start subscribes to the channel. The subscription lasts until ctx is done.
func (r *Relay) Start(ctx context.Context) error {
	if err := r.broker.Subscribe(ctx, r.channel, r.OnChannelMessage); err != nil {
		return fmt.Errorf("relay subscribe: %w", err)
	}
	r.logger.Info("relay subscribed", "channel", r.channel)
	return nil
}

// Publish sends msg to the shared channel. Delivery to subscribers is the
// broker's responsibility.
func (r *Relay) Publish(ctx context.Context, msg ChatMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode chat message: %w", err)
	}
	if err := r.broker.Publish(ctx, r.channel, payload); err != nil {
		return fmt.Errorf("relay publish: %w", err)
	}
	return nil
}

// OnChannelMessage decodes a payload from the channel and delivers it to all
// local clients on PublicDestination. Undecodable payloads are dropped.
func (r *Relay) OnChannelMessage(ctx context.Context, raw []byte) {
	var msg ChatMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		r.logger.Warn("dropping undecodable channel message", "channel", r.channel, "error", err)
		return
	}

	frame, err := json.Marshal(Frame{Destination: PublicDestination, Payload: msg})
	if err != nil {
		r.logger.Error("encode frame", "error", err)
		return
	}

	if err := r.local.Deliver(ctx, frame); err != nil {
		r.logger.Warn("local delivery failed", "channel", r.channel, "error", err)
	}
}
