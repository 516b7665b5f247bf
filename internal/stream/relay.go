package stream

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/Aidin1998/tradebus/internal/broker"
	"github.com/Aidin1998/tradebus/pkg/metrics"
)

// DefaultChannel is where the engine broadcasts deltas.
const DefaultChannel = "stream:data"

// Relay forwards broadcast deltas to the hub.
type Relay struct {
	pubsub  broker.PubSub
	channel string
	hub     *Hub
	logger  *zap.Logger

	// resubscribeDelay is the pause before subscribing again after the broker
	// dropped the subscription.
	resubscribeDelay time.Duration
}

func NewRelay(pubsub broker.PubSub, channel string, hub *Hub, logger *zap.Logger) *Relay {
	if channel == "" {
		channel = DefaultChannel
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Relay{
		pubsub:           pubsub,
		channel:          channel,
		hub:              hub,
		logger:           logger,
		resubscribeDelay: time.Second,
	}
}

// Subscribe attaches to the broadcast channel. The returned subscription is
// consumed by Serve.
func (r *Relay) Subscribe(ctx context.Context) (broker.Subscription, error) {
	sub, err := r.pubsub.Subscribe(ctx, r.channel)
	if err != nil {
		return nil, err
	}
	r.logger.Info("Subscribed to broadcast channel", zap.String("channel", r.channel))
	return sub, nil
}

// Run subscribes and relays until ctx is canceled, subscribing again whenever the
// broker ends the subscription. go-redis reconnects a dropped connection itself,
// so that happens only when an adapter gives up on a channel. Run fails only if
// the first subscribe fails.
func (r *Relay) Run(ctx context.Context) error {
	sub, err := r.Subscribe(ctx)
	if err != nil {
		return err
	}
	for {
		r.Serve(ctx, sub)
		sub.Close()
		if ctx.Err() != nil {
			return nil
		}

		r.logger.Warn("Broadcast subscription lost, resubscribing", zap.String("channel", r.channel))
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(r.resubscribeDelay):
			}
			if sub, err = r.Subscribe(ctx); err == nil {
				break
			}
			r.logger.Error("Failed to resubscribe", zap.String("channel", r.channel), zap.Error(err))
		}
	}
}

// Serve relays deltas from sub until it closes or ctx is canceled.
func (r *Relay) Serve(ctx context.Context, sub broker.Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case payload, ok := <-sub.Messages():
			if !ok {
				return
			}
			r.Relay(payload)
		}
	}
}

// Relay routes one delta to its symbol's group. Deltas that are not JSON objects
// or carry no symbol are dropped with one log line.
func (r *Relay) Relay(payload []byte) int {
	var head struct {
		Symbol string `json:"symbol"`
	}
	if err := json.Unmarshal(payload, &head); err != nil {
		metrics.StreamDropped.WithLabelValues(DropMalformed).Inc()
		r.logger.Error("Dropping malformed delta", zap.Error(err), zap.ByteString("payload", payload))
		return 0
	}
	if head.Symbol == "" {
		metrics.StreamDropped.WithLabelValues(DropNoSymbol).Inc()
		r.logger.Warn("Dropping delta without symbol", zap.ByteString("payload", payload))
		return 0
	}
	return r.hub.Publish(head.Symbol, payload)
}
