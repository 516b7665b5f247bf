package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Aidin1998/tradebus/internal/broker"
	"github.com/Aidin1998/tradebus/internal/config"
)

// Default broker keys shared with the engine.
const (
	DefaultQueueKey       = "engine:queue"
	DefaultResponsePrefix = "engine:response:"
	listResponseSegment   = "queue:"
)

// Transport delivers one command and waits for its raw reply. It returns when a
// reply arrives or ctx is done, and releases everything it acquired either way.
type Transport interface {
	Exchange(ctx context.Context, cmd Command) ([]byte, error)
}

// PubSubTransport listens on engine:response:<id>. It subscribes before pushing
// the command so a fast engine reply cannot be missed.
type PubSubTransport struct {
	queue    broker.Queue
	pubsub   broker.PubSub
	queueKey string
	prefix   string
}

func NewPubSubTransport(queue broker.Queue, pubsub broker.PubSub, queueKey, prefix string) *PubSubTransport {
	if queueKey == "" {
		queueKey = DefaultQueueKey
	}
	if prefix == "" {
		prefix = DefaultResponsePrefix
	}
	return &PubSubTransport{queue: queue, pubsub: pubsub, queueKey: queueKey, prefix: prefix}
}

// ResponseChannel names the channel the engine answers cmd on.
func (t *PubSubTransport) ResponseChannel(correlationID string) string {
	return t.prefix + correlationID
}

func (t *PubSubTransport) Exchange(ctx context.Context, cmd Command) ([]byte, error) {
	payload, err := json.Marshal(cmd)
	if err != nil {
		return nil, fmt.Errorf("encode command: %w", err)
	}

	sub, err := t.pubsub.Subscribe(ctx, t.ResponseChannel(cmd.CorrelationID))
	if err != nil {
		return nil, err
	}
	defer sub.Close()

	if err := t.queue.Push(ctx, t.queueKey, payload); err != nil {
		return nil, err
	}

	select {
	case msg, ok := <-sub.Messages():
		if !ok {
			return nil, broker.ErrClosed
		}
		return msg, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ListTransport blocks on engine:response:queue:<id> instead of a channel. A
// reply that lands after the caller gave up stays on the list; the engine is
// expected to expire those keys.
type ListTransport struct {
	queue    broker.Queue
	queueKey string
	prefix   string
}

func NewListTransport(queue broker.Queue, queueKey, prefix string) *ListTransport {
	if queueKey == "" {
		queueKey = DefaultQueueKey
	}
	if prefix == "" {
		prefix = DefaultResponsePrefix
	}
	return &ListTransport{queue: queue, queueKey: queueKey, prefix: prefix}
}

// ResponseList names the list the engine answers cmd on.
func (t *ListTransport) ResponseList(correlationID string) string {
	return t.prefix + listResponseSegment + correlationID
}

func (t *ListTransport) Exchange(ctx context.Context, cmd Command) ([]byte, error) {
	payload, err := json.Marshal(cmd)
	if err != nil {
		return nil, fmt.Errorf("encode command: %w", err)
	}
	if err := t.queue.Push(ctx, t.queueKey, payload); err != nil {
		return nil, err
	}

	key := t.ResponseList(cmd.CorrelationID)
	for {
		wait := time.Minute
		if deadline, ok := ctx.Deadline(); ok {
			wait = time.Until(deadline)
		}
		if wait <= 0 {
			return nil, context.DeadlineExceeded
		}

		msg, err := t.queue.Pop(ctx, key, wait)
		switch {
		case err == nil:
			return msg, nil
		case errors.Is(err, broker.ErrEmpty):
			// the pop wait ended before the call deadline
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
		default:
			return nil, err
		}
	}
}

// NewTransport picks the transport named in cfg.
func NewTransport(cfg config.BridgeConfig, b broker.Broker) (Transport, error) {
	switch cfg.Transport {
	case config.TransportPubSub, "":
		return NewPubSubTransport(b, b, cfg.QueueKey, cfg.ResponsePrefix), nil
	case config.TransportList:
		return NewListTransport(b, cfg.QueueKey, cfg.ResponsePrefix), nil
	default:
		return nil, fmt.Errorf("unknown bridge transport %q", cfg.Transport)
	}
}
