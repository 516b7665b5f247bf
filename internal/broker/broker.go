// Package broker defines the two primitives the services exchange data through: a
// durable list queue and fire-and-forget topic pub/sub.
package broker

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrEmpty is returned by Pop when nothing arrived before the timeout.
	ErrEmpty = errors.New("broker: queue empty")
	// ErrClosed is returned when using a broker or subscription after Close.
	ErrClosed = errors.New("broker: closed")
)

// Queue is a durable FIFO list. Items pushed survive until popped.
type Queue interface {
	Push(ctx context.Context, key string, payload []byte) error
	Pop(ctx context.Context, key string, timeout time.Duration) ([]byte, error)
}

// PubSub delivers each published payload to the subscribers present at publish
// time. Payloads published with no subscriber are gone.
type PubSub interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	// Subscribe returns once the broker has acknowledged the subscription, so a
	// publish issued after it returns is guaranteed to reach it.
	Subscribe(ctx context.Context, channel string) (Subscription, error)
}

// Subscription is a live subscription to a single channel.
type Subscription interface {
	// Messages is closed after Close.
	Messages() <-chan []byte
	// Close releases the subscription. Safe to call more than once.
	Close() error
}

// Broker bundles both primitives.
type Broker interface {
	Queue
	PubSub
}
