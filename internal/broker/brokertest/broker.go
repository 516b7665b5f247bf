// Package brokertest provides an in-memory broker.Broker for tests.
package brokertest

import (
	"context"
	"sync"
	"time"

	"github.com/Aidin1998/tradebus/internal/broker"
)

// Broker keeps queues and subscriptions in memory. Publishing to a channel with
// no subscribers drops the payload, as Redis does.
type Broker struct {
	mu      sync.Mutex
	queues  map[string][][]byte
	wake    chan struct{}
	subs    map[string]map[*subscription]struct{}
	pushErr error
}

var _ broker.Broker = (*Broker)(nil)

func New() *Broker {
	return &Broker{
		queues: make(map[string][][]byte),
		wake:   make(chan struct{}),
		subs:   make(map[string]map[*subscription]struct{}),
	}
}

// FailPush makes every later Push return err. Pass nil to restore.
func (b *Broker) FailPush(err error) {
	b.mu.Lock()
	b.pushErr = err
	b.mu.Unlock()
}

func (b *Broker) Push(ctx context.Context, key string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pushErr != nil {
		return b.pushErr
	}
	b.queues[key] = append(b.queues[key], append([]byte(nil), payload...))
	close(b.wake)
	b.wake = make(chan struct{})
	return nil
}

func (b *Broker) Pop(ctx context.Context, key string, timeout time.Duration) ([]byte, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		b.mu.Lock()
		if q := b.queues[key]; len(q) > 0 {
			item := q[0]
			if len(q) == 1 {
				delete(b.queues, key)
			} else {
				b.queues[key] = q[1:]
			}
			b.mu.Unlock()
			return item, nil
		}
		wake := b.wake
		b.mu.Unlock()

		select {
		case <-wake:
		case <-timer.C:
			return nil, broker.ErrEmpty
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// QueueLen reports how many items wait on key.
func (b *Broker) QueueLen(key string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queues[key])
}

func (b *Broker) Publish(ctx context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	targets := make([]*subscription, 0, len(b.subs[channel]))
	for s := range b.subs[channel] {
		targets = append(targets, s)
	}
	b.mu.Unlock()

	for _, s := range targets {
		s.deliver(ctx, append([]byte(nil), payload...))
	}
	return nil
}

func (b *Broker) Subscribe(ctx context.Context, channel string) (broker.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s := &subscription{
		b:       b,
		channel: channel,
		ch:      make(chan []byte, 16),
		done:    make(chan struct{}),
	}
	b.mu.Lock()
	group, ok := b.subs[channel]
	if !ok {
		group = make(map[*subscription]struct{})
		b.subs[channel] = group
	}
	group[s] = struct{}{}
	b.mu.Unlock()
	return s, nil
}

// DropSubscriptions ends every live subscription on channel as if the broker had
// lost them. Their Messages channels are closed.
func (b *Broker) DropSubscriptions(channel string) int {
	b.mu.Lock()
	targets := make([]*subscription, 0, len(b.subs[channel]))
	for s := range b.subs[channel] {
		targets = append(targets, s)
	}
	b.mu.Unlock()

	for _, s := range targets {
		_ = s.Close()
	}
	return len(targets)
}

// ActiveSubscriptions counts live subscriptions across all channels.
func (b *Broker) ActiveSubscriptions() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, group := range b.subs {
		n += len(group)
	}
	return n
}

type subscription struct {
	b       *Broker
	channel string

	// sendMu serializes deliveries with the final close of ch.
	sendMu sync.Mutex
	ch     chan []byte
	done   chan struct{}
	once   sync.Once
}

func (s *subscription) deliver(ctx context.Context, payload []byte) {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	select {
	case <-s.done:
		return
	default:
	}
	select {
	case s.ch <- payload:
	case <-s.done:
	case <-ctx.Done():
	}
}

func (s *subscription) Messages() <-chan []byte {
	return s.ch
}

func (s *subscription) Close() error {
	s.once.Do(func() {
		close(s.done)

		s.b.mu.Lock()
		if group, ok := s.b.subs[s.channel]; ok {
			delete(group, s)
			if len(group) == 0 {
				delete(s.b.subs, s.channel)
			}
		}
		s.b.mu.Unlock()

		s.sendMu.Lock()
		close(s.ch)
		s.sendMu.Unlock()
	})
	return nil
}
