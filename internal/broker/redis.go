package broker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis implements Broker on go-redis. Queue traffic and pub/sub traffic may go to
// different servers.
type Redis struct {
	queue  redis.UniversalClient
	pubsub redis.UniversalClient
}

var _ Broker = (*Redis)(nil)

// NewRedis builds the adapter. A nil pubsub client reuses the queue client.
func NewRedis(queue, pubsub redis.UniversalClient) *Redis {
	if pubsub == nil {
		pubsub = queue
	}
	return &Redis{queue: queue, pubsub: pubsub}
}

// Push LPUSHes payload onto key.
func (r *Redis) Push(ctx context.Context, key string, payload []byte) error {
	if err := r.queue.LPush(ctx, key, payload).Err(); err != nil {
		return fmt.Errorf("lpush %s: %w", key, err)
	}
	return nil
}

// Pop BRPOPs key, waiting at most timeout. BRPOP only takes whole seconds, so a
// fractional timeout is sent rounded up and cut short by a context deadline. That
// cut needs a client built with ContextTimeoutEnabled.
func (r *Redis) Pop(ctx context.Context, key string, timeout time.Duration) ([]byte, error) {
	wait := timeout.Truncate(time.Second)
	popCtx := ctx
	if wait < timeout {
		wait += time.Second
		var cancel context.CancelFunc
		popCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	res, err := r.queue.BRPop(popCtx, wait, key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrEmpty
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if popCtx.Err() != nil {
			return nil, ErrEmpty
		}
		return nil, fmt.Errorf("brpop %s: %w", key, err)
	}
	// BRPOP replies [key, value]
	if len(res) != 2 {
		return nil, fmt.Errorf("brpop %s: unexpected reply length %d", key, len(res))
	}
	return []byte(res[1]), nil
}

// Publish sends payload to every current subscriber of channel.
func (r *Redis) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := r.pubsub.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", channel, err)
	}
	return nil
}

// Subscribe waits for the server's subscribe confirmation before returning.
func (r *Redis) Subscribe(ctx context.Context, channel string) (Subscription, error) {
	ps := r.pubsub.Subscribe(ctx, channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe %s: %w", channel, err)
	}

	sub := &redisSubscription{
		ps:   ps,
		out:  make(chan []byte, 64),
		done: make(chan struct{}),
	}
	go sub.forward(ps.Channel())
	return sub, nil
}

type redisSubscription struct {
	ps   *redis.PubSub
	out  chan []byte
	done chan struct{}
	once sync.Once
	err  error
}

func (s *redisSubscription) forward(in <-chan *redis.Message) {
	defer close(s.out)
	for {
		select {
		case msg, ok := <-in:
			if !ok {
				return
			}
			select {
			case s.out <- []byte(msg.Payload):
			case <-s.done:
				return
			}
		case <-s.done:
			return
		}
	}
}

func (s *redisSubscription) Messages() <-chan []byte {
	return s.out
}

func (s *redisSubscription) Close() error {
	s.once.Do(func() {
		close(s.done)
		s.err = s.ps.Close()
	})
	return s.err
}
