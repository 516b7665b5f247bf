// Package bridge makes engine commands look like synchronous calls: each call pushes
// a command onto the engine work queue and waits for the reply addressed to its own
// correlation id, or for the timeout.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/Aidin1998/tradebus/pkg/metrics"
)

// DefaultTimeout bounds a call when neither the caller nor the config sets one.
const DefaultTimeout = 5 * time.Second

var (
	// ErrTimeout means the engine did not answer before the deadline.
	ErrTimeout = errors.New("bridge: engine response timeout")
	// ErrTransport means the broker could not carry the command or the reply.
	ErrTransport = errors.New("bridge: transport failure")
	// ErrDecode means the engine answered with something that is not a response.
	ErrDecode = errors.New("bridge: malformed engine response")
)

// Caller is what HTTP handlers depend on.
type Caller interface {
	Call(ctx context.Context, eventType EventType, payload any, timeout time.Duration) (Response, error)
}

type pendingCall struct {
	eventType EventType
	started   time.Time
	deadline  time.Time
}

// Client is safe for concurrent use. Calls never block one another.
type Client struct {
	transport Transport
	timeout   time.Duration
	logger    *zap.Logger
	tracer    trace.Tracer

	mu      sync.Mutex
	pending map[string]*pendingCall
}

var _ Caller = (*Client)(nil)

// NewClient returns a Client whose calls default to timeout.
func NewClient(transport Transport, timeout time.Duration, logger *zap.Logger) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		transport: transport,
		timeout:   timeout,
		logger:    logger.Named("bridge"),
		tracer:    otel.Tracer("github.com/Aidin1998/tradebus/internal/bridge"),
		pending:   make(map[string]*pendingCall),
	}
}

// Pending reports the number of calls awaiting a reply.
func (c *Client) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Call sends eventType/payload to the engine and waits up to timeout (zero means
// the client default) for the reply.
//
// The returned Response is always usable: timeouts, transport and decode failures
// are reported as error responses and the error carries the cause. A nil error
// with Success false is an engine-side rejection.
func (c *Client) Call(ctx context.Context, eventType EventType, payload any, timeout time.Duration) (Response, error) {
	if timeout <= 0 {
		timeout = c.timeout
	}

	id := c.register(eventType, timeout)
	defer c.release(id)

	ctx, span := c.tracer.Start(ctx, "bridge.call", trace.WithAttributes(
		attribute.String("engine.event_type", string(eventType)),
		attribute.String("engine.correlation_id", id),
	))
	defer span.End()

	callCtx, cancel := context.WithTimeoutCause(ctx, timeout, ErrTimeout)
	defer cancel()

	start := time.Now()
	raw, err := c.transport.Exchange(callCtx, Command{CorrelationID: id, EventType: eventType, Data: payload})
	metrics.BridgeLatency.WithLabelValues(string(eventType)).Observe(time.Since(start).Seconds())

	log := c.logger.With(
		zap.String("event_type", string(eventType)),
		zap.String("correlation_id", id),
	)

	var resp Response
	var outcome string
	switch {
	case err == nil:
		resp, err = DecodeResponse(raw)
		if err != nil {
			outcome = "decode_error"
			resp = failedResponse("invalid engine response")
			log.Error("Failed to decode engine response", zap.Error(err), zap.ByteString("raw", raw))
		} else if resp.Success {
			outcome = "success"
		} else {
			outcome = "engine_error"
			log.Debug("Engine rejected command", zap.String("message", resp.Message))
		}
	case errors.Is(context.Cause(callCtx), ErrTimeout) && ctx.Err() == nil:
		outcome = "timeout"
		resp = timeoutResponse()
		err = fmt.Errorf("%w after %s", ErrTimeout, timeout)
		log.Warn("Engine call timed out", zap.Duration("timeout", timeout))
	case ctx.Err() != nil:
		outcome = "canceled"
		resp = failedResponse("canceled")
		err = ctx.Err()
		log.Debug("Engine call canceled by caller")
	default:
		outcome = "transport_error"
		resp = failedResponse("engine unavailable")
		err = fmt.Errorf("%w: %w", ErrTransport, err)
		log.Error("Engine call failed", zap.Error(err))
	}

	metrics.BridgeCalls.WithLabelValues(string(eventType), outcome).Inc()
	span.SetAttributes(attribute.String("engine.outcome", outcome))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
	}
	return resp, err
}

func (c *Client) register(eventType EventType, timeout time.Duration) string {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	id := uuid.NewString()
	for c.pending[id] != nil {
		id = uuid.NewString()
	}
	c.pending[id] = &pendingCall{eventType: eventType, started: now, deadline: now.Add(timeout)}
	metrics.BridgeInFlight.Inc()
	return id
}

func (c *Client) release(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.pending[id]; ok {
		delete(c.pending, id)
		metrics.BridgeInFlight.Dec()
	}
}
