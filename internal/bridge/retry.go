package bridge

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/Aidin1998/tradebus/pkg/metrics"
)

// RetryPolicy bounds caller-side retries. Only responses flagged Retryable are
// retried.
type RetryPolicy struct {
	MaxAttempts int
	Delay       time.Duration
	// Timeout per attempt; zero uses the caller's default.
	Timeout time.Duration
}

// DefaultRetryPolicy matches what balance-changing handlers use.
var DefaultRetryPolicy = RetryPolicy{MaxAttempts: 3, Delay: 500 * time.Millisecond}

// Retry invokes caller until it gets a non-retryable answer or the attempts run
// out. Running out is logged with alert=true: the engine may now disagree with
// state the caller already wrote.
func Retry(ctx context.Context, caller Caller, policy RetryPolicy, logger *zap.Logger, eventType EventType, payload any) (Response, error) {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	var (
		resp Response
		err  error
	)
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		resp, err = caller.Call(ctx, eventType, payload, policy.Timeout)
		if resp.Success || !resp.Retryable {
			return resp, err
		}
		if attempt == policy.MaxAttempts {
			break
		}

		logger.Warn("Retrying engine call",
			zap.String("event_type", string(eventType)),
			zap.Int("attempt", attempt),
			zap.String("message", resp.Message),
		)
		timer := time.NewTimer(policy.Delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return failedResponse("canceled"), ctx.Err()
		}
	}

	metrics.BridgeRetryExhausted.WithLabelValues(string(eventType)).Inc()
	logger.Error("Engine call failed after retries",
		zap.Bool("alert", true),
		zap.String("event_type", string(eventType)),
		zap.Int("attempts", policy.MaxAttempts),
		zap.String("message", resp.Message),
		zap.Error(err),
	)
	return resp, err
}
