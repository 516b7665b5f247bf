package bridge

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type scriptedCaller struct {
	responses []Response
	calls     int
}

func (s *scriptedCaller) Call(ctx context.Context, eventType EventType, payload any, timeout time.Duration) (Response, error) {
	i := s.calls
	if i >= len(s.responses) {
		i = len(s.responses) - 1
	}
	s.calls++
	resp := s.responses[i]
	var err error
	if resp.Retryable {
		err = ErrTimeout
	}
	return resp, err
}

func TestRetryStopsOnSuccess(t *testing.T) {
	caller := &scriptedCaller{responses: []Response{
		timeoutResponse(),
		{Status: StatusSuccess, Success: true},
	}}
	core, logs := observer.New(zapcore.InfoLevel)

	resp, err := Retry(context.Background(), caller, RetryPolicy{MaxAttempts: 3, Delay: time.Millisecond}, zap.New(core), EventAddBalance, nil)

	assert.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, 2, caller.calls)
	assert.Equal(t, 0, logs.FilterField(zap.Bool("alert", true)).Len())
}

func TestRetryDoesNotRetryPermanentFailures(t *testing.T) {
	caller := &scriptedCaller{responses: []Response{
		failedResponse("engine unavailable"),
		{Status: StatusSuccess, Success: true},
	}}

	resp, _ := Retry(context.Background(), caller, DefaultRetryPolicy, zap.NewNop(), EventAddBalance, nil)

	assert.False(t, resp.Success)
	assert.Equal(t, 1, caller.calls)
}

func TestRetryAlertsWhenExhausted(t *testing.T) {
	caller := &scriptedCaller{responses: []Response{
		timeoutResponse(), timeoutResponse(), timeoutResponse(), {Status: StatusSuccess, Success: true},
	}}
	core, logs := observer.New(zapcore.InfoLevel)

	start := time.Now()
	resp, err := Retry(context.Background(), caller, RetryPolicy{MaxAttempts: 3, Delay: 20 * time.Millisecond}, zap.New(core), EventAddBalance, nil)

	assert.ErrorIs(t, err, ErrTimeout)
	assert.True(t, resp.Retryable)
	assert.Equal(t, 3, caller.calls)
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond, "two delays between three attempts")

	alerts := logs.FilterField(zap.Bool("alert", true))
	if assert.Equal(t, 1, alerts.Len()) {
		assert.Equal(t, "ADD_BALANCE", alerts.All()[0].ContextMap()["event_type"])
	}
}

func TestRetryHonoursCancellation(t *testing.T) {
	caller := &scriptedCaller{responses: []Response{timeoutResponse()}}
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(10*time.Millisecond, cancel)

	resp, err := Retry(ctx, caller, RetryPolicy{MaxAttempts: 3, Delay: time.Second}, zap.NewNop(), EventAddBalance, nil)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, "canceled", resp.Message)
}
