package stream

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/Aidin1998/tradebus/internal/broker/brokertest"
)

func TestRelayDropsDeltaWithoutSymbol(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	h := NewHub(zap.NewNop())
	a := newTestClient(h, 8)
	h.Join(a, "BTC-UP")

	r := NewRelay(brokertest.New(), "", h, zap.New(core))

	assert.Equal(t, 0, r.Relay([]byte(`{"yesPrice":7}`)))
	assert.Equal(t, 1, logs.FilterMessage("Dropping delta without symbol").Len())
	assert.Empty(t, drain(a))

	assert.Equal(t, 0, r.Relay([]byte(`{"symbol":`)))
	assert.Equal(t, 1, logs.FilterMessage("Dropping malformed delta").Len())
	assert.Empty(t, drain(a))
}

func TestRelayRunForwardsBroadcasts(t *testing.T) {
	b := brokertest.New()
	h := NewHub(zap.NewNop())
	btc, eth := newTestClient(h, 8), newTestClient(h, 8)
	h.Join(btc, "BTC-UP")
	h.Join(eth, "ETH-UP")

	r := NewRelay(b, DefaultChannel, h, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	require.Eventually(t, func() bool { return b.ActiveSubscriptions() == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, b.Publish(ctx, DefaultChannel, []byte(`{"symbol":"BTC-UP","yesPrice":7,"noPrice":3}`)))

	select {
	case frame := <-btc.send:
		assert.JSONEq(t, `{"event":"message","data":{"symbol":"BTC-UP","yesPrice":7,"noPrice":3}}`, string(frame))
	case <-time.After(time.Second):
		t.Fatal("delta not relayed")
	}
	assert.Empty(t, drain(eth))

	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, 0, b.ActiveSubscriptions())
}

func TestRelayRunResubscribesAfterDrop(t *testing.T) {
	b := brokertest.New()
	h := NewHub(zap.NewNop())
	btc := newTestClient(h, 8)
	h.Join(btc, "BTC-UP")

	core, logs := observer.New(zapcore.WarnLevel)
	r := NewRelay(b, DefaultChannel, h, zap.New(core))
	r.resubscribeDelay = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	require.Eventually(t, func() bool { return b.ActiveSubscriptions() == 1 }, time.Second, 5*time.Millisecond)
	require.Equal(t, 1, b.DropSubscriptions(DefaultChannel))

	require.Eventually(t, func() bool { return b.ActiveSubscriptions() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, logs.FilterMessage("Broadcast subscription lost, resubscribing").Len())

	require.NoError(t, b.Publish(ctx, DefaultChannel, []byte(`{"symbol":"BTC-UP","yesPrice":6}`)))
	select {
	case frame := <-btc.send:
		assert.Contains(t, string(frame), `"yesPrice":6`)
	case <-time.After(time.Second):
		t.Fatal("delta not relayed after resubscribe")
	}

	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, 0, b.ActiveSubscriptions())
}
