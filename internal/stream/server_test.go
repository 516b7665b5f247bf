package stream

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func startServer(t *testing.T) (*Hub, *httptest.Server) {
	t.Helper()
	h := NewHub(zap.NewNop())
	srv := httptest.NewServer(NewServer(h, DefaultClientConfig(), []string{"*"}, zap.NewNop()).Router())
	t.Cleanup(srv.Close)
	return h, srv
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn, wait time.Duration) (outbound, error) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(wait))
	var msg outbound
	_, raw, err := conn.ReadMessage()
	if err != nil {
		return msg, err
	}
	require.NoError(t, json.Unmarshal(raw, &msg))
	return msg, nil
}

func subscribe(t *testing.T, conn *websocket.Conn, symbol string) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(map[string]string{"event": EventSubscribe, "symbol": symbol}))
	ack, err := readEvent(t, conn, time.Second)
	require.NoError(t, err)
	require.Equal(t, EventSubscribed, ack.Event)
	require.Equal(t, symbol, ack.Symbol)
}

func TestWebSocketSymbolIsolation(t *testing.T) {
	h, srv := startServer(t)
	relay := NewRelay(nil, "", h, zap.NewNop())

	first, second, third := dial(t, srv), dial(t, srv), dial(t, srv)
	subscribe(t, first, "BTC-UP")
	subscribe(t, second, "BTC-UP")
	subscribe(t, third, "ETH-UP")

	assert.Equal(t, 2, relay.Relay([]byte(`{"symbol":"BTC-UP","yesPrice":7}`)))

	for _, conn := range []*websocket.Conn{first, second} {
		msg, err := readEvent(t, conn, time.Second)
		require.NoError(t, err)
		assert.Equal(t, EventMessage, msg.Event)
		assert.JSONEq(t, `{"symbol":"BTC-UP","yesPrice":7}`, string(msg.Data))
	}

	_, err := readEvent(t, third, 200*time.Millisecond)
	assert.Error(t, err, "ETH-UP subscriber must not receive BTC-UP deltas")
}

func TestWebSocketUnsubscribe(t *testing.T) {
	h, srv := startServer(t)
	conn := dial(t, srv)
	subscribe(t, conn, "BTC-UP")

	require.NoError(t, conn.WriteJSON(map[string]string{"event": EventUnsubscribe, "symbol": "BTC-UP"}))
	ack, err := readEvent(t, conn, time.Second)
	require.NoError(t, err)
	assert.Equal(t, EventUnsubscribed, ack.Event)

	assert.Equal(t, 0, h.Publish("BTC-UP", []byte(`{"symbol":"BTC-UP"}`)))
}

func TestWebSocketRejectsBadRequests(t *testing.T) {
	_, srv := startServer(t)
	conn := dial(t, srv)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`not json`)))
	msg, err := readEvent(t, conn, time.Second)
	require.NoError(t, err)
	assert.Equal(t, EventError, msg.Event)

	require.NoError(t, conn.WriteJSON(map[string]string{"event": EventSubscribe}))
	msg, err = readEvent(t, conn, time.Second)
	require.NoError(t, err)
	assert.Equal(t, EventError, msg.Event)
	assert.Contains(t, string(msg.Data), "symbol is required")
}

func TestDisconnectLeavesAllGroups(t *testing.T) {
	h, srv := startServer(t)
	conn := dial(t, srv)
	subscribe(t, conn, "BTC-UP")
	subscribe(t, conn, "ETH-UP")
	require.Equal(t, 1, h.Clients())

	require.NoError(t, conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye")))
	conn.Close()

	require.Eventually(t, func() bool { return h.Clients() == 0 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, h.Subscribers("BTC-UP"))
	assert.Equal(t, 0, h.Subscribers("ETH-UP"))
	assert.Equal(t, 0, h.Groups())
}

func TestHealthEndpoint(t *testing.T) {
	_, srv := startServer(t)

	resp, err := http.Get(srv.URL + "/api/v1/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, true, body["success"])
}

func TestHealthEndpointReportsBrokerOutage(t *testing.T) {
	server := NewServer(NewHub(zap.NewNop()), DefaultClientConfig(), nil, zap.NewNop())
	server.AddHealthCheck("redis", func(context.Context) error {
		return errors.New("dial tcp: connection refused")
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	server.Router().ServeHTTP(w, req)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "redis unavailable", body["message"])
}
