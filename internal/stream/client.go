package stream

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/xid"
	"go.uber.org/zap"
)

// ClientConfig holds per-connection limits and heartbeat timings.
type ClientConfig struct {
	SendBuffer     int
	PingInterval   time.Duration
	PongTimeout    time.Duration
	WriteTimeout   time.Duration
	MaxMessageSize int64
}

// DefaultClientConfig returns production defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		SendBuffer:     256,
		PingInterval:   30 * time.Second,
		PongTimeout:    60 * time.Second,
		WriteTimeout:   10 * time.Second,
		MaxMessageSize: 512,
	}
}

type inbound struct {
	Event  string `json:"event"`
	Symbol string `json:"symbol"`
}

// Client is one WebSocket connection. symbols is guarded by the hub's lock.
type Client struct {
	id      string
	conn    *websocket.Conn
	send    chan []byte
	symbols map[string]struct{}
	hub     *Hub
	cfg     ClientConfig
	logger  *zap.Logger
}

func newClient(hub *Hub, conn *websocket.Conn, cfg ClientConfig, logger *zap.Logger) *Client {
	id := xid.New().String()
	return &Client{
		id:      id,
		conn:    conn,
		send:    make(chan []byte, cfg.SendBuffer),
		symbols: make(map[string]struct{}),
		hub:     hub,
		cfg:     cfg,
		logger:  logger.With(zap.String("client_id", id)),
	}
}

// ID returns the connection id.
func (c *Client) ID() string {
	return c.id
}

// readPump handles subscription requests and pongs. Leaving it removes the
// client from every group.
func (c *Client) readPump() {
	defer func() {
		c.hub.Remove(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(c.cfg.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongTimeout))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug("Connection closed unexpectedly", zap.Error(err))
			}
			return
		}

		var req inbound
		if err := json.Unmarshal(raw, &req); err != nil {
			c.hub.reply(c, outbound{Event: EventError, Data: errorData("invalid request")})
			continue
		}
		symbol := strings.TrimSpace(req.Symbol)

		switch req.Event {
		case EventSubscribe:
			if symbol == "" {
				c.hub.reply(c, outbound{Event: EventError, Data: errorData("symbol is required")})
				continue
			}
			if c.hub.Join(c, symbol) {
				c.logger.Debug("Joined symbol", zap.String("symbol", symbol))
				c.hub.reply(c, outbound{Event: EventSubscribed, Symbol: symbol})
			}
		case EventUnsubscribe:
			c.hub.Leave(c, symbol)
			c.hub.reply(c, outbound{Event: EventUnsubscribed, Symbol: symbol})
		default:
			c.hub.reply(c, outbound{Event: EventError, Data: errorData("unknown event")})
		}
	}
}

// writePump sends queued frames and heartbeats. It exits when the hub closes
// the send channel or a write fails.
func (c *Client) writePump() {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func errorData(message string) json.RawMessage {
	b, _ := json.Marshal(map[string]string{"message": message})
	return b
}
