package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/GABRIELS562/RFID-Evidence-Tracking-System-sub001/common/config"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	defaultWriteTimeout = 10 * time.Second
	defaultPongTimeout  = 60 * time.Second
	defaultPingInterval = 30 * time.Second
)

// control frame sent to the gateway
type controlFrame struct {
	Type    string `json:"type"`
	Token   string `json:"token,omitempty"`
	Channel string `json:"channel,omitempty"`
	Filter  string `json:"filter,omitempty"`
}

// the fields of an inbound frame needed for routing; the payload is left
// for the event decoder
type frameHeader struct {
	Type    string          `json:"type"`
	Channel string          `json:"channel"`
	Payload json.RawMessage `json:"payload"`
}

// WebSocketTransport receives events from a WebSocket gateway. After dial it
// sends {"type":"auth","token":...}; subscriptions are
// {"type":"subscribe","channel":...,"filter":...} frames.
type WebSocketTransport struct {
	url          string
	writeTimeout time.Duration
	pongTimeout  time.Duration
	pingInterval time.Duration
	dialer       *websocket.Dialer
	logger       *zap.Logger
}

// NewWebSocketTransport creates a WebSocket transport.
func NewWebSocketTransport(cfg *config.WebSocketConfig, logger *zap.Logger) *WebSocketTransport {
	t := &WebSocketTransport{
		url:          cfg.URL,
		writeTimeout: cfg.WriteTimeout,
		pongTimeout:  cfg.PongTimeout,
		pingInterval: cfg.PingInterval,
		dialer:       websocket.DefaultDialer,
		logger:       logger,
	}
	if t.writeTimeout <= 0 {
		t.writeTimeout = defaultWriteTimeout
	}
	if t.pongTimeout <= 0 {
		t.pongTimeout = defaultPongTimeout
	}
	if t.pingInterval <= 0 {
		t.pingInterval = defaultPingInterval
	}
	return t
}

func (t *WebSocketTransport) Name() string { return "websocket" }

func (t *WebSocketTransport) Dial(ctx context.Context, credential string, deliver DeliverFunc) (Conn, error) {
	ws, _, err := t.dialer.DialContext(ctx, t.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", t.url, err)
	}

	// not shared yet, so no write lock
	if credential != "" {
		ws.SetWriteDeadline(time.Now().Add(t.writeTimeout))
		if err := ws.WriteJSON(controlFrame{Type: "auth", Token: credential}); err != nil {
			ws.Close()
			return nil, fmt.Errorf("failed to send auth frame: %w", err)
		}
	}

	connCtx, cancel := context.WithCancel(ctx)
	c := &wsConn{
		ws:        ws,
		transport: t,
		deliver:   deliver,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	go c.readLoop()
	go c.pingLoop(connCtx)
	return c, nil
}

type wsConn struct {
	ws        *websocket.Conn
	transport *WebSocketTransport
	deliver   DeliverFunc
	cancel    context.CancelFunc

	writeMu sync.Mutex // serialises all conn writes (ping, subscribe)

	once sync.Once
	err  error
	done chan struct{}
}

func (c *wsConn) Subscribe(_ context.Context, sub Subscription) error {
	return c.writeJSON(controlFrame{Type: "subscribe", Channel: sub.Channel, Filter: sub.Filter})
}

func (c *wsConn) Unsubscribe(_ context.Context, channel string) error {
	return c.writeJSON(controlFrame{Type: "unsubscribe", Channel: channel})
}

func (c *wsConn) writeJSON(v interface{}) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(c.transport.writeTimeout))
	return c.ws.WriteJSON(v)
}

func (c *wsConn) readLoop() {
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(c.transport.pongTimeout))
	})
	c.ws.SetReadDeadline(time.Now().Add(c.transport.pongTimeout))

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			c.fail(err)
			return
		}
		c.ws.SetReadDeadline(time.Now().Add(c.transport.pongTimeout))

		// frames that cannot be parsed go through: the decoder drops and
		// logs them with the rest of the malformed events
		var hdr frameHeader
		if json.Unmarshal(data, &hdr) == nil && hdr.Type == "error" {
			c.transport.logger.Warn("Gateway reported an error",
				zap.ByteString("payload", hdr.Payload),
			)
			continue
		}
		c.deliver(Message{Channel: hdr.Channel, Data: data})
	}
}

// pingLoop sends periodic pings until the connection goes away.
func (c *wsConn) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(c.transport.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			c.ws.SetWriteDeadline(time.Now().Add(c.transport.writeTimeout))
			err := c.ws.WriteMessage(websocket.PingMessage, nil)
			c.writeMu.Unlock()
			if err != nil {
				c.fail(err)
				return
			}
		}
	}
}

func (c *wsConn) Done() <-chan struct{} { return c.done }

func (c *wsConn) Err() error {
	select {
	case <-c.done:
		return c.err
	default:
		return nil
	}
}

func (c *wsConn) fail(err error) {
	c.once.Do(func() {
		c.err = err
		close(c.done)
		c.cancel()
		c.ws.Close()
	})
}

func (c *wsConn) Close() error {
	c.writeMu.Lock()
	c.ws.SetWriteDeadline(time.Now().Add(c.transport.writeTimeout))
	c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.writeMu.Unlock()
	c.fail(errConnClosed)
	return nil
}
