package signaling

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"rtclient/internal/domain"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 20
)

// WebSocketTransport is the preferred persistent duplex transport.
type WebSocketTransport struct {
	URL    string
	Dialer *websocket.Dialer
	Logger *slog.Logger
}

func NewWebSocketTransport(url string, logger *slog.Logger) *WebSocketTransport {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebSocketTransport{URL: url, Dialer: websocket.DefaultDialer, Logger: logger}
}

func (t *WebSocketTransport) Name() string { return "websocket" }

// Dial authenticates with the Authorization header and the bearer
// subprotocol pair, whichever the server inspects.
func (t *WebSocketTransport) Dial(ctx context.Context, token string) (Conn, error) {
	dialer := *t.Dialer
	dialer.Subprotocols = []string{"bearer", token}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	conn, resp, err := dialer.DialContext(ctx, t.URL, header)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, fmt.Errorf("%w: websocket handshake rejected (%d)", domain.ErrUnauthorized, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial websocket: %w", err)
	}
	return newWSConn(conn, t.Logger), nil
}

type wsConn struct {
	conn *websocket.Conn
	log  *slog.Logger

	wmu       sync.Mutex
	done      chan struct{}
	closeOnce sync.Once
}

func newWSConn(conn *websocket.Conn, logger *slog.Logger) *wsConn {
	c := &wsConn{conn: conn, log: logger, done: make(chan struct{})}
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	go c.pingLoop()
	return c
}

func (c *wsConn) Read() (Envelope, error) {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return Envelope{}, err
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil || env.Event == "" {
			c.log.Warn("websocket: skipping malformed frame", "err", err)
			continue
		}
		return env, nil
	}
}

func (c *wsConn) Write(env Envelope) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	select {
	case <-c.done:
		return websocket.ErrCloseSent
	default:
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(env)
}

func (c *wsConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		err = c.conn.Close()
	})
	return err
}

func (c *wsConn) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				_ = c.conn.Close()
				return
			}
		}
	}
}
