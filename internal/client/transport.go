package client

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"securechat/internal/models"

	"github.com/gorilla/websocket"
)

// WebsocketTransport dials the server's event endpoint with the
// bearer identity token supplied at connect time. A rejected
// handshake surfaces as a dial error; no events are exchanged.
type WebsocketTransport struct {
	URL    string
	Token  string
	Dialer *websocket.Dialer
	Logger *slog.Logger
}

func NewWebsocketTransport(url, token string, logger *slog.Logger) *WebsocketTransport {
	return &WebsocketTransport{
		URL:    url,
		Token:  token,
		Dialer: websocket.DefaultDialer,
		Logger: logger,
	}
}

func (t *WebsocketTransport) Dial(ctx context.Context) (Conn, error) {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+t.Token)

	conn, resp, err := t.Dialer.DialContext(ctx, t.URL, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("handshake rejected with status %d: %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("dial %s: %w", t.URL, err)
	}

	wc := &wsConn{
		conn:   conn,
		events: make(chan models.Envelope, 64),
		done:   make(chan struct{}),
		logger: t.Logger,
	}
	go wc.readLoop()
	return wc, nil
}

type wsConn struct {
	conn    *websocket.Conn
	events  chan models.Envelope
	done    chan struct{}
	logger  *slog.Logger
	writeMu sync.Mutex
	once    sync.Once
}

func (c *wsConn) readLoop() {
	defer c.shutdown()

	for {
		_, frame, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Error("websocket read failed", "error", err)
			}
			return
		}

		var env models.Envelope
		if err := json.Unmarshal(frame, &env); err != nil {
			c.logger.Error("malformed server frame", "error", err)
			continue
		}

		select {
		case c.events <- env:
		default:
			c.logger.Warn("event buffer full, dropping frame", "type", env.Type)
		}
	}
}

func (c *wsConn) Send(eventType string, payload any) error {
	frame, err := models.EncodeEvent(eventType, payload)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, frame)
}

func (c *wsConn) Events() <-chan models.Envelope {
	return c.events
}

func (c *wsConn) Done() <-chan struct{} {
	return c.done
}

// Close tears down the socket; readLoop notices the failed read and
// closes done/events itself.
func (c *wsConn) Close() error {
	return c.conn.Close()
}

func (c *wsConn) shutdown() {
	c.once.Do(func() {
		close(c.done)
		close(c.events)
	})
}
