package client

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"securechat/app/config"
	"securechat/internal/models"
)

// Transport dials one live event connection. The production
// implementation speaks websocket; tests substitute their own.
type Transport interface {
	Dial(ctx context.Context) (Conn, error)
}

// Conn is a single established connection. Done is closed when the
// connection is lost; Events delivers decoded server frames until
// then.
type Conn interface {
	Send(eventType string, payload any) error
	Events() <-chan models.Envelope
	Done() <-chan struct{}
	Close() error
}

type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

var (
	ErrClosed          = errors.New("connector is closed")
	ErrReconnectFailed = errors.New("reconnection attempts exhausted")
	ErrNotConnected    = errors.New("not connected")
)

// Options bound the reconnection behavior. The defaults mirror the
// production client settings: five attempts, one second base delay
// doubling up to five seconds.
type Options struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	RetryDelay  time.Duration
}

// OptionsFromConfig maps the reconnect section of the application
// config onto connector options. Zero values fall back to the
// defaults in withDefaults.
func OptionsFromConfig(cfg config.ReconnectConfig) Options {
	return Options{
		MaxAttempts: cfg.MaxAttempts,
		BaseDelay:   cfg.BaseDelay,
		MaxDelay:    cfg.MaxDelay,
		RetryDelay:  cfg.RetryDelay,
	}
}

func (o *Options) withDefaults() Options {
	opts := *o
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 5
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = time.Second
	}
	if opts.MaxDelay <= 0 {
		opts.MaxDelay = 5 * time.Second
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = time.Second
	}
	return opts
}

// Connector supervises the connection lifecycle:
// Disconnected -> Connecting -> Connected, with automatic bounded
// reconnection on connection loss until Close is called. It records
// the set of joined rooms and re-issues join_group for each of them
// after every successful reconnect, before any publish is allowed
// through.
type Connector struct {
	transport Transport
	opts      Options
	logger    *slog.Logger
	onEvent   func(payload any)

	mu     sync.Mutex
	state  State
	conn   Conn
	rooms  map[string]bool
	closed bool
	gen    int
}

func NewConnector(transport Transport, opts Options, onEvent func(payload any), logger *slog.Logger) *Connector {
	return &Connector{
		transport: transport,
		opts:      opts.withDefaults(),
		logger:    logger,
		onEvent:   onEvent,
		rooms:     make(map[string]bool),
	}
}

func (c *Connector) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect establishes the initial connection with the same bounded
// retry schedule reconnection uses.
func (c *Connector) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	if c.state == StateConnected {
		return nil
	}
	return c.connectLocked(ctx)
}

// connectLocked runs the bounded dial loop. Caller holds c.mu.
func (c *Connector) connectLocked(ctx context.Context) error {
	c.state = StateConnecting

	delay := c.opts.BaseDelay
	for attempt := 1; attempt <= c.opts.MaxAttempts; attempt++ {
		conn, err := c.transport.Dial(ctx)
		if err == nil {
			c.conn = conn
			c.state = StateConnected
			c.gen++

			go c.watch(conn, c.gen)
			go c.pump(conn)

			// Restore room membership before releasing the lock, so
			// no publish can slip in ahead of the rejoins.
			for groupID := range c.rooms {
				if err := conn.Send(models.EventJoinGroup, models.JoinGroupEvent{GroupID: groupID}); err != nil {
					c.logger.Warn("failed to rejoin room", "groupID", groupID, "error", err)
				}
			}

			c.logger.Info("connected", "attempt", attempt, "rooms", len(c.rooms))
			return nil
		}

		c.logger.Warn("connection attempt failed", "attempt", attempt, "error", err)

		if attempt < c.opts.MaxAttempts {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				c.state = StateDisconnected
				return ctx.Err()
			}
			delay *= 2
			if delay > c.opts.MaxDelay {
				delay = c.opts.MaxDelay
			}
		}
	}

	c.state = StateDisconnected
	return ErrReconnectFailed
}

// watch waits for the connection to drop and re-enters Connecting
// unless the connector was torn down or a newer connection replaced
// this one.
func (c *Connector) watch(conn Conn, gen int) {
	<-conn.Done()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || gen != c.gen {
		return
	}

	c.state = StateDisconnected
	c.logger.Warn("connection lost, reconnecting")

	if err := c.connectLocked(context.Background()); err != nil {
		c.logger.Error("reconnection failed", "error", err)
	}
}

// pump dispatches decoded server events until the connection closes.
func (c *Connector) pump(conn Conn) {
	for env := range conn.Events() {
		payload, err := models.DecodeEvent(env)
		if err != nil {
			c.logger.Error("failed to decode server event", "error", err)
			continue
		}
		if c.onEvent != nil {
			c.onEvent(payload)
		}
	}
}

// Join subscribes to a room. The room is recorded even while
// disconnected so the next reconnect restores it.
func (c *Connector) Join(groupID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	c.rooms[groupID] = true
	if c.state != StateConnected {
		return nil
	}
	return c.conn.Send(models.EventJoinGroup, models.JoinGroupEvent{GroupID: groupID})
}

func (c *Connector) Leave(groupID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	delete(c.rooms, groupID)
	if c.state != StateConnected {
		return nil
	}
	return c.conn.Send(models.EventLeaveGroup, models.LeaveGroupEvent{GroupID: groupID})
}

// Publish sends one event. If the connector is disconnected or the
// send fails, it runs one reconnection cycle, waits a single fixed
// delay, and retries exactly once. There is no outbox: a second
// failure is the caller's problem.
func (c *Connector) Publish(eventType string, payload any) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}

	if c.state == StateConnected {
		err := c.conn.Send(eventType, payload)
		if err == nil {
			c.mu.Unlock()
			return nil
		}
		c.logger.Warn("publish failed, retrying once after reconnect", "event", eventType, "error", err)
		c.state = StateDisconnected
	}

	if err := c.connectLocked(context.Background()); err != nil {
		c.mu.Unlock()
		return err
	}
	c.mu.Unlock()

	time.Sleep(c.opts.RetryDelay)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	if c.state != StateConnected {
		return ErrNotConnected
	}
	return c.conn.Send(eventType, payload)
}

// TrySend sends only if currently connected; no reconnect, no retry.
// For best-effort traffic like typing signals.
func (c *Connector) TrySend(eventType string, payload any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	if c.state != StateConnected {
		return ErrNotConnected
	}
	return c.conn.Send(eventType, payload)
}

// Close tears the connector down: the current connection is closed
// and no reconnection will be attempted.
func (c *Connector) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	c.state = StateDisconnected

	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}
