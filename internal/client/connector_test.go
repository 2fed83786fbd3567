package client_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"securechat/app/config"
	"securechat/internal/client"
	"securechat/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fastOptions() client.Options {
	return client.Options{
		MaxAttempts: 3,
		BaseDelay:   5 * time.Millisecond,
		MaxDelay:    10 * time.Millisecond,
		RetryDelay:  5 * time.Millisecond,
	}
}

func TestOptionsFromConfig(t *testing.T) {
	opts := client.OptionsFromConfig(config.ReconnectConfig{
		MaxAttempts: 7,
		BaseDelay:   2 * time.Second,
		MaxDelay:    9 * time.Second,
		RetryDelay:  3 * time.Second,
	})

	assert.Equal(t, client.Options{
		MaxAttempts: 7,
		BaseDelay:   2 * time.Second,
		MaxDelay:    9 * time.Second,
		RetryDelay:  3 * time.Second,
	}, opts)
}

type sentEvent struct {
	Type    string
	Payload any
}

type fakeConn struct {
	mu      sync.Mutex
	sent    []sentEvent
	sendErr error
	events  chan models.Envelope
	done    chan struct{}
	once    sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		events: make(chan models.Envelope),
		done:   make(chan struct{}),
	}
}

func (c *fakeConn) Send(eventType string, payload any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	c.sent = append(c.sent, sentEvent{Type: eventType, Payload: payload})
	return nil
}

func (c *fakeConn) Sent() []sentEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]sentEvent, len(c.sent))
	copy(out, c.sent)
	return out
}

func (c *fakeConn) SetSendErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sendErr = err
}

func (c *fakeConn) Events() <-chan models.Envelope { return c.events }
func (c *fakeConn) Done() <-chan struct{}          { return c.done }

func (c *fakeConn) Close() error {
	c.Drop()
	return nil
}

// Drop simulates connection loss.
func (c *fakeConn) Drop() {
	c.once.Do(func() {
		close(c.done)
		close(c.events)
	})
}

type fakeTransport struct {
	mu          sync.Mutex
	conns       []*fakeConn
	dialErrs    []error // consumed front to back; nil entry = success
	failAll     bool
	connSendErr error // stamped onto every new connection
}

func (t *fakeTransport) Dial(ctx context.Context) (client.Conn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.failAll {
		return nil, errors.New("dial refused")
	}
	if len(t.dialErrs) > 0 {
		err := t.dialErrs[0]
		t.dialErrs = t.dialErrs[1:]
		if err != nil {
			return nil, err
		}
	}

	conn := newFakeConn()
	conn.sendErr = t.connSendErr
	t.conns = append(t.conns, conn)
	return conn, nil
}

func (t *fakeTransport) DialCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.conns)
}

func (t *fakeTransport) Conn(i int) *fakeConn {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conns[i]
}

func TestConnector_ConnectTransitionsToConnected(t *testing.T) {
	transport := &fakeTransport{}
	c := client.NewConnector(transport, fastOptions(), nil, testLogger())

	assert.Equal(t, client.StateDisconnected, c.State())
	require.NoError(t, c.Connect(context.Background()))
	assert.Equal(t, client.StateConnected, c.State())
	assert.Equal(t, 1, transport.DialCount())
}

func TestConnector_BoundedAttemptsThenPersistentError(t *testing.T) {
	transport := &fakeTransport{failAll: true}
	c := client.NewConnector(transport, fastOptions(), nil, testLogger())

	err := c.Connect(context.Background())
	require.ErrorIs(t, err, client.ErrReconnectFailed)
	assert.Equal(t, client.StateDisconnected, c.State())
}

func TestConnector_AutoReconnectOnConnectionLoss(t *testing.T) {
	transport := &fakeTransport{}
	c := client.NewConnector(transport, fastOptions(), nil, testLogger())
	require.NoError(t, c.Connect(context.Background()))

	transport.Conn(0).Drop()

	require.Eventually(t, func() bool {
		return transport.DialCount() == 2 && c.State() == client.StateConnected
	}, time.Second, 5*time.Millisecond)
}

func joinedRooms(events []sentEvent) map[string]bool {
	rooms := make(map[string]bool)
	for _, e := range events {
		if e.Type == models.EventJoinGroup {
			rooms[e.Payload.(models.JoinGroupEvent).GroupID] = true
		}
	}
	return rooms
}

func TestConnector_RejoinsRoomsAfterRepeatedDisconnects(t *testing.T) {
	transport := &fakeTransport{}
	c := client.NewConnector(transport, fastOptions(), nil, testLogger())
	require.NoError(t, c.Connect(context.Background()))

	require.NoError(t, c.Join("g1"))
	require.NoError(t, c.Join("g2"))

	for i := 0; i < 3; i++ {
		transport.Conn(i).Drop()
		want := i + 2
		require.Eventually(t, func() bool {
			return transport.DialCount() == want && c.State() == client.StateConnected
		}, time.Second, 5*time.Millisecond)
	}

	final := transport.Conn(3)
	require.NoError(t, c.Publish(models.EventSendMessage, models.SendMessageEvent{GroupID: "g1"}))

	sent := final.Sent()
	require.GreaterOrEqual(t, len(sent), 3)

	// Both rooms re-joined on the fresh connection before the publish
	// went out.
	assert.Equal(t, map[string]bool{"g1": true, "g2": true}, joinedRooms(sent[:2]))
	assert.Equal(t, models.EventSendMessage, sent[len(sent)-1].Type)

	// Every intermediate reconnect re-issued the joins too.
	for i := 1; i < 3; i++ {
		assert.Equal(t, map[string]bool{"g1": true, "g2": true}, joinedRooms(transport.Conn(i).Sent()))
	}
}

func TestConnector_PublishWhileDisconnectedReconnectsAndRetriesOnce(t *testing.T) {
	transport := &fakeTransport{}
	c := client.NewConnector(transport, fastOptions(), nil, testLogger())

	require.NoError(t, c.Publish(models.EventSendMessage, models.SendMessageEvent{GroupID: "g1"}))

	require.Equal(t, 1, transport.DialCount())
	sent := transport.Conn(0).Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, models.EventSendMessage, sent[0].Type)
}

func TestConnector_PublishFailsWhenReconnectExhausted(t *testing.T) {
	transport := &fakeTransport{failAll: true}
	c := client.NewConnector(transport, fastOptions(), nil, testLogger())

	err := c.Publish(models.EventSendMessage, models.SendMessageEvent{GroupID: "g1"})
	require.ErrorIs(t, err, client.ErrReconnectFailed)
}

func TestConnector_SendFailureRetriesExactlyOnce(t *testing.T) {
	transport := &fakeTransport{}
	c := client.NewConnector(transport, fastOptions(), nil, testLogger())
	require.NoError(t, c.Connect(context.Background()))

	transport.Conn(0).SetSendErr(errors.New("broken pipe"))

	require.NoError(t, c.Publish(models.EventSendMessage, models.SendMessageEvent{GroupID: "g1"}))

	require.Equal(t, 2, transport.DialCount())
	sent := transport.Conn(1).Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, models.EventSendMessage, sent[0].Type)
}

func TestConnector_PublishFailingTwiceIsReported(t *testing.T) {
	// Every connection this transport hands out fails its sends, so
	// the publish fails, the reconnect-and-retry fails, and the error
	// reaches the caller.
	sendErr := errors.New("broken pipe")
	transport := &fakeTransport{connSendErr: sendErr}
	c := client.NewConnector(transport, fastOptions(), nil, testLogger())
	require.NoError(t, c.Connect(context.Background()))

	err := c.Publish(models.EventSendMessage, models.SendMessageEvent{GroupID: "g1"})
	require.ErrorIs(t, err, sendErr)

	// One reconnect cycle, one retry: exactly two connections total.
	assert.Equal(t, 2, transport.DialCount())
}

func TestConnector_CloseStopsReconnection(t *testing.T) {
	transport := &fakeTransport{}
	c := client.NewConnector(transport, fastOptions(), nil, testLogger())
	require.NoError(t, c.Connect(context.Background()))

	require.NoError(t, c.Close())
	assert.Equal(t, client.StateDisconnected, c.State())

	// The drop triggered by Close must not spawn a new connection.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, transport.DialCount())

	assert.ErrorIs(t, c.Publish(models.EventTyping, models.TypingEvent{}), client.ErrClosed)
	assert.ErrorIs(t, c.Join("g1"), client.ErrClosed)
}

func TestConnector_JoinWhileDisconnectedIsRecorded(t *testing.T) {
	transport := &fakeTransport{}
	c := client.NewConnector(transport, fastOptions(), nil, testLogger())

	require.NoError(t, c.Join("g1"))
	require.NoError(t, c.Connect(context.Background()))

	sent := transport.Conn(0).Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, models.EventJoinGroup, sent[0].Type)
	assert.Equal(t, "g1", sent[0].Payload.(models.JoinGroupEvent).GroupID)
}
