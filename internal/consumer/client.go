package consumer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/GABRIELS562/RFID-Evidence-Tracking-System-sub001/internal/models"

	"go.uber.org/zap"
)

// State connection state of the client
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

const (
	DefaultBaseBackoff = time.Second
	DefaultMaxBackoff  = 30 * time.Second
	DefaultQueueSize   = 1024
)

// ErrAlreadyConnected is returned by Connect while a connection loop runs.
var ErrAlreadyConnected = errors.New("event channel client already running")

// Inbound one raw event taken off the wire, in arrival order
type Inbound struct {
	Channel    string
	Data       []byte
	ReceivedAt time.Time
}

// Options tunes a Client. Zero values select the defaults.
type Options struct {
	QueueSize   int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

// Client keeps one connection to the event source alive and feeds every
// received message into a single ordered queue. Subscriptions are stored
// as intent and replayed after every successful connect.
type Client struct {
	transport Transport
	logger    *zap.Logger
	opts      Options
	inbound   chan Inbound

	mu          sync.Mutex
	state       State
	desired     map[string]Subscription
	conn        Conn
	connected   bool // a connect has succeeded at least once
	running     bool
	onState     []func(State)
	onConnected []func(reconnect bool)
}

// NewClient creates a disconnected client.
func NewClient(transport Transport, opts Options, logger *zap.Logger) *Client {
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	if opts.BaseBackoff <= 0 {
		opts.BaseBackoff = DefaultBaseBackoff
	}
	if opts.MaxBackoff < opts.BaseBackoff {
		opts.MaxBackoff = DefaultMaxBackoff
		if opts.MaxBackoff < opts.BaseBackoff {
			opts.MaxBackoff = opts.BaseBackoff
		}
	}
	return &Client{
		transport: transport,
		logger:    logger,
		opts:      opts,
		inbound:   make(chan Inbound, opts.QueueSize),
		desired:   make(map[string]Subscription),
	}
}

// Connection handle to a running connection loop
type Connection struct {
	client *Client
	cancel context.CancelFunc
	done   chan struct{}
}

// State returns the client's current state.
func (h *Connection) State() State {
	return h.client.State()
}

// Done is closed once the connection loop has exited.
func (h *Connection) Done() <-chan struct{} {
	return h.done
}

// Close stops reconnecting, closes the live connection and waits for the
// loop to exit.
func (h *Connection) Close() {
	h.cancel()
	<-h.done
}

// Connect starts the connection loop with credential. It returns at once;
// the loop dials, replays subscriptions and redials with backoff until ctx
// is done or the handle is closed.
func (c *Client) Connect(ctx context.Context, credential string) (*Connection, error) {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return nil, ErrAlreadyConnected
	}
	c.running = true
	c.mu.Unlock()

	loopCtx, cancel := context.WithCancel(ctx)
	h := &Connection{
		client: c,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go c.run(loopCtx, credential, h.done)
	return h, nil
}

// Inbound returns the ordered queue of received messages.
func (c *Client) Inbound() <-chan Inbound {
	return c.inbound
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// OnStateChange registers fn to be called on every state transition.
func (c *Client) OnStateChange(fn func(State)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onState = append(c.onState, fn)
}

// OnConnected registers fn to be called after each successful connect and
// subscription replay. reconnect is false for the first connect.
func (c *Client) OnConnected(fn func(reconnect bool)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onConnected = append(c.onConnected, fn)
}

// Subscribe adds sub to the desired set and, when connected, subscribes on
// the live connection. A failure on the live connection is returned but the
// subscription stays desired and is replayed on the next connect.
func (c *Client) Subscribe(ctx context.Context, sub Subscription) error {
	if sub.Channel == "" {
		return fmt.Errorf("subscription requires a channel")
	}

	c.mu.Lock()
	c.desired[sub.Channel] = sub
	conn := c.conn
	c.mu.Unlock()

	// a connection swapped in meanwhile replays the desired set itself
	if conn == nil {
		return nil
	}
	if err := conn.Subscribe(ctx, sub); err != nil {
		return &models.TransportError{Op: "subscribe " + sub.Channel, Err: err}
	}
	return nil
}

// Unsubscribe removes channel from the desired set. Unsubscribing a channel
// that is not subscribed is a no-op.
func (c *Client) Unsubscribe(ctx context.Context, channel string) error {
	c.mu.Lock()
	_, ok := c.desired[channel]
	delete(c.desired, channel)
	conn := c.conn
	c.mu.Unlock()

	if !ok || conn == nil {
		return nil
	}
	if err := conn.Unsubscribe(ctx, channel); err != nil {
		// the channel is gone from the desired set; a reconnect drops it
		c.logger.Warn("Failed to unsubscribe on live connection",
			zap.String("channel", channel),
			zap.Error(err),
		)
	}
	return nil
}

// Subscriptions returns the desired subscription set sorted by channel.
func (c *Client) Subscriptions() []Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sortedDesired()
}

func (c *Client) sortedDesired() []Subscription {
	subs := make([]Subscription, 0, len(c.desired))
	for _, s := range c.desired {
		subs = append(subs, s)
	}
	sort.Slice(subs, func(i, j int) bool { return subs[i].Channel < subs[j].Channel })
	return subs
}

func (c *Client) run(ctx context.Context, credential string, done chan struct{}) {
	defer func() {
		c.mu.Lock()
		c.running = false
		c.mu.Unlock()
		c.setState(StateDisconnected)
		close(done)
	}()

	backoff := c.opts.BaseBackoff
	for {
		if ctx.Err() != nil {
			return
		}

		c.setState(StateConnecting)
		conn, reconnect, err := c.establish(ctx, credential)
		if err != nil {
			c.setState(StateDisconnected)
			if ctx.Err() != nil {
				return
			}
			c.logger.Error("Failed to connect event channel",
				zap.String("transport", c.transport.Name()),
				zap.Error(err),
				zap.Duration("backoff", backoff),
			)
			if !sleepCtx(ctx, backoff) {
				return
			}
			backoff = nextBackoff(backoff, c.opts.MaxBackoff)
			continue
		}

		// success resets the backoff
		backoff = c.opts.BaseBackoff
		c.setState(StateConnected)
		c.logger.Info("Event channel connected",
			zap.String("transport", c.transport.Name()),
			zap.Bool("reconnect", reconnect),
		)
		c.fireConnected(reconnect)

		select {
		case <-ctx.Done():
			c.detach(conn)
			conn.Close()
			return
		case <-conn.Done():
		}

		lost := &models.TransportError{Op: "receive", Err: conn.Err()}
		c.detach(conn)
		conn.Close()
		c.setState(StateDisconnected)
		c.logger.Warn("Event channel connection lost",
			zap.String("transport", c.transport.Name()),
			zap.Error(lost),
			zap.Duration("backoff", backoff),
		)
		if !sleepCtx(ctx, backoff) {
			return
		}
		backoff = nextBackoff(backoff, c.opts.MaxBackoff)
	}
}

// establish dials and replays the desired set. The lock is held across the
// replay so concurrent Subscribe/Unsubscribe calls land either in the
// replayed set or on the attached connection.
func (c *Client) establish(ctx context.Context, credential string) (Conn, bool, error) {
	conn, err := c.transport.Dial(ctx, credential, c.deliverer(ctx))
	if err != nil {
		return nil, false, &models.TransportError{Op: "dial", Err: err}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, sub := range c.sortedDesired() {
		if err := conn.Subscribe(ctx, sub); err != nil {
			conn.Close()
			return nil, false, &models.TransportError{Op: "subscribe " + sub.Channel, Err: err}
		}
	}
	c.conn = conn
	reconnect := c.connected
	c.connected = true
	return conn, reconnect, nil
}

func (c *Client) detach(conn Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == conn {
		c.conn = nil
	}
}

func (c *Client) deliverer(ctx context.Context) DeliverFunc {
	return func(m Message) {
		select {
		case c.inbound <- Inbound{Channel: m.Channel, Data: m.Data, ReceivedAt: time.Now()}:
		case <-ctx.Done():
		}
	}
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	if c.state == s {
		c.mu.Unlock()
		return
	}
	c.state = s
	observers := append([]func(State){}, c.onState...)
	c.mu.Unlock()

	for _, fn := range observers {
		fn(s)
	}
}

func (c *Client) fireConnected(reconnect bool) {
	c.mu.Lock()
	observers := append([]func(bool){}, c.onConnected...)
	c.mu.Unlock()

	for _, fn := range observers {
		fn(reconnect)
	}
}

func nextBackoff(current, limit time.Duration) time.Duration {
	next := current * 2
	if next > limit {
		return limit
	}
	return next
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
