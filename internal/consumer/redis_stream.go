package consumer

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	rediscommon "github.com/GABRIELS562/RFID-Evidence-Tracking-System-sub001/common/redis"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

const (
	defaultStreamBlock = time.Second
	defaultStreamCount = 100
)

// RedisStreamTransport receives events from Redis streams. A channel maps to
// the stream <prefix><channel>; each entry carries the event envelope in its
// "data" field. Redis authenticates through the client config, so the
// credential is not used.
type RedisStreamTransport struct {
	client *redis.Client
	prefix string
	block  time.Duration
	count  int64
	logger *zap.Logger
}

// NewRedisStreamTransport creates a Redis stream transport.
func NewRedisStreamTransport(client *redis.Client, prefix string, block time.Duration, logger *zap.Logger) *RedisStreamTransport {
	if block <= 0 {
		block = defaultStreamBlock
	}
	return &RedisStreamTransport{
		client: client,
		prefix: prefix,
		block:  block,
		count:  defaultStreamCount,
		logger: logger,
	}
}

func (t *RedisStreamTransport) Name() string { return "redis_stream" }

func (t *RedisStreamTransport) Dial(ctx context.Context, _ string, deliver DeliverFunc) (Conn, error) {
	if err := rediscommon.Ping(ctx, t.client); err != nil {
		return nil, fmt.Errorf("failed to reach redis: %w", err)
	}

	connCtx, cancel := context.WithCancel(ctx)
	c := &streamConn{
		transport: t,
		deliver:   deliver,
		offsets:   make(map[string]string),
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	go c.readLoop(connCtx)
	return c, nil
}

type streamConn struct {
	transport *RedisStreamTransport
	deliver   DeliverFunc
	cancel    context.CancelFunc

	mu      sync.Mutex
	offsets map[string]string // stream key -> last delivered id

	once sync.Once
	err  error
	done chan struct{}
}

func (c *streamConn) stream(channel string) string {
	return c.transport.prefix + channel
}

func (c *streamConn) channel(stream string) string {
	return strings.TrimPrefix(stream, c.transport.prefix)
}

// Subscribe starts reading the stream after its newest entry.
func (c *streamConn) Subscribe(ctx context.Context, sub Subscription) error {
	key := c.stream(sub.Channel)

	c.mu.Lock()
	_, ok := c.offsets[key]
	c.mu.Unlock()
	if ok {
		return nil
	}

	last, err := rediscommon.LastID(ctx, c.transport.client, key)
	if err != nil {
		return fmt.Errorf("failed to read last id of %s: %w", key, err)
	}

	c.mu.Lock()
	c.offsets[key] = last
	c.mu.Unlock()
	return nil
}

func (c *streamConn) Unsubscribe(_ context.Context, channel string) error {
	c.mu.Lock()
	delete(c.offsets, c.stream(channel))
	c.mu.Unlock()
	return nil
}

func (c *streamConn) snapshotOffsets() map[string]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]string, len(c.offsets))
	for k, v := range c.offsets {
		out[k] = v
	}
	return out
}

// advance records id unless the stream was unsubscribed meanwhile. It
// reports whether the entry should be delivered.
func (c *streamConn) advance(stream, id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.offsets[stream]; !ok {
		return false
	}
	c.offsets[stream] = id
	return true
}

func (c *streamConn) readLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			c.fail(errConnClosed)
			return
		default:
		}

		offsets := c.snapshotOffsets()
		if len(offsets) == 0 {
			// nothing subscribed yet; the replay happens right after dial
			if !sleepCtx(ctx, 50*time.Millisecond) {
				c.fail(errConnClosed)
				return
			}
			continue
		}

		messages, err := rediscommon.ReadStreams(ctx, c.transport.client, offsets, c.transport.count, c.transport.block)
		if err != nil {
			if ctx.Err() != nil {
				c.fail(errConnClosed)
			} else {
				c.fail(fmt.Errorf("failed to read streams: %w", err))
			}
			return
		}

		for _, msg := range messages {
			if !c.advance(msg.Stream, msg.ID) {
				continue
			}
			data, ok := msg.Values["data"].(string)
			if !ok {
				c.transport.logger.Warn("Stream entry without data field",
					zap.String("stream", msg.Stream),
					zap.String("message_id", msg.ID),
				)
				continue
			}
			c.deliver(Message{Channel: c.channel(msg.Stream), Data: []byte(data)})
		}
	}
}

func (c *streamConn) Done() <-chan struct{} { return c.done }

func (c *streamConn) Err() error {
	select {
	case <-c.done:
		return c.err
	default:
		return nil
	}
}

func (c *streamConn) fail(err error) {
	c.once.Do(func() {
		c.err = err
		close(c.done)
		c.cancel()
	})
}

func (c *streamConn) Close() error {
	c.fail(errConnClosed)
	return nil
}
