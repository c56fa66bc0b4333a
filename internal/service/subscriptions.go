package service

import (
	"context"
	"sync"

	"github.com/GABRIELS562/RFID-Evidence-Tracking-System-sub001/internal/consumer"

	"go.uber.org/zap"
)

type subscriptionOp struct {
	sessionID string
	follow    bool
}

// subscriptionQueue applies session channel changes on their own goroutine,
// in the order they were requested. Pushing never blocks, so a slow broker
// acknowledgement cannot stall event ingestion.
type subscriptionQueue struct {
	client *consumer.Client
	logger *zap.Logger

	mu     sync.Mutex
	ops    []subscriptionOp
	signal chan struct{}
}

func newSubscriptionQueue(client *consumer.Client, logger *zap.Logger) *subscriptionQueue {
	return &subscriptionQueue{
		client: client,
		logger: logger,
		signal: make(chan struct{}, 1),
	}
}

func (q *subscriptionQueue) push(op subscriptionOp) {
	q.mu.Lock()
	q.ops = append(q.ops, op)
	q.mu.Unlock()

	select {
	case q.signal <- struct{}{}:
	default:
	}
}

func (q *subscriptionQueue) take() []subscriptionOp {
	q.mu.Lock()
	defer q.mu.Unlock()
	ops := q.ops
	q.ops = nil
	return ops
}

// run applies queued operations until ctx is done.
func (q *subscriptionQueue) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-q.signal:
		}
		for _, op := range q.take() {
			if ctx.Err() != nil {
				return
			}
			q.apply(ctx, op)
		}
	}
}

// apply changes one session channel. A failed subscribe on the live
// connection stays desired and is replayed on the next connect.
func (q *subscriptionQueue) apply(ctx context.Context, op subscriptionOp) {
	channel := consumer.SessionChannel(op.sessionID)
	if !op.follow {
		_ = q.client.Unsubscribe(ctx, channel)
		return
	}
	if err := q.client.Subscribe(ctx, consumer.Subscription{Channel: channel, Filter: op.sessionID}); err != nil {
		q.logger.Warn("Failed to subscribe session channel",
			zap.String("channel", channel),
			zap.Error(err),
		)
	}
}
