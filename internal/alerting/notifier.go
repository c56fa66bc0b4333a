package alerting

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/GABRIELS562/RFID-Evidence-Tracking-System-sub001/internal/models"

	"go.uber.org/zap"
)

// Treatment how an alert is brought to the operator's attention
type Treatment struct {
	Audible bool `json:"audible"`
	Visual  bool `json:"visual"`
	Flash   bool `json:"flash"` // blinking banner, critical only
	Muted   bool `json:"muted"` // shown in the log without a banner
}

var treatments = map[models.Severity]Treatment{
	models.SeverityCritical: {Audible: true, Visual: true, Flash: true},
	models.SeverityHigh:     {Audible: true, Visual: true},
	models.SeverityMedium:   {Visual: true},
	models.SeverityLow:      {Visual: true, Muted: true},
}

// TreatmentFor returns the notification treatment for a severity. Unknown
// severities are treated as low.
func TreatmentFor(s models.Severity) Treatment {
	if t, ok := treatments[s]; ok {
		return t
	}
	return treatments[models.SeverityLow]
}

// Notification is one side effect request for an accepted alert.
type Notification struct {
	Alert     models.Alert `json:"alert"`
	Treatment Treatment    `json:"treatment"`
}

// Sink delivers notifications somewhere: the log, a stream, a speaker.
type Sink interface {
	Name() string
	Send(ctx context.Context, n Notification) error
}

const DefaultQueueSize = 256

// AsyncNotifier queues notifications and delivers them to its sinks on a
// worker goroutine. A full queue drops the notification.
type AsyncNotifier struct {
	queue  chan Notification
	sinks  []Sink
	logger *zap.Logger

	started  atomic.Bool
	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}
}

// NewAsyncNotifier creates a notifier. Start must be called before
// notifications are delivered.
func NewAsyncNotifier(queueSize int, logger *zap.Logger, sinks ...Sink) *AsyncNotifier {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &AsyncNotifier{
		queue:  make(chan Notification, queueSize),
		sinks:  sinks,
		logger: logger,
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Notify enqueues n without blocking.
func (n *AsyncNotifier) Notify(notification Notification) {
	select {
	case n.queue <- notification:
	default:
		n.logger.Warn("Notification queue full, dropping notification",
			zap.String("alert_id", notification.Alert.ID),
			zap.String("severity", string(notification.Alert.Severity)),
		)
	}
}

// Start runs the delivery worker until ctx is done or Stop is called.
func (n *AsyncNotifier) Start(ctx context.Context) {
	if !n.started.CompareAndSwap(false, true) {
		return
	}
	go n.run(ctx)
}

func (n *AsyncNotifier) run(ctx context.Context) {
	defer close(n.done)
	for {
		select {
		case <-ctx.Done():
			return
		case <-n.stopCh:
			n.drain(ctx)
			return
		case notification := <-n.queue:
			n.deliver(ctx, notification)
		}
	}
}

// drain delivers whatever is already queued.
func (n *AsyncNotifier) drain(ctx context.Context) {
	for {
		select {
		case notification := <-n.queue:
			n.deliver(ctx, notification)
		default:
			return
		}
	}
}

func (n *AsyncNotifier) deliver(ctx context.Context, notification Notification) {
	for _, sink := range n.sinks {
		if err := sink.Send(ctx, notification); err != nil {
			n.logger.Error("Failed to deliver notification",
				zap.String("sink", sink.Name()),
				zap.String("alert_id", notification.Alert.ID),
				zap.Error(err),
			)
		}
	}
}

// Stop delivers queued notifications and waits for the worker to exit.
func (n *AsyncNotifier) Stop() {
	n.stopOnce.Do(func() {
		close(n.stopCh)
	})
	if n.started.Load() {
		<-n.done
	}
}
