package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/GABRIELS562/RFID-Evidence-Tracking-System-sub001/internal/alerting"
	"github.com/GABRIELS562/RFID-Evidence-Tracking-System-sub001/internal/consumer"
	"github.com/GABRIELS562/RFID-Evidence-Tracking-System-sub001/internal/models"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var errConnReset = errors.New("connection reset")

type stubConn struct {
	deliver consumer.DeliverFunc
	gate    chan struct{} // holds session subscribes until closed

	mu   sync.Mutex
	subs map[string]consumer.Subscription
	ops  []string

	once sync.Once
	done chan struct{}
}

func (c *stubConn) Subscribe(ctx context.Context, sub consumer.Subscription) error {
	session := isSessionChannel(sub.Channel)
	if session && c.gate != nil {
		select {
		case <-c.gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.subs[sub.Channel] = sub
	if session {
		c.ops = append(c.ops, "+"+sub.Channel)
	}
	return nil
}

func (c *stubConn) Unsubscribe(_ context.Context, channel string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.subs, channel)
	if isSessionChannel(channel) {
		c.ops = append(c.ops, "-"+channel)
	}
	return nil
}

func isSessionChannel(channel string) bool {
	return strings.HasPrefix(channel, consumer.SessionChannel(""))
}

// sessionOps lists applied session channel changes in order.
func (c *stubConn) sessionOps() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.ops...)
}

func (c *stubConn) Done() <-chan struct{} { return c.done }

func (c *stubConn) Err() error { return errConnReset }

func (c *stubConn) Close() error {
	c.drop()
	return nil
}

func (c *stubConn) drop() {
	c.once.Do(func() { close(c.done) })
}

func (c *stubConn) subscribed(channel string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.subs[channel]
	return ok
}

func (c *stubConn) push(data []byte) {
	c.deliver(consumer.Message{Channel: consumer.ChannelTracking, Data: data})
}

type stubTransport struct {
	gate chan struct{}

	mu    sync.Mutex
	conns []*stubConn
}

func (t *stubTransport) Name() string { return "stub" }

func (t *stubTransport) Dial(_ context.Context, _ string, deliver consumer.DeliverFunc) (consumer.Conn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	c := &stubConn{
		deliver: deliver,
		gate:    t.gate,
		subs:    make(map[string]consumer.Subscription),
		done:    make(chan struct{}),
	}
	t.conns = append(t.conns, c)
	return c, nil
}

func (t *stubTransport) current() *stubConn {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.conns) == 0 {
		return nil
	}
	return t.conns[len(t.conns)-1]
}

func (t *stubTransport) dials() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.conns)
}

type fakeBackend struct {
	mu       sync.Mutex
	active   []models.TrackingSession
	recent   []models.Alert
	fetchErr error
	stopErr  error
	fetches  int
	starts   int
	stops    []string
	acked    chan string
}

func newFakeBackend(active ...models.TrackingSession) *fakeBackend {
	return &fakeBackend{active: active, acked: make(chan string, 8)}
}

func (b *fakeBackend) StartSession(_ context.Context, tagID string) (models.TrackingSession, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.starts++
	return models.TrackingSession{
		SessionID: fmt.Sprintf("local-%d", b.starts),
		TagID:     tagID,
		StartTime: time.Now().UTC(),
		Status:    models.StatusTracking,
	}, nil
}

func (b *fakeBackend) StopSession(_ context.Context, sessionID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stopErr != nil {
		return b.stopErr
	}
	if sessionID == "missing" {
		return fmt.Errorf("stop session %s: %w", sessionID, models.ErrUnknownEntity)
	}
	b.stops = append(b.stops, sessionID)
	return nil
}

func (b *fakeBackend) FetchActiveSessions(_ context.Context) ([]models.TrackingSession, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fetches++
	if b.fetchErr != nil {
		return nil, b.fetchErr
	}
	return append([]models.TrackingSession(nil), b.active...), nil
}

func (b *fakeBackend) FetchRecentAlerts(_ context.Context, _ int) ([]models.Alert, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]models.Alert(nil), b.recent...), nil
}

func (b *fakeBackend) AcknowledgeAlert(_ context.Context, alertID string) error {
	b.acked <- alertID
	return nil
}

func (b *fakeBackend) setActive(active ...models.TrackingSession) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.active = active
}

func (b *fakeBackend) setFetchErr(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fetchErr = err
}

func (b *fakeBackend) fetchCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.fetches
}

func (b *fakeBackend) startCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.starts
}

func (b *fakeBackend) stopped() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.stops...)
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []alerting.Notification
}

func (r *recordingNotifier) Notify(n alerting.Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, n)
}

func (r *recordingNotifier) all() []alerting.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]alerting.Notification(nil), r.sent...)
}

type harness struct {
	svc       *TrackingService
	transport *stubTransport
	backend   *fakeBackend
}

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

// startService runs a service against a stub transport until the test ends.
func startService(t *testing.T, backend *fakeBackend, mutate func(o *Options)) *harness {
	t.Helper()
	return startServiceOn(t, &stubTransport{}, backend, mutate)
}

func startServiceOn(t *testing.T, transport *stubTransport, backend *fakeBackend, mutate func(o *Options)) *harness {
	t.Helper()

	client := consumer.NewClient(transport, consumer.Options{
		QueueSize:   64,
		BaseBackoff: 5 * time.Millisecond,
		MaxBackoff:  20 * time.Millisecond,
	}, zap.NewNop())

	opts := Options{
		Credential:        "token",
		ReconcileAttempts: 1,
		ReconcileBackoff:  time.Millisecond,
	}
	if mutate != nil {
		mutate(&opts)
	}
	svc, err := NewTrackingService(client, backend, opts, zap.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Start(ctx) }()

	t.Cleanup(func() {
		cancel()
		<-done
		stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Second)
		defer stopCancel()
		_ = svc.Stop(stopCtx)
	})

	return &harness{svc: svc, transport: transport, backend: backend}
}

// waitSynced waits for the first successful reconciliation.
func (h *harness) waitSynced(t *testing.T) *stubConn {
	t.Helper()
	require.Eventually(t, func() bool {
		return !h.svc.Health().LastSync.IsZero()
	}, waitFor, tick)
	conn := h.transport.current()
	require.NotNil(t, conn)
	return conn
}

func frame(t *testing.T, typ models.EventType, payload interface{}) []byte {
	t.Helper()
	data, err := models.EncodeEvent(typ, 0, payload)
	require.NoError(t, err)
	return data
}

func locationFrame(t *testing.T, tagID, location string, sec int64) []byte {
	return frame(t, models.EventLocationUpdate, map[string]interface{}{
		"tagId":          tagID,
		"location":       location,
		"signalStrength": 80,
		"timestamp":      time.Unix(sec, 0).UTC().Format(time.RFC3339),
	})
}

func activeSession(id, tagID string) models.TrackingSession {
	return models.TrackingSession{
		SessionID: id,
		TagID:     tagID,
		StartTime: time.Unix(1, 0).UTC(),
		Status:    models.StatusTracking,
	}
}
