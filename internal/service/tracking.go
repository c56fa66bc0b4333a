// Package service runs the tracking engine: it drains the event channel,
// applies events to sessions, alerts and the tag registry behind one lock,
// and serves copies of that state.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/GABRIELS562/RFID-Evidence-Tracking-System-sub001/internal/alerting"
	"github.com/GABRIELS562/RFID-Evidence-Tracking-System-sub001/internal/consumer"
	"github.com/GABRIELS562/RFID-Evidence-Tracking-System-sub001/internal/models"
	"github.com/GABRIELS562/RFID-Evidence-Tracking-System-sub001/internal/registry"
	"github.com/GABRIELS562/RFID-Evidence-Tracking-System-sub001/internal/tracker"

	"go.uber.org/zap"
)

const (
	DefaultRecentAlertLimit  = 50
	DefaultReconcileAttempts = 3
	DefaultReconcileBackoff  = 2 * time.Second

	commandQueueSize = 16
	ackTimeout       = 10 * time.Second
)

// ErrAlreadyStarted is returned by a second Start.
var ErrAlreadyStarted = errors.New("tracking service already started")

// Backend is the collaborator that owns the authoritative session and
// alert state.
type Backend interface {
	StartSession(ctx context.Context, tagID string) (models.TrackingSession, error)
	StopSession(ctx context.Context, sessionID string) error
	FetchActiveSessions(ctx context.Context) ([]models.TrackingSession, error)
	FetchRecentAlerts(ctx context.Context, limit int) ([]models.Alert, error)
	AcknowledgeAlert(ctx context.Context, alertID string) error
}

// Options tunes the tracking service. Zero values select the defaults.
type Options struct {
	Credential string

	PathCapacity    int
	DuplicatePolicy tracker.DuplicatePolicy
	AlertCapacity   int

	// RecentAlertLimit bounds the cold start alert fetch.
	RecentAlertLimit int

	// RefreshInterval drives periodic reconciliation and the lost/prune
	// sweep. 0 disables both timers.
	RefreshInterval time.Duration
	LostTimeout     time.Duration
	TagTTL          time.Duration

	ReconcileAttempts int
	ReconcileBackoff  time.Duration

	Notifier alerting.Notifier

	// OnDegraded is called after a reconciliation round fails every attempt.
	OnDegraded func(err error)
}

type command func(ctx context.Context)

// TrackingService owns the live tracking state. Inbound events, timer
// commands and reconciliation all run on one ingestion goroutine; public
// calls take the same lock after their backend call returns. Session
// channel subscriptions are applied in order by a separate worker.
type TrackingService struct {
	client  *consumer.Client
	backend Backend
	opts    Options
	logger  *zap.Logger
	now     func() time.Time

	mu       sync.RWMutex
	registry *registry.Registry
	sessions *tracker.Manager
	alerts   *alerting.Dispatcher
	degraded bool
	lastErr  error
	lastSync time.Time

	malformed atomic.Uint64
	started   atomic.Bool

	reconcileCh chan struct{}
	commands    chan command
	subs        *subscriptionQueue

	lifecycle sync.Mutex
	runCtx    context.Context
	conn      *consumer.Connection
	stopping  bool
	pending   sync.WaitGroup
}

// NewTrackingService creates a stopped service reading from client.
func NewTrackingService(client *consumer.Client, backend Backend, opts Options, logger *zap.Logger) (*TrackingService, error) {
	if client == nil || backend == nil {
		return nil, fmt.Errorf("tracking service requires an event client and a backend")
	}
	if opts.RecentAlertLimit <= 0 {
		opts.RecentAlertLimit = DefaultRecentAlertLimit
	}
	if opts.ReconcileAttempts <= 0 {
		opts.ReconcileAttempts = DefaultReconcileAttempts
	}
	if opts.ReconcileBackoff <= 0 {
		opts.ReconcileBackoff = DefaultReconcileBackoff
	}

	reg := registry.New()
	sessions, err := tracker.NewManager(reg, tracker.Options{
		PathCapacity: opts.PathCapacity,
		Policy:       opts.DuplicatePolicy,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create session manager: %w", err)
	}
	alerts, err := alerting.NewDispatcher(opts.AlertCapacity, 0, opts.Notifier, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create alert dispatcher: %w", err)
	}

	return &TrackingService{
		client:      client,
		backend:     backend,
		opts:        opts,
		logger:      logger,
		now:         time.Now,
		registry:    reg,
		sessions:    sessions,
		alerts:      alerts,
		reconcileCh: make(chan struct{}, 1),
		commands:    make(chan command, commandQueueSize),
		subs:        newSubscriptionQueue(client, logger),
		runCtx:      context.Background(),
	}, nil
}

// Start loads recent alerts, subscribes the shared channels, connects and
// then runs the ingestion loop until ctx is done.
func (s *TrackingService) Start(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	s.logger.Info("Starting tracking service",
		zap.String("duplicate_policy", string(s.sessions.Policy())),
		zap.Duration("refresh_interval", s.opts.RefreshInterval),
	)

	s.loadRecentAlerts(ctx)

	for _, channel := range []string{consumer.ChannelTracking, consumer.ChannelAlerts} {
		if err := s.client.Subscribe(ctx, consumer.Subscription{Channel: channel}); err != nil {
			return fmt.Errorf("failed to subscribe %s: %w", channel, err)
		}
	}

	// every connect, first or not, resynchronizes the session set
	s.client.OnConnected(func(reconnect bool) {
		s.Refresh()
	})
	s.client.OnStateChange(func(state consumer.State) {
		s.logger.Debug("Event channel state changed", zap.Stringer("state", state))
	})

	conn, err := s.client.Connect(ctx, s.opts.Credential)
	if err != nil {
		return fmt.Errorf("failed to connect event channel: %w", err)
	}

	s.lifecycle.Lock()
	s.runCtx = ctx
	s.conn = conn
	s.lifecycle.Unlock()

	go s.subs.run(ctx)
	go s.runTimers(ctx)
	return s.ingest(ctx)
}

// Stop closes the event channel and waits for in-flight backend
// acknowledgements.
func (s *TrackingService) Stop(ctx context.Context) error {
	s.lifecycle.Lock()
	conn := s.conn
	s.conn = nil
	s.stopping = true
	s.lifecycle.Unlock()

	if conn != nil {
		conn.Close()
	}

	done := make(chan struct{})
	go func() {
		s.pending.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return fmt.Errorf("timed out waiting for pending acknowledgements: %w", ctx.Err())
	}

	s.logger.Info("Tracking service stopped")
	return nil
}

// Refresh requests a reconciliation on the ingestion path. Requests made
// while one is pending are merged.
func (s *TrackingService) Refresh() {
	select {
	case s.reconcileCh <- struct{}{}:
	default:
	}
}

func (s *TrackingService) enqueue(cmd command) {
	select {
	case s.commands <- cmd:
	default:
		s.logger.Warn("Command queue full, dropping command")
	}
}

func (s *TrackingService) ingest(ctx context.Context) error {
	inbound := s.client.Inbound()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-inbound:
			s.handle(ctx, msg)
		case <-s.reconcileCh:
			s.reconcile(ctx)
		case cmd := <-s.commands:
			cmd(ctx)
		}
	}
}

func (s *TrackingService) runTimers(ctx context.Context) {
	if s.opts.RefreshInterval <= 0 {
		return
	}
	ticker := time.NewTicker(s.opts.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Refresh()
			if s.opts.LostTimeout > 0 || s.opts.TagTTL > 0 {
				s.enqueue(s.sweep)
			}
		}
	}
}

// handle applies one inbound message. Malformed events are dropped.
func (s *TrackingService) handle(ctx context.Context, msg consumer.Inbound) {
	ev, err := models.DecodeEvent(msg.Data)
	if err != nil {
		s.malformed.Add(1)
		s.logger.Warn("Dropping malformed event",
			zap.String("channel", msg.Channel),
			zap.Error(err),
		)
		return
	}

	switch e := ev.(type) {
	case models.LocationUpdate:
		s.mu.Lock()
		s.sessions.OnLocationUpdate(e)
		s.mu.Unlock()

	case models.SessionStarted:
		s.mu.Lock()
		replaced, applied := s.sessions.OnSessionStarted(e.Session)
		s.mu.Unlock()
		if !applied {
			return
		}
		s.follow(e.Session.SessionID)
		if replaced != nil {
			s.unfollow(replaced.SessionID)
		}

	case models.SessionEnded:
		s.mu.Lock()
		_, ok := s.sessions.OnSessionEnded(e.SessionID)
		s.mu.Unlock()
		if ok {
			s.logger.Info("Session ended", zap.String("session_id", e.SessionID))
		}
		s.unfollow(e.SessionID)

	case models.NewAlert:
		s.mu.Lock()
		a, ok := s.alerts.OnAlert(e.Alert)
		if ok {
			s.sessions.AttachAlert(a)
		}
		s.mu.Unlock()

	case models.AlertAcknowledged:
		s.mu.Lock()
		s.alerts.OnAcknowledgedRemote(e.AlertID)
		s.mu.Unlock()
	}
}

// StartSession asks the backend to start tracking tagID and adds the
// returned session. Under the reject policy a tag with an active session
// fails with a DuplicateSessionError before the backend is called.
func (s *TrackingService) StartSession(ctx context.Context, tagID string) (models.TrackingSession, error) {
	if tagID == "" {
		return models.TrackingSession{}, fmt.Errorf("tag id is required")
	}

	s.mu.RLock()
	err := s.sessions.CheckStart(tagID)
	s.mu.RUnlock()
	if err != nil {
		return models.TrackingSession{}, err
	}

	created, err := s.backend.StartSession(ctx, tagID)
	if err != nil {
		return models.TrackingSession{}, fmt.Errorf("failed to start session for tag %s: %w", tagID, err)
	}

	s.mu.Lock()
	replaced, err := s.sessions.Start(created)
	var out models.TrackingSession
	if err == nil {
		out, _ = s.sessions.Get(created.SessionID)
	}
	s.mu.Unlock()
	if err != nil {
		return models.TrackingSession{}, err
	}

	s.follow(out.SessionID)
	if replaced != nil {
		s.unfollow(replaced.SessionID)
	}

	s.logger.Info("Session started",
		zap.String("session_id", out.SessionID),
		zap.String("tag_id", tagID),
	)
	return out, nil
}

// StopSession asks the backend to stop the session and removes it locally.
// Unknown sessions are a no-op.
func (s *TrackingService) StopSession(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return nil
	}
	if err := s.backend.StopSession(ctx, sessionID); err != nil && !errors.Is(err, models.ErrUnknownEntity) {
		return fmt.Errorf("failed to stop session %s: %w", sessionID, err)
	}

	s.mu.Lock()
	_, ok := s.sessions.Stop(sessionID)
	s.mu.Unlock()

	s.unfollow(sessionID)
	if ok {
		s.logger.Info("Session stopped", zap.String("session_id", sessionID))
	}
	return nil
}

// Acknowledge marks the alert acknowledged locally and tells the backend
// in the background. Returns false for unknown or already acknowledged
// alerts, which do not reach the backend.
func (s *TrackingService) Acknowledge(alertID string) bool {
	s.mu.Lock()
	ok := s.alerts.Acknowledge(alertID)
	s.mu.Unlock()
	if !ok {
		return false
	}

	s.lifecycle.Lock()
	if s.stopping {
		s.lifecycle.Unlock()
		s.logger.Warn("Service stopping, acknowledgement kept local only", zap.String("alert_id", alertID))
		return true
	}
	parent := s.runCtx
	s.pending.Add(1)
	s.lifecycle.Unlock()

	go func() {
		defer s.pending.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), ackTimeout)
		defer cancel()
		if err := s.backend.AcknowledgeAlert(ctx, alertID); err != nil {
			s.logger.Warn("Failed to acknowledge alert on backend",
				zap.String("alert_id", alertID),
				zap.Error(err),
			)
		}
	}()
	return true
}

func (s *TrackingService) loadRecentAlerts(ctx context.Context) {
	recent, err := s.backend.FetchRecentAlerts(ctx, s.opts.RecentAlertLimit)
	if err != nil {
		s.logger.Warn("Failed to load recent alerts", zap.Error(err))
		return
	}

	s.mu.Lock()
	loaded := s.alerts.Load(recent)
	s.mu.Unlock()
	s.logger.Info("Loaded recent alerts", zap.Int("count", loaded))
}

// reconcile fetches the active session list and replaces the local set.
// The fetch runs outside the lock and is retried; a round where every
// attempt fails marks the service degraded.
func (s *TrackingService) reconcile(ctx context.Context) {
	var (
		active []models.TrackingSession
		err    error
	)
	for attempt := 1; attempt <= s.opts.ReconcileAttempts; attempt++ {
		active, err = s.backend.FetchActiveSessions(ctx)
		if err == nil {
			break
		}
		if ctx.Err() != nil {
			return
		}
		s.logger.Warn("Failed to fetch active sessions",
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		if attempt < s.opts.ReconcileAttempts && !sleepCtx(ctx, s.opts.ReconcileBackoff) {
			return
		}
	}
	if err != nil {
		s.markDegraded(err)
		return
	}

	s.mu.Lock()
	result := s.sessions.Reconcile(active)
	wasDegraded := s.degraded
	s.degraded = false
	s.lastErr = nil
	s.lastSync = s.now()
	s.mu.Unlock()

	for _, id := range result.Added {
		s.follow(id)
	}
	for _, id := range result.Dropped {
		s.unfollow(id)
	}

	if wasDegraded {
		s.logger.Info("Session state resynchronized after failures")
	}
	s.logger.Debug("Reconciled sessions",
		zap.Int("kept", len(result.Kept)),
		zap.Int("added", len(result.Added)),
		zap.Int("dropped", len(result.Dropped)),
	)
}

func (s *TrackingService) markDegraded(err error) {
	s.mu.Lock()
	s.degraded = true
	s.lastErr = err
	s.mu.Unlock()

	s.logger.Error("Session reconciliation failed, serving stale data",
		zap.Int("attempts", s.opts.ReconcileAttempts),
		zap.Error(err),
	)
	if s.opts.OnDegraded != nil {
		s.opts.OnDegraded(err)
	}
}

// sweep marks quiet sessions lost and prunes expired tags.
func (s *TrackingService) sweep(_ context.Context) {
	now := s.now()

	s.mu.Lock()
	var lost []string
	if s.opts.LostTimeout > 0 {
		lost = s.sessions.MarkLost(now.Add(-s.opts.LostTimeout))
	}
	pruned := 0
	if s.opts.TagTTL > 0 {
		pruned = s.registry.Prune(now.Add(-s.opts.TagTTL))
	}
	s.mu.Unlock()

	if len(lost) > 0 {
		s.logger.Warn("Sessions lost", zap.Strings("session_ids", lost))
	}
	if pruned > 0 {
		s.logger.Debug("Pruned expired tags", zap.Int("count", pruned))
	}
}

// follow queues a subscription to the session's filtered channel.
func (s *TrackingService) follow(sessionID string) {
	s.subs.push(subscriptionOp{sessionID: sessionID, follow: true})
}

func (s *TrackingService) unfollow(sessionID string) {
	s.subs.push(subscriptionOp{sessionID: sessionID})
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
