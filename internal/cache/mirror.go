package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/GABRIELS562/RFID-Evidence-Tracking-System-sub001/internal/models"

	"go.uber.org/zap"
)

// Key suffixes under the mirror's prefix.
const (
	KeySessions  = "sessions"
	KeyAlerts    = "alerts"
	KeyTags      = "tags"
	KeyUpdatedAt = "updated_at"
)

// SnapshotSource provides the copies the mirror writes out.
type SnapshotSource interface {
	SnapshotSessions() []models.TrackingSession
	SnapshotAlerts() []models.Alert
	SnapshotTags() []models.LiveTag
}

// Mirror periodically writes snapshots to a Store as JSON with a TTL, so a
// stopped tracker's data expires instead of going stale silently.
type Mirror struct {
	store    Store
	source   SnapshotSource
	prefix   string
	interval time.Duration
	ttl      time.Duration
	logger   *zap.Logger
	now      func() time.Time
}

// NewMirror creates a mirror. ttl <= 0 writes keys without expiry.
func NewMirror(store Store, source SnapshotSource, prefix string, interval, ttl time.Duration, logger *zap.Logger) *Mirror {
	return &Mirror{
		store:    store,
		source:   source,
		prefix:   prefix,
		interval: interval,
		ttl:      ttl,
		logger:   logger,
		now:      time.Now,
	}
}

func (m *Mirror) key(suffix string) string {
	return m.prefix + suffix
}

// Sync writes one round of snapshots in a single store call.
func (m *Mirror) Sync(ctx context.Context) error {
	entries := []struct {
		suffix string
		value  interface{}
	}{
		{KeySessions, m.source.SnapshotSessions()},
		{KeyAlerts, m.source.SnapshotAlerts()},
		{KeyTags, m.source.SnapshotTags()},
	}

	docs := make(map[string][]byte, len(entries)+1)
	for _, e := range entries {
		data, err := json.Marshal(e.value)
		if err != nil {
			return fmt.Errorf("failed to marshal %s: %w", e.suffix, err)
		}
		docs[m.key(e.suffix)] = data
	}
	docs[m.key(KeyUpdatedAt)] = []byte(m.now().UTC().Format(time.RFC3339Nano))

	if err := m.store.SaveAll(ctx, docs, m.ttl); err != nil {
		return fmt.Errorf("failed to write snapshots under %s: %w", m.prefix, err)
	}
	return nil
}

// Clear removes every mirrored document.
func (m *Mirror) Clear(ctx context.Context) error {
	return m.store.Delete(ctx,
		m.key(KeySessions),
		m.key(KeyAlerts),
		m.key(KeyTags),
		m.key(KeyUpdatedAt),
	)
}

// Run syncs every interval until ctx is done. Failures are logged and the
// next tick tries again.
func (m *Mirror) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.logger.Info("Snapshot mirror started",
		zap.String("prefix", m.prefix),
		zap.Duration("interval", m.interval),
	)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.Sync(ctx); err != nil {
				m.logger.Warn("Failed to mirror snapshots", zap.Error(err))
			}
		}
	}
}

// Sessions reads the mirrored sessions.
func (m *Mirror) Sessions(ctx context.Context) ([]models.TrackingSession, error) {
	var out []models.TrackingSession
	if err := m.read(ctx, KeySessions, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Alerts reads the mirrored alert log.
func (m *Mirror) Alerts(ctx context.Context) ([]models.Alert, error) {
	var out []models.Alert
	if err := m.read(ctx, KeyAlerts, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Tags reads the mirrored tag registry.
func (m *Mirror) Tags(ctx context.Context) ([]models.LiveTag, error) {
	var out []models.LiveTag
	if err := m.read(ctx, KeyTags, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// UpdatedAt reads when the mirror last synced.
func (m *Mirror) UpdatedAt(ctx context.Context) (time.Time, error) {
	val, err := m.store.Load(ctx, m.key(KeyUpdatedAt))
	if err != nil {
		return time.Time{}, err
	}
	return time.Parse(time.RFC3339Nano, string(val))
}

func (m *Mirror) read(ctx context.Context, suffix string, dst interface{}) error {
	val, err := m.store.Load(ctx, m.key(suffix))
	if err != nil {
		return err
	}
	if err := json.Unmarshal(val, dst); err != nil {
		return fmt.Errorf("failed to unmarshal %s: %w", suffix, err)
	}
	return nil
}
