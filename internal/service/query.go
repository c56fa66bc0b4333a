package service

import (
	"time"

	"github.com/GABRIELS562/RFID-Evidence-Tracking-System-sub001/internal/consumer"
	"github.com/GABRIELS562/RFID-Evidence-Tracking-System-sub001/internal/models"
)

// Health summarizes whether the served state can be trusted.
type Health struct {
	Connection consumer.State `json:"-"`
	State      string         `json:"state"`

	// Stale is set while the event channel is down or the last
	// reconciliation round failed. Snapshots stay readable either way.
	Stale     bool      `json:"stale"`
	Degraded  bool      `json:"degraded"`
	LastError string    `json:"lastError,omitempty"`
	LastSync  time.Time `json:"lastSync"`

	Sessions       int    `json:"sessions"`
	Tags           int    `json:"tags"`
	Alerts         int    `json:"alerts"`
	Unacknowledged int    `json:"unacknowledged"`
	Malformed      uint64 `json:"malformed"`
}

// SnapshotSessions returns copies of all active sessions, oldest first.
func (s *TrackingService) SnapshotSessions() []models.TrackingSession {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessions.Snapshot()
}

// SnapshotSession returns a copy of one active session.
func (s *TrackingService) SnapshotSession(sessionID string) (models.TrackingSession, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessions.Get(sessionID)
}

// SnapshotAlerts returns copies of the alert log, most recent first.
func (s *TrackingService) SnapshotAlerts() []models.Alert {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.alerts.Snapshot()
}

// SnapshotTag returns a copy of the latest sample for tagID.
func (s *TrackingService) SnapshotTag(tagID string) (models.LiveTag, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.registry.Get(tagID)
}

// SnapshotTags returns copies of every registry entry ordered by tag id.
func (s *TrackingService) SnapshotTags() []models.LiveTag {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.registry.All()
}

// Triage returns unacknowledged alerts, most severe first.
func (s *TrackingService) Triage() []models.Alert {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.alerts.Triage()
}

// NextUnacknowledged returns the alert an operator should handle next.
func (s *TrackingService) NextUnacknowledged() (models.Alert, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.alerts.NextUnacknowledged()
}

// Health reports connection and synchronization state.
func (s *TrackingService) Health() Health {
	state := s.client.State()

	s.mu.RLock()
	defer s.mu.RUnlock()

	h := Health{
		Connection:     state,
		State:          state.String(),
		Degraded:       s.degraded,
		LastSync:       s.lastSync,
		Sessions:       s.sessions.Len(),
		Tags:           s.registry.Len(),
		Alerts:         s.alerts.Len(),
		Unacknowledged: s.alerts.UnacknowledgedCount(),
		Malformed:      s.malformed.Load(),
	}
	h.Stale = s.degraded || state != consumer.StateConnected
	if s.lastErr != nil {
		h.LastError = s.lastErr.Error()
	}
	return h
}
