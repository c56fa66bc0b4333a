// Package tracker owns the set of active tracking sessions: lifecycle,
// bounded path history and reconciliation against the backend's list.
package tracker

import (
	"fmt"
	"sort"
	"time"

	"github.com/GABRIELS562/RFID-Evidence-Tracking-System-sub001/internal/models"
	"github.com/GABRIELS562/RFID-Evidence-Tracking-System-sub001/internal/registry"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
)

// DuplicatePolicy decides what a local start does when the tag already has
// an active session.
type DuplicatePolicy string

const (
	PolicyReject  DuplicatePolicy = "reject"
	PolicyReplace DuplicatePolicy = "replace"
)

const (
	DefaultPathCapacity  = 50
	DefaultTombstoneSize = 1024
)

// Options tunes a Manager. Zero values select the defaults.
type Options struct {
	PathCapacity  int
	Policy        DuplicatePolicy
	TombstoneSize int
}

// ReconcileResult lists what a reconciliation changed, by session id.
type ReconcileResult struct {
	Kept    []string
	Added   []string
	Dropped []string
}

// Manager tracks active sessions. At most one session is active per tag.
//
// Manager is not safe for concurrent use; the tracking service serializes
// every call behind its lock.
type Manager struct {
	capacity int
	policy   DuplicatePolicy
	registry *registry.Registry
	logger   *zap.Logger

	sessions map[string]*models.TrackingSession // session id -> session
	byTag    map[string]string                  // tag id -> active session id

	// ids of sessions stopped or replaced locally; late session_started
	// deliveries for them are ignored
	stopped *lru.Cache[string, struct{}]
}

// NewManager creates a manager that forwards every location sample to reg.
func NewManager(reg *registry.Registry, opts Options, logger *zap.Logger) (*Manager, error) {
	if opts.PathCapacity <= 0 {
		opts.PathCapacity = DefaultPathCapacity
	}
	if opts.Policy == "" {
		opts.Policy = PolicyReject
	}
	if opts.Policy != PolicyReject && opts.Policy != PolicyReplace {
		return nil, fmt.Errorf("unknown duplicate session policy: %s", opts.Policy)
	}
	if opts.TombstoneSize <= 0 {
		opts.TombstoneSize = DefaultTombstoneSize
	}

	stopped, err := lru.New[string, struct{}](opts.TombstoneSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create tombstone cache: %w", err)
	}

	return &Manager{
		capacity: opts.PathCapacity,
		policy:   opts.Policy,
		registry: reg,
		logger:   logger,
		sessions: make(map[string]*models.TrackingSession),
		byTag:    make(map[string]string),
		stopped:  stopped,
	}, nil
}

// Policy returns the configured duplicate session policy.
func (m *Manager) Policy() DuplicatePolicy {
	return m.policy
}

// CheckStart reports whether a local start for tagID may proceed.
func (m *Manager) CheckStart(tagID string) error {
	if m.policy == PolicyReplace {
		return nil
	}
	if id, ok := m.byTag[tagID]; ok {
		return &models.DuplicateSessionError{TagID: tagID, SessionID: id}
	}
	return nil
}

// Start inserts a session created by a local start request. Under the
// reject policy an active session for the same tag fails the call; under
// replace the prior session is removed and returned.
func (m *Manager) Start(s models.TrackingSession) (*models.TrackingSession, error) {
	if s.SessionID == "" || s.TagID == "" {
		return nil, fmt.Errorf("session requires sessionId and tagId")
	}
	if existingID, ok := m.byTag[s.TagID]; ok && existingID != s.SessionID && m.policy == PolicyReject {
		return nil, &models.DuplicateSessionError{TagID: s.TagID, SessionID: existingID}
	}
	return m.insert(s), nil
}

// OnSessionStarted applies a session_started event. The backend is the
// authority for its own starts, so a conflicting session for the same tag
// is replaced whatever the local policy. applied is false when the session
// was stopped locally and the event arrived late.
func (m *Manager) OnSessionStarted(s models.TrackingSession) (replaced *models.TrackingSession, applied bool) {
	if m.stopped.Contains(s.SessionID) {
		m.logger.Debug("Ignoring start for stopped session",
			zap.String("session_id", s.SessionID),
			zap.String("tag_id", s.TagID),
		)
		return nil, false
	}
	return m.insert(s), true
}

// insert adds s, replacing any other active session for the tag. A repeat
// delivery of a known session keeps the local history.
func (m *Manager) insert(s models.TrackingSession) *models.TrackingSession {
	if existing, ok := m.sessions[s.SessionID]; ok {
		merged := m.merge(existing, s)
		if existing.TagID != merged.TagID && m.byTag[existing.TagID] == existing.SessionID {
			delete(m.byTag, existing.TagID)
		}
		m.sessions[s.SessionID] = merged
		m.byTag[merged.TagID] = merged.SessionID
		return nil
	}

	var replaced *models.TrackingSession
	if oldID, ok := m.byTag[s.TagID]; ok {
		if old, ok := m.sessions[oldID]; ok {
			c := old.Clone()
			replaced = &c
			delete(m.sessions, oldID)
			m.stopped.Add(oldID, struct{}{})
			m.logger.Info("Replaced active session",
				zap.String("tag_id", s.TagID),
				zap.String("old_session_id", oldID),
				zap.String("new_session_id", s.SessionID),
			)
		}
	}

	fresh := m.normalize(s)
	m.sessions[fresh.SessionID] = fresh
	m.byTag[fresh.TagID] = fresh.SessionID
	return replaced
}

// OnLocationUpdate records the sample in the registry and, when the tag has
// an active session, appends it to the session's path. Returns whether a
// session path changed.
func (m *Manager) OnLocationUpdate(ev models.LocationUpdate) bool {
	m.registry.Update(ev.TagID, ev.Location, ev.SignalStrength, ev.Timestamp, ev.Coordinates)

	id, ok := m.byTag[ev.TagID]
	if !ok {
		return false
	}
	s := m.sessions[id]

	if hasPoint(s.Path, ev.Timestamp, ev.Location) {
		// redelivery of a sample still in the path, possibly after newer ones
		return false
	}

	m.appendPoint(s, models.PathPoint{
		Location:       ev.Location,
		Timestamp:      ev.Timestamp,
		SignalStrength: ev.SignalStrength,
	})
	s.CurrentLocation = ev.Location
	if ev.Timestamp.After(s.LastSeen) {
		s.LastSeen = ev.Timestamp
	}
	s.Status = models.StatusLocated
	return true
}

// OnSessionEnded removes the session. Unknown ids are a no-op.
func (m *Manager) OnSessionEnded(sessionID string) (models.TrackingSession, bool) {
	return m.remove(sessionID)
}

// Stop removes the session and remembers it so late events cannot bring it
// back. Unknown ids are a no-op.
func (m *Manager) Stop(sessionID string) (models.TrackingSession, bool) {
	m.stopped.Add(sessionID, struct{}{})
	return m.remove(sessionID)
}

func (m *Manager) remove(sessionID string) (models.TrackingSession, bool) {
	s, ok := m.sessions[sessionID]
	if !ok {
		return models.TrackingSession{}, false
	}
	delete(m.sessions, sessionID)
	if m.byTag[s.TagID] == sessionID {
		delete(m.byTag, s.TagID)
	}
	return s.Clone(), true
}

// Reconcile replaces the active set with the backend's list. Sessions
// present in both keep their local path and alert history; sessions missing
// from the list are dropped. Sessions stopped locally stay stopped.
func (m *Manager) Reconcile(authoritative []models.TrackingSession) ReconcileResult {
	var result ReconcileResult

	// one session per tag; the most recently started wins
	byTag := make(map[string]models.TrackingSession, len(authoritative))
	for _, s := range authoritative {
		if s.SessionID == "" || s.TagID == "" {
			m.logger.Warn("Skipping invalid session in reconciliation",
				zap.String("session_id", s.SessionID),
				zap.String("tag_id", s.TagID),
			)
			continue
		}
		if m.stopped.Contains(s.SessionID) {
			continue
		}
		if prev, ok := byTag[s.TagID]; ok && !s.StartTime.After(prev.StartTime) {
			continue
		}
		byTag[s.TagID] = s
	}

	sessions := make(map[string]*models.TrackingSession, len(byTag))
	tags := make(map[string]string, len(byTag))
	for tagID, s := range byTag {
		if local, ok := m.sessions[s.SessionID]; ok {
			sessions[s.SessionID] = m.merge(local, s)
			result.Kept = append(result.Kept, s.SessionID)
		} else {
			sessions[s.SessionID] = m.normalize(s)
			result.Added = append(result.Added, s.SessionID)
		}
		tags[tagID] = s.SessionID
	}

	for id := range m.sessions {
		if _, ok := sessions[id]; !ok {
			result.Dropped = append(result.Dropped, id)
		}
	}

	m.sessions = sessions
	m.byTag = tags

	sort.Strings(result.Kept)
	sort.Strings(result.Added)
	sort.Strings(result.Dropped)
	return result
}

// AttachAlert records the alert against its session: the one named by the
// alert, otherwise the active session of the alert's tag.
func (m *Manager) AttachAlert(a models.Alert) bool {
	var s *models.TrackingSession
	if a.SessionID != "" {
		s = m.sessions[a.SessionID]
	}
	if s == nil && a.TagID != "" {
		if id, ok := m.byTag[a.TagID]; ok {
			s = m.sessions[id]
		}
	}
	if s == nil || s.HasAlert(a.ID) {
		return false
	}
	s.Alerts = append(s.Alerts, a.ID)
	return true
}

// MarkLost flags sessions with no sample since cutoff as lost and returns
// their ids.
func (m *Manager) MarkLost(cutoff time.Time) []string {
	var lost []string
	for id, s := range m.sessions {
		if s.Status == models.StatusLost {
			continue
		}
		seen := s.LastSeen
		if seen.IsZero() {
			seen = s.StartTime
		}
		if seen.Before(cutoff) {
			s.Status = models.StatusLost
			lost = append(lost, id)
		}
	}
	sort.Strings(lost)
	return lost
}

// Get returns a copy of the session.
func (m *Manager) Get(sessionID string) (models.TrackingSession, bool) {
	s, ok := m.sessions[sessionID]
	if !ok {
		return models.TrackingSession{}, false
	}
	return s.Clone(), true
}

// ActiveForTag returns a copy of the tag's active session.
func (m *Manager) ActiveForTag(tagID string) (models.TrackingSession, bool) {
	id, ok := m.byTag[tagID]
	if !ok {
		return models.TrackingSession{}, false
	}
	return m.Get(id)
}

// Snapshot returns copies of all active sessions, oldest start first.
func (m *Manager) Snapshot() []models.TrackingSession {
	out := make([]models.TrackingSession, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartTime.Equal(out[j].StartTime) {
			return out[i].StartTime.Before(out[j].StartTime)
		}
		return out[i].SessionID < out[j].SessionID
	})
	return out
}

// Len returns the number of active sessions.
func (m *Manager) Len() int {
	return len(m.sessions)
}

// normalize returns an owned copy of s with defaults applied and the path
// cut to capacity.
func (m *Manager) normalize(s models.TrackingSession) *models.TrackingSession {
	c := s.Clone()
	if !c.Status.Valid() {
		c.Status = models.StatusTracking
	}
	if c.LastSeen.Before(c.StartTime) {
		c.LastSeen = c.StartTime
	}
	if len(c.Path) > m.capacity {
		c.Path = append([]models.PathPoint(nil), c.Path[len(c.Path)-m.capacity:]...)
	}
	if c.Path == nil {
		c.Path = make([]models.PathPoint, 0, m.capacity)
	}
	if c.Alerts == nil {
		c.Alerts = []string{}
	}
	return &c
}

// merge combines a local session with the backend's copy of it. Local path
// history survives; the newer of the two observations wins for location.
func (m *Manager) merge(local *models.TrackingSession, remote models.TrackingSession) *models.TrackingSession {
	merged := m.normalize(remote)

	if len(local.Path) > 0 {
		merged.Path = append(make([]models.PathPoint, 0, m.capacity), local.Path...)
	}
	if !local.LastSeen.Before(merged.LastSeen) {
		merged.LastSeen = local.LastSeen
		if local.CurrentLocation != "" {
			merged.CurrentLocation = local.CurrentLocation
		}
		if local.Status.Valid() {
			merged.Status = local.Status
		}
	}
	for _, id := range local.Alerts {
		if !merged.HasAlert(id) {
			merged.Alerts = append(merged.Alerts, id)
		}
	}
	return merged
}

// appendPoint adds p, evicting the oldest entries once the path is full.
func (m *Manager) appendPoint(s *models.TrackingSession, p models.PathPoint) {
	if len(s.Path) < m.capacity {
		s.Path = append(s.Path, p)
		return
	}
	copy(s.Path, s.Path[1:])
	s.Path[len(s.Path)-1] = p
}

func hasPoint(path []models.PathPoint, ts time.Time, location string) bool {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i].Timestamp.Equal(ts) && path[i].Location == location {
			return true
		}
	}
	return false
}
