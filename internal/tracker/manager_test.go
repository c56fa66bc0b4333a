package tracker

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/GABRIELS562/RFID-Evidence-Tracking-System-sub001/internal/models"
	"github.com/GABRIELS562/RFID-Evidence-Tracking-System-sub001/internal/registry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestManager(t *testing.T, opts Options) (*Manager, *registry.Registry) {
	t.Helper()
	reg := registry.New()
	m, err := NewManager(reg, opts, zap.NewNop())
	require.NoError(t, err)
	return m, reg
}

func session(id, tag string) models.TrackingSession {
	return models.TrackingSession{
		SessionID: id,
		TagID:     tag,
		StartTime: time.Unix(0, 0),
		Status:    models.StatusTracking,
	}
}

func loc(tag, location string, sec int64, signal int) models.LocationUpdate {
	return models.LocationUpdate{
		TagID:          tag,
		Location:       location,
		SignalStrength: signal,
		Timestamp:      time.Unix(sec, 0),
	}
}

func TestNewManager_RejectsUnknownPolicy(t *testing.T) {
	_, err := NewManager(registry.New(), Options{Policy: "merge"}, zap.NewNop())
	assert.Error(t, err)
}

func TestStartAndTrackPath(t *testing.T) {
	m, _ := newTestManager(t, Options{})

	_, err := m.Start(session("s1", "T1"))
	require.NoError(t, err)

	assert.True(t, m.OnLocationUpdate(loc("T1", "Reception", 0, 90)))
	assert.True(t, m.OnLocationUpdate(loc("T1", "LabA", 1, 85)))

	got, ok := m.Get("s1")
	require.True(t, ok)
	assert.Equal(t, "LabA", got.CurrentLocation)
	assert.Equal(t, models.StatusLocated, got.Status)
	assert.Equal(t, []models.PathPoint{
		{Location: "Reception", Timestamp: time.Unix(0, 0), SignalStrength: 90},
		{Location: "LabA", Timestamp: time.Unix(1, 0), SignalStrength: 85},
	}, got.Path)
}

func TestLocationWithoutSessionOnlyUpdatesRegistry(t *testing.T) {
	m, reg := newTestManager(t, Options{})

	for i := int64(0); i < 5; i++ {
		assert.False(t, m.OnLocationUpdate(loc("T9", fmt.Sprintf("Room%d", i), i, int(50+i))))
	}

	assert.Equal(t, 0, m.Len())
	tag, ok := reg.Get("T9")
	require.True(t, ok)
	assert.Equal(t, "Room4", tag.Location)
	assert.Equal(t, 54, tag.SignalStrength)
	assert.Equal(t, time.Unix(4, 0), tag.LastSeen)
}

func TestPathBoundedFIFO(t *testing.T) {
	const capacity = 5
	m, _ := newTestManager(t, Options{PathCapacity: capacity})
	_, err := m.Start(session("s1", "T1"))
	require.NoError(t, err)

	for i := int64(0); i < 23; i++ {
		m.OnLocationUpdate(loc("T1", fmt.Sprintf("L%d", i), i, 80))
		got, _ := m.Get("s1")
		require.LessOrEqual(t, len(got.Path), capacity)
	}

	got, _ := m.Get("s1")
	require.Len(t, got.Path, capacity)
	// the oldest entries went first
	for i, p := range got.Path {
		assert.Equal(t, fmt.Sprintf("L%d", 18+i), p.Location)
	}
}

func TestDuplicateLocationNotAppendedTwice(t *testing.T) {
	m, _ := newTestManager(t, Options{})
	_, err := m.Start(session("s1", "T1"))
	require.NoError(t, err)

	m.OnLocationUpdate(loc("T1", "LabA", 5, 80))
	assert.False(t, m.OnLocationUpdate(loc("T1", "LabA", 5, 80)))

	got, _ := m.Get("s1")
	assert.Len(t, got.Path, 1)
}

func TestInterleavedRedeliveryNotAppended(t *testing.T) {
	m, _ := newTestManager(t, Options{})
	_, err := m.Start(session("s1", "T1"))
	require.NoError(t, err)

	e1 := loc("T1", "Reception", 0, 90)
	e2 := loc("T1", "LabA", 1, 85)
	assert.True(t, m.OnLocationUpdate(e1))
	assert.True(t, m.OnLocationUpdate(e2))
	assert.False(t, m.OnLocationUpdate(e1))
	assert.False(t, m.OnLocationUpdate(e2))

	got, _ := m.Get("s1")
	require.Len(t, got.Path, 2)
	assert.Equal(t, "Reception", got.Path[0].Location)
	assert.Equal(t, "LabA", got.Path[1].Location)
	assert.Equal(t, "LabA", got.CurrentLocation)
	assert.Equal(t, time.Unix(1, 0), got.LastSeen)
}

func TestLastSeenNeverDecreases(t *testing.T) {
	m, _ := newTestManager(t, Options{})
	_, err := m.Start(session("s1", "T1"))
	require.NoError(t, err)

	m.OnLocationUpdate(loc("T1", "LabA", 10, 80))
	m.OnLocationUpdate(loc("T1", "LabB", 3, 80))

	got, _ := m.Get("s1")
	assert.Equal(t, time.Unix(10, 0), got.LastSeen)
	assert.Equal(t, "LabB", got.CurrentLocation)
}

func TestStartDuplicateRejected(t *testing.T) {
	m, _ := newTestManager(t, Options{Policy: PolicyReject})
	_, err := m.Start(session("s1", "T1"))
	require.NoError(t, err)

	assert.True(t, errors.Is(m.CheckStart("T1"), models.ErrDuplicateSession))
	assert.NoError(t, m.CheckStart("T2"))

	_, err = m.Start(session("s2", "T1"))
	require.Error(t, err)
	var dup *models.DuplicateSessionError
	require.True(t, errors.As(err, &dup))
	assert.Equal(t, "s1", dup.SessionID)
	assert.Equal(t, 1, m.Len())
}

func TestStartDuplicateReplaced(t *testing.T) {
	m, _ := newTestManager(t, Options{Policy: PolicyReplace})
	_, err := m.Start(session("s1", "T1"))
	require.NoError(t, err)
	assert.NoError(t, m.CheckStart("T1"))

	replaced, err := m.Start(session("s2", "T1"))
	require.NoError(t, err)
	require.NotNil(t, replaced)
	assert.Equal(t, "s1", replaced.SessionID)

	active, ok := m.ActiveForTag("T1")
	require.True(t, ok)
	assert.Equal(t, "s2", active.SessionID)
	assert.Equal(t, 1, m.Len())

	// a late start for the replaced session must not bring it back
	_, applied := m.OnSessionStarted(session("s1", "T1"))
	assert.False(t, applied)
}

func TestSessionStartedEventReplacesConflict(t *testing.T) {
	m, _ := newTestManager(t, Options{Policy: PolicyReject})
	_, err := m.Start(session("s1", "T1"))
	require.NoError(t, err)

	replaced, applied := m.OnSessionStarted(session("s2", "T1"))
	assert.True(t, applied)
	require.NotNil(t, replaced)
	assert.Equal(t, "s1", replaced.SessionID)
	assert.Equal(t, 1, m.Len())
}

func TestSessionStartedRedeliveryKeepsHistory(t *testing.T) {
	m, _ := newTestManager(t, Options{})
	m.OnSessionStarted(session("s1", "T1"))
	m.OnLocationUpdate(loc("T1", "LabA", 1, 80))

	m.OnSessionStarted(session("s1", "T1"))

	got, _ := m.Get("s1")
	assert.Len(t, got.Path, 1)
	assert.Equal(t, "LabA", got.CurrentLocation)
}

func TestSessionEndedIdempotent(t *testing.T) {
	m, _ := newTestManager(t, Options{})
	m.OnSessionStarted(session("s1", "T1"))

	_, ok := m.OnSessionEnded("s1")
	assert.True(t, ok)
	_, ok = m.OnSessionEnded("s1")
	assert.False(t, ok)
	_, ok = m.OnSessionEnded("never")
	assert.False(t, ok)
	assert.Equal(t, 0, m.Len())
}

func TestStopIsAuthoritative(t *testing.T) {
	m, reg := newTestManager(t, Options{})
	m.OnSessionStarted(session("s1", "T1"))

	stopped, ok := m.Stop("s1")
	require.True(t, ok)
	assert.Equal(t, "T1", stopped.TagID)

	// in-flight location for the stopped tag lands in the registry only
	assert.False(t, m.OnLocationUpdate(loc("T1", "Vault", 2, 70)))
	_, ok = m.Get("s1")
	assert.False(t, ok)
	tag, _ := reg.Get("T1")
	assert.Equal(t, "Vault", tag.Location)

	_, applied := m.OnSessionStarted(session("s1", "T1"))
	assert.False(t, applied)

	_, ok = m.Stop("s1")
	assert.False(t, ok)
}

func TestReconcile(t *testing.T) {
	m, _ := newTestManager(t, Options{})
	m.OnSessionStarted(session("keep", "T1"))
	m.OnSessionStarted(session("drop", "T2"))
	m.OnLocationUpdate(loc("T1", "Reception", 1, 90))
	m.OnLocationUpdate(loc("T1", "LabA", 2, 85))

	result := m.Reconcile([]models.TrackingSession{
		session("keep", "T1"),
		session("new", "T3"),
	})

	assert.Equal(t, []string{"keep"}, result.Kept)
	assert.Equal(t, []string{"new"}, result.Added)
	assert.Equal(t, []string{"drop"}, result.Dropped)

	kept, ok := m.Get("keep")
	require.True(t, ok)
	require.Len(t, kept.Path, 2)
	assert.Equal(t, "Reception", kept.Path[0].Location)
	assert.Equal(t, "LabA", kept.CurrentLocation)

	_, ok = m.Get("drop")
	assert.False(t, ok)
	_, ok = m.ActiveForTag("T2")
	assert.False(t, ok)

	_, ok = m.ActiveForTag("T3")
	assert.True(t, ok)
}

func TestReconcileOneSessionPerTag(t *testing.T) {
	m, _ := newTestManager(t, Options{})
	older := session("a", "T1")
	newer := session("b", "T1")
	newer.StartTime = time.Unix(100, 0)

	m.Reconcile([]models.TrackingSession{newer, older, {SessionID: "", TagID: "T2"}})

	assert.Equal(t, 1, m.Len())
	active, ok := m.ActiveForTag("T1")
	require.True(t, ok)
	assert.Equal(t, "b", active.SessionID)
}

func TestReconcileSkipsStopped(t *testing.T) {
	m, _ := newTestManager(t, Options{})
	m.OnSessionStarted(session("s1", "T1"))
	m.Stop("s1")

	m.Reconcile([]models.TrackingSession{session("s1", "T1")})
	assert.Equal(t, 0, m.Len())
}

func TestReconcileTrimsRemotePath(t *testing.T) {
	m, _ := newTestManager(t, Options{PathCapacity: 2})
	s := session("s1", "T1")
	for i := int64(0); i < 4; i++ {
		s.Path = append(s.Path, models.PathPoint{Location: fmt.Sprintf("L%d", i), Timestamp: time.Unix(i, 0)})
	}

	m.Reconcile([]models.TrackingSession{s})

	got, _ := m.Get("s1")
	require.Len(t, got.Path, 2)
	assert.Equal(t, "L2", got.Path[0].Location)
}

func TestAttachAlert(t *testing.T) {
	m, _ := newTestManager(t, Options{})
	m.OnSessionStarted(session("s1", "T1"))

	assert.True(t, m.AttachAlert(models.Alert{ID: "a1", TagID: "T1"}))
	assert.True(t, m.AttachAlert(models.Alert{ID: "a2", SessionID: "s1"}))
	assert.False(t, m.AttachAlert(models.Alert{ID: "a1", TagID: "T1"}))
	assert.False(t, m.AttachAlert(models.Alert{ID: "a3", TagID: "T9"}))

	got, _ := m.Get("s1")
	assert.Equal(t, []string{"a1", "a2"}, got.Alerts)
}

func TestMarkLost(t *testing.T) {
	m, _ := newTestManager(t, Options{})
	m.OnSessionStarted(session("quiet", "T1"))
	m.OnSessionStarted(session("busy", "T2"))
	m.OnLocationUpdate(loc("T2", "LabA", 100, 80))

	lost := m.MarkLost(time.Unix(50, 0))
	assert.Equal(t, []string{"quiet"}, lost)

	got, _ := m.Get("quiet")
	assert.Equal(t, models.StatusLost, got.Status)

	// already lost sessions are not reported again
	assert.Empty(t, m.MarkLost(time.Unix(50, 0)))

	// a new sample brings it back to located
	m.OnLocationUpdate(loc("T1", "LabB", 200, 80))
	got, _ = m.Get("quiet")
	assert.Equal(t, models.StatusLocated, got.Status)
}

func TestSnapshotIsDeepCopy(t *testing.T) {
	m, _ := newTestManager(t, Options{})
	m.OnSessionStarted(session("s1", "T1"))
	m.OnLocationUpdate(loc("T1", "LabA", 1, 80))

	snap := m.Snapshot()
	require.Len(t, snap, 1)
	snap[0].Path[0].Location = "mutated"
	snap[0].CurrentLocation = "mutated"

	got, _ := m.Get("s1")
	assert.Equal(t, "LabA", got.Path[0].Location)
	assert.Equal(t, "LabA", got.CurrentLocation)
}
