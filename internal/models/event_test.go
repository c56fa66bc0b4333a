package models

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeEvent_LocationUpdate(t *testing.T) {
	data := []byte(`{"type":"location_update","seq":7,"payload":{"tagId":"T1","location":"LabA","signalStrength":85,"timestamp":"2024-03-01T10:00:00Z","coordinates":{"x":1.5,"y":2}}}`)

	ev, err := DecodeEvent(data)
	require.NoError(t, err)

	loc, ok := ev.(LocationUpdate)
	require.True(t, ok)
	assert.Equal(t, "T1", loc.TagID)
	assert.Equal(t, "LabA", loc.Location)
	assert.Equal(t, 85, loc.SignalStrength)
	assert.Equal(t, time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC), loc.Timestamp)
	require.NotNil(t, loc.Coordinates)
	assert.Equal(t, 1.5, loc.Coordinates.X)
	assert.Nil(t, loc.Coordinates.Z)
}

func TestDecodeEvent_EpochMillisTimestamp(t *testing.T) {
	data := []byte(`{"type":"location_update","payload":{"tagId":"T1","location":"Reception","signalStrength":90.4,"timestamp":1000}}`)

	ev, err := DecodeEvent(data)
	require.NoError(t, err)

	loc := ev.(LocationUpdate)
	assert.True(t, loc.Timestamp.Equal(time.UnixMilli(1000)))
	assert.Equal(t, 90, loc.SignalStrength)
}

func TestDecodeEvent_Malformed(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"not json", `{"type":`},
		{"missing payload", `{"type":"location_update"}`},
		{"null payload", `{"type":"location_update","payload":null}`},
		{"null tagId", `{"type":"location_update","payload":{"tagId":null,"location":"LabA","timestamp":1}}`},
		{"missing timestamp", `{"type":"location_update","payload":{"tagId":"T1","location":"LabA"}}`},
		{"missing location", `{"type":"location_update","payload":{"tagId":"T1","timestamp":1}}`},
		{"bad timestamp", `{"type":"location_update","payload":{"tagId":"T1","location":"LabA","timestamp":"yesterday"}}`},
		{"session without id", `{"type":"session_started","payload":{"session":{"tagId":"T1"}}}`},
		{"session missing", `{"type":"session_started","payload":{}}`},
		{"ended without id", `{"type":"session_ended","payload":{}}`},
		{"alert missing", `{"type":"new_alert","payload":{}}`},
		{"alert bad severity", `{"type":"new_alert","payload":{"alert":{"id":"a1","severity":"urgent"}}}`},
		{"ack without id", `{"type":"alert_acknowledged","payload":{}}`},
		{"unknown type", `{"type":"zone_changed","payload":{}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := DecodeEvent([]byte(tt.data))
			assert.Nil(t, ev)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrMalformedEvent))

			var me *MalformedEventError
			assert.True(t, errors.As(err, &me))
		})
	}
}

func TestDecodeEvent_SessionLifecycle(t *testing.T) {
	started, err := DecodeEvent([]byte(`{"type":"session_started","payload":{"session":{"sessionId":"s1","tagId":"T1","startTime":"2024-03-01T10:00:00Z","status":"tracking"}}}`))
	require.NoError(t, err)
	s := started.(SessionStarted).Session
	assert.Equal(t, "s1", s.SessionID)
	assert.Equal(t, StatusTracking, s.Status)

	ended, err := DecodeEvent([]byte(`{"type":"session_ended","payload":{"sessionId":"s1"}}`))
	require.NoError(t, err)
	assert.Equal(t, SessionEnded{SessionID: "s1"}, ended)
}

func TestDecodeEvent_SessionStartedEpochMillis(t *testing.T) {
	started, err := DecodeEvent([]byte(`{"type":"session_started","payload":{"session":{"sessionId":"s1","tagId":"T1","startTime":1709287200000,"lastSeen":1709287260000,"path":[{"location":"Reception","timestamp":1709287230000,"signalStrength":70}],"status":"located"}}}`))
	require.NoError(t, err)

	s := started.(SessionStarted).Session
	assert.True(t, s.StartTime.Equal(time.UnixMilli(1709287200000)))
	assert.True(t, s.LastSeen.Equal(time.UnixMilli(1709287260000)))
	require.Len(t, s.Path, 1)
	assert.True(t, s.Path[0].Timestamp.Equal(time.UnixMilli(1709287230000)))
	assert.Equal(t, "Reception", s.Path[0].Location)
	assert.Equal(t, StatusLocated, s.Status)
}

func TestAlertUnmarshal_EpochMillis(t *testing.T) {
	var a Alert
	require.NoError(t, json.Unmarshal([]byte(`{"id":"a1","type":"zone_breach","severity":"low","timestamp":1000,"acknowledged":true,"acknowledgedAt":2000}`), &a))
	assert.True(t, a.Timestamp.Equal(time.UnixMilli(1000)))
	require.NotNil(t, a.AcknowledgedAt)
	assert.True(t, a.AcknowledgedAt.Equal(time.UnixMilli(2000)))

	var plain Alert
	require.NoError(t, json.Unmarshal([]byte(`{"id":"a2","timestamp":"2024-03-01T10:00:00Z","acknowledgedAt":null}`), &plain))
	assert.Equal(t, 2024, plain.Timestamp.Year())
	assert.Nil(t, plain.AcknowledgedAt)
}

func TestDecodeEvent_Alerts(t *testing.T) {
	ev, err := DecodeEvent([]byte(`{"type":"new_alert","payload":{"alert":{"id":"a1","type":"zone_breach","severity":"CRITICAL","tagId":"T1","message":"left secure zone"}}}`))
	require.NoError(t, err)
	a := ev.(NewAlert).Alert
	assert.Equal(t, SeverityCritical, a.Severity)
	assert.Equal(t, "zone_breach", a.Type)
	assert.True(t, a.Timestamp.IsZero())

	ack, err := DecodeEvent([]byte(`{"type":"alert_acknowledged","payload":{"alertId":"a1"}}`))
	require.NoError(t, err)
	assert.Equal(t, AlertAcknowledged{AlertID: "a1"}, ack)
}

func TestEncodeEvent_RoundTrip(t *testing.T) {
	data, err := EncodeEvent(EventSessionEnded, 3, map[string]string{"sessionId": "s9"})
	require.NoError(t, err)

	ev, err := DecodeEvent(data)
	require.NoError(t, err)
	assert.Equal(t, EventSessionEnded, ev.Kind())
}

func TestSeverityOrdering(t *testing.T) {
	assert.True(t, SeverityCritical.Higher(SeverityHigh))
	assert.True(t, SeverityHigh.Higher(SeverityMedium))
	assert.True(t, SeverityMedium.Higher(SeverityLow))
	assert.False(t, SeverityLow.Higher(SeverityLow))
	assert.Equal(t, 0, Severity("bogus").Rank())
}

func TestTrackingSessionClone(t *testing.T) {
	orig := TrackingSession{
		SessionID: "s1",
		Path:      []PathPoint{{Location: "Reception"}},
		Alerts:    []string{"a1"},
	}
	c := orig.Clone()
	c.Path[0].Location = "mutated"
	c.Alerts[0] = "mutated"

	assert.Equal(t, "Reception", orig.Path[0].Location)
	assert.Equal(t, "a1", orig.Alerts[0])
}

func TestErrorTaxonomy(t *testing.T) {
	dup := &DuplicateSessionError{TagID: "T1", SessionID: "s1"}
	assert.True(t, errors.Is(dup, ErrDuplicateSession))
	assert.Contains(t, dup.Error(), "T1")

	te := &TransportError{Op: "dial", Err: errors.New("refused")}
	assert.True(t, errors.Is(te, ErrTransport))
	assert.Contains(t, te.Error(), "refused")
}
