package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"
)

// EventType identifies an inbound channel event.
type EventType string

const (
	EventLocationUpdate    EventType = "location_update"
	EventSessionStarted    EventType = "session_started"
	EventSessionEnded      EventType = "session_ended"
	EventNewAlert          EventType = "new_alert"
	EventAlertAcknowledged EventType = "alert_acknowledged"
)

// Envelope is the wire frame of every channel event.
type Envelope struct {
	Type    EventType       `json:"type"`
	Seq     uint64          `json:"seq,omitempty"`
	Payload json.RawMessage `json:"payload"`
}

// Event is a decoded, validated inbound event.
type Event interface {
	Kind() EventType
}

// LocationUpdate a tag was observed at a location.
type LocationUpdate struct {
	TagID          string
	Location       string
	SignalStrength int
	Timestamp      time.Time
	Coordinates    *Coordinates
}

// SessionStarted the backend started a session.
type SessionStarted struct {
	Session TrackingSession
}

// SessionEnded the backend ended a session.
type SessionEnded struct {
	SessionID string
}

// NewAlert the backend raised an alert.
type NewAlert struct {
	Alert Alert
}

// AlertAcknowledged an alert was acknowledged by another viewer.
type AlertAcknowledged struct {
	AlertID string
}

func (LocationUpdate) Kind() EventType    { return EventLocationUpdate }
func (SessionStarted) Kind() EventType    { return EventSessionStarted }
func (SessionEnded) Kind() EventType      { return EventSessionEnded }
func (NewAlert) Kind() EventType          { return EventNewAlert }
func (AlertAcknowledged) Kind() EventType { return EventAlertAcknowledged }

// EventTime accepts an RFC3339 string or epoch milliseconds. JSON null and
// absent values leave it zero.
type EventTime struct {
	time.Time
}

func (t *EventTime) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if s == "" {
			return nil
		}
		parsed, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return err
		}
		t.Time = parsed
		return nil
	}
	ms, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		return fmt.Errorf("invalid timestamp %s", data)
	}
	t.Time = time.UnixMilli(int64(ms)).UTC()
	return nil
}

type locationPayload struct {
	TagID          *string      `json:"tagId"`
	Location       string       `json:"location"`
	SignalStrength float64      `json:"signalStrength"`
	Timestamp      EventTime    `json:"timestamp"`
	Coordinates    *Coordinates `json:"coordinates,omitempty"`
}

type sessionStartedPayload struct {
	Session *TrackingSession `json:"session"`
}

type sessionEndedPayload struct {
	SessionID string `json:"sessionId"`
}

type newAlertPayload struct {
	Alert *alertWire `json:"alert"`
}

type alertWire struct {
	ID           string    `json:"id"`
	Type         string    `json:"type"`
	Severity     string    `json:"severity"`
	TagID        string    `json:"tagId"`
	SessionID    string    `json:"sessionId"`
	Message      string    `json:"message"`
	Timestamp    EventTime `json:"timestamp"`
	Acknowledged bool      `json:"acknowledged"`
}

type alertAcknowledgedPayload struct {
	AlertID string `json:"alertId"`
}

// DecodeEvent parses a wire frame into a typed event. Every failure is a
// *MalformedEventError.
func DecodeEvent(data []byte) (Event, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, malformed("", "invalid envelope", err)
	}
	if len(env.Payload) == 0 || bytes.Equal(bytes.TrimSpace(env.Payload), []byte("null")) {
		return nil, malformed(env.Type, "missing payload", nil)
	}

	switch env.Type {
	case EventLocationUpdate:
		var p locationPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return nil, malformed(env.Type, "invalid payload", err)
		}
		if p.TagID == nil || *p.TagID == "" {
			return nil, malformed(env.Type, "missing tagId", nil)
		}
		if p.Timestamp.IsZero() {
			return nil, malformed(env.Type, "missing timestamp", nil)
		}
		if p.Location == "" {
			return nil, malformed(env.Type, "missing location", nil)
		}
		return LocationUpdate{
			TagID:          *p.TagID,
			Location:       p.Location,
			SignalStrength: int(math.Round(p.SignalStrength)),
			Timestamp:      p.Timestamp.Time,
			Coordinates:    p.Coordinates,
		}, nil

	case EventSessionStarted:
		var p sessionStartedPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return nil, malformed(env.Type, "invalid payload", err)
		}
		if p.Session == nil {
			return nil, malformed(env.Type, "missing session", nil)
		}
		if p.Session.SessionID == "" || p.Session.TagID == "" {
			return nil, malformed(env.Type, "missing sessionId or tagId", nil)
		}
		return SessionStarted{Session: *p.Session}, nil

	case EventSessionEnded:
		var p sessionEndedPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return nil, malformed(env.Type, "invalid payload", err)
		}
		if p.SessionID == "" {
			return nil, malformed(env.Type, "missing sessionId", nil)
		}
		return SessionEnded{SessionID: p.SessionID}, nil

	case EventNewAlert:
		var p newAlertPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return nil, malformed(env.Type, "invalid payload", err)
		}
		if p.Alert == nil {
			return nil, malformed(env.Type, "missing alert", nil)
		}
		sev, ok := ParseSeverity(p.Alert.Severity)
		if !ok {
			return nil, malformed(env.Type, fmt.Sprintf("unknown severity %q", p.Alert.Severity), nil)
		}
		return NewAlert{Alert: Alert{
			ID:           p.Alert.ID,
			Type:         p.Alert.Type,
			Severity:     sev,
			TagID:        p.Alert.TagID,
			SessionID:    p.Alert.SessionID,
			Message:      p.Alert.Message,
			Timestamp:    p.Alert.Timestamp.Time,
			Acknowledged: p.Alert.Acknowledged,
		}}, nil

	case EventAlertAcknowledged:
		var p alertAcknowledgedPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return nil, malformed(env.Type, "invalid payload", err)
		}
		if p.AlertID == "" {
			return nil, malformed(env.Type, "missing alertId", nil)
		}
		return AlertAcknowledged{AlertID: p.AlertID}, nil

	default:
		return nil, malformed(env.Type, "unsupported event type", nil)
	}
}

// EncodeEvent builds a wire frame for payload. Used by publishers and tests.
func EncodeEvent(t EventType, seq uint64, payload interface{}) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Type: t, Seq: seq, Payload: raw})
}
