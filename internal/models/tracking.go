package models

import (
	"encoding/json"
	"time"
)

// SessionStatus tracking session state
type SessionStatus string

const (
	StatusTracking SessionStatus = "tracking" // started, no location accepted yet
	StatusLocated  SessionStatus = "located"  // at least one location accepted
	StatusLost     SessionStatus = "lost"     // no location within the lost timeout
)

// Valid reports whether s is a known status.
func (s SessionStatus) Valid() bool {
	return s == StatusTracking || s == StatusLocated || s == StatusLost
}

// Coordinates floor-plan position reported by the reader infrastructure
type Coordinates struct {
	X float64  `json:"x"`
	Y float64  `json:"y"`
	Z *float64 `json:"z,omitempty"`
}

// Clone returns a copy that shares no memory with c.
func (c *Coordinates) Clone() *Coordinates {
	if c == nil {
		return nil
	}
	out := *c
	if c.Z != nil {
		z := *c.Z
		out.Z = &z
	}
	return &out
}

// PathPoint one accepted location sample in a session's movement history
type PathPoint struct {
	Location       string    `json:"location"`
	Timestamp      time.Time `json:"timestamp"`
	SignalStrength int       `json:"signalStrength"`
}

// UnmarshalJSON accepts the timestamp as RFC3339 or epoch milliseconds.
func (p *PathPoint) UnmarshalJSON(data []byte) error {
	type plain PathPoint
	aux := struct {
		*plain
		Timestamp EventTime `json:"timestamp"`
	}{plain: (*plain)(p)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	p.Timestamp = aux.Timestamp.Time
	return nil
}

// TrackingSession the monitored movement of one tag from start to stop
type TrackingSession struct {
	SessionID       string        `json:"sessionId"`
	TagID           string        `json:"tagId"`
	StartTime       time.Time     `json:"startTime"`
	LastSeen        time.Time     `json:"lastSeen"`
	CurrentLocation string        `json:"currentLocation"`
	Path            []PathPoint   `json:"path"`
	Status          SessionStatus `json:"status"`
	Alerts          []string      `json:"alerts"`
}

// UnmarshalJSON accepts startTime and lastSeen as RFC3339 or epoch
// milliseconds.
func (s *TrackingSession) UnmarshalJSON(data []byte) error {
	type plain TrackingSession
	aux := struct {
		*plain
		StartTime EventTime `json:"startTime"`
		LastSeen  EventTime `json:"lastSeen"`
	}{plain: (*plain)(s)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	s.StartTime = aux.StartTime.Time
	s.LastSeen = aux.LastSeen.Time
	return nil
}

// Clone returns a deep copy; the path and alert slices are duplicated.
func (s *TrackingSession) Clone() TrackingSession {
	c := *s
	if s.Path != nil {
		c.Path = make([]PathPoint, len(s.Path))
		copy(c.Path, s.Path)
	}
	if s.Alerts != nil {
		c.Alerts = make([]string, len(s.Alerts))
		copy(c.Alerts, s.Alerts)
	}
	return c
}

// HasAlert reports whether alertID is already recorded against the session.
func (s *TrackingSession) HasAlert(alertID string) bool {
	for _, id := range s.Alerts {
		if id == alertID {
			return true
		}
	}
	return false
}

// LiveTag registry entry: the latest observed sample for a tag
type LiveTag struct {
	TagID          string       `json:"tagId"`
	Location       string       `json:"location"`
	SignalStrength int          `json:"signalStrength"`
	LastSeen       time.Time    `json:"lastSeen"`
	Coordinates    *Coordinates `json:"coordinates,omitempty"`
}

// Clone returns a deep copy.
func (t *LiveTag) Clone() LiveTag {
	c := *t
	c.Coordinates = t.Coordinates.Clone()
	return c
}
