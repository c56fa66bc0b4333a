package models

import (
	"encoding/json"
	"strings"
	"time"
)

// Severity alert severity. Ordering: critical > high > medium > low.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

var severityRank = map[Severity]int{
	SeverityLow:      1,
	SeverityMedium:   2,
	SeverityHigh:     3,
	SeverityCritical: 4,
}

// ParseSeverity normalizes case and surrounding space; ok is false for
// unknown names.
func ParseSeverity(s string) (Severity, bool) {
	sev := Severity(strings.ToLower(strings.TrimSpace(s)))
	_, ok := severityRank[sev]
	return sev, ok
}

// Rank returns the priority of the severity, 0 for unknown values.
func (s Severity) Rank() int {
	return severityRank[s]
}

// Higher reports whether s outranks other.
func (s Severity) Higher(other Severity) bool {
	return s.Rank() > other.Rank()
}

// Alert an alert raised by the tracking backend
type Alert struct {
	ID             string     `json:"id"`
	Type           string     `json:"type"`
	Severity       Severity   `json:"severity"`
	TagID          string     `json:"tagId,omitempty"`
	SessionID      string     `json:"sessionId,omitempty"`
	Message        string     `json:"message"`
	Timestamp      time.Time  `json:"timestamp"`
	Acknowledged   bool       `json:"acknowledged"`
	AcknowledgedAt *time.Time `json:"acknowledgedAt,omitempty"`
}

func (a *Alert) UnmarshalJSON(data []byte) error {
	type plain Alert
	aux := struct {
		*plain
		Timestamp      EventTime  `json:"timestamp"`
		AcknowledgedAt *EventTime `json:"acknowledgedAt"`
	}{plain: (*plain)(a)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	a.Timestamp = aux.Timestamp.Time
	a.AcknowledgedAt = nil
	if aux.AcknowledgedAt != nil && !aux.AcknowledgedAt.IsZero() {
		t := aux.AcknowledgedAt.Time
		a.AcknowledgedAt = &t
	}
	return nil
}

// Clone returns a deep copy.
func (a *Alert) Clone() Alert {
	c := *a
	if a.AcknowledgedAt != nil {
		t := *a.AcknowledgedAt
		c.AcknowledgedAt = &t
	}
	return c
}
