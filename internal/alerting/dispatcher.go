// Package alerting keeps the bounded alert log, tracks acknowledgement and
// hands notifications to the notifier without blocking ingestion.
package alerting

import (
	"fmt"
	"sort"
	"time"

	"github.com/GABRIELS562/RFID-Evidence-Tracking-System-sub001/internal/models"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
)

const (
	DefaultCapacity = 50
	DefaultSeenSize = 4096
)

// Notifier receives one notification per accepted alert. Notify must not
// block: it is called while the tracking service holds its lock.
type Notifier interface {
	Notify(n Notification)
}

// Dispatcher owns the alert log, most recent first.
//
// Dispatcher is not safe for concurrent use; the tracking service serializes
// every call behind its lock.
type Dispatcher struct {
	capacity int
	alerts   []*models.Alert
	byID     map[string]*models.Alert

	// ids accepted recently, including those already truncated from the log,
	// so a redelivered alert is not raised twice
	seen *lru.Cache[string, struct{}]

	notifier Notifier
	logger   *zap.Logger
	now      func() time.Time
}

// NewDispatcher creates a dispatcher. notifier may be nil.
func NewDispatcher(capacity, seenSize int, notifier Notifier, logger *zap.Logger) (*Dispatcher, error) {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if seenSize < capacity {
		seenSize = DefaultSeenSize
	}
	seen, err := lru.New[string, struct{}](seenSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create seen alert cache: %w", err)
	}
	return &Dispatcher{
		capacity: capacity,
		alerts:   make([]*models.Alert, 0, capacity),
		byID:     make(map[string]*models.Alert, capacity),
		seen:     seen,
		notifier: notifier,
		logger:   logger,
		now:      time.Now,
	}, nil
}

// OnAlert records a new alert and notifies. It returns the stored copy and
// false when the alert id was already accepted.
func (d *Dispatcher) OnAlert(a models.Alert) (models.Alert, bool) {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if _, ok := d.byID[a.ID]; ok || d.seen.Contains(a.ID) {
		d.logger.Debug("Ignoring duplicate alert", zap.String("alert_id", a.ID))
		return models.Alert{}, false
	}
	if a.Timestamp.IsZero() {
		a.Timestamp = d.now()
	}

	stored := a.Clone()
	d.alerts = append(d.alerts, nil)
	copy(d.alerts[1:], d.alerts)
	d.alerts[0] = &stored
	d.byID[stored.ID] = &stored
	d.seen.Add(stored.ID, struct{}{})

	// insertion order only: the oldest goes whatever its severity
	for len(d.alerts) > d.capacity {
		last := d.alerts[len(d.alerts)-1]
		d.alerts[len(d.alerts)-1] = nil
		d.alerts = d.alerts[:len(d.alerts)-1]
		delete(d.byID, last.ID)
	}

	if d.notifier != nil && !stored.Acknowledged {
		d.notifier.Notify(Notification{
			Alert:     stored.Clone(),
			Treatment: TreatmentFor(stored.Severity),
		})
	}
	return stored.Clone(), true
}

// Load seeds the log on cold start. alerts are expected most recent first,
// as the backend returns them; no notifications are raised.
func (d *Dispatcher) Load(alerts []models.Alert) int {
	loaded := 0
	// oldest first so prepending leaves the newest on top
	for i := len(alerts) - 1; i >= 0; i-- {
		a := alerts[i]
		if a.ID == "" {
			continue
		}
		if _, ok := d.byID[a.ID]; ok {
			continue
		}
		stored := a.Clone()
		d.alerts = append([]*models.Alert{&stored}, d.alerts...)
		d.byID[stored.ID] = &stored
		d.seen.Add(stored.ID, struct{}{})
		loaded++
	}
	for len(d.alerts) > d.capacity {
		last := d.alerts[len(d.alerts)-1]
		d.alerts = d.alerts[:len(d.alerts)-1]
		delete(d.byID, last.ID)
	}
	return loaded
}

// Acknowledge marks the alert acknowledged. Unknown or already acknowledged
// ids are a no-op and return false.
func (d *Dispatcher) Acknowledge(alertID string) bool {
	a, ok := d.byID[alertID]
	if !ok || a.Acknowledged {
		return false
	}
	now := d.now()
	a.Acknowledged = true
	a.AcknowledgedAt = &now
	return true
}

// OnAcknowledgedRemote applies an acknowledgement made by another viewer.
func (d *Dispatcher) OnAcknowledgedRemote(alertID string) bool {
	return d.Acknowledge(alertID)
}

// Get returns a copy of the alert.
func (d *Dispatcher) Get(alertID string) (models.Alert, bool) {
	a, ok := d.byID[alertID]
	if !ok {
		return models.Alert{}, false
	}
	return a.Clone(), true
}

// Snapshot returns copies of the log, most recent first.
func (d *Dispatcher) Snapshot() []models.Alert {
	out := make([]models.Alert, len(d.alerts))
	for i, a := range d.alerts {
		out[i] = a.Clone()
	}
	return out
}

// Triage returns unacknowledged alerts by severity, highest first, and
// oldest first within a severity.
func (d *Dispatcher) Triage() []models.Alert {
	out := make([]models.Alert, 0, len(d.alerts))
	for _, a := range d.alerts {
		if !a.Acknowledged {
			out = append(out, a.Clone())
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Severity != out[j].Severity {
			return out[i].Severity.Higher(out[j].Severity)
		}
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}

// NextUnacknowledged returns the alert triage would put first.
func (d *Dispatcher) NextUnacknowledged() (models.Alert, bool) {
	var next *models.Alert
	for _, a := range d.alerts {
		if a.Acknowledged {
			continue
		}
		if next == nil || a.Severity.Higher(next.Severity) ||
			(a.Severity == next.Severity && a.Timestamp.Before(next.Timestamp)) {
			next = a
		}
	}
	if next == nil {
		return models.Alert{}, false
	}
	return next.Clone(), true
}

// UnacknowledgedCount returns the number of alerts awaiting acknowledgement.
func (d *Dispatcher) UnacknowledgedCount() int {
	n := 0
	for _, a := range d.alerts {
		if !a.Acknowledged {
			n++
		}
	}
	return n
}

// Len returns the size of the log.
func (d *Dispatcher) Len() int {
	return len(d.alerts)
}
