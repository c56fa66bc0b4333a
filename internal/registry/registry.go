// Package registry keeps the latest observed sample of every tag.
package registry

import (
	"sort"
	"time"

	"github.com/GABRIELS562/RFID-Evidence-Tracking-System-sub001/internal/models"
)

// Registry is a last-write-wins cache of tag samples. It does not detect
// out-of-order delivery: whatever was written last is what Get returns.
//
// Registry is not safe for concurrent use; the tracking service guards it
// together with sessions and alerts.
type Registry struct {
	tags map[string]*models.LiveTag
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		tags: make(map[string]*models.LiveTag),
	}
}

// Update overwrites the entry for tagID.
func (r *Registry) Update(tagID, location string, signalStrength int, timestamp time.Time, coords *models.Coordinates) {
	r.tags[tagID] = &models.LiveTag{
		TagID:          tagID,
		Location:       location,
		SignalStrength: signalStrength,
		LastSeen:       timestamp,
		Coordinates:    coords.Clone(),
	}
}

// Get returns a copy of the entry for tagID.
func (r *Registry) Get(tagID string) (models.LiveTag, bool) {
	t, ok := r.tags[tagID]
	if !ok {
		return models.LiveTag{}, false
	}
	return t.Clone(), true
}

// All returns copies of every entry ordered by tag id.
func (r *Registry) All() []models.LiveTag {
	out := make([]models.LiveTag, 0, len(r.tags))
	for _, t := range r.tags {
		out = append(out, t.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TagID < out[j].TagID })
	return out
}

// Len returns the number of tags.
func (r *Registry) Len() int {
	return len(r.tags)
}

// Prune removes tags last seen before cutoff and returns how many went.
func (r *Registry) Prune(cutoff time.Time) int {
	removed := 0
	for id, t := range r.tags {
		if t.LastSeen.Before(cutoff) {
			delete(r.tags, id)
			removed++
		}
	}
	return removed
}
