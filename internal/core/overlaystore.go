package core

import (
	"sort"
	"time"
)

// OverlayStore owns the set of attached overlays. Private to the
// Controller, same as RegionStore.
type OverlayStore struct {
	overlays map[string]*Overlay
}

func newOverlayStore() *OverlayStore {
	return &OverlayStore{overlays: make(map[string]*Overlay)}
}

// Get returns the overlay for id.
func (s *OverlayStore) Get(id string) (*Overlay, bool) {
	o, ok := s.overlays[id]
	return o, ok
}

// Create installs a new overlay, inactive. If the id already exists the
// existing overlay is returned untouched; duplicate attach calls from a
// re-rendering UI must not reset state.
func (s *OverlayStore) Create(id, regionID, imageRef string, bounds Bounds, now time.Time) (*Overlay, bool) {
	if o, ok := s.overlays[id]; ok {
		return o, false
	}
	o := &Overlay{
		ID:        id,
		RegionID:  regionID,
		ImageRef:  imageRef,
		Bounds:    bounds,
		CreatedAt: now,
	}
	s.overlays[id] = o
	return o, true
}

// SetActive flips the visibility flag on one overlay. The at-most-one
// active rule per region is the Controller's job, not this store's.
func (s *OverlayStore) SetActive(id string, active bool) error {
	o, ok := s.overlays[id]
	if !ok {
		return errOverlayNotFound(id)
	}
	o.Active = active
	return nil
}

// Remove deletes an overlay and returns it, or NotFound.
func (s *OverlayStore) Remove(id string) (*Overlay, error) {
	o, ok := s.overlays[id]
	if !ok {
		return nil, errOverlayNotFound(id)
	}
	delete(s.overlays, id)
	return o, nil
}

// ForRegion returns the overlays owned by a region, oldest first. Stable
// ordering matters: cascade removal and "most recent overlay" decisions
// both read this.
func (s *OverlayStore) ForRegion(regionID string) []*Overlay {
	var out []*Overlay
	for _, o := range s.overlays {
		if o.RegionID == regionID {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// ListIDs returns all overlay ids, sorted.
func (s *OverlayStore) ListIDs() []string {
	ids := make([]string, 0, len(s.overlays))
	for id := range s.overlays {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Len returns the number of stored overlays.
func (s *OverlayStore) Len() int {
	return len(s.overlays)
}
