package core

import "sort"

// PairingIndex is the derived region → overlays mapping plus the active
// overlay per region. It is never a source of truth: the Controller keeps
// it in step with the stores on every mutation, and the verifier can
// rebuild it from scratch to detect drift.
type PairingIndex struct {
	overlays map[string]map[string]struct{} // regionID -> overlay id set
	active   map[string]string              // regionID -> active overlay id
}

func newPairingIndex() *PairingIndex {
	return &PairingIndex{
		overlays: make(map[string]map[string]struct{}),
		active:   make(map[string]string),
	}
}

func (x *PairingIndex) add(regionID, overlayID string) {
	set, ok := x.overlays[regionID]
	if !ok {
		set = make(map[string]struct{})
		x.overlays[regionID] = set
	}
	set[overlayID] = struct{}{}
}

func (x *PairingIndex) remove(regionID, overlayID string) {
	if set, ok := x.overlays[regionID]; ok {
		delete(set, overlayID)
		if len(set) == 0 {
			delete(x.overlays, regionID)
		}
	}
	if x.active[regionID] == overlayID {
		delete(x.active, regionID)
	}
}

func (x *PairingIndex) setActive(regionID, overlayID string) {
	x.active[regionID] = overlayID
}

func (x *PairingIndex) clearActive(regionID string) {
	delete(x.active, regionID)
}

// Overlays returns the overlay ids owned by a region, sorted.
func (x *PairingIndex) Overlays(regionID string) []string {
	set := x.overlays[regionID]
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Count returns how many overlays a region owns.
func (x *PairingIndex) Count(regionID string) int {
	return len(x.overlays[regionID])
}

// Active returns the active overlay id for a region, if any.
func (x *PairingIndex) Active(regionID string) (string, bool) {
	id, ok := x.active[regionID]
	return id, ok
}

// allOverlayIDs returns every indexed overlay id, sorted. Used by the
// verifier for the no-drift check against OverlayStore.
func (x *PairingIndex) allOverlayIDs() []string {
	var ids []string
	for _, set := range x.overlays {
		for id := range set {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// rebuild reconstructs the index from the stores. The incremental updates
// should make this a no-op; the verifier compares both versions.
func rebuildIndex(overlays *OverlayStore) *PairingIndex {
	x := newPairingIndex()
	for _, id := range overlays.ListIDs() {
		o, _ := overlays.Get(id)
		if o.RegionID == "" {
			continue
		}
		x.add(o.RegionID, o.ID)
		if o.Active {
			x.setActive(o.RegionID, o.ID)
		}
	}
	return x
}
