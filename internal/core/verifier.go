package core

// DivergenceKind classifies a registry/surface mismatch.
type DivergenceKind string

const (
	// LeakedRegion is drawn on the surface but absent from RegionStore.
	LeakedRegion DivergenceKind = "leaked_region"
	// LeakedOverlay is drawn on the surface but absent from OverlayStore.
	LeakedOverlay DivergenceKind = "leaked_overlay"
	// MissingRegion is registered but was never rendered.
	MissingRegion DivergenceKind = "missing_region"
	// MissingOverlay is registered but was never rendered.
	MissingOverlay DivergenceKind = "missing_overlay"
	// IndexDrift means the pairing index disagrees with the overlay store.
	IndexDrift DivergenceKind = "index_drift"
)

// Divergence is one detected mismatch between the registry, the pairing
// index, and the render surface mirror.
type Divergence struct {
	Kind     DivergenceKind `json:"kind"`
	EntityID string         `json:"entityId"`
	Detail   string         `json:"detail,omitempty"`
}

// Verifier diffs what the render surface believes is drawn against the
// stores. Run after bulk operations and in tests; with repair enabled it
// re-issues the commands needed to converge the surface.
type Verifier struct {
	ctrl   *Controller
	repair bool
}

// NewVerifier creates a verifier over a controller.
func NewVerifier(ctrl *Controller) *Verifier {
	return &Verifier{ctrl: ctrl}
}

// EnableRepair makes Verify re-issue add/remove commands for anything it
// finds out of step.
func (v *Verifier) EnableRepair() {
	v.repair = true
}

// Verify returns every divergence found. An empty result means the
// surface shows exactly the registered entities and the index has not
// drifted.
func (v *Verifier) Verify() []Divergence {
	c := v.ctrl
	c.mu.Lock()
	defer c.mu.Unlock()

	inv, ok := c.surface.(SurfaceInventory)
	if !ok {
		return nil
	}

	var out []Divergence

	storeRegions := make(map[string]struct{}, c.regions.Len())
	for _, id := range c.regions.ListIDs() {
		storeRegions[id] = struct{}{}
	}
	surfaceRegions := make(map[string]struct{})
	for _, id := range inv.VisibleRegionIDs() {
		surfaceRegions[id] = struct{}{}
		if _, ok := storeRegions[id]; !ok {
			out = append(out, Divergence{Kind: LeakedRegion, EntityID: id})
			if v.repair {
				c.surface.RemoveRegion(id)
			}
		}
	}
	for _, id := range c.regions.ListIDs() {
		if _, ok := surfaceRegions[id]; !ok {
			out = append(out, Divergence{Kind: MissingRegion, EntityID: id})
			if v.repair {
				r, _ := c.regions.Get(id)
				c.surface.AddRegion(id, r.Geometry)
			}
		}
	}

	storeOverlays := make(map[string]struct{}, c.overlays.Len())
	for _, id := range c.overlays.ListIDs() {
		storeOverlays[id] = struct{}{}
	}
	surfaceOverlays := make(map[string]struct{})
	for _, id := range inv.VisibleOverlayIDs() {
		surfaceOverlays[id] = struct{}{}
		if _, ok := storeOverlays[id]; !ok {
			out = append(out, Divergence{Kind: LeakedOverlay, EntityID: id})
			if v.repair {
				c.surface.RemoveOverlay(id)
			}
		}
	}
	for _, id := range c.overlays.ListIDs() {
		if _, ok := surfaceOverlays[id]; !ok {
			out = append(out, Divergence{Kind: MissingOverlay, EntityID: id})
			if v.repair {
				o, _ := c.overlays.Get(id)
				c.surface.AddOverlay(o.ID, o.ImageRef, o.Bounds, o.Active)
			}
		}
	}

	out = append(out, v.checkIndexDrift()...)
	return out
}

// checkIndexDrift rebuilds the pairing index from the overlay store and
// compares it to the incrementally maintained one. Caller holds the lock.
func (v *Verifier) checkIndexDrift() []Divergence {
	c := v.ctrl
	rebuilt := rebuildIndex(c.overlays)

	var out []Divergence

	got := c.index.allOverlayIDs()
	want := rebuilt.allOverlayIDs()
	gotSet := make(map[string]struct{}, len(got))
	for _, id := range got {
		gotSet[id] = struct{}{}
	}
	wantSet := make(map[string]struct{}, len(want))
	for _, id := range want {
		wantSet[id] = struct{}{}
	}
	for _, id := range got {
		if _, ok := wantSet[id]; !ok {
			out = append(out, Divergence{Kind: IndexDrift, EntityID: id, Detail: "indexed overlay not in store"})
		}
	}
	for _, id := range want {
		if _, ok := gotSet[id]; !ok {
			out = append(out, Divergence{Kind: IndexDrift, EntityID: id, Detail: "stored overlay not indexed"})
		}
	}

	for regionID, wantActive := range rebuilt.active {
		if gotActive, ok := c.index.active[regionID]; !ok || gotActive != wantActive {
			out = append(out, Divergence{Kind: IndexDrift, EntityID: regionID, Detail: "active overlay mismatch"})
		}
	}
	for regionID := range c.index.active {
		if _, ok := rebuilt.active[regionID]; !ok {
			out = append(out, Divergence{Kind: IndexDrift, EntityID: regionID, Detail: "stale active entry"})
		}
	}
	return out
}
