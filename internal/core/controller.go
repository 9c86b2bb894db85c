package core

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Controller is the only sanctioned entry point for registry mutations.
// Every operation runs to completion under one mutex, observes the stores,
// computes the minimal diff, and issues the matching render commands
// before the next event is processed.
//
// The API is deliberately operation-based rather than collection-diff
// based: a region disappears only when RemoveRegionCascade names it. A
// reactive caller whose input list is momentarily empty therefore cannot
// trigger removals; only an explicit erase can.
type Controller struct {
	mu       sync.Mutex
	regions  *RegionStore
	overlays *OverlayStore
	index    *PairingIndex
	pending  *PendingQueue
	surface  RenderSurface
	bus      *EventBus
	log      zerolog.Logger

	retryDelay time.Duration
	now        func() time.Time
	schedule   func(time.Duration, func())
}

// DefaultRetryDelay is the deferred-retry delay for a pending attachment
// whose region missed on first delivery.
const DefaultRetryDelay = 500 * time.Millisecond

// ControllerConfig configures a Controller. Zero values get sensible
// defaults; Surface is required.
type ControllerConfig struct {
	Surface    RenderSurface
	Bus        *EventBus
	Logger     zerolog.Logger
	RetryDelay time.Duration
}

// NewController creates a controller over empty stores.
func NewController(cfg ControllerConfig) *Controller {
	if cfg.Surface == nil {
		cfg.Surface = NewRecordingSurface()
	}
	if cfg.Bus == nil {
		cfg.Bus = NewEventBus()
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	c := &Controller{
		regions:    newRegionStore(),
		overlays:   newOverlayStore(),
		index:      newPairingIndex(),
		pending:    newPendingQueue(),
		surface:    cfg.Surface,
		bus:        cfg.Bus,
		log:        cfg.Logger,
		retryDelay: cfg.RetryDelay,
		now:        time.Now,
	}
	c.schedule = func(d time.Duration, fn func()) { time.AfterFunc(d, fn) }
	return c
}

// Bus returns the event bus the controller publishes mutation events on.
func (c *Controller) Bus() *EventBus {
	return c.bus
}

// UpsertRegion registers or replaces a region. Identical content under
// the same id (or any id) resolves to the already registered region and
// issues no render commands. A changed geometry invalidates every overlay
// the region owned before the new geometry becomes visible. Installing a
// second base region fails with DuplicateBaseRegion.
func (c *Controller) UpsertRegion(id string, geometry []byte, kind RegionKind) (Region, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	hash := ContentHash(kind, geometry)

	if existing, ok := c.regions.Get(id); ok {
		if existing.ContentHash == hash {
			return *existing, nil
		}
		if existing.Locked {
			return c.replaceLockedGeometry(existing, geometry, hash)
		}
		c.removeRegionCascadeLocked(existing)
	}
	if dup, ok := c.regions.GetByHash(hash); ok {
		// Same content already registered under another id: the duplicate
		// is the re-entrant caller's, not ours.
		return *dup, nil
	}

	if kind == KindBase && c.regions.BaseID() != "" && c.regions.BaseID() != id {
		return Region{}, errDuplicateBase(c.regions.BaseID(), id)
	}

	r := &Region{
		ID:          id,
		Geometry:    geometry,
		ContentHash: hash,
		Kind:        kind,
		Locked:      kind == KindBase,
		CreatedAt:   c.now(),
	}
	if err := c.regions.Put(r); err != nil {
		return Region{}, err
	}
	c.surface.AddRegion(id, geometry)
	c.bus.Publish(Event{Resource: "regions", Action: "created", ID: id})
	c.log.Info().Str("region", id).Str("kind", string(kind)).Msg("region registered")

	c.resolvePendingLocked(id)
	return *r, nil
}

// replaceLockedGeometry swaps the base region's geometry in place. The
// lock survives (the base is never removed), but its overlays are stale
// against the new geometry and are dropped like any other replacement.
func (c *Controller) replaceLockedGeometry(existing *Region, geometry []byte, hash string) (Region, error) {
	for _, o := range c.overlays.ForRegion(existing.ID) {
		c.removeOverlayLocked(o)
	}
	updated := &Region{
		ID:          existing.ID,
		Geometry:    geometry,
		ContentHash: hash,
		Kind:        existing.Kind,
		Locked:      true,
		CreatedAt:   existing.CreatedAt,
	}
	if err := c.regions.Put(updated); err != nil {
		return Region{}, err
	}
	c.surface.RemoveRegion(updated.ID)
	c.surface.AddRegion(updated.ID, geometry)
	c.bus.Publish(Event{Resource: "regions", Action: "updated", ID: updated.ID})
	c.log.Info().Str("region", updated.ID).Msg("base region geometry replaced")

	c.resolvePendingLocked(updated.ID)
	return *updated, nil
}

// AttachResult reports the outcome of AttachOverlay. Pending means the
// named region is not registered yet and the overlay was queued.
type AttachResult struct {
	Overlay Overlay
	Pending bool
}

// AttachOverlay installs an overlay for a region. The first overlay a
// region receives is auto-activated; later ones arrive inactive and stay
// hidden until SetActiveOverlay picks them. If the region is unknown the
// request is queued and retried once after a short delay, then held until
// the region registers or the entry is discarded.
func (c *Controller) AttachOverlay(id, regionID, imageRef string, bounds Bounds) (AttachResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if o, ok := c.overlays.Get(id); ok {
		return AttachResult{Overlay: *o}, nil
	}

	if _, ok := c.regions.Get(regionID); !ok {
		p, created := c.pending.Enqueue(id, regionID, imageRef, bounds, c.now())
		if created {
			c.bus.Publish(Event{Resource: "pending", Action: "queued", ID: id})
			c.log.Info().Str("overlay", id).Str("region", regionID).Msg("overlay arrived before region, queued")
			c.scheduleRetryLocked(p.OverlayID)
		}
		return AttachResult{Pending: true}, nil
	}

	o := c.attachLocked(id, regionID, imageRef, bounds)
	return AttachResult{Overlay: *o}, nil
}

// attachLocked installs an overlay for a region known to exist.
func (c *Controller) attachLocked(id, regionID, imageRef string, bounds Bounds) *Overlay {
	o, created := c.overlays.Create(id, regionID, imageRef, bounds, c.now())
	if !created {
		return o
	}
	c.index.add(regionID, id)

	first := c.index.Count(regionID) == 1
	if first {
		o.Active = true
		c.index.setActive(regionID, id)
	}
	c.surface.AddOverlay(id, imageRef, bounds, first)
	c.bus.Publish(Event{Resource: "overlays", Action: "attached", ID: id})
	c.log.Info().Str("overlay", id).Str("region", regionID).Bool("active", first).Msg("overlay attached")
	return o
}

// scheduleRetryLocked arms the single deferred retry for a queued entry.
func (c *Controller) scheduleRetryLocked(overlayID string) {
	if c.retryDelay < 0 {
		return
	}
	c.schedule(c.retryDelay, func() { c.retryPending(overlayID) })
}

// retryPending is the deferred half of the out-of-order defense: one shot,
// then the entry stays queued as a reportable orphan.
func (c *Controller) retryPending(overlayID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.pending.Get(overlayID)
	if !ok || p.Retried {
		return // resolved, discarded, or retry already spent
	}
	p.Retried = true
	if _, ok := c.regions.Get(p.RegionID); !ok {
		c.log.Warn().Str("overlay", overlayID).Str("region", p.RegionID).
			Msg("orphaned overlay: region still unregistered after retry")
		return
	}
	c.pending.Discard(overlayID)
	c.attachLocked(p.OverlayID, p.RegionID, p.ImageRef, p.Bounds)
}

// resolvePendingLocked attaches every queued overlay waiting on a region
// that just registered, in enqueue order.
func (c *Controller) resolvePendingLocked(regionID string) {
	for _, p := range c.pending.TakeForRegion(regionID) {
		c.attachLocked(p.OverlayID, p.RegionID, p.ImageRef, p.Bounds)
	}
}

// SetActiveOverlay makes overlayID the one visible overlay for regionID,
// hiding the previously active one first.
func (c *Controller) SetActiveOverlay(regionID, overlayID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.regions.Get(regionID); !ok {
		return errRegionNotFound(regionID)
	}
	o, ok := c.overlays.Get(overlayID)
	if !ok || o.RegionID != regionID {
		return errUnknownOverlay(regionID, overlayID)
	}

	if cur, active := c.index.Active(regionID); active {
		if cur == overlayID {
			return nil
		}
		if err := c.overlays.SetActive(cur, false); err == nil {
			c.surface.SetOverlayVisibility(cur, false)
			c.bus.Publish(Event{Resource: "overlays", Action: "deactivated", ID: cur})
		}
	}

	o.Active = true
	c.index.setActive(regionID, overlayID)
	c.surface.SetOverlayVisibility(overlayID, true)
	c.bus.Publish(Event{Resource: "overlays", Action: "activated", ID: overlayID})
	return nil
}

// HideOverlay deactivates an overlay, leaving its region with nothing
// shown. No-op if the overlay is already inactive.
func (c *Controller) HideOverlay(overlayID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	o, ok := c.overlays.Get(overlayID)
	if !ok {
		return errOverlayNotFound(overlayID)
	}
	if !o.Active {
		return nil
	}
	o.Active = false
	c.index.clearActive(o.RegionID)
	c.surface.SetOverlayVisibility(overlayID, false)
	c.bus.Publish(Event{Resource: "overlays", Action: "deactivated", ID: overlayID})
	return nil
}

// RemoveOverlay removes an overlay from the registry and the surface. If
// it was the active one, no replacement is auto-selected; the region shows
// nothing until the caller activates another overlay or a new one
// arrives. A queued pending entry with the same id is discarded instead.
func (c *Controller) RemoveOverlay(overlayID string) (Overlay, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	o, ok := c.overlays.Get(overlayID)
	if !ok {
		if c.pending.Discard(overlayID) {
			c.bus.Publish(Event{Resource: "pending", Action: "discarded", ID: overlayID})
			return Overlay{ID: overlayID}, nil
		}
		return Overlay{}, errOverlayNotFound(overlayID)
	}
	removed := *o
	c.removeOverlayLocked(o)
	return removed, nil
}

func (c *Controller) removeOverlayLocked(o *Overlay) {
	c.overlays.Remove(o.ID)
	c.index.remove(o.RegionID, o.ID)
	c.surface.RemoveOverlay(o.ID)
	c.bus.Publish(Event{Resource: "overlays", Action: "deleted", ID: o.ID})
}

// RemoveRegionCascade removes a region together with every overlay it
// owns. Overlay removals are issued before the region outline disappears.
// The locked base region rejects removal.
func (c *Controller) RemoveRegionCascade(regionID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	r, ok := c.regions.Get(regionID)
	if !ok {
		return errRegionNotFound(regionID)
	}
	if r.Locked {
		return errLockedRegion(regionID)
	}
	c.removeRegionCascadeLocked(r)
	return nil
}

func (c *Controller) removeRegionCascadeLocked(r *Region) {
	for _, o := range c.overlays.ForRegion(r.ID) {
		c.removeOverlayLocked(o)
	}
	c.regions.Remove(r.ID)
	c.surface.RemoveRegion(r.ID)
	c.bus.Publish(Event{Resource: "regions", Action: "deleted", ID: r.ID})
	c.log.Info().Str("region", r.ID).Msg("region removed")
}

// ClearAll cascade-removes every region except the locked base. Returns
// the number of regions removed.
func (c *Controller) ClearAll() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for _, id := range c.regions.ListIDs() {
		r, ok := c.regions.Get(id)
		if !ok || r.Locked {
			continue
		}
		c.removeRegionCascadeLocked(r)
		removed++
	}
	return removed
}

// DiscardPending drops a queued attachment that never found its region.
func (c *Controller) DiscardPending(overlayID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.pending.Discard(overlayID) {
		return errOverlayNotFound(overlayID)
	}
	c.bus.Publish(Event{Resource: "pending", Action: "discarded", ID: overlayID})
	return nil
}

// Read accessors. All return copies; the stores stay private.

// Region returns the region for id.
func (c *Controller) Region(id string) (Region, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.regions.Get(id)
	if !ok {
		return Region{}, false
	}
	return *r, true
}

// Regions returns every registered region, id-sorted.
func (c *Controller) Regions() []Region {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Region, 0, c.regions.Len())
	for _, id := range c.regions.ListIDs() {
		r, _ := c.regions.Get(id)
		out = append(out, *r)
	}
	return out
}

// BaseRegionID returns the locked base region's id, or "".
func (c *Controller) BaseRegionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.regions.BaseID()
}

// Overlay returns the overlay for id.
func (c *Controller) Overlay(id string) (Overlay, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	o, ok := c.overlays.Get(id)
	if !ok {
		return Overlay{}, false
	}
	return *o, true
}

// Overlays returns the overlays owned by a region, oldest first.
func (c *Controller) Overlays(regionID string) []Overlay {
	c.mu.Lock()
	defer c.mu.Unlock()
	owned := c.overlays.ForRegion(regionID)
	out := make([]Overlay, 0, len(owned))
	for _, o := range owned {
		out = append(out, *o)
	}
	return out
}

// AllOverlays returns every attached overlay, id-sorted.
func (c *Controller) AllOverlays() []Overlay {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Overlay, 0, c.overlays.Len())
	for _, id := range c.overlays.ListIDs() {
		o, _ := c.overlays.Get(id)
		out = append(out, *o)
	}
	return out
}

// ActiveOverlay returns the active overlay for a region, if any.
func (c *Controller) ActiveOverlay(regionID string) (Overlay, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id, ok := c.index.Active(regionID)
	if !ok {
		return Overlay{}, false
	}
	o, ok := c.overlays.Get(id)
	if !ok {
		return Overlay{}, false
	}
	return *o, true
}

// PendingAttachments returns the queued overlays in enqueue order.
func (c *Controller) PendingAttachments() []PendingAttachment {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending.Entries()
}
