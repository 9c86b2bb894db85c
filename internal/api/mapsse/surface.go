// Package mapsse streams render commands to the browser map over
// Datastar SSE. Its Surface is the production RenderSurface: every
// registry transition becomes a command pushed to all connected viewers,
// and the surface's own mirror is what the consistency verifier diffs
// against the stores.
package mapsse

import (
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/vmrc/geoportal/internal/core"
)

type regionState struct {
	geometry []byte
}

type overlayState struct {
	imageRef string
	bounds   core.Bounds
	visible  bool
}

// Surface mirrors what the browser map should be showing and fans out
// every render command to SSE subscribers. It never asks the browser
// anything; a new subscriber gets the mirror replayed as commands.
type Surface struct {
	mu       sync.Mutex
	regions  map[string]regionState
	overlays map[string]overlayState
	subs     map[chan core.Command]struct{}
	log      zerolog.Logger
}

// NewSurface creates an empty surface.
func NewSurface(log zerolog.Logger) *Surface {
	return &Surface{
		regions:  make(map[string]regionState),
		overlays: make(map[string]overlayState),
		subs:     make(map[chan core.Command]struct{}),
		log:      log,
	}
}

func (s *Surface) broadcast(cmd core.Command) {
	for ch := range s.subs {
		select {
		case ch <- cmd:
		default:
			// viewer too slow, it will resync on reconnect
		}
	}
}

// AddRegion implements core.RenderSurface.
func (s *Surface) AddRegion(id string, geometry []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.regions[id] = regionState{geometry: geometry}
	s.broadcast(core.Command{Op: core.OpAddRegion, ID: id, Geometry: geometry})
}

// RemoveRegion implements core.RenderSurface.
func (s *Surface) RemoveRegion(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.regions, id)
	s.broadcast(core.Command{Op: core.OpRemoveRegion, ID: id})
}

// AddOverlay implements core.RenderSurface.
func (s *Surface) AddOverlay(id, imageRef string, bounds core.Bounds, visible bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.overlays[id] = overlayState{imageRef: imageRef, bounds: bounds, visible: visible}
	s.broadcast(core.Command{Op: core.OpAddOverlay, ID: id, ImageRef: imageRef, Bounds: bounds, Visible: visible})
}

// SetOverlayVisibility implements core.RenderSurface.
func (s *Surface) SetOverlayVisibility(id string, visible bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.overlays[id]
	if !ok {
		s.log.Warn().Str("overlay", id).Msg("visibility command for overlay not on surface")
		return
	}
	o.visible = visible
	s.overlays[id] = o
	op := core.OpHideOverlay
	if visible {
		op = core.OpShowOverlay
	}
	s.broadcast(core.Command{Op: op, ID: id, Visible: visible})
}

// RemoveOverlay implements core.RenderSurface.
func (s *Surface) RemoveOverlay(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.overlays, id)
	s.broadcast(core.Command{Op: core.OpRemoveOverlay, ID: id})
}

// VisibleRegionIDs implements core.SurfaceInventory.
func (s *Surface) VisibleRegionIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.regions))
	for id := range s.regions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// VisibleOverlayIDs implements core.SurfaceInventory.
func (s *Surface) VisibleOverlayIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.overlays))
	for id := range s.overlays {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Subscribe registers a viewer and returns the snapshot commands that
// reconstruct the current surface plus the live command channel.
func (s *Surface) Subscribe() ([]core.Command, chan core.Command) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := make([]core.Command, 0, len(s.regions)+len(s.overlays))
	for _, id := range sortedKeys(s.regions) {
		snapshot = append(snapshot, core.Command{Op: core.OpAddRegion, ID: id, Geometry: s.regions[id].geometry})
	}
	for _, id := range sortedKeys(s.overlays) {
		o := s.overlays[id]
		snapshot = append(snapshot, core.Command{Op: core.OpAddOverlay, ID: id, ImageRef: o.imageRef, Bounds: o.bounds, Visible: o.visible})
	}

	ch := make(chan core.Command, 64)
	s.subs[ch] = struct{}{}
	return snapshot, ch
}

// Unsubscribe removes a viewer and closes its channel.
func (s *Surface) Unsubscribe(ch chan core.Command) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subs, ch)
	close(ch)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
