package core

import (
	"encoding/json"
	"sort"
	"sync"
)

// RenderSurface receives the display effects of registry transitions. The
// core only ever issues commands; it never asks the surface what is
// currently drawn (the stores are the source of truth, the surface keeps
// its own mirror).
type RenderSurface interface {
	AddRegion(id string, geometry []byte)
	RemoveRegion(id string)
	// AddOverlay places the overlay image on the surface. visible carries
	// the initial activation so an auto-activated first overlay needs no
	// separate show command.
	AddOverlay(id, imageRef string, bounds Bounds, visible bool)
	SetOverlayVisibility(id string, visible bool)
	RemoveOverlay(id string)
}

// SurfaceInventory is implemented by surfaces that can enumerate what they
// believe is drawn. The verifier diffs this mirror against the stores to
// find leaks.
type SurfaceInventory interface {
	VisibleRegionIDs() []string
	VisibleOverlayIDs() []string
}

// Render command ops, as recorded by RecordingSurface and streamed to the
// browser by the SSE adapter.
const (
	OpAddRegion     = "addRegion"
	OpRemoveRegion  = "removeRegion"
	OpAddOverlay    = "addOverlay"
	OpShowOverlay   = "showOverlay"
	OpHideOverlay   = "hideOverlay"
	OpRemoveOverlay = "removeOverlay"
)

// Command is one render instruction. Geometry is json.RawMessage so the
// GeoJSON reaches the browser inline instead of base64-wrapped.
type Command struct {
	Op       string          `json:"op"`
	ID       string          `json:"id"`
	Geometry json.RawMessage `json:"geometry,omitempty"`
	ImageRef string          `json:"imageRef,omitempty"`
	Bounds   Bounds          `json:"bounds,omitempty"`
	Visible  bool            `json:"visible,omitempty"`
}

// RecordingSurface is a RenderSurface that keeps the issued command log
// and a presence mirror. It backs the tests, and production adapters
// embed it so the verifier always has an inventory to diff.
type RecordingSurface struct {
	mu       sync.Mutex
	commands []Command
	regions  map[string]struct{}
	overlays map[string]struct{}
}

// NewRecordingSurface creates an empty recording surface.
func NewRecordingSurface() *RecordingSurface {
	return &RecordingSurface{
		regions:  make(map[string]struct{}),
		overlays: make(map[string]struct{}),
	}
}

func (s *RecordingSurface) AddRegion(id string, geometry []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.regions[id] = struct{}{}
	s.commands = append(s.commands, Command{Op: OpAddRegion, ID: id, Geometry: geometry})
}

func (s *RecordingSurface) RemoveRegion(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.regions, id)
	s.commands = append(s.commands, Command{Op: OpRemoveRegion, ID: id})
}

func (s *RecordingSurface) AddOverlay(id, imageRef string, bounds Bounds, visible bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.overlays[id] = struct{}{}
	s.commands = append(s.commands, Command{Op: OpAddOverlay, ID: id, ImageRef: imageRef, Bounds: bounds, Visible: visible})
}

func (s *RecordingSurface) SetOverlayVisibility(id string, visible bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	op := OpHideOverlay
	if visible {
		op = OpShowOverlay
	}
	s.commands = append(s.commands, Command{Op: op, ID: id, Visible: visible})
}

func (s *RecordingSurface) RemoveOverlay(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.overlays, id)
	s.commands = append(s.commands, Command{Op: OpRemoveOverlay, ID: id})
}

// VisibleRegionIDs returns the region ids the surface believes are drawn.
func (s *RecordingSurface) VisibleRegionIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.regions))
	for id := range s.regions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// VisibleOverlayIDs returns the overlay ids the surface believes are drawn.
func (s *RecordingSurface) VisibleOverlayIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.overlays))
	for id := range s.overlays {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Commands returns a copy of the issued command log.
func (s *RecordingSurface) Commands() []Command {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Command, len(s.commands))
	copy(out, s.commands)
	return out
}
