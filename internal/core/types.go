// Package core keeps the map registry: regions of interest, the derived
// overlays that belong to them, and the render commands that keep the
// display in step with both. All mutations funnel through Controller.
package core

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// RegionKind classifies how a region entered the registry.
type RegionKind string

const (
	// KindDrawn is a region sketched with the map drawing tools.
	KindDrawn RegionKind = "drawn"
	// KindUploaded is a region imported from a GeoJSON upload.
	KindUploaded RegionKind = "uploaded"
	// KindBase is the permanent project AOI. There is at most one, and it
	// is locked against removal for the life of the process.
	KindBase RegionKind = "base"
)

// Region is an area of interest owning zero or more overlays.
// Geometry is opaque to this package beyond hashing; the geo package
// validates it before it gets here.
type Region struct {
	ID          string     `json:"id"`
	Geometry    []byte     `json:"geometry"`
	ContentHash string     `json:"contentHash"`
	Kind        RegionKind `json:"kind"`
	Locked      bool       `json:"locked"`
	CreatedAt   time.Time  `json:"createdAt"`
}

// Bounds is a geographic bounding rectangle: west, south, east, north.
// The core passes it through to the render surface unmodified.
type Bounds [4]float64

// Overlay is a derived raster visualization produced for a region by the
// external clip service. An overlay whose region has not registered yet
// lives in the PendingQueue, not here.
type Overlay struct {
	ID        string    `json:"id"`
	RegionID  string    `json:"regionId"`
	ImageRef  string    `json:"imageRef"`
	Bounds    Bounds    `json:"bounds"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"createdAt"`
}

// ContentHash derives the dedup hash for a region from its kind and raw
// geometry bytes. Identical content always hashes identically, so a
// re-upsert with unchanged geometry is detectable without comparing
// payloads.
func ContentHash(kind RegionKind, geometry []byte) string {
	h := sha256.New()
	h.Write([]byte(kind))
	h.Write([]byte{0})
	h.Write(geometry)
	return hex.EncodeToString(h.Sum(nil))
}
