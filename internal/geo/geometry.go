// Package geo validates and normalizes region geometry before it enters
// the registry. The core treats geometry as opaque bytes; everything that
// actually understands coordinates lives here.
package geo

import (
	"encoding/json"
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/vmrc/geoportal/internal/core"
)

// Normalize parses raw GeoJSON (a bare Geometry, a Feature, or a
// FeatureCollection) and returns the canonical geometry encoding plus its
// bounding box. Canonical bytes matter: the registry dedupes regions by
// content hash, so two uploads of the same shape must serialize
// identically regardless of wrapper or key order.
func Normalize(raw []byte) ([]byte, core.Bounds, error) {
	g, err := parse(raw)
	if err != nil {
		return nil, core.Bounds{}, err
	}
	canonical, err := json.Marshal(geojson.NewGeometry(g))
	if err != nil {
		return nil, core.Bounds{}, fmt.Errorf("encoding geometry: %w", err)
	}
	return canonical, boundsOf(g), nil
}

func parse(raw []byte) (orb.Geometry, error) {
	if fc, err := geojson.UnmarshalFeatureCollection(raw); err == nil {
		return collect(fc)
	}
	if f, err := geojson.UnmarshalFeature(raw); err == nil {
		if f.Geometry == nil {
			return nil, fmt.Errorf("feature has no geometry")
		}
		return f.Geometry, nil
	}
	if g, err := geojson.UnmarshalGeometry(raw); err == nil {
		return g.Geometry(), nil
	}
	return nil, fmt.Errorf("not valid GeoJSON: expected Geometry, Feature, or FeatureCollection")
}

// collect merges a feature collection into one geometry: a single
// feature's geometry as-is, multiple polygons as a MultiPolygon,
// otherwise a GeometryCollection.
func collect(fc *geojson.FeatureCollection) (orb.Geometry, error) {
	var geoms []orb.Geometry
	for _, f := range fc.Features {
		if f.Geometry != nil {
			geoms = append(geoms, f.Geometry)
		}
	}
	switch len(geoms) {
	case 0:
		return nil, fmt.Errorf("feature collection has no geometries")
	case 1:
		return geoms[0], nil
	}

	mp := orb.MultiPolygon{}
	for _, g := range geoms {
		switch p := g.(type) {
		case orb.Polygon:
			mp = append(mp, p)
		case orb.MultiPolygon:
			mp = append(mp, p...)
		default:
			return orb.Collection(geoms), nil
		}
	}
	return mp, nil
}

func boundsOf(g orb.Geometry) core.Bounds {
	b := g.Bound()
	return core.Bounds{b.Min[0], b.Min[1], b.Max[0], b.Max[1]}
}

// Bounds returns the bounding box of previously normalized geometry
// bytes.
func Bounds(geometry []byte) (core.Bounds, error) {
	g, err := geojson.UnmarshalGeometry(geometry)
	if err != nil {
		return core.Bounds{}, fmt.Errorf("decoding geometry: %w", err)
	}
	return boundsOf(g.Geometry()), nil
}
