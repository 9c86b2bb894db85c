package geo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vmrc/geoportal/internal/core"
)

const polyGeom = `{"type":"Polygon","coordinates":[[[-123.2,44.5],[-123.0,44.5],[-123.0,44.7],[-123.2,44.7],[-123.2,44.5]]]}`

func TestNormalize_BareGeometry(t *testing.T) {
	canonical, bounds, err := Normalize([]byte(polyGeom))
	require.NoError(t, err)
	assert.Equal(t, core.Bounds{-123.2, 44.5, -123.0, 44.7}, bounds)

	// Normalizing canonical output is a fixed point.
	again, _, err := Normalize(canonical)
	require.NoError(t, err)
	assert.Equal(t, canonical, again)
}

func TestNormalize_WrappersConverge(t *testing.T) {
	feature := `{"type":"Feature","properties":{"name":"aoi"},"geometry":` + polyGeom + `}`
	fc := `{"type":"FeatureCollection","features":[` + feature + `]}`

	fromGeom, _, err := Normalize([]byte(polyGeom))
	require.NoError(t, err)
	fromFeature, _, err := Normalize([]byte(feature))
	require.NoError(t, err)
	fromFC, _, err := Normalize([]byte(fc))
	require.NoError(t, err)

	// Identical shapes must hash identically no matter the wrapper.
	assert.Equal(t, fromGeom, fromFeature)
	assert.Equal(t, fromGeom, fromFC)
}

func TestNormalize_MultiFeatureCollection(t *testing.T) {
	fc := `{"type":"FeatureCollection","features":[
		{"type":"Feature","properties":{},"geometry":{"type":"Polygon","coordinates":[[[0,0],[1,0],[1,1],[0,1],[0,0]]]}},
		{"type":"Feature","properties":{},"geometry":{"type":"Polygon","coordinates":[[[2,2],[3,2],[3,3],[2,3],[2,2]]]}}
	]}`

	canonical, bounds, err := Normalize([]byte(fc))
	require.NoError(t, err)
	assert.Contains(t, string(canonical), `"MultiPolygon"`)
	assert.Equal(t, core.Bounds{0, 0, 3, 3}, bounds)
}

func TestNormalize_Invalid(t *testing.T) {
	for _, raw := range []string{
		``,
		`not json`,
		`{"type":"Feature","properties":{}}`,
		`{"type":"FeatureCollection","features":[]}`,
	} {
		_, _, err := Normalize([]byte(raw))
		assert.Error(t, err, "input %q", raw)
	}
}

func TestBounds(t *testing.T) {
	canonical, want, err := Normalize([]byte(polyGeom))
	require.NoError(t, err)

	got, err := Bounds(canonical)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	_, err = Bounds([]byte(`{}`))
	assert.Error(t, err)
}
