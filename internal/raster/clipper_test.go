package raster

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vmrc/geoportal/internal/core"
)

func TestClip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/clip", r.URL.Path)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req ClipRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, int64(1042337), req.RasterLayerID)
		assert.JSONEq(t, `{"type":"Point","coordinates":[0,0]}`, string(req.ClipGeoJSON))

		json.NewEncoder(w).Encode(ClipResult{
			ImageRef: "/clipped/abc123.png",
			Bounds:   core.Bounds{-123.2, 44.5, -123.0, 44.7},
		})
	}))
	defer srv.Close()

	c := NewHTTPClipper(srv.URL, zerolog.Nop())
	got, err := c.Clip(context.Background(), ClipRequest{
		RasterLayerID: 1042337,
		ClipGeoJSON:   json.RawMessage(`{"type":"Point","coordinates":[0,0]}`),
	})
	require.NoError(t, err)
	assert.Equal(t, "/clipped/abc123.png", got.ImageRef)
	assert.Equal(t, core.Bounds{-123.2, 44.5, -123.0, 44.7}, got.Bounds)
}

func TestClip_ServiceError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "layer not found", http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewHTTPClipper(srv.URL, zerolog.Nop())
	_, err := c.Clip(context.Background(), ClipRequest{RasterLayerID: 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
	assert.Contains(t, err.Error(), "layer not found")
}

func TestClip_EmptyImageRef(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(ClipResult{})
	}))
	defer srv.Close()

	c := NewHTTPClipper(srv.URL, zerolog.Nop())
	_, err := c.Clip(context.Background(), ClipRequest{RasterLayerID: 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no image reference")
}

func TestClip_Unreachable(t *testing.T) {
	c := NewHTTPClipper("http://127.0.0.1:1", zerolog.Nop())
	_, err := c.Clip(context.Background(), ClipRequest{RasterLayerID: 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unreachable")
}
