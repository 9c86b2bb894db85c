// Package raster is the portal's interface to the external geospatial
// processing service that masks and resamples raster layers. The portal
// never touches pixels: it sends a layer id plus clip geometry and gets
// back an opaque image reference with its bounding rectangle.
package raster

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/vmrc/geoportal/internal/core"
)

// ClipRequest asks the service to clip one raster layer to a geometry.
type ClipRequest struct {
	RasterLayerID int64           `json:"raster_layer_id"`
	ClipGeoJSON   json.RawMessage `json:"user_clip_geojson"`
}

// ClipResult is the service's answer: a rendered image and where to
// place it.
type ClipResult struct {
	ImageRef string      `json:"png_url"`
	Bounds   core.Bounds `json:"bounds"`
}

// Clipper produces overlay imagery for a region.
type Clipper interface {
	Clip(ctx context.Context, req ClipRequest) (ClipResult, error)
}

// HTTPClipper calls a remote clip service over HTTP.
type HTTPClipper struct {
	baseURL string
	client  *http.Client
	log     zerolog.Logger
}

// NewHTTPClipper creates a clipper against the given service base URL.
func NewHTTPClipper(baseURL string, log zerolog.Logger) *HTTPClipper {
	return &HTTPClipper{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 60 * time.Second},
		log:     log,
	}
}

// Clip posts the request to {base}/clip and decodes the result.
func (c *HTTPClipper) Clip(ctx context.Context, req ClipRequest) (ClipResult, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return ClipResult{}, fmt.Errorf("encoding clip request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/clip", bytes.NewReader(body))
	if err != nil {
		return ClipResult{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	started := time.Now()
	resp, err := c.client.Do(httpReq)
	if err != nil {
		return ClipResult{}, fmt.Errorf("clip service unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return ClipResult{}, fmt.Errorf("clip service returned %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}

	var result ClipResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return ClipResult{}, fmt.Errorf("decoding clip result: %w", err)
	}
	if result.ImageRef == "" {
		return ClipResult{}, fmt.Errorf("clip service returned no image reference")
	}

	c.log.Info().
		Int64("layer", req.RasterLayerID).
		Dur("took", time.Since(started)).
		Msg("clip completed")
	return result, nil
}
