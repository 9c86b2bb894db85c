package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "portal.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
base_aoi_path = "/data/aoi.geojson"
raster_root = "/data/rasters"
clip_service_url = "http://clips.internal:8000/api/v1/rasters"
pending_retry = "250ms"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/data/aoi.geojson", cfg.BaseAOIPath)
	assert.Equal(t, "/data/rasters", cfg.RasterRoot)
	assert.Equal(t, "http://clips.internal:8000/api/v1/rasters", cfg.ClipServiceURL)
	assert.Equal(t, 250*time.Millisecond, cfg.RetryDelay())
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, ``))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.Equal(t, "http://localhost:8000/api/v1/rasters", cfg.ClipServiceURL)
	assert.Equal(t, 500*time.Millisecond, cfg.RetryDelay())
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	assert.Error(t, err)
}

func TestLoad_RejectsTrailingSlash(t *testing.T) {
	_, err := Load(writeConfig(t, `clip_service_url = "http://clips.internal/"`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "slash")
}

func TestLoad_RejectsNegativeRetry(t *testing.T) {
	_, err := Load(writeConfig(t, `pending_retry = "-1s"`))
	assert.Error(t, err)
}

func TestLoad_BadDuration(t *testing.T) {
	_, err := Load(writeConfig(t, `pending_retry = "soon"`))
	assert.Error(t, err)
}
