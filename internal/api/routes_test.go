package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humago"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vmrc/geoportal/internal/catalog"
	"github.com/vmrc/geoportal/internal/core"
	"github.com/vmrc/geoportal/internal/db"
	"github.com/vmrc/geoportal/internal/raster"
)

// stubClipper returns a canned result without a clip service.
type stubClipper struct {
	result raster.ClipResult
	err    error
	gotReq raster.ClipRequest
}

func (s *stubClipper) Clip(ctx context.Context, req raster.ClipRequest) (raster.ClipResult, error) {
	s.gotReq = req
	return s.result, s.err
}

type testAPI struct {
	mux        *http.ServeMux
	svc        *Services
	clipper    *stubClipper
	rasterRoot string
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()

	conn, err := db.Open("")
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	rasterRoot := t.TempDir()
	cat, err := catalog.NewService(conn, rasterRoot, zerolog.Nop())
	require.NoError(t, err)

	ctrl := core.NewController(core.ControllerConfig{
		Logger:     zerolog.Nop(),
		RetryDelay: -1,
	})
	clipper := &stubClipper{result: raster.ClipResult{
		ImageRef: "/clipped/test.png",
		Bounds:   core.Bounds{-1, -1, 1, 1},
	}}
	svc := &Services{
		Ctrl:     ctrl,
		Verifier: core.NewVerifier(ctrl),
		Catalog:  cat,
		Clipper:  clipper,
	}

	mux := http.NewServeMux()
	humaAPI := humago.New(mux, huma.DefaultConfig("test", "0.0.0"))
	NewAPIHandler(svc).RegisterRoutes(humaAPI)

	return &testAPI{mux: mux, svc: svc, clipper: clipper, rasterRoot: rasterRoot}
}

// seedLayer drops a GeoTIFF stub under the raster root and refreshes the
// catalog, returning the layer's stable id.
func seedLayer(t *testing.T, a *testAPI, name string) int64 {
	t.Helper()
	path := filepath.Join(a.rasterRoot, name+".tif")
	require.NoError(t, os.WriteFile(path, []byte("stub"), 0o644))

	w := a.do(t, http.MethodPost, "/api/v1/rasters/refresh", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	return catalog.StableID(path)
}

func (a *testAPI) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	a.mux.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), "body: %s", w.Body.String())
	return out
}

const testGeom = `{"type":"Polygon","coordinates":[[[0,0],[1,0],[1,1],[0,1],[0,0]]]}`

func TestHealth(t *testing.T) {
	a := newTestAPI(t)
	w := a.do(t, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", decode(t, w)["status"])
}

func TestRegionLifecycle(t *testing.T) {
	a := newTestAPI(t)

	w := a.do(t, http.MethodPost, "/api/v1/regions", `{"id":"r1","geometry":`+testGeom+`}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decode(t, w)
	assert.Equal(t, "r1", body["id"])
	assert.Equal(t, "drawn", body["kind"])

	w = a.do(t, http.MethodGet, "/api/v1/regions/r1", "")
	require.Equal(t, http.StatusOK, w.Code)

	w = a.do(t, http.MethodGet, "/api/v1/regions", "")
	require.Equal(t, http.StatusOK, w.Code)
	var list []map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Len(t, list, 1)

	w = a.do(t, http.MethodDelete, "/api/v1/regions/r1", "")
	require.Equal(t, http.StatusOK, w.Code)

	w = a.do(t, http.MethodGet, "/api/v1/regions/r1", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCreateRegion_GeneratesID(t *testing.T) {
	a := newTestAPI(t)

	w := a.do(t, http.MethodPost, "/api/v1/regions", `{"geometry":`+testGeom+`}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	id, _ := decode(t, w)["id"].(string)
	assert.True(t, strings.HasPrefix(id, "aoi-"), "got id %q", id)
}

func TestCreateRegion_InvalidGeoJSON(t *testing.T) {
	a := newTestAPI(t)
	w := a.do(t, http.MethodPost, "/api/v1/regions", `{"geometry":{"type":"Nope"}}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUploadRegion(t *testing.T) {
	a := newTestAPI(t)

	fc := `{"type":"FeatureCollection","features":[{"type":"Feature","properties":{},"geometry":` + testGeom + `}]}`
	w := a.do(t, http.MethodPost, "/api/v1/regions/upload", fc)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "uploaded", decode(t, w)["kind"])
}

func TestDeleteRegion_LockedBase(t *testing.T) {
	a := newTestAPI(t)
	_, err := a.svc.Ctrl.UpsertRegion("base", []byte(testGeom), core.KindBase)
	require.NoError(t, err)

	w := a.do(t, http.MethodDelete, "/api/v1/regions/base", "")
	assert.Equal(t, http.StatusLocked, w.Code)

	w = a.do(t, http.MethodGet, "/api/v1/aoi", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "base", decode(t, w)["regionId"])
}

func TestBaseAOI_NotInstalled(t *testing.T) {
	a := newTestAPI(t)
	w := a.do(t, http.MethodGet, "/api/v1/aoi", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestOverlayReady_AttachAndPending(t *testing.T) {
	a := newTestAPI(t)

	// Overlay arrives before its region: queued, not attached.
	w := a.do(t, http.MethodPost, "/api/v1/overlays/ready",
		`{"overlayId":"o1","regionId":"r1","imageRef":"/clipped/a.png","bounds":[0,0,1,1]}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decode(t, w)
	assert.Equal(t, true, body["pending"])
	assert.Nil(t, body["overlay"])

	w = a.do(t, http.MethodGet, "/api/v1/diagnostics/pending", "")
	require.Equal(t, http.StatusOK, w.Code)
	var pending []map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &pending))
	require.Len(t, pending, 1)

	// Region registration drains the queue.
	w = a.do(t, http.MethodPost, "/api/v1/regions", `{"id":"r1","geometry":`+testGeom+`}`)
	require.Equal(t, http.StatusOK, w.Code)

	w = a.do(t, http.MethodGet, "/api/v1/regions/r1/overlays", "")
	require.Equal(t, http.StatusOK, w.Code)
	var overlays []map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &overlays))
	require.Len(t, overlays, 1)
	assert.Equal(t, "o1", overlays[0]["id"])
	assert.Equal(t, true, overlays[0]["active"])
}

func TestShowHideOverlay(t *testing.T) {
	a := newTestAPI(t)
	_, err := a.svc.Ctrl.UpsertRegion("r1", []byte(testGeom), core.KindDrawn)
	require.NoError(t, err)
	_, err = a.svc.Ctrl.AttachOverlay("o1", "r1", "/clipped/a.png", core.Bounds{})
	require.NoError(t, err)
	_, err = a.svc.Ctrl.AttachOverlay("o2", "r1", "/clipped/b.png", core.Bounds{})
	require.NoError(t, err)

	w := a.do(t, http.MethodPost, "/api/v1/regions/r1/overlays/o2/show", "")
	require.Equal(t, http.StatusOK, w.Code)
	active, ok := a.svc.Ctrl.ActiveOverlay("r1")
	require.True(t, ok)
	assert.Equal(t, "o2", active.ID)

	w = a.do(t, http.MethodPost, "/api/v1/overlays/o2/hide", "")
	require.Equal(t, http.StatusOK, w.Code)
	_, ok = a.svc.Ctrl.ActiveOverlay("r1")
	assert.False(t, ok)

	// Overlay owned by a different region.
	w = a.do(t, http.MethodPost, "/api/v1/regions/r1/overlays/o9/show", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDeleteOverlay(t *testing.T) {
	a := newTestAPI(t)
	_, err := a.svc.Ctrl.UpsertRegion("r1", []byte(testGeom), core.KindDrawn)
	require.NoError(t, err)
	_, err = a.svc.Ctrl.AttachOverlay("o1", "r1", "/clipped/a.png", core.Bounds{})
	require.NoError(t, err)

	w := a.do(t, http.MethodDelete, "/api/v1/overlays/o1", "")
	require.Equal(t, http.StatusOK, w.Code)

	w = a.do(t, http.MethodDelete, "/api/v1/overlays/o1", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestClearAll(t *testing.T) {
	a := newTestAPI(t)
	_, err := a.svc.Ctrl.UpsertRegion("base", []byte(testGeom), core.KindBase)
	require.NoError(t, err)
	w := a.do(t, http.MethodPost, "/api/v1/regions", `{"id":"r1","geometry":{"type":"Point","coordinates":[5,5]}}`)
	require.Equal(t, http.StatusOK, w.Code)

	w = a.do(t, http.MethodPost, "/api/v1/clear", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), decode(t, w)["removed"])
	assert.Equal(t, "base", a.svc.Ctrl.BaseRegionID())
}

func TestClip(t *testing.T) {
	a := newTestAPI(t)
	_, err := a.svc.Ctrl.UpsertRegion("r1", []byte(testGeom), core.KindDrawn)
	require.NoError(t, err)

	// Unknown layer first.
	w := a.do(t, http.MethodPost, "/api/v1/clip", `{"regionId":"r1","rasterLayerId":42}`)
	assert.Equal(t, http.StatusNotFound, w.Code)

	id := seedLayer(t, a, "M2.5_DF_D04_h")

	w = a.do(t, http.MethodPost, "/api/v1/clip",
		`{"regionId":"r1","rasterLayerId":`+strconv.FormatInt(id, 10)+`}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decode(t, w)
	assert.Equal(t, "/clipped/test.png", body["imageRef"])
	assert.Equal(t, "r1", body["regionId"])
	assert.Equal(t, true, body["active"])
	assert.Equal(t, id, a.clipper.gotReq.RasterLayerID)
	assert.JSONEq(t, testGeom, string(a.clipper.gotReq.ClipGeoJSON))
}

func TestClip_ServiceFailure(t *testing.T) {
	a := newTestAPI(t)
	_, err := a.svc.Ctrl.UpsertRegion("r1", []byte(testGeom), core.KindDrawn)
	require.NoError(t, err)
	id := seedLayer(t, a, "M5.0_DF_D04_h")
	a.clipper.err = context.DeadlineExceeded

	w := a.do(t, http.MethodPost, "/api/v1/clip",
		`{"regionId":"r1","rasterLayerId":`+strconv.FormatInt(id, 10)+`}`)
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Empty(t, a.svc.Ctrl.Overlays("r1"), "no overlay attaches on clip failure")
}

func TestListRasters_Empty(t *testing.T) {
	a := newTestAPI(t)
	w := a.do(t, http.MethodGet, "/api/v1/rasters", "")
	require.Equal(t, http.StatusOK, w.Code)

	var layers []map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &layers))
	assert.NotNil(t, layers, "empty catalog serializes as [], not null")
	assert.Empty(t, layers)
}

func TestVerifyEndpoint(t *testing.T) {
	a := newTestAPI(t)
	w := a.do(t, http.MethodGet, "/api/v1/diagnostics/verify", "")
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, true, body["clean"])
}

func TestDiscardPending(t *testing.T) {
	a := newTestAPI(t)
	_, err := a.svc.Ctrl.AttachOverlay("o1", "r-missing", "/clipped/a.png", core.Bounds{})
	require.NoError(t, err)

	w := a.do(t, http.MethodDelete, "/api/v1/diagnostics/pending/o1", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, a.svc.Ctrl.PendingAttachments())

	w = a.do(t, http.MethodDelete, "/api/v1/diagnostics/pending/o1", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}
