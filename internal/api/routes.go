// Package api defines the Huma API routes and handlers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/google/uuid"

	"github.com/vmrc/geoportal/internal/catalog"
	"github.com/vmrc/geoportal/internal/core"
	"github.com/vmrc/geoportal/internal/geo"
	"github.com/vmrc/geoportal/internal/raster"
)

// Services holds the service dependencies for API handlers.
type Services struct {
	Ctrl     *core.Controller
	Verifier *core.Verifier
	Catalog  *catalog.Service
	Clipper  raster.Clipper
}

// Views

// RegionBody is the wire form of a region. Geometry is the normalized
// GeoJSON the registry hashed.
type RegionBody struct {
	ID        string          `json:"id" doc:"Region id" example:"aoi-7f3b"`
	Kind      string          `json:"kind" enum:"drawn,uploaded,base" doc:"How the region entered the registry"`
	Locked    bool            `json:"locked" doc:"True only for the permanent base region"`
	Geometry  json.RawMessage `json:"geometry" doc:"Normalized GeoJSON geometry"`
	Bounds    core.Bounds     `json:"bounds" doc:"Bounding box: west, south, east, north"`
	CreatedAt string          `json:"createdAt" doc:"Registration time (RFC 3339)"`
}

// OverlayBody is the wire form of an overlay.
type OverlayBody struct {
	ID        string      `json:"id" doc:"Overlay id"`
	RegionID  string      `json:"regionId" doc:"Owning region id"`
	ImageRef  string      `json:"imageRef" doc:"Opaque reference to the rendered artifact"`
	Bounds    core.Bounds `json:"bounds" doc:"Placement rectangle: west, south, east, north"`
	Active    bool        `json:"active" doc:"Whether this overlay is the region's visible one"`
	CreatedAt string      `json:"createdAt" doc:"Attachment time (RFC 3339)"`
}

func regionBody(r core.Region) RegionBody {
	bounds, _ := geo.Bounds(r.Geometry)
	return RegionBody{
		ID:        r.ID,
		Kind:      string(r.Kind),
		Locked:    r.Locked,
		Geometry:  json.RawMessage(r.Geometry),
		Bounds:    bounds,
		CreatedAt: r.CreatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
	}
}

func overlayBody(o core.Overlay) OverlayBody {
	return OverlayBody{
		ID:        o.ID,
		RegionID:  o.RegionID,
		ImageRef:  o.ImageRef,
		Bounds:    o.Bounds,
		Active:    o.Active,
		CreatedAt: o.CreatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
	}
}

// mapCoreErr translates registry errors onto HTTP statuses. Not-found
// conditions are ordinary 404s; locked and duplicate-base violations are
// loud because silently ignoring them is how the registry's predecessor
// drifted.
func mapCoreErr(err error) error {
	var ce *core.Error
	if errors.As(err, &ce) {
		switch ce.Code {
		case core.CodeNotFound, core.CodeUnknownOverlay:
			return huma.Error404NotFound(ce.Message, err)
		case core.CodeLockedEntity:
			return huma.NewError(http.StatusLocked, ce.Message)
		case core.CodeDuplicateBase:
			return huma.Error409Conflict(ce.Message, err)
		}
	}
	return huma.Error500InternalServerError("registry operation failed", err)
}

// APIHandler holds all REST API handlers.
type APIHandler struct {
	svc *Services
}

// NewAPIHandler creates the REST handler set.
func NewAPIHandler(svc *Services) *APIHandler {
	return &APIHandler{svc: svc}
}

// RegisterRoutes registers every REST route.
func (h *APIHandler) RegisterRoutes(api huma.API) {
	huma.Get(api, "/health", h.GetHealth, huma.OperationTags("health"))

	huma.Get(api, "/api/v1/aoi", h.GetBaseAOI, huma.OperationTags("regions"))
	huma.Get(api, "/api/v1/regions", h.ListRegions, huma.OperationTags("regions"))
	huma.Post(api, "/api/v1/regions", h.CreateRegion, huma.OperationTags("regions"))
	huma.Post(api, "/api/v1/regions/upload", h.UploadRegion, huma.OperationTags("regions"))
	huma.Get(api, "/api/v1/regions/{id}", h.GetRegion, huma.OperationTags("regions"))
	huma.Put(api, "/api/v1/regions/{id}", h.PutRegion, huma.OperationTags("regions"))
	huma.Delete(api, "/api/v1/regions/{id}", h.DeleteRegion, huma.OperationTags("regions"))
	huma.Get(api, "/api/v1/regions/{id}/overlays", h.ListRegionOverlays, huma.OperationTags("overlays"))
	huma.Post(api, "/api/v1/regions/{id}/overlays/{overlayId}/show", h.ShowOverlay, huma.OperationTags("overlays"))

	huma.Post(api, "/api/v1/overlays/ready", h.OverlayReady, huma.OperationTags("overlays"))
	huma.Post(api, "/api/v1/overlays/{id}/hide", h.HideOverlay, huma.OperationTags("overlays"))
	huma.Delete(api, "/api/v1/overlays/{id}", h.DeleteOverlay, huma.OperationTags("overlays"))

	huma.Post(api, "/api/v1/clear", h.ClearAll, huma.OperationTags("regions"))
	huma.Post(api, "/api/v1/clip", h.Clip, huma.OperationTags("clip"))

	huma.Get(api, "/api/v1/rasters", h.ListRasters, huma.OperationTags("rasters"))
	huma.Post(api, "/api/v1/rasters/refresh", h.RefreshRasters, huma.OperationTags("rasters"))

	huma.Get(api, "/api/v1/diagnostics/verify", h.Verify, huma.OperationTags("diagnostics"))
	huma.Get(api, "/api/v1/diagnostics/pending", h.ListPending, huma.OperationTags("diagnostics"))
	huma.Delete(api, "/api/v1/diagnostics/pending/{id}", h.DiscardPending, huma.OperationTags("diagnostics"))
}

// Health

type HealthBody struct {
	Status  string `json:"status" doc:"Health status" example:"ok"`
	Version string `json:"version" doc:"API version" example:"1.0.0"`
}

func (h *APIHandler) GetHealth(ctx context.Context, input *struct{}) (*struct{ Body HealthBody }, error) {
	return &struct{ Body HealthBody }{Body: HealthBody{Status: "ok", Version: "1.0.0"}}, nil
}

// Regions

type BaseAOIBody struct {
	RegionID string          `json:"regionId" doc:"Id of the locked base region"`
	Geometry json.RawMessage `json:"geometry" doc:"Base AOI GeoJSON geometry"`
}

func (h *APIHandler) GetBaseAOI(ctx context.Context, input *struct{}) (*struct{ Body BaseAOIBody }, error) {
	id := h.svc.Ctrl.BaseRegionID()
	if id == "" {
		return nil, huma.Error404NotFound("no base AOI installed")
	}
	r, _ := h.svc.Ctrl.Region(id)
	return &struct{ Body BaseAOIBody }{Body: BaseAOIBody{
		RegionID: r.ID,
		Geometry: json.RawMessage(r.Geometry),
	}}, nil
}

type RegionsOutput struct {
	Body []RegionBody
}

func (h *APIHandler) ListRegions(ctx context.Context, input *struct{}) (*RegionsOutput, error) {
	regions := h.svc.Ctrl.Regions()
	out := make([]RegionBody, 0, len(regions))
	for _, r := range regions {
		out = append(out, regionBody(r))
	}
	return &RegionsOutput{Body: out}, nil
}

type RegionIDInput struct {
	ID string `path:"id" doc:"Region id" example:"aoi-7f3b"`
}

type RegionOutput struct {
	Body RegionBody
}

func (h *APIHandler) GetRegion(ctx context.Context, input *RegionIDInput) (*RegionOutput, error) {
	r, ok := h.svc.Ctrl.Region(input.ID)
	if !ok {
		return nil, huma.Error404NotFound("region not found")
	}
	return &RegionOutput{Body: regionBody(r)}, nil
}

type CreateRegionInput struct {
	Body struct {
		ID       string          `json:"id,omitempty" doc:"Region id; generated when omitted"`
		Geometry json.RawMessage `json:"geometry" required:"true" doc:"GeoJSON geometry, feature, or feature collection"`
	}
}

func (h *APIHandler) CreateRegion(ctx context.Context, input *CreateRegionInput) (*RegionOutput, error) {
	return h.upsert(input.Body.ID, input.Body.Geometry, core.KindDrawn)
}

func (h *APIHandler) PutRegion(ctx context.Context, input *struct {
	RegionIDInput
	Body struct {
		Geometry json.RawMessage `json:"geometry" required:"true" doc:"Replacement GeoJSON geometry"`
	}
}) (*RegionOutput, error) {
	kind := core.KindDrawn
	if existing, ok := h.svc.Ctrl.Region(input.ID); ok {
		kind = existing.Kind
	}
	return h.upsert(input.ID, input.Body.Geometry, kind)
}

// UploadRegionInput carries a raw GeoJSON document as the request body.
type UploadRegionInput struct {
	RawBody []byte
}

func (h *APIHandler) UploadRegion(ctx context.Context, input *UploadRegionInput) (*RegionOutput, error) {
	return h.upsert("", input.RawBody, core.KindUploaded)
}

func (h *APIHandler) upsert(id string, rawGeometry []byte, kind core.RegionKind) (*RegionOutput, error) {
	geometry, _, err := geo.Normalize(rawGeometry)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid GeoJSON", err)
	}
	if id == "" {
		id = "aoi-" + uuid.NewString()[:8]
	}
	r, err := h.svc.Ctrl.UpsertRegion(id, geometry, kind)
	if err != nil {
		return nil, mapCoreErr(err)
	}
	return &RegionOutput{Body: regionBody(r)}, nil
}

type MessageBody struct {
	Message string `json:"message" doc:"Result message"`
}

func (h *APIHandler) DeleteRegion(ctx context.Context, input *RegionIDInput) (*struct{ Body MessageBody }, error) {
	if err := h.svc.Ctrl.RemoveRegionCascade(input.ID); err != nil {
		return nil, mapCoreErr(err)
	}
	return &struct{ Body MessageBody }{Body: MessageBody{Message: "Region removed"}}, nil
}

// Overlays

type OverlaysOutput struct {
	Body []OverlayBody
}

func (h *APIHandler) ListRegionOverlays(ctx context.Context, input *RegionIDInput) (*OverlaysOutput, error) {
	if _, ok := h.svc.Ctrl.Region(input.ID); !ok {
		return nil, huma.Error404NotFound("region not found")
	}
	overlays := h.svc.Ctrl.Overlays(input.ID)
	out := make([]OverlayBody, 0, len(overlays))
	for _, o := range overlays {
		out = append(out, overlayBody(o))
	}
	return &OverlaysOutput{Body: out}, nil
}

type OverlayReadyInput struct {
	Body struct {
		OverlayID string      `json:"overlayId,omitempty" doc:"Overlay id; generated when omitted"`
		RegionID  string      `json:"regionId" required:"true" doc:"Owning region id"`
		ImageRef  string      `json:"imageRef" required:"true" doc:"Reference to the rendered artifact"`
		Bounds    core.Bounds `json:"bounds" doc:"Placement rectangle: west, south, east, north"`
	}
}

type AttachOutput struct {
	Body struct {
		Overlay *OverlayBody `json:"overlay,omitempty" doc:"The attached overlay, absent while pending"`
		Pending bool         `json:"pending" doc:"True when the region is not registered yet and the overlay was queued"`
	}
}

// OverlayReady is the producer callback: a clip result arrived, possibly
// before its region finished registering.
func (h *APIHandler) OverlayReady(ctx context.Context, input *OverlayReadyInput) (*AttachOutput, error) {
	id := input.Body.OverlayID
	if id == "" {
		id = uuid.NewString()
	}
	res, err := h.svc.Ctrl.AttachOverlay(id, input.Body.RegionID, input.Body.ImageRef, input.Body.Bounds)
	if err != nil {
		return nil, mapCoreErr(err)
	}
	out := &AttachOutput{}
	out.Body.Pending = res.Pending
	if !res.Pending {
		b := overlayBody(res.Overlay)
		out.Body.Overlay = &b
	}
	return out, nil
}

type ShowOverlayInput struct {
	ID        string `path:"id" doc:"Region id"`
	OverlayID string `path:"overlayId" doc:"Overlay id to activate"`
}

func (h *APIHandler) ShowOverlay(ctx context.Context, input *ShowOverlayInput) (*struct{ Body MessageBody }, error) {
	if err := h.svc.Ctrl.SetActiveOverlay(input.ID, input.OverlayID); err != nil {
		return nil, mapCoreErr(err)
	}
	return &struct{ Body MessageBody }{Body: MessageBody{Message: "Overlay shown"}}, nil
}

type OverlayIDInput struct {
	ID string `path:"id" doc:"Overlay id"`
}

func (h *APIHandler) HideOverlay(ctx context.Context, input *OverlayIDInput) (*struct{ Body MessageBody }, error) {
	if err := h.svc.Ctrl.HideOverlay(input.ID); err != nil {
		return nil, mapCoreErr(err)
	}
	return &struct{ Body MessageBody }{Body: MessageBody{Message: "Overlay hidden"}}, nil
}

func (h *APIHandler) DeleteOverlay(ctx context.Context, input *OverlayIDInput) (*struct{ Body MessageBody }, error) {
	if _, err := h.svc.Ctrl.RemoveOverlay(input.ID); err != nil {
		return nil, mapCoreErr(err)
	}
	return &struct{ Body MessageBody }{Body: MessageBody{Message: "Overlay removed"}}, nil
}

// Bulk

type ClearOutput struct {
	Body struct {
		Removed int `json:"removed" doc:"Number of regions cascade-removed"`
	}
}

func (h *APIHandler) ClearAll(ctx context.Context, input *struct{}) (*ClearOutput, error) {
	out := &ClearOutput{}
	out.Body.Removed = h.svc.Ctrl.ClearAll()
	return out, nil
}

// Clip

type ClipInput struct {
	Body struct {
		RegionID      string `json:"regionId" required:"true" doc:"Region to clip to"`
		RasterLayerID int64  `json:"rasterLayerId" required:"true" doc:"Catalog id of the raster layer"`
	}
}

// Clip asks the external service for an overlay of one raster layer
// masked to a region, then attaches the result.
func (h *APIHandler) Clip(ctx context.Context, input *ClipInput) (*struct{ Body OverlayBody }, error) {
	region, ok := h.svc.Ctrl.Region(input.Body.RegionID)
	if !ok {
		return nil, huma.Error404NotFound("region not found")
	}
	layer, ok, err := h.svc.Catalog.Get(input.Body.RasterLayerID)
	if err != nil {
		return nil, huma.Error500InternalServerError("catalog lookup failed", err)
	}
	if !ok {
		return nil, huma.Error404NotFound("raster layer not found")
	}

	result, err := h.svc.Clipper.Clip(ctx, raster.ClipRequest{
		RasterLayerID: layer.ID,
		ClipGeoJSON:   json.RawMessage(region.Geometry),
	})
	if err != nil {
		return nil, huma.Error502BadGateway("clip service failed", err)
	}

	res, err := h.svc.Ctrl.AttachOverlay(uuid.NewString(), region.ID, result.ImageRef, result.Bounds)
	if err != nil {
		return nil, mapCoreErr(err)
	}
	return &struct{ Body OverlayBody }{Body: overlayBody(res.Overlay)}, nil
}

// Rasters

type RastersOutput struct {
	Body []catalog.Layer
}

func (h *APIHandler) ListRasters(ctx context.Context, input *struct{}) (*RastersOutput, error) {
	layers, err := h.svc.Catalog.List()
	if err != nil {
		return nil, huma.Error500InternalServerError("listing rasters failed", err)
	}
	if layers == nil {
		layers = []catalog.Layer{}
	}
	return &RastersOutput{Body: layers}, nil
}

type RefreshOutput struct {
	Body struct {
		Layers int `json:"layers" doc:"Number of raster layers discovered"`
	}
}

func (h *APIHandler) RefreshRasters(ctx context.Context, input *struct{}) (*RefreshOutput, error) {
	n, err := h.svc.Catalog.Refresh()
	if err != nil {
		return nil, huma.Error500InternalServerError("raster discovery failed", err)
	}
	out := &RefreshOutput{}
	out.Body.Layers = n
	return out, nil
}

// Diagnostics

type VerifyOutput struct {
	Body struct {
		Divergences []core.Divergence `json:"divergences" doc:"Detected registry/surface mismatches"`
		Clean       bool              `json:"clean" doc:"True when no divergence was found"`
	}
}

func (h *APIHandler) Verify(ctx context.Context, input *struct{}) (*VerifyOutput, error) {
	div := h.svc.Verifier.Verify()
	out := &VerifyOutput{}
	out.Body.Clean = len(div) == 0
	if div == nil {
		div = []core.Divergence{}
	}
	out.Body.Divergences = div
	return out, nil
}

type PendingOutput struct {
	Body []core.PendingAttachment
}

func (h *APIHandler) ListPending(ctx context.Context, input *struct{}) (*PendingOutput, error) {
	pending := h.svc.Ctrl.PendingAttachments()
	if pending == nil {
		pending = []core.PendingAttachment{}
	}
	return &PendingOutput{Body: pending}, nil
}

func (h *APIHandler) DiscardPending(ctx context.Context, input *OverlayIDInput) (*struct{ Body MessageBody }, error) {
	if err := h.svc.Ctrl.DiscardPending(input.ID); err != nil {
		return nil, mapCoreErr(err)
	}
	return &struct{ Body MessageBody }{Body: MessageBody{Message: "Pending attachment discarded"}}, nil
}
