package api

import (
	"context"
	"errors"
	"sync"

	"github.com/danielgtaylor/huma/v2"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"go.uber.org/zap"

	"github.com/joeblew999/plat-canopy/internal/apiclient"
	"github.com/joeblew999/plat-canopy/internal/service"
)

// BackendHandler proxies the indicator backend. A failed backend call is
// logged, turned into a warning toast and answered with an empty result
// flagged by the X-Degraded header.
type BackendHandler struct {
	svc      *Services
	logger   *zap.Logger
	polygons apiclient.Latest[apiclient.PolygonResult]

	mu        sync.RWMutex
	preloaded *apiclient.Preloaded
}

func NewBackendHandler(svc *Services) *BackendHandler {
	return &BackendHandler{svc: svc, logger: svc.logger().Named("backend")}
}

func (h *BackendHandler) RegisterRoutes(api huma.API) {
	tags := huma.OperationTags("backend")
	huma.Get(api, "/api/v1/tiles/{dataType}/{id}", h.TileDetail, tags)
	huma.Post(api, "/api/v1/tiles/{dataType}/in-polygon", h.InPolygon, tags)
	huma.Get(api, "/api/v1/in-polygon/latest", h.LatestPolygon, tags)
	huma.Get(api, "/api/v1/metadata", h.Metadata, tags)
	huma.Get(api, "/api/v1/boundaries/{kind}", h.Boundaries, tags)
	huma.Get(api, "/api/v1/qpv", h.QPV, tags)
	huma.Get(api, "/api/v1/dashboard", h.Dashboard, tags)
	huma.Get(api, "/api/v1/flora/recommendations", h.Flora, tags)
}

// Preload fetches the reference data once so boundary requests are served
// from memory.
func (h *BackendHandler) Preload(ctx context.Context) error {
	c, err := h.backend()
	if err != nil {
		return err
	}
	p, err := c.Preload(ctx)
	if err != nil {
		h.degrade(ctx, "reference data", err)
		return err
	}
	h.mu.Lock()
	h.preloaded = &p
	h.mu.Unlock()
	h.logger.Info("reference data preloaded")
	return nil
}

func (h *BackendHandler) cached() *apiclient.Preloaded {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.preloaded
}

// degrade records a failed backend call.
func (h *BackendHandler) degrade(ctx context.Context, what string, err error) {
	h.logger.Warn("backend request failed", zap.String("resource", what), zap.Error(err))
	if !errors.Is(err, context.Canceled) {
		h.svc.View(ctx).Toasts().Push(service.ToastWarning, "Unable to load "+what)
	}
}

var errNoBackend = errors.New("no backend configured")

func (h *BackendHandler) backend() (*apiclient.Client, error) {
	if h.svc.Backend == nil {
		return nil, errNoBackend
	}
	return h.svc.Backend, nil
}

// Degraded marks a response answered without the backend.
type Degraded struct {
	Degraded bool `header:"X-Degraded" doc:"Set when the backend failed and the result is empty"`
}

type DetailOutput struct {
	Degraded
	Body map[string]any
}

func (h *BackendHandler) TileDetail(ctx context.Context, input *struct {
	DataTypeInput
	ID string `path:"id" minLength:"1" doc:"Tile id" example:"12345"`
}) (*DetailOutput, error) {
	out := &DetailOutput{Body: map[string]any{}}
	c, err := h.backend()
	if err == nil {
		var details map[string]any
		if details, err = c.TileDetail(ctx, input.DataType, input.ID); err == nil && details != nil {
			out.Body = details
		}
	}
	if err != nil {
		h.degrade(ctx, "tile details", err)
		out.Degraded.Degraded = true
	}
	return out, nil
}

// PolygonBody is a GeoJSON Polygon geometry.
type PolygonBody struct {
	Type        string         `json:"type" enum:"Polygon" doc:"GeoJSON geometry type"`
	Coordinates [][][2]float64 `json:"coordinates" minItems:"1" doc:"Rings of [lng, lat] positions; the first ring is the outline"`
}

func (b PolygonBody) polygon() orb.Polygon {
	p := make(orb.Polygon, 0, len(b.Coordinates))
	for _, ring := range b.Coordinates {
		r := make(orb.Ring, 0, len(ring))
		for _, pos := range ring {
			r = append(r, orb.Point(pos))
		}
		p = append(p, r)
	}
	return p
}

type PolygonOutput struct {
	Degraded
	Body apiclient.PolygonResult
}

// InPolygon aggregates a data type inside a drawn polygon. Only the newest
// request updates the latest result; an older one that finishes later gets
// 409.
func (h *BackendHandler) InPolygon(ctx context.Context, input *struct {
	DataTypeInput
	Body PolygonBody
}) (*PolygonOutput, error) {
	polygon := input.Body.polygon()
	if len(polygon) == 0 || len(polygon[0]) < 4 || !polygon[0].Closed() {
		return nil, huma.Error422UnprocessableEntity("the outline must be a closed ring of at least 4 positions")
	}

	res, applied, err := h.polygons.Do(ctx, func(ctx context.Context) (apiclient.PolygonResult, error) {
		c, err := h.backend()
		if err != nil {
			return apiclient.PolygonResult{}, err
		}
		return c.InPolygon(ctx, input.DataType, polygon)
	})
	if !applied {
		return nil, huma.Error409Conflict("superseded by a newer polygon request")
	}
	out := &PolygonOutput{Body: res}
	if err != nil {
		h.degrade(ctx, "polygon statistics", err)
		out.Body = apiclient.PolygonResult{DataType: input.DataType}
		out.Degraded.Degraded = true
	}
	return out, nil
}

func (h *BackendHandler) LatestPolygon(ctx context.Context, input *struct{}) (*PolygonOutput, error) {
	res, ok, err := h.polygons.Get()
	if !ok {
		return nil, huma.Error404NotFound("no polygon request yet")
	}
	out := &PolygonOutput{Body: res}
	out.Degraded.Degraded = err != nil
	return out, nil
}

func (h *BackendHandler) Metadata(ctx context.Context, input *struct{}) (*DetailOutput, error) {
	if p := h.cached(); p != nil && p.Metadata != nil {
		return &DetailOutput{Body: p.Metadata}, nil
	}
	out := &DetailOutput{Body: map[string]any{}}
	c, err := h.backend()
	if err == nil {
		var meta map[string]any
		if meta, err = c.Metadata(ctx); err == nil && meta != nil {
			out.Body = meta
		}
	}
	if err != nil {
		h.degrade(ctx, "metadata", err)
		out.Degraded.Degraded = true
	}
	return out, nil
}

type FeatureCollectionOutput struct {
	Degraded
	Body *geojson.FeatureCollection
}

func (h *BackendHandler) featureCollection(ctx context.Context, what string, cached *geojson.FeatureCollection, fetch func(*apiclient.Client) (*geojson.FeatureCollection, error)) *FeatureCollectionOutput {
	if cached != nil {
		return &FeatureCollectionOutput{Body: cached}
	}
	c, err := h.backend()
	var fc *geojson.FeatureCollection
	if err == nil {
		fc, err = fetch(c)
	}
	if err != nil {
		h.degrade(ctx, what, err)
		return &FeatureCollectionOutput{Degraded: Degraded{Degraded: true}, Body: geojson.NewFeatureCollection()}
	}
	return &FeatureCollectionOutput{Body: fc}
}

func (h *BackendHandler) Boundaries(ctx context.Context, input *struct {
	Kind apiclient.BoundaryKind `path:"kind" enum:"cities,iris" doc:"Boundary layer"`
}) (*FeatureCollectionOutput, error) {
	var cached *geojson.FeatureCollection
	if p := h.cached(); p != nil {
		if input.Kind == apiclient.BoundaryCities {
			cached = p.Cities
		} else {
			cached = p.Iris
		}
	}
	return h.featureCollection(ctx, string(input.Kind)+" boundaries", cached, func(c *apiclient.Client) (*geojson.FeatureCollection, error) {
		return c.Boundaries(ctx, input.Kind)
	}), nil
}

func (h *BackendHandler) QPV(ctx context.Context, input *struct{}) (*FeatureCollectionOutput, error) {
	var cached *geojson.FeatureCollection
	if p := h.cached(); p != nil {
		cached = p.QPV
	}
	return h.featureCollection(ctx, "priority neighbourhoods", cached, func(c *apiclient.Client) (*geojson.FeatureCollection, error) {
		return c.QPV(ctx)
	}), nil
}

func (h *BackendHandler) Dashboard(ctx context.Context, input *struct {
	CityCode string `query:"city_code" doc:"INSEE city code" example:"69381"`
	IrisCode string `query:"iris_code" doc:"IRIS code" example:"693810101"`
}) (*DetailOutput, error) {
	if input.CityCode == "" && input.IrisCode == "" {
		return nil, huma.Error400BadRequest("city_code or iris_code is required")
	}
	out := &DetailOutput{Body: map[string]any{}}
	c, err := h.backend()
	if err == nil {
		var d map[string]any
		if d, err = c.Dashboard(ctx, input.CityCode, input.IrisCode); err == nil && d != nil {
			out.Body = d
		}
	}
	if err != nil {
		h.degrade(ctx, "dashboard", err)
		out.Degraded.Degraded = true
	}
	return out, nil
}

type FloraOutput struct {
	Degraded
	Body []map[string]any
}

func (h *BackendHandler) Flora(ctx context.Context, input *struct {
	Lat   float64 `query:"lat" required:"true" minimum:"-90" maximum:"90" doc:"Latitude"`
	Lng   float64 `query:"lng" required:"true" minimum:"-180" maximum:"180" doc:"Longitude"`
	Score float64 `query:"plantability_score" minimum:"0" maximum:"10" doc:"Plantability score at the position"`
}) (*FloraOutput, error) {
	out := &FloraOutput{Body: []map[string]any{}}
	c, err := h.backend()
	if err == nil {
		var recs []map[string]any
		if recs, err = c.FloraRecommendations(ctx, service.Coordinates{Lat: input.Lat, Lng: input.Lng}, input.Score); err == nil {
			out.Body = recs
		}
	}
	if err != nil {
		h.degrade(ctx, "flora recommendations", err)
		out.Degraded.Degraded = true
	}
	return out, nil
}
