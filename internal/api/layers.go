package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/joeblew999/plat-canopy/internal/humastar"
	"github.com/joeblew999/plat-canopy/internal/service"
)

// LayerHandler exposes the layer registry. Every mutation goes through the
// coordinator so the maps re-render.
type LayerHandler struct {
	svc *Services
}

func NewLayerHandler(svc *Services) *LayerHandler {
	return &LayerHandler{svc: svc}
}

func (h *LayerHandler) RegisterRoutes(api huma.API) {
	tags := huma.OperationTags("layers")
	huma.Get(api, "/api/v1/layers", h.ListLayers, tags)
	huma.Register(api, huma.Operation{
		OperationID:   "add-layer",
		Method:        http.MethodPost,
		Path:          "/api/v1/layers",
		Summary:       "Add a layer",
		Tags:          []string{"layers"},
		DefaultStatus: http.StatusCreated,
	}, h.AddLayer)
	huma.Post(api, "/api/v1/layers/reset", h.ResetLayers, tags)
	huma.Delete(api, "/api/v1/layers/{dataType}", h.RemoveDataType, tags)
	huma.Get(api, "/api/v1/layers/{dataType}/{renderMode}", h.GetLayer, tags)
	huma.Delete(api, "/api/v1/layers/{dataType}/{renderMode}", h.RemoveLayer, tags)
	huma.Post(api, "/api/v1/layers/{dataType}/{renderMode}/activate", h.ActivateLayer, tags)
	huma.Put(api, "/api/v1/layers/{dataType}/{renderMode}/opacity", h.SetOpacity, tags)
	huma.Put(api, "/api/v1/layers/{dataType}/{renderMode}/visibility", h.SetVisibility, tags)
}

// LayerInput selects a layer in the path.
type LayerInput struct {
	DataTypeInput
	RenderMode service.RenderMode `path:"renderMode" enum:"fill,symbol,color-relief" doc:"Render mode" example:"fill"`
}

// LayerBody is a layer with its widget id.
type LayerBody struct {
	ID string `json:"id" doc:"Map widget layer id" example:"plantability-fill"`
	service.LayerConfig
}

var layerActions = []humastar.ActionDef{
	{Rel: "activate", Pattern: "/api/v1/layers/%s/%s/activate", Method: http.MethodPost, Title: "Toggle layer"},
	{Rel: "opacity", Pattern: "/api/v1/layers/%s/%s/opacity", Method: http.MethodPut, Title: "Change opacity"},
	{Rel: "visibility", Pattern: "/api/v1/layers/%s/%s/visibility", Method: http.MethodPut, Title: "Show or hide"},
	{Rel: "remove", Pattern: "/api/v1/layers/%s/%s", Method: http.MethodDelete, Title: "Remove layer"},
}

func (b LayerBody) Actions() []humastar.Action {
	return humastar.ActionsFor(layerActions, b.DataType, b.RenderMode)
}

func newLayerBody(l service.LayerConfig) LayerBody {
	return LayerBody{ID: service.LayerID(l.DataType, l.RenderMode), LayerConfig: l}
}

type LayerOutput struct {
	Body LayerBody
}

type LayersOutput struct {
	Body []LayerBody
}

func (h *LayerHandler) list(ctx context.Context) *LayersOutput {
	layers := h.svc.View(ctx).Layers().List()
	out := &LayersOutput{Body: make([]LayerBody, 0, len(layers))}
	for _, l := range layers {
		out.Body = append(out.Body, newLayerBody(l))
	}
	return out
}

func (h *LayerHandler) ListLayers(ctx context.Context, input *struct{}) (*LayersOutput, error) {
	return h.list(ctx), nil
}

func (h *LayerHandler) GetLayer(ctx context.Context, input *LayerInput) (*LayerOutput, error) {
	l, ok := h.svc.View(ctx).Layers().Get(input.DataType, input.RenderMode)
	if !ok {
		return nil, huma.Error404NotFound("layer not found")
	}
	return &LayerOutput{Body: newLayerBody(l)}, nil
}

// AddLayerBody adds a layer.
type AddLayerBody struct {
	DataType   service.DataType   `json:"dataType" enum:"plantability,vulnerability,lcz,plantability_vulnerability" doc:"Data type" example:"vulnerability"`
	RenderMode service.RenderMode `json:"renderMode,omitempty" enum:"fill,symbol,color-relief" default:"fill" doc:"Render mode"`
	Opacity    *float64           `json:"opacity,omitempty" minimum:"0" maximum:"1" doc:"Opacity, 0.7 when omitted"`
}

func (h *LayerHandler) AddLayer(ctx context.Context, input *struct{ Body AddLayerBody }) (*LayerOutput, error) {
	b := input.Body
	if b.RenderMode == "" {
		b.RenderMode = service.RenderFill
	}
	opacity := service.DefaultOpacity
	if b.Opacity != nil {
		opacity = *b.Opacity
	}
	h.svc.View(ctx).AddLayer(b.DataType, b.RenderMode, opacity)
	l, ok := h.svc.View(ctx).Layers().Get(b.DataType, b.RenderMode)
	if !ok {
		return nil, huma.Error500InternalServerError("layer was not added")
	}
	return &LayerOutput{Body: newLayerBody(l)}, nil
}

func (h *LayerHandler) RemoveDataType(ctx context.Context, input *DataTypeInput) (*LayersOutput, error) {
	h.svc.View(ctx).RemoveLayer(input.DataType)
	return h.list(ctx), nil
}

func (h *LayerHandler) RemoveLayer(ctx context.Context, input *LayerInput) (*LayersOutput, error) {
	if _, ok := h.svc.View(ctx).Layers().Get(input.DataType, input.RenderMode); !ok {
		return nil, huma.Error404NotFound("layer not found")
	}
	h.svc.View(ctx).RemoveLayer(input.DataType, input.RenderMode)
	return h.list(ctx), nil
}

func (h *LayerHandler) ActivateLayer(ctx context.Context, input *LayerInput) (*LayersOutput, error) {
	h.svc.View(ctx).ActivateLayer(input.DataType, input.RenderMode)
	return h.list(ctx), nil
}

type OpacityBody struct {
	Opacity float64 `json:"opacity" minimum:"0" maximum:"1" doc:"Layer opacity" example:"0.5"`
}

func (h *LayerHandler) SetOpacity(ctx context.Context, input *struct {
	LayerInput
	Body OpacityBody
}) (*LayerOutput, error) {
	if _, ok := h.svc.View(ctx).Layers().Get(input.DataType, input.RenderMode); !ok {
		return nil, huma.Error404NotFound("layer not found")
	}
	h.svc.View(ctx).SetOpacity(input.DataType, input.RenderMode, input.Body.Opacity)
	return h.GetLayer(ctx, &input.LayerInput)
}

type VisibilityBody struct {
	Visible bool `json:"visible" doc:"Whether the layer is drawn"`
}

func (h *LayerHandler) SetVisibility(ctx context.Context, input *struct {
	LayerInput
	Body VisibilityBody
}) (*LayerOutput, error) {
	if _, ok := h.svc.View(ctx).Layers().Get(input.DataType, input.RenderMode); !ok {
		return nil, huma.Error404NotFound("layer not found")
	}
	h.svc.View(ctx).SetVisibility(input.DataType, input.RenderMode, input.Body.Visible)
	return h.GetLayer(ctx, &input.LayerInput)
}

func (h *LayerHandler) ResetLayers(ctx context.Context, input *struct{}) (*LayersOutput, error) {
	h.svc.View(ctx).ResetLayers()
	return h.list(ctx), nil
}
