package api

import (
	"context"

	"github.com/danielgtaylor/huma/v2"

	"github.com/joeblew999/plat-canopy/internal/service"
)

// FilterHandler exposes the selection sets of the filter registry. Toggles
// apply to the active data type.
type FilterHandler struct {
	svc *Services
}

func NewFilterHandler(svc *Services) *FilterHandler {
	return &FilterHandler{svc: svc}
}

func (h *FilterHandler) RegisterRoutes(api huma.API) {
	tags := huma.OperationTags("filters")
	huma.Get(api, "/api/v1/filters", h.GetFilters, tags)
	huma.Post(api, "/api/v1/filters/toggle", h.ToggleFilter, tags)
	huma.Post(api, "/api/v1/filters/apply", h.ApplyFilters, tags)
	huma.Delete(api, "/api/v1/filters", h.ClearFilter, tags)
}

// FiltersBody is the filter state seen from the active data type.
type FiltersBody struct {
	DataType service.DataType     `json:"dataType" doc:"Active data type"`
	Domain   service.FilterDomain `json:"domain" doc:"Selection set the active data type filters with"`
	Active   []string             `json:"active" doc:"Selected values of the active domain"`
	service.FilterState
}

type FiltersOutput struct {
	Body FiltersBody
}

func (h *FilterHandler) output(ctx context.Context) *FiltersOutput {
	dt := h.svc.View(ctx).DataType()
	active := h.svc.View(ctx).Filters().Values(dt)
	if active == nil {
		active = []string{}
	}
	return &FiltersOutput{Body: FiltersBody{
		DataType:    dt,
		Domain:      dt.Info().Domain,
		Active:      active,
		FilterState: h.svc.View(ctx).Filters().Snapshot(),
	}}
}

func (h *FilterHandler) GetFilters(ctx context.Context, input *struct{}) (*FiltersOutput, error) {
	return h.output(ctx), nil
}

type ToggleBody struct {
	Value string `json:"value" minLength:"1" doc:"Score, vulnerability level or zone code to toggle" example:"3"`
}

func (h *FilterHandler) ToggleFilter(ctx context.Context, input *struct{ Body ToggleBody }) (*FiltersOutput, error) {
	if err := h.svc.View(ctx).ToggleFilter(input.Body.Value); err != nil {
		return nil, humaError(err)
	}
	return h.output(ctx), nil
}

func (h *FilterHandler) ApplyFilters(ctx context.Context, input *struct{}) (*FiltersOutput, error) {
	if err := h.svc.View(ctx).ApplyFilters(); err != nil {
		return nil, humaError(err)
	}
	return h.output(ctx), nil
}

func (h *FilterHandler) ClearFilter(ctx context.Context, input *struct{}) (*FiltersOutput, error) {
	h.svc.View(ctx).ClearFilter()
	return h.output(ctx), nil
}
