package api

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/joeblew999/plat-canopy/internal/humastar"
	"github.com/joeblew999/plat-canopy/internal/mapview"
	"github.com/joeblew999/plat-canopy/internal/service"
)

// MapHandler exposes the map coordinator: widgets, clicks, the popup and
// the displayed data type.
type MapHandler struct {
	svc *Services
}

func NewMapHandler(svc *Services) *MapHandler {
	return &MapHandler{svc: svc}
}

func (h *MapHandler) RegisterRoutes(api huma.API) {
	tags := huma.OperationTags("maps")
	huma.Get(api, "/api/v1/state", h.GetState, tags)
	huma.Get(api, "/api/v1/maps", h.ListMaps, tags)
	huma.Register(api, huma.Operation{
		OperationID:   "init-map",
		Method:        http.MethodPost,
		Path:          "/api/v1/maps/{mapId}",
		Summary:       "Initialise a map widget",
		Tags:          []string{"maps"},
		DefaultStatus: http.StatusCreated,
	}, h.InitMap)
	huma.Delete(api, "/api/v1/maps/{mapId}", h.RemoveMap, tags)
	huma.Get(api, "/api/v1/maps/{mapId}/style", h.GetStyle, tags)
	huma.Post(api, "/api/v1/maps/{mapId}/click", h.Click, tags)
	huma.Post(api, "/api/v1/maps/{mapId}/sources/{sourceId}/loaded", h.MarkSourceLoaded, tags)
	huma.Get(api, "/api/v1/maps/{mapId}/sources/{sourceId}/loaded", h.WaitSourceLoaded, tags)
	huma.Get(api, "/api/v1/popup", h.GetPopup, huma.OperationTags("popup"))
	huma.Delete(api, "/api/v1/popup", h.ClosePopup, huma.OperationTags("popup"))
	huma.Put(api, "/api/v1/data-type", h.ChangeDataType, tags)
	huma.Put(api, "/api/v1/vulnerability-mode", h.SetVulnerabilityMode, tags)
}

type StateOutput struct {
	Body mapview.State
}

func (h *MapHandler) GetState(ctx context.Context, input *struct{}) (*StateOutput, error) {
	return &StateOutput{Body: h.svc.View(ctx).State()}, nil
}

// MapBody describes one map widget.
type MapBody struct {
	ID    string                `json:"id" doc:"Map widget id"`
	Style mapview.StyleDocument `json:"style" doc:"MapLibre style document of the widget"`
}

// Actions offers the operations available on a live map.
func (b MapBody) Actions() []humastar.Action {
	return humastar.ActionsFor([]humastar.ActionDef{
		{Rel: "click", Pattern: "/api/v1/maps/%s/click", Method: http.MethodPost, Title: "Click the map"},
		{Rel: "remove", Pattern: "/api/v1/maps/%s", Method: http.MethodDelete, Title: "Remove the map"},
	}, b.ID)
}

type MapOutput struct {
	Body MapBody
}

func (h *MapHandler) ListMaps(ctx context.Context, input *struct{}) (*struct{ Body []string }, error) {
	return &struct{ Body []string }{Body: h.svc.View(ctx).State().Maps}, nil
}

func (h *MapHandler) InitMap(ctx context.Context, input *MapIDInput) (*MapOutput, error) {
	if _, err := h.svc.View(ctx).InitMap(input.MapID); err != nil {
		return nil, humaError(err)
	}
	return h.mapOutput(ctx, input.MapID)
}

func (h *MapHandler) RemoveMap(ctx context.Context, input *MapIDInput) (*messageOutput, error) {
	if err := h.svc.View(ctx).RemoveMap(input.MapID); err != nil {
		return nil, humaError(err)
	}
	return message("Map removed"), nil
}

func (h *MapHandler) GetStyle(ctx context.Context, input *MapIDInput) (*MapOutput, error) {
	return h.mapOutput(ctx, input.MapID)
}

func (h *MapHandler) mapOutput(ctx context.Context, mapID string) (*MapOutput, error) {
	style, err := h.svc.View(ctx).Style(mapID)
	if err != nil {
		return nil, humaError(err)
	}
	return &MapOutput{Body: MapBody{ID: mapID, Style: style}}, nil
}

// ClickBody is a click relayed by the browser.
type ClickBody struct {
	Lat  float64 `json:"lat" minimum:"-90" maximum:"90" doc:"Clicked latitude" example:"45.764"`
	Lng  float64 `json:"lng" minimum:"-180" maximum:"180" doc:"Clicked longitude" example:"4.8357"`
	Zoom int     `json:"zoom" minimum:"0" maximum:"22" doc:"Map zoom at click time" example:"14"`
}

type PopupOutput struct {
	Body service.PopupData
}

func (h *MapHandler) Click(ctx context.Context, input *struct {
	MapIDInput
	Body ClickBody
}) (*PopupOutput, error) {
	at := service.Coordinates{Lat: input.Body.Lat, Lng: input.Body.Lng}
	popup, err := h.svc.View(ctx).Click(ctx, input.MapID, at, input.Body.Zoom)
	if err != nil {
		return nil, humaError(err)
	}
	return &PopupOutput{Body: popup}, nil
}

type SourceInput struct {
	MapIDInput
	SourceID string `path:"sourceId" doc:"Source id" example:"plantability-source"`
}

func (h *MapHandler) MarkSourceLoaded(ctx context.Context, input *SourceInput) (*messageOutput, error) {
	w, ok := h.svc.View(ctx).Map(input.MapID)
	if !ok {
		return nil, huma.Error404NotFound("map not found")
	}
	sw, ok := w.(*mapview.StyleWidget)
	if !ok {
		return nil, huma.Error409Conflict("map does not accept load notifications")
	}
	if !sw.MarkSourceLoaded(input.SourceID) {
		return nil, huma.Error404NotFound("source not found")
	}
	return message("Source loaded"), nil
}

func (h *MapHandler) WaitSourceLoaded(ctx context.Context, input *struct {
	SourceInput
	TimeoutMS int `query:"timeoutMs" default:"10000" minimum:"1" maximum:"60000" doc:"Maximum wait in milliseconds"`
}) (*messageOutput, error) {
	ctx, cancel := context.WithTimeout(ctx, time.Duration(input.TimeoutMS)*time.Millisecond)
	defer cancel()
	if err := h.svc.View(ctx).WaitSourceLoaded(ctx, input.MapID, input.SourceID); err != nil {
		return nil, humaError(err)
	}
	return message("Source loaded"), nil
}

// PopupBody is the open popup and its rendered fragment.
type PopupBody struct {
	service.PopupData
	HTML string `json:"html" doc:"Rendered popup fragment"`
}

func (b PopupBody) Actions() []humastar.Action {
	return []humastar.Action{{Rel: "close", Href: "/api/v1/popup", Method: http.MethodDelete, Title: "Close popup"}}
}

func (h *MapHandler) GetPopup(ctx context.Context, input *struct{}) (*struct{ Body PopupBody }, error) {
	data, ok := h.svc.View(ctx).Popup()
	if !ok {
		return nil, huma.Error404NotFound("no popup open")
	}
	html, _ := h.svc.View(ctx).PopupHTML()
	return &struct{ Body PopupBody }{Body: PopupBody{PopupData: data, HTML: html}}, nil
}

func (h *MapHandler) ClosePopup(ctx context.Context, input *struct{}) (*messageOutput, error) {
	if !h.svc.View(ctx).ClosePopup() {
		return message("No popup open"), nil
	}
	return message("Popup closed"), nil
}

type DataTypeSelection struct {
	DataType service.DataType `json:"dataType" enum:"plantability,vulnerability,lcz,plantability_vulnerability" doc:"Data type to display"`
}

func (h *MapHandler) ChangeDataType(ctx context.Context, input *struct{ Body DataTypeSelection }) (*StateOutput, error) {
	if err := h.svc.View(ctx).ChangeDataType(input.Body.DataType); err != nil {
		return nil, humaError(err)
	}
	return &StateOutput{Body: h.svc.View(ctx).State()}, nil
}

type VulnerabilityModeBody struct {
	Mode service.VulnerabilityMode `json:"mode" enum:"day,night" doc:"Vulnerability index to show"`
}

func (h *MapHandler) SetVulnerabilityMode(ctx context.Context, input *struct{ Body VulnerabilityModeBody }) (*StateOutput, error) {
	h.svc.View(ctx).SetVulnerabilityMode(input.Body.Mode)
	return &StateOutput{Body: h.svc.View(ctx).State()}, nil
}
