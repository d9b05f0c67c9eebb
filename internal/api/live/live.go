// Package live streams map view changes to the browser as Datastar SSE and
// accepts Datastar actions.
package live

import (
	"context"
	"errors"
	"strconv"

	"github.com/danielgtaylor/huma/v2"
	"go.uber.org/zap"

	"github.com/joeblew999/plat-canopy/internal/humastar"
	"github.com/joeblew999/plat-canopy/internal/mapview"
	"github.com/joeblew999/plat-canopy/internal/service"
	"github.com/joeblew999/plat-canopy/internal/session"
	"github.com/joeblew999/plat-canopy/internal/templates"
)

// Selectors of the page elements the stream patches.
const (
	PopupSelector = "#" + mapview.DefaultPopupAnchor
	ToastSelector = "#toasts"
)

// Handler streams coordinator events: popup fragments, toasts and state
// signals. Requests with a browser session are served by that session's
// view; maps serves the rest.
type Handler struct {
	humastar.Handler
	maps   *mapview.Coordinator
	logger *zap.Logger
}

// New creates a live handler.
func New(maps *mapview.Coordinator, renderer *templates.Renderer, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		Handler: humastar.Handler{Renderer: renderer},
		maps:    maps,
		logger:  logger.Named("live"),
	}
}

func (h *Handler) RegisterRoutes(api huma.API) {
	tags := huma.OperationTags("live")
	huma.Get(api, "/api/v1/live", h.Events, tags)
	huma.Post(api, "/api/v1/live/click", h.Click, tags)
	huma.Post(api, "/api/v1/live/data-type", h.ChangeDataType, tags)
	huma.Post(api, "/api/v1/live/filters/toggle", h.ToggleFilter, tags)
	huma.Delete(api, "/api/v1/live/popup", h.ClosePopup, tags)
}

// view returns the caller's session view, or the default one.
func (h *Handler) view(ctx context.Context) *mapview.Coordinator {
	if c, ok := session.FromContext(ctx); ok {
		return c
	}
	return h.maps
}

// Events sends the current popup, state and toasts, then one patch per
// coordinator event until the client goes away. Each stream keeps its own
// toast cursor, so every open page sees every toast.
func (h *Handler) Events(ctx context.Context, input *humastar.EmptyInput) (*huma.StreamResponse, error) {
	maps := h.view(ctx)
	return h.Stream(func(sse humastar.SSE) {
		ch := maps.Bus().Subscribe()
		defer maps.Bus().Unsubscribe(ch)

		h.sendPopup(sse, maps)
		h.sendState(sse, maps)
		seen := h.sendToasts(sse, maps, 0)

		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-ch:
				if !ok {
					return
				}
				switch ev.Resource {
				case "popup":
					h.sendPopup(sse, maps)
				case "toasts":
					seen = h.sendToasts(sse, maps, seen)
				default:
					h.sendState(sse, maps)
				}
				sse.DispatchCustomEvent("map-changed", map[string]any{
					"resource": ev.Resource,
					"action":   ev.Action,
					"id":       ev.ID,
				})
			}
		}
	}), nil
}

func (h *Handler) sendPopup(sse humastar.SSE, maps *mapview.Coordinator) {
	if html, ok := maps.PopupHTML(); ok && html != "" {
		sse.Replace(html, PopupSelector)
		return
	}
	sse.Replace(h.Render("empty-state", nil), PopupSelector)
}

// sendToasts patches the toasts newer than seen and returns the new cursor.
func (h *Handler) sendToasts(sse humastar.SSE, maps *mapview.Coordinator, seen uint64) uint64 {
	toasts, next := maps.Toasts().Since(seen)
	if len(toasts) > 0 {
		sse.Replace(h.Render("toasts", toasts), ToastSelector)
	}
	return next
}

// sendState patches the view signals. Revisions let the page refetch only
// the style documents that changed.
func (h *Handler) sendState(sse humastar.SSE, maps *mapview.Coordinator) {
	st := maps.State()
	revisions := make(map[string]any, len(st.Maps))
	for _, id := range st.Maps {
		if doc, err := maps.Style(id); err == nil {
			revisions[id] = doc.Metadata.Revision
		}
	}
	sse.Signals(map[string]any{
		"dataType":          st.DataType,
		"vulnerabilityMode": st.VulnerabilityMode,
		"filters":           maps.Filters().Values(st.DataType),
		"revisions":         revisions,
		"popupOpen":         st.Popup != nil,
	})
}

// Click resolves a map click sent as signals {mapId, lat, lng, zoom}.
func (h *Handler) Click(ctx context.Context, input *humastar.SignalsInput) (*huma.StreamResponse, error) {
	signals, err := input.MustParse()
	if err != nil {
		return nil, err
	}
	mapID := signals.String("mapId")
	if mapID == "" {
		return nil, huma.Error400BadRequest("mapId is required")
	}
	if !signals.Has("lat") || !signals.Has("lng") {
		return nil, huma.Error400BadRequest("lat and lng are required")
	}
	at := service.Coordinates{Lat: signals.Float("lat"), Lng: signals.Float("lng")}
	zoom := signals.Int("zoom")
	maps := h.view(ctx)

	return h.Stream(func(sse humastar.SSE) {
		_, err := maps.Click(ctx, mapID, at, zoom)
		switch {
		case errors.Is(err, mapview.ErrNoFeature):
			maps.ClosePopup()
			sse.Replace(h.Render("empty-state", "Nothing to show here."), PopupSelector)
		case err != nil:
			h.logger.Warn("click", zap.String("map", mapID), zap.Error(err))
			sse.Error(err.Error())
		default:
			h.sendPopup(sse, maps)
		}
	}), nil
}

// ChangeDataType switches the data type sent as signals {dataType}.
func (h *Handler) ChangeDataType(ctx context.Context, input *humastar.SignalsInput) (*huma.StreamResponse, error) {
	signals, err := input.MustParse()
	if err != nil {
		return nil, err
	}
	dt, err := service.ParseDataType(signals.String("dataType"))
	if err != nil {
		return nil, huma.Error422UnprocessableEntity(err.Error())
	}
	maps := h.view(ctx)
	return h.Stream(func(sse humastar.SSE) {
		if err := maps.ChangeDataType(dt); err != nil {
			sse.Error(err.Error())
			return
		}
		h.sendPopup(sse, maps)
		h.sendState(sse, maps)
	}), nil
}

// ToggleFilter flips the value sent as signals {filterValue}.
func (h *Handler) ToggleFilter(ctx context.Context, input *humastar.SignalsInput) (*huma.StreamResponse, error) {
	signals, err := input.MustParse()
	if err != nil {
		return nil, err
	}
	value := signalText(signals, "filterValue")
	if value == "" {
		return nil, huma.Error400BadRequest("filterValue is required")
	}
	maps := h.view(ctx)
	return h.Stream(func(sse humastar.SSE) {
		if err := maps.ToggleFilter(value); err != nil {
			sse.Error(err.Error())
			return
		}
		h.sendState(sse, maps)
	}), nil
}

func (h *Handler) ClosePopup(ctx context.Context, input *humastar.EmptyInput) (*huma.StreamResponse, error) {
	maps := h.view(ctx)
	return h.Stream(func(sse humastar.SSE) {
		maps.ClosePopup()
		h.sendPopup(sse, maps)
	}), nil
}

// signalText reads a signal bound to either a text or a number input.
func signalText(s humastar.Signals, key string) string {
	switch v := s[key].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	return ""
}
