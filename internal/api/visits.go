package api

import (
	"context"

	"github.com/danielgtaylor/huma/v2"

	"github.com/joeblew999/plat-canopy/internal/store"
)

// VisitHandler tracks whether a client has seen the welcome screen.
type VisitHandler struct {
	store *store.Store
}

func NewVisitHandler(svc *Services) *VisitHandler {
	return &VisitHandler{store: svc.Store}
}

func (h *VisitHandler) RegisterRoutes(api huma.API) {
	huma.Post(api, "/api/v1/visits", h.RecordVisit, huma.OperationTags("visits"))
	huma.Get(api, "/api/v1/visits/{clientId}", h.GetVisit, huma.OperationTags("visits"))
}

type VisitBody struct {
	ClientID string `json:"clientId" format:"uuid" doc:"Client identifier kept by the browser"`
}

func (h *VisitHandler) RecordVisit(ctx context.Context, input *struct{ Body VisitBody }) (*struct{ Body store.Visit }, error) {
	if h.store == nil {
		return nil, huma.Error503ServiceUnavailable("Database not available")
	}
	v, err := h.store.RecordVisit(ctx, input.Body.ClientID)
	if err != nil {
		return nil, humaError(err)
	}
	return &struct{ Body store.Visit }{Body: v}, nil
}

type VisitedBody struct {
	ClientID         string `json:"clientId" doc:"Client identifier"`
	HasVisitedBefore bool   `json:"hasVisitedBefore" doc:"Whether the client has a recorded visit"`
}

func (h *VisitHandler) GetVisit(ctx context.Context, input *struct {
	ClientID string `path:"clientId" doc:"Client identifier"`
}) (*struct{ Body VisitedBody }, error) {
	if h.store == nil {
		return nil, huma.Error503ServiceUnavailable("Database not available")
	}
	seen, err := h.store.HasVisited(ctx, input.ClientID)
	if err != nil {
		return nil, humaError(err)
	}
	return &struct{ Body VisitedBody }{Body: VisitedBody{ClientID: input.ClientID, HasVisitedBefore: seen}}, nil
}
