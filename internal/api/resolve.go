package api

import (
	"context"

	"github.com/danielgtaylor/huma/v2"

	"github.com/joeblew999/plat-canopy/internal/route"
)

// RouteHandler resolves map deep links.
type RouteHandler struct{}

func NewRouteHandler() *RouteHandler {
	return &RouteHandler{}
}

func (h *RouteHandler) RegisterRoutes(api huma.API) {
	huma.Get(api, "/api/v1/routes/resolve", h.Resolve, huma.OperationTags("routes"))
}

type ResolveBody struct {
	View     route.View `json:"view" doc:"Map view encoded by the link"`
	Path     string     `json:"path" doc:"Canonical link path" example:"/plantability/14/45.764/4.8357"`
	Redirect bool       `json:"redirect" doc:"Whether the input should redirect to the canonical path"`
}

func (h *RouteHandler) Resolve(ctx context.Context, input *struct {
	Path string `query:"path" required:"true" doc:"Link path" example:"/14/45.764/4.8357"`
}) (*struct{ Body ResolveBody }, error) {
	res, err := route.Parse(input.Path)
	if err != nil {
		return nil, huma.Error422UnprocessableEntity(err.Error())
	}
	return &struct{ Body ResolveBody }{Body: ResolveBody{
		View: res.View, Path: res.View.Path(), Redirect: res.Redirect,
	}}, nil
}
