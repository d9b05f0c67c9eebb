// Package api defines the Huma API routes and handlers.
package api

import (
	"context"
	"errors"

	"github.com/danielgtaylor/huma/v2"
	"go.uber.org/zap"

	"github.com/joeblew999/plat-canopy/internal/apiclient"
	"github.com/joeblew999/plat-canopy/internal/config"
	"github.com/joeblew999/plat-canopy/internal/mapview"
	"github.com/joeblew999/plat-canopy/internal/service"
	"github.com/joeblew999/plat-canopy/internal/session"
	"github.com/joeblew999/plat-canopy/internal/store"
	"github.com/joeblew999/plat-canopy/internal/tiles"
)

// Version is reported by the health and info endpoints.
const Version = "0.1.0"

// Services holds the dependencies of the API handlers. Only Maps is
// required; handlers for a nil dependency degrade or answer 503.
//
// Maps is the view of callers without a browser session. Requests that
// carry one are served by their own view, see View.
type Services struct {
	Maps     *mapview.Coordinator
	Backend  *apiclient.Client
	Store    *store.Store
	Shared   *config.Shared
	Archives *tiles.Archives
	Logger   *zap.Logger
	DataDir  string
}

// View returns the map view of the caller.
func (s *Services) View(ctx context.Context) *mapview.Coordinator {
	if c, ok := session.FromContext(ctx); ok {
		return c
	}
	return s.Maps
}

func (s *Services) logger() *zap.Logger {
	if s.Logger == nil {
		return zap.NewNop()
	}
	return s.Logger
}

// RegisterRoutes registers every REST handler on api. The backend handler
// is returned so the caller can preload reference data.
func RegisterRoutes(api huma.API, svc *Services) *BackendHandler {
	backend := NewBackendHandler(svc)
	registrars := []interface{ RegisterRoutes(huma.API) }{
		NewInfoHandler(svc),
		NewMapHandler(svc),
		NewLayerHandler(svc),
		NewFilterHandler(svc),
		backend,
		NewConfigHandler(svc),
		NewFeedbackHandler(svc),
		NewVisitHandler(svc),
		NewRouteHandler(),
		NewDBHandler(svc.Store),
	}
	for _, r := range registrars {
		r.RegisterRoutes(api)
	}
	return backend
}

// MessageBody is a plain acknowledgement.
type MessageBody struct {
	Message string `json:"message" doc:"Result message"`
}

type messageOutput struct {
	Body MessageBody
}

func message(msg string) *messageOutput {
	return &messageOutput{Body: MessageBody{Message: msg}}
}

// DataTypeInput selects a data type in the path.
type DataTypeInput struct {
	DataType service.DataType `path:"dataType" enum:"plantability,vulnerability,lcz,plantability_vulnerability" doc:"Data type" example:"plantability"`
}

// MapIDInput selects a map widget in the path.
type MapIDInput struct {
	MapID string `path:"mapId" minLength:"1" maxLength:"64" doc:"Map widget id" example:"main"`
}

// humaError maps domain errors to HTTP errors.
func humaError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, mapview.ErrMapNotFound), errors.Is(err, mapview.ErrNoFeature):
		return huma.Error404NotFound(err.Error())
	case errors.Is(err, mapview.ErrMapExists):
		return huma.Error409Conflict(err.Error())
	case errors.Is(err, service.ErrUnknownDataType),
		errors.Is(err, service.ErrUnknownRenderMode),
		errors.Is(err, service.ErrInvalidFilterValue),
		errors.Is(err, store.ErrInvalid):
		return huma.Error422UnprocessableEntity(err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return huma.Error504GatewayTimeout(err.Error())
	}
	return huma.Error500InternalServerError(err.Error())
}
