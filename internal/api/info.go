package api

import (
	"context"

	"github.com/danielgtaylor/huma/v2"

	"github.com/joeblew999/plat-canopy/internal/service"
)

type InfoHandler struct {
	svc *Services
}

func NewInfoHandler(svc *Services) *InfoHandler {
	return &InfoHandler{svc: svc}
}

func (h *InfoHandler) RegisterRoutes(api huma.API) {
	huma.Get(api, "/health", h.GetHealth, huma.OperationTags("health"))
	huma.Get(api, "/api/v1/info", h.GetInfo, huma.OperationTags("health"))
}

type HealthBody struct {
	Status  string `json:"status" doc:"Health status" example:"ok"`
	Version string `json:"version" doc:"API version" example:"0.1.0"`
}

// DataTypeBody describes how a data type is served.
type DataTypeBody struct {
	Name        service.DataType     `json:"name" doc:"Data type"`
	GeoLevel    service.GeoLevel     `json:"geoLevel" doc:"Tile granularity"`
	Domain      service.FilterDomain `json:"filterDomain" doc:"Filter selection set"`
	Attribution string               `json:"attribution" doc:"Data attribution"`
	MinZoom     int                  `json:"minZoom" doc:"Lowest served zoom"`
	MaxZoom     int                  `json:"maxZoom" doc:"Highest served zoom"`
}

type InfoBody struct {
	Name      string             `json:"name" doc:"Service name"`
	Version   string             `json:"version" doc:"Service version"`
	DataDir   string             `json:"data_dir" doc:"Data directory path"`
	DB        bool               `json:"db" doc:"Whether the database is available"`
	Backend   string             `json:"backend,omitempty" doc:"Indicator backend base URL"`
	DataTypes []DataTypeBody     `json:"dataTypes" doc:"Supported data types"`
	Archives  []service.DataType `json:"archives" doc:"Data types served from local tile archives"`
	Features  []string           `json:"features" doc:"Available features"`
}

func (h *InfoHandler) GetHealth(ctx context.Context, input *struct{}) (*struct{ Body HealthBody }, error) {
	return &struct{ Body HealthBody }{Body: HealthBody{Status: "ok", Version: Version}}, nil
}

func (h *InfoHandler) GetInfo(ctx context.Context, input *struct{}) (*struct{ Body InfoBody }, error) {
	body := InfoBody{
		Name:      "plat-canopy",
		Version:   Version,
		DataDir:   h.svc.DataDir,
		DB:        h.svc.Store != nil,
		DataTypes: make([]DataTypeBody, 0, len(service.DataTypes)),
		Archives:  []service.DataType{},
		Features:  []string{"maps", "layers", "filters", "live"},
	}
	for _, dt := range service.DataTypes {
		info := dt.Info()
		body.DataTypes = append(body.DataTypes, DataTypeBody{
			Name:        dt,
			GeoLevel:    info.GeoLevel,
			Domain:      info.Domain,
			Attribution: info.Attribution,
			MinZoom:     info.MinZoom,
			MaxZoom:     info.MaxZoom,
		})
	}
	if h.svc.Backend != nil {
		body.Backend = h.svc.Backend.BaseURL()
		body.Features = append(body.Features, "backend")
	}
	if h.svc.Store != nil {
		body.Features = append(body.Features, "duckdb")
	}
	if h.svc.Archives != nil {
		body.Archives = h.svc.Archives.Available()
		body.Features = append(body.Features, "pmtiles")
	}
	return &struct{ Body InfoBody }{Body: body}, nil
}
