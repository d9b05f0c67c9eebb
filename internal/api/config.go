package api

import (
	"context"

	"github.com/danielgtaylor/huma/v2"

	"github.com/joeblew999/plat-canopy/internal/config"
)

type ConfigHandler struct {
	shared *config.Shared
}

func NewConfigHandler(svc *Services) *ConfigHandler {
	shared := svc.Shared
	if shared == nil {
		shared = config.Default()
	}
	return &ConfigHandler{shared: shared}
}

func (h *ConfigHandler) RegisterRoutes(api huma.API) {
	huma.Get(api, "/api/v1/config", h.GetConfig, huma.OperationTags("config"))
}

type ConfigBody struct {
	config.Shared
	ZoneCodes []string `json:"zoneCodes" doc:"Local climate zone codes in legend order"`
}

func (h *ConfigHandler) GetConfig(ctx context.Context, input *struct{}) (*struct{ Body ConfigBody }, error) {
	return &struct{ Body ConfigBody }{Body: ConfigBody{
		Shared:    *h.shared,
		ZoneCodes: h.shared.ZoneCodes(),
	}}, nil
}
