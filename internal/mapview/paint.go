package mapview

import (
	"fmt"
	"strings"

	"github.com/joeblew999/plat-canopy/internal/expr"
	"github.com/joeblew999/plat-canopy/internal/service"
)

// TileURL is the vector tile template for dt under base.
func TileURL(base string, dt service.DataType) string {
	return fmt.Sprintf("%s/tiles/%s/%s/{z}/{x}/{y}.mvt",
		strings.TrimRight(base, "/"), dt.Info().GeoLevel, dt)
}

// scoreScale runs from low (red) to high (green) plantability.
var scoreScale = []expr.Stop{
	{Input: 0, Output: "#c4041d"},
	{Input: 2, Output: "#e4522b"},
	{Input: 4, Output: "#f2b440"},
	{Input: 6, Output: "#c5d96d"},
	{Input: 8, Output: "#65b355"},
	{Input: 10, Output: "#0d6e3d"},
}

// vulnerabilityScale runs from low (pale) to high (dark red) vulnerability.
var vulnerabilityScale = []expr.Stop{
	{Input: 1, Output: "#fff5eb"},
	{Input: 3, Output: "#fdbe85"},
	{Input: 5, Output: "#fd8d3c"},
	{Input: 7, Output: "#d94701"},
	{Input: 9, Output: "#8c2d04"},
}

// lczColors follows the WUDAPT local climate zone palette.
var lczColors = []expr.Stop{
	{Input: "1", Output: "#8c0000"},
	{Input: "2", Output: "#d10000"},
	{Input: "3", Output: "#ff0000"},
	{Input: "4", Output: "#bf4d00"},
	{Input: "5", Output: "#ff6600"},
	{Input: "6", Output: "#ff9955"},
	{Input: "7", Output: "#faee05"},
	{Input: "8", Output: "#bcbcbc"},
	{Input: "9", Output: "#ffccaa"},
	{Input: "10", Output: "#555555"},
	{Input: "A", Output: "#006a00"},
	{Input: "B", Output: "#00aa00"},
	{Input: "C", Output: "#648525"},
	{Input: "D", Output: "#b9db79"},
	{Input: "E", Output: "#000000"},
	{Input: "F", Output: "#fbf7ae"},
	{Input: "G", Output: "#6a6aff"},
}

// colorRelief is the data-driven color expression for dt, used when the
// layer is drawn in COLOR_RELIEF mode instead of reading the baked color.
func colorRelief(dt service.DataType, mode service.VulnerabilityMode) *expr.Expr {
	switch dt.Info().Domain {
	case service.DomainZones:
		return expr.Match(expr.Get("lcz"), "#cccccc", lczColors...)
	case service.DomainVulnerability:
		return expr.Interpolate(expr.Get(mode.Attribute()), vulnerabilityScale...)
	}
	return expr.Interpolate(expr.Get("indice"), scoreScale...)
}

// layerSpec builds the style layer for a registry entry.
func layerSpec(l service.LayerConfig, mode service.VulnerabilityMode) Layer {
	spec := Layer{
		ID:          service.LayerID(l.DataType, l.RenderMode),
		Source:      service.SourceID(l.DataType),
		SourceLayer: string(l.DataType),
		Layout:      map[string]any{"visibility": visibility(l.Visible)},
	}
	switch l.RenderMode {
	case service.RenderSymbol:
		spec.Type = "circle"
		spec.Paint = map[string]any{
			"circle-color":   expr.Get("color"),
			"circle-radius":  4,
			"circle-opacity": l.Opacity,
		}
	case service.RenderColorRelief:
		spec.Type = "fill"
		spec.Paint = map[string]any{
			"fill-color":   colorRelief(l.DataType, mode),
			"fill-opacity": l.Opacity,
		}
	default:
		spec.Type = "fill"
		spec.Paint = map[string]any{
			"fill-color":   expr.Get("color"),
			"fill-opacity": l.Opacity,
		}
	}
	return spec
}

// opacityProperty is the paint property carrying a layer's opacity.
func opacityProperty(mode service.RenderMode) string {
	if mode == service.RenderSymbol {
		return "circle-opacity"
	}
	return "fill-opacity"
}

func visibility(visible bool) string {
	if visible {
		return "visible"
	}
	return "none"
}

// featureIndex extracts the indicator value shown in the popup.
func featureIndex(dt service.DataType, mode service.VulnerabilityMode, props map[string]any) (float64, string) {
	switch dt.Info().Domain {
	case service.DomainZones:
		return 0, fmt.Sprint(props["lcz"])
	case service.DomainVulnerability:
		return toFloat(props[mode.Attribute()]), ""
	}
	return toFloat(props["indice"]), ""
}

func toFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case uint64:
		return float64(n)
	}
	return 0
}
