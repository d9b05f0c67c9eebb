// Package mapview binds the layer and filter registries to map widgets and
// manages the single open popup.
//
// Widgets are reached only through the [Widget] interface, so the
// coordinator can drive a real rendering surface, the in-memory
// [StyleWidget] served to browsers, or a test double.
package mapview

import (
	"errors"

	"github.com/joeblew999/plat-canopy/internal/expr"
	"github.com/joeblew999/plat-canopy/internal/service"
)

var (
	// ErrMapNotFound is returned for an unknown map id.
	ErrMapNotFound = errors.New("map not found")
	// ErrMapExists is returned when initialising a map id twice.
	ErrMapExists = errors.New("map already initialised")
	// ErrNoFeature is returned when a click hits no rendered feature.
	ErrNoFeature = errors.New("no feature at position")
	// ErrLayerNotFound is returned by widgets for an unknown layer id.
	ErrLayerNotFound = errors.New("layer not found")
	// ErrSourceExists is returned by widgets when adding a source twice.
	ErrSourceExists = errors.New("source already exists")
)

// Source is a vector tile source.
type Source struct {
	Type        string   `json:"type"`
	Tiles       []string `json:"tiles"`
	MinZoom     int      `json:"minzoom,omitempty"`
	MaxZoom     int      `json:"maxzoom,omitempty"`
	Attribution string   `json:"attribution,omitempty"`
}

// Layer is a style layer bound to a source.
type Layer struct {
	ID          string         `json:"id"`
	Type        string         `json:"type"`
	Source      string         `json:"source"`
	SourceLayer string         `json:"source-layer,omitempty"`
	Paint       map[string]any `json:"paint,omitempty"`
	Layout      map[string]any `json:"layout,omitempty"`
	Filter      *expr.Expr     `json:"filter,omitempty"`
}

// ControlKind names a map control.
type ControlKind string

const (
	ControlAttribution ControlKind = "attribution"
	ControlNavigation  ControlKind = "navigation"
)

// Control is a map UI control.
type Control struct {
	Kind ControlKind `json:"kind"`
	// Text is the attribution text; empty for other controls.
	Text string `json:"text,omitempty"`
}

// Feature is a rendered map feature.
type Feature struct {
	ID         string         `json:"id"`
	Properties map[string]any `json:"properties"`
}

// ClickEvent is a click on a rendered layer.
type ClickEvent struct {
	LayerID string
	Feature Feature
	LngLat  service.Coordinates
}

// ClickHandler reacts to clicks on a layer.
type ClickHandler func(ClickEvent)

// Popup is the content attached to a widget's popup anchor.
type Popup struct {
	Anchor string              `json:"anchor"`
	LngLat service.Coordinates `json:"lngLat"`
	HTML   string              `json:"html"`
	Data   service.PopupData   `json:"data"`
}

// MapOptions is the initial state of a new widget.
type MapOptions struct {
	Center   service.Coordinates
	Zoom     float64
	StyleURL string
}

// Widget is the adapter over a mapping library. Only the coordinator calls
// its mutating methods. Implementations must be safe for concurrent use.
type Widget interface {
	service.FilterTarget

	ID() string
	// OnStyleReady runs fn once the style document is ready, immediately if
	// it already is.
	OnStyleReady(fn func())

	AddSource(id string, src Source) error
	RemoveSource(id string)
	HasSource(id string) bool
	IsSourceLoaded(id string) bool

	// AddLayer inserts layer below beforeID, or on top when beforeID is empty.
	AddLayer(layer Layer, beforeID string) error
	RemoveLayer(id string)
	MoveLayer(id, beforeID string) error
	SetPaintProperty(layerID, name string, value any) error
	SetVisibility(layerID string, visible bool) error

	AddControl(c Control)
	RemoveControl(kind ControlKind)

	OnClick(layerID string, fn ClickHandler)

	// PopupAnchor returns the element id popups attach to.
	PopupAnchor() (string, bool)
	AttachPopup(p Popup)
	DetachPopup()
}

// ClickDispatcher is implemented by widgets whose clicks arrive from outside
// the mapping library, such as browser clicks relayed over HTTP.
type ClickDispatcher interface {
	DispatchClick(ev ClickEvent) bool
}

// WidgetFactory creates widgets bound to a container id.
type WidgetFactory interface {
	NewWidget(mapID string, opts MapOptions) (Widget, error)
}

// WidgetFactoryFunc adapts a function to WidgetFactory.
type WidgetFactoryFunc func(mapID string, opts MapOptions) (Widget, error)

// NewWidget calls f.
func (f WidgetFactoryFunc) NewWidget(mapID string, opts MapOptions) (Widget, error) {
	return f(mapID, opts)
}
