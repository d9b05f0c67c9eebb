// Package service contains the map-view state for plat-canopy: the layer
// registry, the filter registry and the data type catalogue they share.
package service

import (
	"errors"
	"fmt"
)

// ErrUnknownDataType is returned when parsing an unsupported data type.
var ErrUnknownDataType = errors.New("unknown data type")

// ErrUnknownRenderMode is returned when parsing an unsupported render mode.
var ErrUnknownRenderMode = errors.New("unknown render mode")

// DataType is an indicator dataset that can be shown on the map.
type DataType string

const (
	Plantability              DataType = "plantability"
	Vulnerability             DataType = "vulnerability"
	LocalClimateZone          DataType = "lcz"
	PlantabilityVulnerability DataType = "plantability_vulnerability"
)

// DataTypes lists every supported data type in display order.
var DataTypes = []DataType{Plantability, Vulnerability, LocalClimateZone, PlantabilityVulnerability}

// ParseDataType validates s as a DataType.
func ParseDataType(s string) (DataType, error) {
	for _, dt := range DataTypes {
		if string(dt) == s {
			return dt, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownDataType, s)
}

// GeoLevel is the spatial granularity a data type is served at.
type GeoLevel string

const (
	GeoLevelTile GeoLevel = "tile"
	GeoLevelLCZ  GeoLevel = "lcz"
)

// FilterDomain names the selection set a data type filters with.
type FilterDomain string

const (
	DomainScores        FilterDomain = "scores"
	DomainZones         FilterDomain = "zones"
	DomainVulnerability FilterDomain = "vulnerability"
)

// DataTypeInfo describes how a data type is served and drawn.
type DataTypeInfo struct {
	GeoLevel    GeoLevel
	Domain      FilterDomain
	Attribution string
	// MinZoom/MaxZoom bound the vector tiles the backend serves.
	MinZoom int
	MaxZoom int
}

var dataTypeInfo = map[DataType]DataTypeInfo{
	Plantability: {
		GeoLevel:    GeoLevelTile,
		Domain:      DomainScores,
		Attribution: "Plantability index: Métropole de Lyon, Cerema",
		MinZoom:     11,
		MaxZoom:     18,
	},
	Vulnerability: {
		GeoLevel:    GeoLevelTile,
		Domain:      DomainVulnerability,
		Attribution: "Heat vulnerability: Métropole de Lyon, ERASME",
		MinZoom:     10,
		MaxZoom:     18,
	},
	LocalClimateZone: {
		GeoLevel:    GeoLevelLCZ,
		Domain:      DomainZones,
		Attribution: "Local climate zones: Cerema",
		MinZoom:     9,
		MaxZoom:     16,
	},
	PlantabilityVulnerability: {
		GeoLevel:    GeoLevelTile,
		Domain:      DomainScores,
		Attribution: "Plantability: Cerema; vulnerability: ERASME",
		MinZoom:     11,
		MaxZoom:     18,
	},
}

// Info returns the catalogue entry for dt.
func (dt DataType) Info() DataTypeInfo {
	return dataTypeInfo[dt]
}

// Valid reports whether dt is a known data type.
func (dt DataType) Valid() bool {
	_, ok := dataTypeInfo[dt]
	return ok
}

// PlantabilityFamily reports whether dt draws plantability scores.
func (dt DataType) PlantabilityFamily() bool {
	return dt == Plantability || dt == PlantabilityVulnerability
}

// RenderMode is how a layer's values are drawn.
type RenderMode string

const (
	RenderFill        RenderMode = "fill"
	RenderSymbol      RenderMode = "symbol"
	RenderColorRelief RenderMode = "color-relief"
)

// RenderModes lists every render mode.
var RenderModes = []RenderMode{RenderFill, RenderSymbol, RenderColorRelief}

// ParseRenderMode validates s as a RenderMode. An empty string is FILL.
func ParseRenderMode(s string) (RenderMode, error) {
	if s == "" {
		return RenderFill, nil
	}
	for _, m := range RenderModes {
		if string(m) == s {
			return m, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownRenderMode, s)
}

// VulnerabilityMode selects which vulnerability index is shown.
type VulnerabilityMode string

const (
	VulnerabilityDay   VulnerabilityMode = "day"
	VulnerabilityNight VulnerabilityMode = "night"
)

// Attribute returns the feature property holding the index for mode.
func (m VulnerabilityMode) Attribute() string {
	if m == VulnerabilityNight {
		return "indice_night"
	}
	return "indice_day"
}

// LayerKey identifies a layer by data type and render mode.
type LayerKey struct {
	DataType   DataType
	RenderMode RenderMode
}

// LayerConfig represents one rendered data layer.
type LayerConfig struct {
	DataType   DataType   `json:"dataType" enum:"plantability,vulnerability,lcz,plantability_vulnerability" doc:"Data type" example:"plantability"`
	Visible    bool       `json:"visible" doc:"Whether the layer is drawn"`
	Opacity    float64    `json:"opacity" minimum:"0" maximum:"1" doc:"Layer opacity (0-1)" example:"0.7"`
	ZIndex     int        `json:"zIndex" doc:"Stacking order, higher draws on top" example:"100"`
	Filters    []string   `json:"filters" doc:"Selected filter values for this layer"`
	RenderMode RenderMode `json:"renderMode" enum:"fill,symbol,color-relief" doc:"Render mode" example:"fill"`
}

// Key returns the identity of l.
func (l LayerConfig) Key() LayerKey {
	return LayerKey{DataType: l.DataType, RenderMode: l.RenderMode}
}

// LayerID is the map-widget layer id for a data type drawn in mode.
func LayerID(dt DataType, mode RenderMode) string {
	return fmt.Sprintf("%s-%s-layer", dt, mode)
}

// SourceID is the map-widget source id for a data type.
func SourceID(dt DataType) string {
	return string(dt) + "-source"
}

// Coordinates is a WGS84 position.
type Coordinates struct {
	Lat float64 `json:"lat" minimum:"-90" maximum:"90" doc:"Latitude" example:"45.764"`
	Lng float64 `json:"lng" minimum:"-180" maximum:"180" doc:"Longitude" example:"4.8357"`
}

// PopupData is the payload of the map popup.
type PopupData struct {
	FeatureID   string         `json:"featureId" doc:"Clicked feature id"`
	DataType    DataType       `json:"dataType" doc:"Data type of the clicked layer"`
	Coordinates Coordinates    `json:"coordinates" doc:"Clicked position"`
	Index       float64        `json:"index" doc:"Indicator value of the feature"`
	Zone        string         `json:"zone,omitempty" doc:"Local climate zone code, for lcz features"`
	Details     map[string]any `json:"details,omitempty" doc:"Tile details from the backend, filled asynchronously"`
}
