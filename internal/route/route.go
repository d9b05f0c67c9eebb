// Package route parses and formats the deep links that encode map state as
// /{dataType}/{zoom}/{lat}/{lng}.
package route

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/joeblew999/plat-canopy/internal/service"
)

// ErrInvalidRoute is returned for paths that do not encode a map view.
var ErrInvalidRoute = errors.New("invalid map route")

// Zoom bounds accepted in links.
const (
	MinZoom = 0
	MaxZoom = 22
)

// View is the map state a link encodes.
type View struct {
	DataType service.DataType `json:"dataType" doc:"Displayed data type" example:"plantability"`
	Zoom     float64          `json:"zoom" minimum:"0" maximum:"22" doc:"Map zoom" example:"14"`
	Lat      float64          `json:"lat" minimum:"-90" maximum:"90" doc:"Center latitude" example:"45.764"`
	Lng      float64          `json:"lng" minimum:"-180" maximum:"180" doc:"Center longitude" example:"4.8357"`
}

// Center returns the view center.
func (v View) Center() service.Coordinates {
	return service.Coordinates{Lat: v.Lat, Lng: v.Lng}
}

// Path formats v as a link path.
func (v View) Path() string {
	return fmt.Sprintf("/%s/%s/%s/%s", v.DataType, format(v.Zoom, 2), format(v.Lat, 6), format(v.Lng, 6))
}

// Resolution is the outcome of parsing a path.
type Resolution struct {
	View View
	// Redirect is set when the path is a legacy form that should be
	// redirected to View.Path().
	Redirect bool
}

// Parse resolves a link path. The bare form /{zoom}/{lat}/{lng} resolves to
// the plantability view and asks for a redirect.
func Parse(path string) (Resolution, error) {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	switch len(parts) {
	case 3:
		v, err := parseView(service.Plantability, parts)
		if err != nil {
			return Resolution{}, err
		}
		return Resolution{View: v, Redirect: true}, nil
	case 4:
		dt, err := service.ParseDataType(parts[0])
		if err != nil {
			return Resolution{}, fmt.Errorf("%w: %w", ErrInvalidRoute, err)
		}
		v, err := parseView(dt, parts[1:])
		if err != nil {
			return Resolution{}, err
		}
		return Resolution{View: v}, nil
	}
	return Resolution{}, fmt.Errorf("%w: %q", ErrInvalidRoute, path)
}

func parseView(dt service.DataType, parts []string) (View, error) {
	var nums [3]float64
	for i, p := range parts {
		n, err := strconv.ParseFloat(p, 64)
		if err != nil {
			return View{}, fmt.Errorf("%w: %q is not a number", ErrInvalidRoute, p)
		}
		nums[i] = n
	}
	v := View{DataType: dt, Zoom: nums[0], Lat: nums[1], Lng: nums[2]}
	switch {
	case v.Zoom < MinZoom || v.Zoom > MaxZoom:
		return View{}, fmt.Errorf("%w: zoom %v out of range", ErrInvalidRoute, v.Zoom)
	case v.Lat < -90 || v.Lat > 90:
		return View{}, fmt.Errorf("%w: latitude %v out of range", ErrInvalidRoute, v.Lat)
	case v.Lng < -180 || v.Lng > 180:
		return View{}, fmt.Errorf("%w: longitude %v out of range", ErrInvalidRoute, v.Lng)
	}
	return v, nil
}

// format prints f with at most prec decimals and no trailing zeros.
func format(f float64, prec int) string {
	s := strconv.FormatFloat(f, 'f', prec, 64)
	if strings.Contains(s, ".") {
		s = strings.TrimRight(strings.TrimRight(s, "0"), ".")
	}
	return s
}
