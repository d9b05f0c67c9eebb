package apiclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"golang.org/x/sync/errgroup"

	"github.com/joeblew999/plat-canopy/internal/service"
)

// TileDetail returns the backend record of one tile or zone.
func (c *Client) TileDetail(ctx context.Context, dt service.DataType, id string) (map[string]any, error) {
	var out map[string]any
	if err := c.get(ctx, "tiles/"+url.PathEscape(string(dt))+"/"+url.PathEscape(id)+"/", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// PlantabilityData aggregates plantability scores inside a polygon.
type PlantabilityData struct {
	Count                        int            `json:"count" doc:"Number of tiles inside the polygon"`
	PlantabilityNormalizedIndice float64        `json:"plantabilityNormalizedIndice" doc:"Mean normalized plantability index"`
	Distribution                 map[string]int `json:"distribution,omitempty" doc:"Tile count per score"`
	IrisCodes                    []string       `json:"irisCodes" doc:"IRIS codes the polygon touches"`
	CityCodes                    []string       `json:"cityCodes" doc:"City codes the polygon touches"`
}

// VulnerabilityData aggregates heat vulnerability inside a polygon.
type VulnerabilityData struct {
	Count                    int      `json:"count" doc:"Number of tiles inside the polygon"`
	VulnerabilityIndiceDay   float64  `json:"vulnerabilityIndiceDay" doc:"Mean day vulnerability index"`
	VulnerabilityIndiceNight float64  `json:"vulnerabilityIndiceNight" doc:"Mean night vulnerability index"`
	IrisCodes                []string `json:"irisCodes" doc:"IRIS codes the polygon touches"`
	CityCodes                []string `json:"cityCodes" doc:"City codes the polygon touches"`
}

// ClimateData is the local climate zone mix inside a polygon.
type ClimateData struct {
	Count     int                `json:"count" doc:"Number of zones inside the polygon"`
	Zones     map[string]float64 `json:"lczRepartition" doc:"Share of area per zone code"`
	IrisCodes []string           `json:"irisCodes" doc:"IRIS codes the polygon touches"`
	CityCodes []string           `json:"cityCodes" doc:"City codes the polygon touches"`
}

// PolygonResult is the in-polygon aggregate of one data type. Exactly the
// fields matching DataType are set; the combined type sets both
// Plantability and Vulnerability.
type PolygonResult struct {
	DataType      service.DataType   `json:"dataType"`
	Plantability  *PlantabilityData  `json:"plantability,omitempty"`
	Vulnerability *VulnerabilityData `json:"vulnerability,omitempty"`
	Climate       *ClimateData       `json:"climate,omitempty"`
}

// InPolygon aggregates dt's tiles inside polygon.
func (c *Client) InPolygon(ctx context.Context, dt service.DataType, polygon orb.Polygon) (PolygonResult, error) {
	if !dt.Valid() {
		return PolygonResult{}, fmt.Errorf("%w: %q", service.ErrUnknownDataType, dt)
	}
	if len(polygon) == 0 || len(polygon[0]) < 4 {
		return PolygonResult{}, errors.New("polygon needs a closed ring of at least 4 points")
	}

	var raw json.RawMessage
	path := "tiles/" + url.PathEscape(string(dt)) + "/in-polygon/"
	if err := c.post(ctx, path, geojson.NewGeometry(polygon), &raw); err != nil {
		return PolygonResult{}, err
	}
	return decodePolygon(dt, raw)
}

func decodePolygon(dt service.DataType, raw json.RawMessage) (PolygonResult, error) {
	res := PolygonResult{DataType: dt}
	var err error
	switch dt {
	case service.Plantability:
		res.Plantability = new(PlantabilityData)
		err = json.Unmarshal(raw, res.Plantability)
	case service.Vulnerability:
		res.Vulnerability = new(VulnerabilityData)
		err = json.Unmarshal(raw, res.Vulnerability)
	case service.LocalClimateZone:
		res.Climate = new(ClimateData)
		err = json.Unmarshal(raw, res.Climate)
	case service.PlantabilityVulnerability:
		res.Plantability = new(PlantabilityData)
		res.Vulnerability = new(VulnerabilityData)
		if err = json.Unmarshal(raw, res.Plantability); err == nil {
			err = json.Unmarshal(raw, res.Vulnerability)
		}
	}
	if err != nil {
		return PolygonResult{}, fmt.Errorf("decode %s polygon aggregate: %w", dt, err)
	}
	return res, nil
}

// Metadata returns the backend dataset metadata as served.
func (c *Client) Metadata(ctx context.Context) (map[string]any, error) {
	var out map[string]any
	if err := c.get(ctx, "metadata/", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// BoundaryKind selects an administrative boundary layer.
type BoundaryKind string

const (
	BoundaryCities BoundaryKind = "cities"
	BoundaryIris   BoundaryKind = "iris"
)

// Boundaries returns city or IRIS outlines.
func (c *Client) Boundaries(ctx context.Context, kind BoundaryKind) (*geojson.FeatureCollection, error) {
	if kind != BoundaryCities && kind != BoundaryIris {
		return nil, fmt.Errorf("unknown boundary kind %q", kind)
	}
	return c.featureCollection(ctx, "boundaries/"+string(kind)+"/")
}

// QPV returns the priority neighbourhood (quartiers prioritaires) outlines.
func (c *Client) QPV(ctx context.Context) (*geojson.FeatureCollection, error) {
	return c.featureCollection(ctx, "qpv/")
}

func (c *Client) featureCollection(ctx context.Context, path string) (*geojson.FeatureCollection, error) {
	fc := geojson.NewFeatureCollection()
	if err := c.get(ctx, path, nil, fc); err != nil {
		return nil, err
	}
	return fc, nil
}

// Dashboard returns the indicator summary of a city, narrowed to one IRIS
// when irisCode is set.
func (c *Client) Dashboard(ctx context.Context, cityCode, irisCode string) (map[string]any, error) {
	q := url.Values{}
	if cityCode != "" {
		q.Set("city_code", cityCode)
	}
	if irisCode != "" {
		q.Set("iris_code", irisCode)
	}
	var out map[string]any
	if err := c.get(ctx, "dashboard/", q, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// FloraRecommendations lists species suited to a position and its
// plantability score.
func (c *Client) FloraRecommendations(ctx context.Context, at service.Coordinates, plantabilityScore float64) ([]map[string]any, error) {
	q := url.Values{
		"lat":                {strconv.FormatFloat(at.Lat, 'f', -1, 64)},
		"lng":                {strconv.FormatFloat(at.Lng, 'f', -1, 64)},
		"plantability_score": {strconv.FormatFloat(plantabilityScore, 'f', -1, 64)},
	}
	var out []map[string]any
	if err := c.get(ctx, "flora/recommendations/", q, &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = []map[string]any{}
	}
	return out, nil
}

// Preloaded is the static reference data fetched at startup.
type Preloaded struct {
	Metadata map[string]any
	Cities   *geojson.FeatureCollection
	Iris     *geojson.FeatureCollection
	QPV      *geojson.FeatureCollection
}

// Preload fetches metadata and boundary layers concurrently. The first
// failure cancels the remaining requests.
func (c *Client) Preload(ctx context.Context) (Preloaded, error) {
	var p Preloaded
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		p.Metadata, err = c.Metadata(ctx)
		return err
	})
	g.Go(func() (err error) {
		p.Cities, err = c.Boundaries(ctx, BoundaryCities)
		return err
	})
	g.Go(func() (err error) {
		p.Iris, err = c.Boundaries(ctx, BoundaryIris)
		return err
	})
	g.Go(func() (err error) {
		p.QPV, err = c.QPV(ctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return Preloaded{}, err
	}
	return p, nil
}
