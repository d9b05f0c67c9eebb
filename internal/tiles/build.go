// Package tiles encodes indicator GeoJSON into vector tiles, serves local tile
// archives and resolves map clicks to the feature under the cursor.
package tiles

import (
	"bytes"
	"fmt"
	"io"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/mvt"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/maptile"
	"github.com/paulmach/orb/planar"
	"github.com/paulmach/orb/simplify"

	"github.com/joeblew999/plat-canopy/internal/pmtiles"
	"github.com/joeblew999/plat-canopy/internal/service"
)

// BuildOptions controls tile generation. Zero zooms use the data type's
// served zoom range.
type BuildOptions struct {
	DataType service.DataType
	MinZoom  int
	MaxZoom  int
}

func (o BuildOptions) zooms() (int, int) {
	info := o.DataType.Info()
	lo, hi := o.MinZoom, o.MaxZoom
	if lo <= 0 {
		lo = info.MinZoom
	}
	if hi <= 0 {
		hi = info.MaxZoom
	}
	return max(lo, 0), min(hi, 18)
}

// Build encodes fc into gzipped MVT tiles for every zoom in range. The layer
// inside each tile is named after the data type.
func Build(fc *geojson.FeatureCollection, opts BuildOptions) ([]pmtiles.Tile, error) {
	if !opts.DataType.Valid() {
		return nil, fmt.Errorf("%w: %q", service.ErrUnknownDataType, opts.DataType)
	}
	lo, hi := opts.zooms()

	var out []pmtiles.Tile
	for z := lo; z <= hi; z++ {
		byTile := make(map[maptile.Tile][]*geojson.Feature)
		for _, f := range fc.Features {
			if f.Geometry == nil {
				continue
			}
			for _, t := range covering(f.Geometry.Bound(), maptile.Zoom(z)) {
				byTile[t] = append(byTile[t], f)
			}
		}
		for t, features := range byTile {
			data, err := Encode(t, string(opts.DataType), features)
			if err != nil {
				return nil, fmt.Errorf("encode %d/%d/%d: %w", t.Z, t.X, t.Y, err)
			}
			if data != nil {
				out = append(out, pmtiles.Tile{Z: uint8(t.Z), X: t.X, Y: t.Y, Data: data})
			}
		}
	}
	return out, nil
}

// WriteArchive builds fc and writes the tiles as a PMTiles archive.
func WriteArchive(w io.Writer, fc *geojson.FeatureCollection, opts BuildOptions) (int, error) {
	built, err := Build(fc, opts)
	if err != nil {
		return 0, err
	}
	if len(built) == 0 {
		return 0, fmt.Errorf("no %s features inside the zoom range", opts.DataType)
	}
	b := fc.BBox
	bound := collectionBound(fc)
	if len(b) == 4 {
		bound = orb.Bound{Min: orb.Point{b[0], b[1]}, Max: orb.Point{b[2], b[3]}}
	}
	lo, hi := opts.zooms()
	err = pmtiles.Write(w, built, pmtiles.WriteOptions{
		Metadata: map[string]any{
			"name":        string(opts.DataType),
			"format":      "pbf",
			"attribution": opts.DataType.Info().Attribution,
			"minzoom":     lo,
			"maxzoom":     hi,
			"vector_layers": []map[string]any{
				{"id": string(opts.DataType), "minzoom": lo, "maxzoom": hi},
			},
		},
		Bounds: [4]float64{bound.Min.Lon(), bound.Min.Lat(), bound.Max.Lon(), bound.Max.Lat()},
	})
	return len(built), err
}

// Encode renders features into one gzipped MVT tile. It returns nil when
// nothing survives clipping.
func Encode(t maptile.Tile, layerName string, features []*geojson.Feature) ([]byte, error) {
	bound := t.Bound()
	fc := geojson.NewFeatureCollection()
	for _, f := range features {
		if !intersects(f.Geometry, bound) {
			continue
		}
		// Clip and projection rewrite coordinates in place.
		c := geojson.NewFeature(orb.Clone(f.Geometry))
		for k, v := range f.Properties {
			c.Properties[k] = v
		}
		// Vector tile ids are integers; string ids travel as a property.
		switch id := f.ID.(type) {
		case nil:
		case string:
			if _, ok := c.Properties["id"]; !ok {
				c.Properties["id"] = id
			}
		default:
			c.ID = id
		}
		fc.Append(c)
	}
	if len(fc.Features) == 0 {
		return nil, nil
	}

	layer := mvt.NewLayer(layerName, fc)
	if eps := tolerance(t.Z); eps > 0 {
		layer.Simplify(simplify.DouglasPeucker(eps))
	}
	layer.Clip(bound)
	layer.ProjectToTile(t)
	layer.RemoveEmpty(0.5, 0.5)
	if len(layer.Features) == 0 {
		return nil, nil
	}
	return mvt.MarshalGzipped(mvt.Layers{layer})
}

// Decode parses an MVT tile, gzipped or not, and projects it to WGS84.
func Decode(t maptile.Tile, data []byte) (mvt.Layers, error) {
	var (
		layers mvt.Layers
		err    error
	)
	if bytes.HasPrefix(data, []byte{0x1f, 0x8b}) {
		layers, err = mvt.UnmarshalGzipped(data)
	} else {
		layers, err = mvt.Unmarshal(data)
	}
	if err != nil {
		return nil, fmt.Errorf("decode tile %d/%d/%d: %w", t.Z, t.X, t.Y, err)
	}
	layers.ProjectToWGS84(t)
	return layers, nil
}

// intersects rejects features whose bounds miss the tile, and polygons that
// merely surround the tile's bounding box without touching it.
func intersects(g orb.Geometry, tile orb.Bound) bool {
	if g == nil || !g.Bound().Intersects(tile) {
		return false
	}
	switch geom := g.(type) {
	case orb.Point:
		return tile.Contains(geom)
	case orb.Polygon:
		if len(geom) == 0 {
			return false
		}
		for _, p := range geom[0] {
			if tile.Contains(p) {
				return true
			}
		}
		corners := []orb.Point{tile.Min, {tile.Max[0], tile.Min[1]}, tile.Max, {tile.Min[0], tile.Max[1]}, tile.Center()}
		for _, p := range corners {
			if planar.PolygonContains(geom, p) {
				return true
			}
		}
		return false
	case orb.MultiPolygon:
		for _, p := range geom {
			if intersects(p, tile) {
				return true
			}
		}
		return false
	}
	return true
}

func covering(b orb.Bound, z maptile.Zoom) []maptile.Tile {
	lo, hi := maptile.At(b.Min, z), maptile.At(b.Max, z)
	minX, maxX := min(lo.X, hi.X), max(lo.X, hi.X)
	minY, maxY := min(lo.Y, hi.Y), max(lo.Y, hi.Y)

	tiles := make([]maptile.Tile, 0, (maxX-minX+1)*(maxY-minY+1))
	for x := minX; x <= maxX; x++ {
		for y := minY; y <= maxY; y++ {
			tiles = append(tiles, maptile.New(x, y, z))
		}
	}
	return tiles
}

// tolerance is the Douglas-Peucker epsilon in degrees. Zoom 14 and above
// keep every vertex.
func tolerance(z maptile.Zoom) float64 {
	switch {
	case z >= 14:
		return 0
	case z >= 11:
		return 0.00001
	case z >= 8:
		return 0.0001
	}
	return 0.0005
}

func collectionBound(fc *geojson.FeatureCollection) orb.Bound {
	var (
		b     orb.Bound
		found bool
	)
	for _, f := range fc.Features {
		if f.Geometry == nil {
			continue
		}
		if !found {
			b, found = f.Geometry.Bound(), true
			continue
		}
		b = b.Union(f.Geometry.Bound())
	}
	return b
}
