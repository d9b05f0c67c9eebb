package tiles

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/mvt"
	"github.com/paulmach/orb/maptile"
	"github.com/paulmach/orb/planar"
	"go.uber.org/zap"

	"github.com/joeblew999/plat-canopy/internal/mapview"
	"github.com/joeblew999/plat-canopy/internal/service"
)

// ErrNoTile is returned by a Source that has no tile at the requested
// address.
var ErrNoTile = errors.New("no tile")

// Source yields raw vector tiles.
type Source interface {
	TileData(ctx context.Context, dt service.DataType, t maptile.Tile) ([]byte, error)
}

// HTTPSource fetches tiles from the vector tile endpoint.
type HTTPSource struct {
	base   string
	client *http.Client
	logger *zap.Logger
}

// NewHTTPSource creates a source reading {base}/tiles/... . A nil client
// uses http.DefaultClient.
func NewHTTPSource(base string, client *http.Client, logger *zap.Logger) *HTTPSource {
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPSource{base: base, client: client, logger: logger.Named("tiles")}
}

// URL is the address of tile t of dt.
func (s *HTTPSource) URL(dt service.DataType, t maptile.Tile) string {
	return strings.NewReplacer(
		"{z}", strconv.FormatUint(uint64(t.Z), 10),
		"{x}", strconv.FormatUint(uint64(t.X), 10),
		"{y}", strconv.FormatUint(uint64(t.Y), 10),
	).Replace(mapview.TileURL(s.base, dt))
}

func (s *HTTPSource) TileData(ctx context.Context, dt service.DataType, t maptile.Tile) ([]byte, error) {
	url := s.URL(dt, t)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch tile: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusNoContent:
		return nil, ErrNoTile
	case resp.StatusCode >= 300:
		s.logger.Warn("tile request failed", zap.String("url", url), zap.Int("status", resp.StatusCode))
		return nil, fmt.Errorf("fetch tile %s: %s", url, resp.Status)
	}
	return io.ReadAll(resp.Body)
}

type cacheKey struct {
	dt   service.DataType
	tile maptile.Tile
}

// Locator resolves positions to features by decoding the tile that contains
// them. The most recently used decoded tiles are cached.
type Locator struct {
	src    Source
	logger *zap.Logger
	cache  *lru.Cache[cacheKey, mvt.Layers]
}

// NewLocator creates a locator caching up to size decoded tiles.
func NewLocator(src Source, size int, logger *zap.Logger) *Locator {
	if size <= 0 {
		size = 32
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cache, _ := lru.New[cacheKey, mvt.Layers](size) // only fails for size <= 0
	return &Locator{
		src:    src,
		logger: logger.Named("locator"),
		cache:  cache,
	}
}

// FeatureAt returns the top-most feature of dt whose geometry contains at.
// The zoom is clamped to the zooms dt is served at.
func (l *Locator) FeatureAt(ctx context.Context, dt service.DataType, at service.Coordinates, zoom int) (mapview.Feature, bool, error) {
	if !dt.Valid() {
		return mapview.Feature{}, false, fmt.Errorf("%w: %q", service.ErrUnknownDataType, dt)
	}
	info := dt.Info()
	zoom = min(max(zoom, info.MinZoom), info.MaxZoom)
	p := orb.Point{at.Lng, at.Lat}
	t := maptile.At(p, maptile.Zoom(zoom))

	layers, err := l.layers(ctx, dt, t)
	if errors.Is(err, ErrNoTile) {
		return mapview.Feature{}, false, nil
	}
	if err != nil {
		return mapview.Feature{}, false, err
	}

	for _, layer := range layers {
		if layer.Name != string(dt) {
			continue
		}
		for i := len(layer.Features) - 1; i >= 0; i-- {
			f := layer.Features[i]
			if !contains(f.Geometry, p) {
				continue
			}
			props := make(map[string]any, len(f.Properties))
			for k, v := range f.Properties {
				props[k] = v
			}
			return mapview.Feature{ID: featureID(f.ID, props), Properties: props}, true, nil
		}
	}
	return mapview.Feature{}, false, nil
}

func (l *Locator) layers(ctx context.Context, dt service.DataType, t maptile.Tile) (mvt.Layers, error) {
	key := cacheKey{dt: dt, tile: t}
	if layers, ok := l.cache.Get(key); ok {
		return layers, nil
	}

	data, err := l.src.TileData(ctx, dt, t)
	if err != nil {
		return nil, err
	}
	layers, err := Decode(t, data)
	if err != nil {
		return nil, err
	}
	l.logger.Debug("decoded tile", zap.String("dataType", string(dt)),
		zap.Uint32("z", uint32(t.Z)), zap.Uint32("x", t.X), zap.Uint32("y", t.Y))
	l.cache.Add(key, layers)
	return layers, nil
}

func contains(g orb.Geometry, p orb.Point) bool {
	switch geom := g.(type) {
	case orb.Polygon:
		return planar.PolygonContains(geom, p)
	case orb.MultiPolygon:
		return planar.MultiPolygonContains(geom, p)
	case orb.Bound:
		return geom.Contains(p)
	}
	return false
}

func featureID(id any, props map[string]any) string {
	if v, ok := props["id"]; ok && v != nil {
		return fmt.Sprint(v)
	}
	if id != nil {
		return fmt.Sprint(id)
	}
	return ""
}
