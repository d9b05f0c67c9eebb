package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/paulmach/orb/maptile"
	"go.uber.org/zap"

	"github.com/joeblew999/plat-canopy/internal/service"
	"github.com/joeblew999/plat-canopy/internal/tiles"
)

// TilePattern is the ServeMux pattern of the vector tile endpoint.
const TilePattern = "GET /tiles/{geolevel}/{dataType}/{z}/{x}/{file}"

// TileServer serves gzipped MVT tiles from the local archives at
// /tiles/{geolevel}/{dataType}/{z}/{x}/{y}.mvt. Missing tiles are 204 so
// map clients draw nothing instead of logging errors.
func TileServer(archives *tiles.Archives, logger *zap.Logger) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("tiles")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")

		dt, err := service.ParseDataType(r.PathValue("dataType"))
		if err != nil || string(dt.Info().GeoLevel) != r.PathValue("geolevel") {
			http.NotFound(w, r)
			return
		}
		t, ok := parseTile(r.PathValue("z"), r.PathValue("x"), r.PathValue("file"))
		if !ok {
			http.Error(w, "invalid tile address", http.StatusBadRequest)
			return
		}

		data, err := archives.TileData(r.Context(), dt, t)
		switch {
		case errors.Is(err, tiles.ErrNoTile):
			w.WriteHeader(http.StatusNoContent)
			return
		case err != nil:
			logger.Warn("read tile", zap.String("dataType", string(dt)), zap.Error(err))
			http.Error(w, "tile unavailable", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/vnd.mapbox-vector-tile")
		w.Header().Set("Content-Encoding", "gzip")
		w.Header().Set("Cache-Control", "public, max-age=3600")
		w.Write(data)
	})
}

func parseTile(zs, xs, file string) (maptile.Tile, bool) {
	ys, ok := strings.CutSuffix(file, ".mvt")
	if !ok {
		return maptile.Tile{}, false
	}
	z, err1 := strconv.ParseUint(zs, 10, 8)
	x, err2 := strconv.ParseUint(xs, 10, 32)
	y, err3 := strconv.ParseUint(ys, 10, 32)
	if err1 != nil || err2 != nil || err3 != nil || z > 24 {
		return maptile.Tile{}, false
	}
	if n := uint64(1) << z; x >= n || y >= n {
		return maptile.Tile{}, false
	}
	return maptile.New(uint32(x), uint32(y), maptile.Zoom(z)), true
}
