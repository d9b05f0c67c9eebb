package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/danielgtaylor/huma/v2/humatest"
	"github.com/google/uuid"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/maptile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/joeblew999/plat-canopy/internal/apiclient"
	"github.com/joeblew999/plat-canopy/internal/humastar"
	"github.com/joeblew999/plat-canopy/internal/mapview"
	"github.com/joeblew999/plat-canopy/internal/route"
	"github.com/joeblew999/plat-canopy/internal/service"
	"github.com/joeblew999/plat-canopy/internal/store"
	"github.com/joeblew999/plat-canopy/internal/templates"
	"github.com/joeblew999/plat-canopy/internal/tiles"
)

var lyon = service.Coordinates{Lat: 45.7640, Lng: 4.8357}

// northLocator finds a feature everywhere north of latitude 45.
type northLocator struct{}

func (northLocator) FeatureAt(_ context.Context, dt service.DataType, at service.Coordinates, _ int) (mapview.Feature, bool, error) {
	if at.Lat < 45 {
		return mapview.Feature{}, false, nil
	}
	return mapview.Feature{ID: "tile-9", Properties: map[string]any{"indice": 4.0}}, true, nil
}

func newServices(t *testing.T, withStore bool) *Services {
	t.Helper()
	renderer, err := templates.New("")
	require.NoError(t, err)

	maps := mapview.New(mapview.Options{
		Factory:     mapview.StyleFactory(mapview.StyleOptions{AutoLoad: true}),
		Locator:     northLocator{},
		Renderer:    renderer,
		TileBaseURL: "http://tiles.test",
	})
	t.Cleanup(maps.Close)
	_, err = maps.InitMap("main")
	require.NoError(t, err)

	svc := &Services{Maps: maps, DataDir: t.TempDir()}
	if withStore {
		s, err := store.Open(context.Background(), store.Config{}, nil)
		require.NoError(t, err)
		t.Cleanup(func() { s.Close() })
		svc.Store = s
	}
	return svc
}

func newTestAPI(t *testing.T, svc *Services) humatest.TestAPI {
	t.Helper()
	_, api := humatest.New(t)
	RegisterRoutes(api, svc)
	return api
}

func decode[T any](t *testing.T, resp *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &v), resp.Body.String())
	return v
}

func TestHealthAndInfo(t *testing.T) {
	api := newTestAPI(t, newServices(t, true))

	resp := api.Get("/health")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "ok", decode[HealthBody](t, resp).Status)

	resp = api.Get("/api/v1/info")
	require.Equal(t, http.StatusOK, resp.Code)
	info := decode[InfoBody](t, resp)
	assert.Equal(t, "plat-canopy", info.Name)
	assert.True(t, info.DB)
	assert.Len(t, info.DataTypes, len(service.DataTypes))
	assert.Contains(t, info.Features, "duckdb")
	assert.NotContains(t, info.Features, "backend")
	assert.Empty(t, info.Archives)
}

func TestMaps(t *testing.T) {
	api := newTestAPI(t, newServices(t, false))

	resp := api.Post("/api/v1/maps/second")
	require.Equal(t, http.StatusCreated, resp.Code, resp.Body.String())
	assert.Contains(t, resp.Body.String(), service.LayerID(service.Plantability, service.RenderFill))

	assert.Equal(t, http.StatusConflict, api.Post("/api/v1/maps/second").Code)
	assert.Equal(t, []string{"main", "second"}, decode[[]string](t, api.Get("/api/v1/maps")))

	resp = api.Get("/api/v1/maps/second/style")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "second", decode[MapBody](t, resp).ID)

	assert.Equal(t, http.StatusOK, api.Delete("/api/v1/maps/second").Code)
	assert.Equal(t, http.StatusNotFound, api.Delete("/api/v1/maps/second").Code)
	assert.Equal(t, http.StatusNotFound, api.Get("/api/v1/maps/second/style").Code)
}

func TestLayers(t *testing.T) {
	api := newTestAPI(t, newServices(t, false))

	resp := api.Post("/api/v1/layers", map[string]any{"dataType": "vulnerability"})
	require.Equal(t, http.StatusCreated, resp.Code, resp.Body.String())
	added := decode[LayerBody](t, resp)
	assert.Equal(t, service.LayerID(service.Vulnerability, service.RenderFill), added.ID)
	assert.Equal(t, service.DefaultOpacity, added.Opacity)

	resp = api.Put("/api/v1/layers/vulnerability/fill/opacity", map[string]any{"opacity": 0.4})
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	assert.Equal(t, 0.4, decode[LayerBody](t, resp).Opacity)

	resp = api.Put("/api/v1/layers/vulnerability/fill/visibility", map[string]any{"visible": false})
	require.Equal(t, http.StatusOK, resp.Code)
	assert.False(t, decode[LayerBody](t, resp).Visible)

	assert.Equal(t, http.StatusNotFound, api.Put("/api/v1/layers/lcz/symbol/opacity", map[string]any{"opacity": 0.4}).Code)
	assert.Equal(t, http.StatusNotFound, api.Get("/api/v1/layers/lcz/fill").Code)
	assert.Equal(t, http.StatusUnprocessableEntity, api.Get("/api/v1/layers/lcz/bogus").Code)
	assert.Equal(t, http.StatusUnprocessableEntity, api.Post("/api/v1/layers", map[string]any{"dataType": "trees"}).Code)

	resp = api.Post("/api/v1/layers/reset")
	require.Equal(t, http.StatusOK, resp.Code)
	layers := decode[[]LayerBody](t, resp)
	require.Len(t, layers, 1)
	assert.Equal(t, service.Plantability, layers[0].DataType)
}

func TestFilters(t *testing.T) {
	api := newTestAPI(t, newServices(t, false))

	resp := api.Post("/api/v1/filters/toggle", map[string]any{"value": "3"})
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	f := decode[FiltersBody](t, resp)
	assert.Equal(t, service.Plantability, f.DataType)
	assert.Equal(t, []string{"3"}, f.Active)
	assert.Equal(t, []int{3}, f.Scores)

	assert.Equal(t, http.StatusUnprocessableEntity, api.Post("/api/v1/filters/toggle", map[string]any{"value": "high"}).Code)

	resp = api.Put("/api/v1/data-type", map[string]any{"dataType": "lcz"})
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	assert.Equal(t, service.LocalClimateZone, decode[mapview.State](t, resp).DataType)

	resp = api.Post("/api/v1/filters/toggle", map[string]any{"value": "A"})
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, []string{"A"}, decode[FiltersBody](t, resp).Active)

	resp = api.Delete("/api/v1/filters")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Empty(t, decode[FiltersBody](t, resp).Active)

	assert.Equal(t, http.StatusUnprocessableEntity, api.Put("/api/v1/data-type", map[string]any{"dataType": "trees"}).Code)
}

func TestClickAndPopup(t *testing.T) {
	api := newTestAPI(t, newServices(t, false))

	assert.Equal(t, http.StatusNotFound, api.Get("/api/v1/popup").Code)

	resp := api.Post("/api/v1/maps/main/click", map[string]any{"lat": lyon.Lat, "lng": lyon.Lng, "zoom": 14})
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	popup := decode[service.PopupData](t, resp)
	assert.Equal(t, "tile-9", popup.FeatureID)
	assert.Equal(t, 4.0, popup.Index)

	resp = api.Get("/api/v1/popup")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, decode[PopupBody](t, resp).HTML, `data-feature="tile-9"`)

	resp = api.Delete("/api/v1/popup")
	assert.Equal(t, "Popup closed", decode[MessageBody](t, resp).Message)
	resp = api.Delete("/api/v1/popup")
	assert.Equal(t, "No popup open", decode[MessageBody](t, resp).Message)

	assert.Equal(t, http.StatusNotFound, api.Post("/api/v1/maps/main/click", map[string]any{"lat": 10, "lng": 4, "zoom": 14}).Code)
	assert.Equal(t, http.StatusNotFound, api.Post("/api/v1/maps/other/click", map[string]any{"lat": lyon.Lat, "lng": lyon.Lng, "zoom": 14}).Code)
}

func TestSourceLoaded(t *testing.T) {
	api := newTestAPI(t, newServices(t, false))
	src := "/api/v1/maps/main/sources/" + service.SourceID(service.Plantability) + "/loaded"

	assert.Equal(t, http.StatusOK, api.Post(src).Code)
	assert.Equal(t, http.StatusOK, api.Get(src+"?timeoutMs=200").Code)
	assert.Equal(t, http.StatusNotFound, api.Post("/api/v1/maps/main/sources/nothing/loaded").Code)
	assert.Equal(t, http.StatusNotFound, api.Post("/api/v1/maps/other/sources/nothing/loaded").Code)
}

func TestBackendDegraded(t *testing.T) {
	svc := newServices(t, false)
	api := newTestAPI(t, svc)

	resp := api.Get("/api/v1/tiles/plantability/42")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "true", resp.Header().Get("X-Degraded"))
	assert.Empty(t, decode[map[string]any](t, resp))
	assert.Equal(t, 1, svc.Maps.Toasts().Len())

	resp = api.Get("/api/v1/boundaries/cities")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "true", resp.Header().Get("X-Degraded"))
	assert.Equal(t, "FeatureCollection", decode[map[string]any](t, resp)["type"])

	resp = api.Get("/api/v1/flora/recommendations?lat=45.76&lng=4.83")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, []map[string]any{}, decode[[]map[string]any](t, resp))

	assert.Equal(t, http.StatusBadRequest, api.Get("/api/v1/dashboard").Code)
	assert.Equal(t, http.StatusUnprocessableEntity, api.Get("/api/v1/boundaries/regions").Code)
}

func TestInPolygon(t *testing.T) {
	api := newTestAPI(t, newServices(t, false))

	assert.Equal(t, http.StatusNotFound, api.Get("/api/v1/in-polygon/latest").Code)

	open := map[string]any{"type": "Polygon", "coordinates": [][][2]float64{{{0, 0}, {1, 0}, {1, 1}, {0, 1}}}}
	assert.Equal(t, http.StatusUnprocessableEntity, api.Post("/api/v1/tiles/plantability/in-polygon", open).Code)

	ring := geojson.NewGeometry(orb.Polygon{orb.Ring{{4.83, 45.76}, {4.84, 45.76}, {4.84, 45.77}, {4.83, 45.76}}})
	resp := api.Post("/api/v1/tiles/plantability/in-polygon", ring)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	assert.Equal(t, "true", resp.Header().Get("X-Degraded"))
	assert.Equal(t, service.Plantability, decode[apiclient.PolygonResult](t, resp).DataType)

	resp = api.Get("/api/v1/in-polygon/latest")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "true", resp.Header().Get("X-Degraded"))
}

func TestBackendProxy(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/tiles/plantability/42/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"indice": 7, "arbres": 0.4}`))
	})
	mux.HandleFunc("GET /api/v1/metadata/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"version": 2}`))
	})
	backend := httptest.NewServer(mux)
	t.Cleanup(backend.Close)

	svc := newServices(t, false)
	client, err := apiclient.New(apiclient.Options{BaseURL: backend.URL + "/api/v1", HTTPClient: backend.Client()})
	require.NoError(t, err)
	svc.Backend = client
	api := newTestAPI(t, svc)

	resp := api.Get("/api/v1/tiles/plantability/42")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "false", resp.Header().Get("X-Degraded"))
	assert.Equal(t, 7.0, decode[map[string]any](t, resp)["indice"])

	resp = api.Get("/api/v1/metadata")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, 2.0, decode[map[string]any](t, resp)["version"])

	resp = api.Get("/api/v1/tiles/vulnerability/42")
	assert.Equal(t, "true", resp.Header().Get("X-Degraded"))
	assert.Equal(t, 1, svc.Maps.Toasts().Len())

	info := decode[InfoBody](t, api.Get("/api/v1/info"))
	assert.Equal(t, backend.URL+"/api/v1/", info.Backend)
}

func TestFeedback(t *testing.T) {
	api := newTestAPI(t, newServices(t, true))

	resp := api.Post("/api/v1/feedback", map[string]any{"message": "More trees please", "email": "a@example.org"})
	require.Equal(t, http.StatusCreated, resp.Code, resp.Body.String())
	created := decode[store.Feedback](t, resp)
	assert.NotEmpty(t, created.ID)

	assert.Equal(t, http.StatusUnprocessableEntity, api.Post("/api/v1/feedback", map[string]any{"message": ""}).Code)
	assert.Equal(t, http.StatusUnprocessableEntity, api.Post("/api/v1/feedback", map[string]any{"message": "   "}).Code)

	api.Post("/api/v1/feedback", map[string]any{"message": "Second"})
	resp = api.Get("/api/v1/feedback?limit=1")
	require.Equal(t, http.StatusOK, resp.Code)
	page := decode[humastar.PageBody[store.Feedback]](t, resp)
	assert.Equal(t, 2, page.Total)
	require.Len(t, page.Data, 1)
}

func TestFeedbackRateLimit(t *testing.T) {
	svc := newServices(t, true)
	_, api := humatest.New(t)
	h := NewFeedbackHandler(svc)
	h.limiter = rate.NewLimiter(rate.Every(time.Hour), 1)
	h.RegisterRoutes(api)

	assert.Equal(t, http.StatusCreated, api.Post("/api/v1/feedback", map[string]any{"message": "first"}).Code)
	assert.Equal(t, http.StatusTooManyRequests, api.Post("/api/v1/feedback", map[string]any{"message": "second"}).Code)

	n, err := svc.Store.CountFeedback(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestVisits(t *testing.T) {
	api := newTestAPI(t, newServices(t, true))
	id := uuid.NewString()

	resp := api.Post("/api/v1/visits", map[string]any{"clientId": id})
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	assert.False(t, decode[store.Visit](t, resp).HasVisitedBefore)

	resp = api.Post("/api/v1/visits", map[string]any{"clientId": id})
	assert.True(t, decode[store.Visit](t, resp).HasVisitedBefore)

	resp = api.Get("/api/v1/visits/" + id)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.True(t, decode[VisitedBody](t, resp).HasVisitedBefore)

	assert.Equal(t, http.StatusUnprocessableEntity, api.Post("/api/v1/visits", map[string]any{"clientId": "nope"}).Code)
}

func TestWithoutStore(t *testing.T) {
	api := newTestAPI(t, newServices(t, false))
	assert.Equal(t, http.StatusServiceUnavailable, api.Post("/api/v1/feedback", map[string]any{"message": "hi"}).Code)
	assert.Equal(t, http.StatusServiceUnavailable, api.Post("/api/v1/visits", map[string]any{"clientId": uuid.NewString()}).Code)
	assert.Equal(t, http.StatusServiceUnavailable, api.Get("/api/v1/tables").Code)
}

func TestTables(t *testing.T) {
	api := newTestAPI(t, newServices(t, true))
	resp := api.Get("/api/v1/tables")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), "feedback")
}

func TestConfigAndResolve(t *testing.T) {
	api := newTestAPI(t, newServices(t, false))

	resp := api.Get("/api/v1/config")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Len(t, decode[ConfigBody](t, resp).ZoneCodes, 17)

	resp = api.Get("/api/v1/routes/resolve?path=/14/45.764/4.8357")
	require.Equal(t, http.StatusOK, resp.Code)
	res := decode[ResolveBody](t, resp)
	assert.True(t, res.Redirect)
	assert.Equal(t, "/plantability/14/45.764/4.8357", res.Path)
	assert.Equal(t, route.View{DataType: service.Plantability, Zoom: 14, Lat: 45.764, Lng: 4.8357}, res.View)

	assert.Equal(t, http.StatusUnprocessableEntity, api.Get("/api/v1/routes/resolve?path=/trees/1/2/3").Code)
}

func TestTileServer(t *testing.T) {
	dir := t.TempDir()
	archives := tiles.NewArchives(dir)
	t.Cleanup(func() { archives.Close() })

	fc := geojson.NewFeatureCollection()
	f := geojson.NewFeature(orb.Polygon{orb.Ring{
		{lyon.Lng - 0.002, lyon.Lat - 0.002},
		{lyon.Lng + 0.002, lyon.Lat - 0.002},
		{lyon.Lng + 0.002, lyon.Lat + 0.002},
		{lyon.Lng - 0.002, lyon.Lat + 0.002},
		{lyon.Lng - 0.002, lyon.Lat - 0.002},
	}})
	f.ID = "t1"
	f.Properties["indice"] = 8.0
	fc.Append(f)

	out, err := os.Create(archives.Path(service.Plantability))
	require.NoError(t, err)
	_, err = tiles.WriteArchive(out, fc, tiles.BuildOptions{DataType: service.Plantability, MinZoom: 13, MaxZoom: 13})
	require.NoError(t, err)
	require.NoError(t, out.Close())

	mux := http.NewServeMux()
	mux.Handle(TilePattern, TileServer(archives, nil))

	get := func(path string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		return rec
	}

	tile := maptile.At(orb.Point{lyon.Lng, lyon.Lat}, 13)
	path := "/tiles/tile/plantability/13/" + strconv.Itoa(int(tile.X)) + "/" + strconv.Itoa(int(tile.Y)) + ".mvt"
	rec := get(path)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "gzip", rec.Header().Get("Content-Encoding"))
	assert.Equal(t, []byte{0x1f, 0x8b}, rec.Body.Bytes()[:2])

	assert.Equal(t, http.StatusNoContent, get("/tiles/tile/plantability/13/0/0.mvt").Code)
	assert.Equal(t, http.StatusNoContent, get("/tiles/tile/vulnerability/13/0/0.mvt").Code)
	assert.Equal(t, http.StatusBadRequest, get("/tiles/tile/plantability/13/0/0.png").Code)
	assert.Equal(t, http.StatusBadRequest, get("/tiles/tile/plantability/2/9/0.mvt").Code)
	assert.Equal(t, http.StatusNotFound, get("/tiles/lcz/plantability/13/0/0.mvt").Code)
}
