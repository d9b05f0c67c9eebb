package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeblew999/plat-canopy/internal/api"
	"github.com/joeblew999/plat-canopy/internal/mapview"
	"github.com/joeblew999/plat-canopy/internal/service"
	"github.com/joeblew999/plat-canopy/internal/session"
)

func newTestServer(t *testing.T, cfg Config) *Server {
	t.Helper()
	if cfg.DataDir == "" {
		cfg.DataDir = t.TempDir()
	}
	if cfg.Port == "" {
		cfg.Port = "8086"
	}
	srv, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { srv.Close() })
	return srv
}

func get(srv http.Handler, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

// do sends a request as the browser holding ck; a nil ck sends none.
func do(srv http.Handler, method, path, body string, ck *http.Cookie) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	if ck != nil {
		req.AddCookie(ck)
	}
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

func sessionCookie(t *testing.T, rec *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, ck := range rec.Result().Cookies() {
		if ck.Name == session.CookieName {
			return ck
		}
	}
	t.Fatalf("no %s cookie in response", session.CookieName)
	return nil
}

func state(t *testing.T, srv http.Handler, ck *http.Cookie) mapview.State {
	t.Helper()
	rec := do(srv, http.MethodGet, "/api/v1/state", "", ck)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var st mapview.State
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	return st
}

func TestDeepLinkBuildsSessionView(t *testing.T) {
	srv := newTestServer(t, Config{})

	// Edits made through the default view by a client without a session.
	srv.maps.AddLayer(service.Vulnerability, service.RenderSymbol, 0.3)
	require.NoError(t, srv.maps.ToggleFilter("8"))

	rec := get(srv, "/vulnerability/12/45.75/4.85")
	require.Equal(t, http.StatusOK, rec.Code)
	browser := sessionCookie(t, rec)
	assert.True(t, browser.HttpOnly)

	st := state(t, srv, browser)
	assert.Equal(t, service.Vulnerability, st.DataType)
	require.Len(t, st.Layers, 1)
	assert.Equal(t, service.Vulnerability, st.Layers[0].DataType)
	assert.Empty(t, st.Filters.Scores)
	assert.Equal(t, []string{"main"}, st.Maps)

	rec = do(srv, http.MethodGet, "/api/v1/maps/main/style", "", browser)
	require.Equal(t, http.StatusOK, rec.Code)
	var m api.MapBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &m))
	assert.Equal(t, [2]float64{4.85, 45.75}, m.Style.Center)
	assert.Equal(t, 12.0, m.Style.Zoom)

	shared := state(t, srv, nil)
	assert.Equal(t, service.Plantability, shared.DataType)
	assert.Len(t, shared.Layers, 2)
	assert.Equal(t, []int{8}, shared.Filters.Scores)
}

func TestSessionsAreIndependent(t *testing.T) {
	srv := newTestServer(t, Config{})

	first := sessionCookie(t, get(srv, "/"))
	second := sessionCookie(t, get(srv, "/"))
	require.NotEqual(t, first.Value, second.Value)
	assert.Equal(t, 2, srv.sessions.Len())

	rec := do(srv, http.MethodPost, "/api/v1/filters/toggle", `{"value":"3"}`, first)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = do(srv, http.MethodPost, "/api/v1/layers", `{"dataType":"lcz"}`, first)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	assert.Equal(t, []int{3}, state(t, srv, first).Filters.Scores)
	assert.Len(t, state(t, srv, first).Layers, 2)
	other := state(t, srv, second)
	assert.Empty(t, other.Filters.Scores)
	assert.Len(t, other.Layers, 1)

	// Reloading the page rebuilds the default configuration.
	rec = do(srv, http.MethodGet, "/", "", first)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, first.Value, sessionCookie(t, rec).Value)
	reloaded := state(t, srv, first)
	assert.Equal(t, service.Plantability, reloaded.DataType)
	assert.Len(t, reloaded.Layers, 1)
	assert.Empty(t, reloaded.Filters.Scores)
	assert.Equal(t, 2, srv.sessions.Len())
}

func TestUnknownSessionGetsDefaultView(t *testing.T) {
	srv := newTestServer(t, Config{})
	require.NoError(t, srv.maps.ChangeDataType(service.LocalClimateZone))

	stale := &http.Cookie{Name: session.CookieName, Value: uuid.NewString()}
	st := state(t, srv, stale)
	assert.Equal(t, service.Plantability, st.DataType)
	assert.Len(t, st.Layers, 1)
	assert.Equal(t, 1, srv.sessions.Len())

	garbage := &http.Cookie{Name: session.CookieName, Value: "not-a-session"}
	assert.Equal(t, service.LocalClimateZone, state(t, srv, garbage).DataType)
	assert.Equal(t, 1, srv.sessions.Len())
}

func TestRootAndDeepLinks(t *testing.T) {
	srv := newTestServer(t, Config{})

	rec := get(srv, "/")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"running"`)

	rec = get(srv, "/14/45.764/4.8357")
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/plantability/14/45.764/4.8357", rec.Header().Get("Location"))

	rec = get(srv, "/lcz/12/45.75/4.85")
	require.Equal(t, http.StatusOK, rec.Code)
	var page struct {
		Path string `json:"path"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	assert.Equal(t, "/lcz/12/45.75/4.85", page.Path)

	assert.Equal(t, http.StatusNotFound, get(srv, "/trees/12/45.75/4.85").Code)
	assert.Equal(t, http.StatusNotFound, get(srv, "/about").Code)
}

func TestIndexPageFromWebDir(t *testing.T) {
	web := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(web, "templates"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(web, "static"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(web, "templates", "index.html"), []byte("<main id=map></main>"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(web, "static", "app.css"), []byte("body{}"), 0o644))

	srv := newTestServer(t, Config{WebDir: web})
	assert.Contains(t, get(srv, "/").Body.String(), "<main id=map>")
	assert.Contains(t, get(srv, "/vulnerability/14/45.764/4.8357").Body.String(), "<main id=map>")
	assert.Equal(t, "body{}", get(srv, "/static/app.css").Body.String())
}

func TestAPIWiring(t *testing.T) {
	srv := newTestServer(t, Config{})

	rec := get(srv, "/api/v1/state")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "$schema")
	links := strings.Join(rec.Header().Values("Link"), ",")
	assert.Contains(t, links, `</api/v1/layers>; rel="layers"`)
	assert.Contains(t, links, `</api/v1/live>; rel="live"`)

	rec = get(srv, "/api/v1/maps")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `["main"]`, rec.Body.String())

	rec = get(srv, "/api/v1/info")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"db":true`)

	assert.Equal(t, "plat-canopy API", srv.OpenAPI().Info.Title)

	var live, initMap bool
	for _, r := range srv.Routes() {
		live = live || (r.Method == http.MethodGet && r.Path == "/api/v1/live")
		initMap = initMap || (r.Method == http.MethodPost && r.Path == "/api/v1/maps/{mapId}" && r.OperationID == "init-map")
	}
	assert.True(t, live)
	assert.True(t, initMap)
}

func TestLocalTiles(t *testing.T) {
	srv := newTestServer(t, Config{TilesDir: t.TempDir()})

	assert.Equal(t, http.StatusNoContent, get(srv, "/tiles/tile/plantability/13/0/0.mvt").Code)

	rec := get(srv, "/api/v1/maps/main/style")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "http://localhost:8086/tiles/tile/plantability/{z}/{x}/{y}.mvt")
}

func TestRemoteTilesNotServed(t *testing.T) {
	srv := newTestServer(t, Config{TileURL: "https://tiles.example.org"})

	assert.Equal(t, http.StatusNotFound, get(srv, "/tiles/tile/plantability/13/0/0.mvt").Code)
	assert.Contains(t, get(srv, "/api/v1/maps/main/style").Body.String(), "https://tiles.example.org/tiles/tile/plantability/")
}

func TestInvalidBackendURL(t *testing.T) {
	_, err := New(Config{DataDir: t.TempDir(), BackendURL: "not a url"})
	assert.Error(t, err)
}
