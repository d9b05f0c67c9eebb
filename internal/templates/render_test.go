package templates

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeblew999/plat-canopy/internal/mapview"
	"github.com/joeblew999/plat-canopy/internal/service"
)

var _ mapview.PopupRenderer = (*Renderer)(nil)

func TestRenderPopup(t *testing.T) {
	r, err := New("")
	require.NoError(t, err)

	html, err := r.Render("popup", mapview.PopupView{
		Title: "Plantability",
		PopupData: service.PopupData{
			FeatureID:   "tile-7",
			DataType:    service.Plantability,
			Coordinates: service.Coordinates{Lat: 45.764, Lng: 4.8357},
			Index:       7.3,
		},
	})
	require.NoError(t, err)
	assert.Contains(t, html, `id="map-popup"`)
	assert.Contains(t, html, `data-feature="tile-7"`)
	assert.Contains(t, html, "<strong>7.3</strong>")
	assert.Contains(t, html, "45.76400, 4.83570")
	assert.Contains(t, html, "Loading details")

	html, err = r.Render("popup", mapview.PopupView{
		Title: "Local climate zone",
		PopupData: service.PopupData{
			DataType: service.LocalClimateZone,
			Zone:     "2",
			Details:  map[string]any{"surface": 1200, "area": "<b>x</b>"},
		},
	})
	require.NoError(t, err)
	assert.Contains(t, html, "Zone <strong>2</strong>")
	assert.Contains(t, html, "<dt>area</dt><dd>&lt;b&gt;x&lt;/b&gt;</dd>")
	assert.Less(t, strings.Index(html, "area"), strings.Index(html, "surface"))
	assert.NotContains(t, html, "Loading details")
}

func TestRenderToasts(t *testing.T) {
	r, err := New("")
	require.NoError(t, err)

	html := r.MustRender("toasts", []service.Toast{
		{Level: service.ToastWarning, Message: "Backend unreachable"},
	})
	assert.Contains(t, html, `class="toast toast--warning"`)
	assert.Contains(t, html, "Backend unreachable")

	assert.Contains(t, r.MustRender("empty-state", nil), "Click a tile")
	assert.Panics(t, func() { r.MustRender("missing", nil) })
}

func TestReloadFromDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "popup.html"),
		[]byte(`{{define "popup"}}custom {{.Title}}{{end}}`), 0o644))

	r, err := New("")
	require.NoError(t, err)
	require.NoError(t, r.Reload(dir))

	html, err := r.Render("popup", mapview.PopupView{Title: "T"})
	require.NoError(t, err)
	assert.Equal(t, "custom T", html)

	assert.Error(t, r.Reload(filepath.Join(dir, "missing")))
}

func TestWatchReloads(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "toast.html")
	require.NoError(t, os.WriteFile(path, []byte(`{{define "toasts"}}v1{{end}}`), 0o644))

	r, err := New(dir)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, r.Watch(ctx, dir, nil))

	require.NoError(t, os.WriteFile(path, []byte(`{{define "toasts"}}v2{{end}}`), 0o644))
	assert.Eventually(t, func() bool {
		return r.MustRender("toasts", nil) == "v2"
	}, 5*time.Second, 20*time.Millisecond)

	// A broken edit keeps the last good templates.
	require.NoError(t, os.WriteFile(path, []byte(`{{define "toasts"}}v3`), 0o644))
	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, "v2", r.MustRender("toasts", nil))

	assert.Error(t, r.Watch(ctx, filepath.Join(dir, "missing"), nil))
}
