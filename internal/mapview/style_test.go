package mapview

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeblew999/plat-canopy/internal/expr"
	"github.com/joeblew999/plat-canopy/internal/service"
)

func newStyle(t *testing.T, so StyleOptions) *StyleWidget {
	t.Helper()
	w := NewStyleWidget("test", MapOptions{Center: DefaultCenter, Zoom: 12, StyleURL: "base.json"}, so)
	require.NoError(t, w.AddSource("src", Source{Type: "vector", Tiles: []string{"t/{z}/{x}/{y}"}}))
	return w
}

func TestStyleLayerOrder(t *testing.T) {
	w := newStyle(t, StyleOptions{})

	require.NoError(t, w.AddLayer(Layer{ID: "a", Source: "src"}, ""))
	require.NoError(t, w.AddLayer(Layer{ID: "c", Source: "src"}, ""))
	require.NoError(t, w.AddLayer(Layer{ID: "b", Source: "src"}, "c"))
	assert.Equal(t, []string{"a", "b", "c"}, w.LayerIDs())

	require.NoError(t, w.MoveLayer("c", "a"))
	assert.Equal(t, []string{"c", "a", "b"}, w.LayerIDs())
	require.NoError(t, w.MoveLayer("c", ""))
	assert.Equal(t, []string{"a", "b", "c"}, w.LayerIDs())

	assert.Error(t, w.AddLayer(Layer{ID: "a", Source: "src"}, ""))
	assert.Error(t, w.AddLayer(Layer{ID: "d", Source: "missing"}, ""))
	assert.ErrorIs(t, w.MoveLayer("zz", ""), ErrLayerNotFound)

	w.RemoveLayer("b")
	w.RemoveLayer("b")
	assert.Equal(t, []string{"a", "c"}, w.LayerIDs())
}

func TestStyleSources(t *testing.T) {
	w := newStyle(t, StyleOptions{})
	assert.ErrorIs(t, w.AddSource("src", Source{}), ErrSourceExists)
	assert.False(t, w.IsSourceLoaded("src"))
	assert.True(t, w.MarkSourceLoaded("src"))
	assert.True(t, w.IsSourceLoaded("src"))
	assert.False(t, w.MarkSourceLoaded("nope"))

	w.RemoveSource("src")
	assert.False(t, w.HasSource("src"))
	assert.False(t, w.IsSourceLoaded("src"))

	auto := newStyle(t, StyleOptions{AutoLoad: true})
	assert.True(t, auto.IsSourceLoaded("src"))
}

func TestStyleRevision(t *testing.T) {
	w := newStyle(t, StyleOptions{})
	r := w.Revision()
	require.NoError(t, w.AddLayer(Layer{ID: "a", Source: "src"}, ""))
	assert.Greater(t, w.Revision(), r)

	r = w.Revision()
	w.RemoveControl(ControlNavigation)
	w.DetachPopup()
	assert.Equal(t, r, w.Revision(), "no-op changes keep the revision")
}

func TestStyleControlsReplaceByKind(t *testing.T) {
	w := newStyle(t, StyleOptions{})
	w.AddControl(Control{Kind: ControlAttribution, Text: "one"})
	w.AddControl(Control{Kind: ControlNavigation})
	w.AddControl(Control{Kind: ControlAttribution, Text: "two"})

	want := []Control{{Kind: ControlNavigation}, {Kind: ControlAttribution, Text: "two"}}
	if diff := cmp.Diff(want, w.Controls()); diff != "" {
		t.Errorf("controls mismatch (-want +got):\n%s", diff)
	}
}

func TestStyleDocumentJSON(t *testing.T) {
	w := newStyle(t, StyleOptions{})
	l := layerSpec(service.LayerConfig{
		DataType:   service.LocalClimateZone,
		Visible:    true,
		Opacity:    0.5,
		RenderMode: service.RenderFill,
	}, service.VulnerabilityDay)
	l.Source = "src"
	require.NoError(t, w.AddLayer(l, ""))
	require.NoError(t, w.SetFilter(l.ID, expr.In(expr.Get("lcz"), "2")))

	raw, err := json.Marshal(w.Style())
	require.NoError(t, err)

	var doc struct {
		Version int `json:"version"`
		Layers  []struct {
			ID          string          `json:"id"`
			SourceLayer string          `json:"source-layer"`
			Filter      json.RawMessage `json:"filter"`
			Paint       map[string]any  `json:"paint"`
		} `json:"layers"`
		Metadata map[string]any `json:"metadata"`
	}
	require.NoError(t, json.Unmarshal(raw, &doc))

	assert.Equal(t, 8, doc.Version)
	require.Len(t, doc.Layers, 1)
	assert.Equal(t, "lcz-fill-layer", doc.Layers[0].ID)
	assert.Equal(t, "lcz", doc.Layers[0].SourceLayer)
	assert.JSONEq(t, `["in",["get","lcz"],["literal",["2"]]]`, string(doc.Layers[0].Filter))
	assert.Equal(t, 0.5, doc.Layers[0].Paint["fill-opacity"])
	assert.Equal(t, "base.json", doc.Metadata["plat-canopy:base-style"])
	assert.Contains(t, doc.Metadata, "plat-canopy:controls")
	assert.NotContains(t, doc.Metadata, "plat-canopy:popup")
}

func TestLayerSpecModes(t *testing.T) {
	base := service.LayerConfig{DataType: service.Vulnerability, Visible: false, Opacity: 1}

	base.RenderMode = service.RenderSymbol
	sym := layerSpec(base, service.VulnerabilityDay)
	assert.Equal(t, "circle", sym.Type)
	assert.Equal(t, "none", sym.Layout["visibility"])
	assert.Contains(t, sym.Paint, "circle-opacity")

	base.RenderMode = service.RenderColorRelief
	relief := layerSpec(base, service.VulnerabilityNight)
	assert.Equal(t, "fill", relief.Type)
	assert.Equal(t,
		`["interpolate",["linear"],["get","indice_night"],1,"#fff5eb",3,"#fdbe85",5,"#fd8d3c",7,"#d94701",9,"#8c2d04"]`,
		relief.Paint["fill-color"].(*expr.Expr).String())
}

func TestFeatureIndex(t *testing.T) {
	idx, zone := featureIndex(service.Plantability, service.VulnerabilityDay, map[string]any{"indice": 7.5})
	assert.Equal(t, 7.5, idx)
	assert.Empty(t, zone)

	idx, _ = featureIndex(service.Vulnerability, service.VulnerabilityNight, map[string]any{"indice_day": 2, "indice_night": int64(6)})
	assert.Equal(t, 6.0, idx)

	_, zone = featureIndex(service.LocalClimateZone, service.VulnerabilityDay, map[string]any{"lcz": "A"})
	assert.Equal(t, "A", zone)
}

func TestTileURL(t *testing.T) {
	assert.Equal(t, "http://x/tiles/lcz/lcz/{z}/{x}/{y}.mvt", TileURL("http://x/", service.LocalClimateZone))
	assert.Equal(t, "http://x/tiles/tile/vulnerability/{z}/{x}/{y}.mvt", TileURL("http://x", service.Vulnerability))
}
