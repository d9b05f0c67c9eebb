package mapview

import (
	"fmt"
	"slices"
	"sync"

	"github.com/joeblew999/plat-canopy/internal/expr"
)

// DefaultPopupAnchor is the element id StyleWidget popups attach to.
const DefaultPopupAnchor = "map-popup"

// StyleDocument is a MapLibre style document plus the widget's UI state.
type StyleDocument struct {
	Version  int               `json:"version"`
	Name     string            `json:"name"`
	Center   [2]float64        `json:"center"`
	Zoom     float64           `json:"zoom"`
	Sources  map[string]Source `json:"sources"`
	Layers   []Layer           `json:"layers"`
	Metadata StyleMetadata     `json:"metadata"`
}

// StyleMetadata carries state MapLibre does not model in the style itself.
type StyleMetadata struct {
	BaseStyle string    `json:"plat-canopy:base-style,omitempty"`
	Controls  []Control `json:"plat-canopy:controls"`
	Popup     *Popup    `json:"plat-canopy:popup,omitempty"`
	Revision  uint64    `json:"plat-canopy:revision"`
}

// StyleWidget is a Widget that keeps the map as an in-memory style
// document. Browsers fetch the document and relay clicks and source-loaded
// notifications back.
type StyleWidget struct {
	mu       sync.RWMutex
	id       string
	opts     MapOptions
	sources  map[string]Source
	loaded   map[string]bool
	autoLoad bool
	layers   []Layer
	controls []Control
	anchor   string
	popup    *Popup
	clicks   map[string][]ClickHandler
	revision uint64
}

// StyleOptions configures StyleWidgets made by a StyleFactory.
type StyleOptions struct {
	// Anchor is the popup element id; empty means DefaultPopupAnchor.
	Anchor string
	// NoAnchor creates widgets without a popup anchor.
	NoAnchor bool
	// AutoLoad marks sources loaded as soon as they are added. Otherwise
	// MarkSourceLoaded must be called.
	AutoLoad bool
}

// NewStyleWidget creates a style widget for mapID.
func NewStyleWidget(mapID string, opts MapOptions, so StyleOptions) *StyleWidget {
	anchor := so.Anchor
	if anchor == "" && !so.NoAnchor {
		anchor = DefaultPopupAnchor
	}
	return &StyleWidget{
		id:       mapID,
		opts:     opts,
		sources:  make(map[string]Source),
		loaded:   make(map[string]bool),
		autoLoad: so.AutoLoad,
		anchor:   anchor,
		clicks:   make(map[string][]ClickHandler),
	}
}

// StyleFactory returns a WidgetFactory producing StyleWidgets.
func StyleFactory(so StyleOptions) WidgetFactory {
	return WidgetFactoryFunc(func(mapID string, opts MapOptions) (Widget, error) {
		return NewStyleWidget(mapID, opts, so), nil
	})
}

func (w *StyleWidget) ID() string { return w.id }

// OnStyleReady runs fn immediately: the document is always ready.
func (w *StyleWidget) OnStyleReady(fn func()) { fn() }

func (w *StyleWidget) AddSource(id string, src Source) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.sources[id]; ok {
		return fmt.Errorf("%w: %s", ErrSourceExists, id)
	}
	w.sources[id] = src
	w.loaded[id] = w.autoLoad
	w.revision++
	return nil
}

func (w *StyleWidget) RemoveSource(id string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.sources[id]; !ok {
		return
	}
	delete(w.sources, id)
	delete(w.loaded, id)
	w.revision++
}

func (w *StyleWidget) HasSource(id string) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	_, ok := w.sources[id]
	return ok
}

func (w *StyleWidget) IsSourceLoaded(id string) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.loaded[id]
}

// MarkSourceLoaded records that the browser finished loading a source.
func (w *StyleWidget) MarkSourceLoaded(id string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.sources[id]; !ok {
		return false
	}
	w.loaded[id] = true
	return true
}

func (w *StyleWidget) AddLayer(layer Layer, beforeID string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.indexLocked(layer.ID) >= 0 {
		return fmt.Errorf("layer %q already exists", layer.ID)
	}
	if _, ok := w.sources[layer.Source]; !ok {
		return fmt.Errorf("layer %q: source %q not found", layer.ID, layer.Source)
	}
	w.insertLocked(layer, beforeID)
	w.revision++
	return nil
}

func (w *StyleWidget) RemoveLayer(id string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if i := w.indexLocked(id); i >= 0 {
		w.layers = slices.Delete(w.layers, i, i+1)
		delete(w.clicks, id)
		w.revision++
	}
}

func (w *StyleWidget) HasLayer(id string) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.indexLocked(id) >= 0
}

func (w *StyleWidget) MoveLayer(id, beforeID string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	i := w.indexLocked(id)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrLayerNotFound, id)
	}
	layer := w.layers[i]
	w.layers = slices.Delete(w.layers, i, i+1)
	w.insertLocked(layer, beforeID)
	w.revision++
	return nil
}

func (w *StyleWidget) SetFilter(layerID string, filter *expr.Expr) error {
	return w.updateLayer(layerID, func(l *Layer) { l.Filter = filter })
}

func (w *StyleWidget) SetPaintProperty(layerID, name string, value any) error {
	return w.updateLayer(layerID, func(l *Layer) {
		paint := make(map[string]any, len(l.Paint)+1)
		for k, v := range l.Paint {
			paint[k] = v
		}
		paint[name] = value
		l.Paint = paint
	})
}

func (w *StyleWidget) SetVisibility(layerID string, visible bool) error {
	return w.updateLayer(layerID, func(l *Layer) {
		layout := make(map[string]any, len(l.Layout)+1)
		for k, v := range l.Layout {
			layout[k] = v
		}
		layout["visibility"] = visibility(visible)
		l.Layout = layout
	})
}

func (w *StyleWidget) AddControl(c Control) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.controls = slices.DeleteFunc(w.controls, func(x Control) bool { return x.Kind == c.Kind })
	w.controls = append(w.controls, c)
	w.revision++
}

func (w *StyleWidget) RemoveControl(kind ControlKind) {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := len(w.controls)
	w.controls = slices.DeleteFunc(w.controls, func(x Control) bool { return x.Kind == kind })
	if len(w.controls) != n {
		w.revision++
	}
}

// Controls returns the attached controls in attachment order.
func (w *StyleWidget) Controls() []Control {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return slices.Clone(w.controls)
}

func (w *StyleWidget) OnClick(layerID string, fn ClickHandler) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.clicks[layerID] = append(w.clicks[layerID], fn)
}

// DispatchClick runs the click handlers bound to ev.LayerID. It reports
// whether any handler ran.
func (w *StyleWidget) DispatchClick(ev ClickEvent) bool {
	w.mu.RLock()
	handlers := slices.Clone(w.clicks[ev.LayerID])
	w.mu.RUnlock()
	for _, h := range handlers {
		h(ev)
	}
	return len(handlers) > 0
}

func (w *StyleWidget) PopupAnchor() (string, bool) {
	return w.anchor, w.anchor != ""
}

func (w *StyleWidget) AttachPopup(p Popup) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.popup = &p
	w.revision++
}

func (w *StyleWidget) DetachPopup() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.popup != nil {
		w.popup = nil
		w.revision++
	}
}

// Popup returns the attached popup.
func (w *StyleWidget) Popup() (Popup, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.popup == nil {
		return Popup{}, false
	}
	return *w.popup, true
}

// LayerIDs returns layer ids bottom to top.
func (w *StyleWidget) LayerIDs() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	ids := make([]string, len(w.layers))
	for i, l := range w.layers {
		ids[i] = l.ID
	}
	return ids
}

// Layer returns a copy of the layer with id.
func (w *StyleWidget) Layer(id string) (Layer, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if i := w.indexLocked(id); i >= 0 {
		return w.layers[i], true
	}
	return Layer{}, false
}

// Revision increases on every change to the document.
func (w *StyleWidget) Revision() uint64 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.revision
}

// Style returns a snapshot of the style document.
func (w *StyleWidget) Style() StyleDocument {
	w.mu.RLock()
	defer w.mu.RUnlock()

	doc := StyleDocument{
		Version: 8,
		Name:    w.id,
		Center:  [2]float64{w.opts.Center.Lng, w.opts.Center.Lat},
		Zoom:    w.opts.Zoom,
		Sources: make(map[string]Source, len(w.sources)),
		Layers:  slices.Clone(w.layers),
		Metadata: StyleMetadata{
			BaseStyle: w.opts.StyleURL,
			Controls:  slices.Clone(w.controls),
			Revision:  w.revision,
		},
	}
	for id, s := range w.sources {
		doc.Sources[id] = s
	}
	if doc.Metadata.Controls == nil {
		doc.Metadata.Controls = []Control{}
	}
	if doc.Layers == nil {
		doc.Layers = []Layer{}
	}
	if w.popup != nil {
		p := *w.popup
		doc.Metadata.Popup = &p
	}
	return doc
}

func (w *StyleWidget) updateLayer(id string, fn func(*Layer)) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	i := w.indexLocked(id)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrLayerNotFound, id)
	}
	fn(&w.layers[i])
	w.revision++
	return nil
}

func (w *StyleWidget) indexLocked(id string) int {
	return slices.IndexFunc(w.layers, func(l Layer) bool { return l.ID == id })
}

func (w *StyleWidget) insertLocked(layer Layer, beforeID string) {
	if beforeID != "" {
		if j := w.indexLocked(beforeID); j >= 0 {
			w.layers = slices.Insert(w.layers, j, layer)
			return
		}
	}
	w.layers = append(w.layers, layer)
}
