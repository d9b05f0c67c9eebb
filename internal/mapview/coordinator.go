package mapview

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/joeblew999/plat-canopy/internal/service"
)

// Map defaults: the Lyon metropolitan area on an OSM Bright base style.
var DefaultCenter = service.Coordinates{Lat: 45.7640, Lng: 4.8357}

const (
	DefaultZoom         = 12.0
	DefaultStyleURL     = "https://openmaptiles.geo.data.gouv.fr/styles/osm-bright/style.json"
	DefaultPollInterval = 100 * time.Millisecond
)

// DetailFetcher loads the backend details of a clicked tile.
type DetailFetcher interface {
	TileDetail(ctx context.Context, dt service.DataType, id string) (map[string]any, error)
}

// FeatureLocator finds the rendered feature under a position.
type FeatureLocator interface {
	FeatureAt(ctx context.Context, dt service.DataType, at service.Coordinates, zoom int) (Feature, bool, error)
}

// PopupRenderer renders the popup fragment.
type PopupRenderer interface {
	Render(name string, data any) (string, error)
}

// Options configures a Coordinator. Only Factory is required.
type Options struct {
	Factory  WidgetFactory
	Layers   *service.LayerRegistry
	Filters  *service.FilterRegistry
	Bus      *service.EventBus
	Toasts   *service.ToastQueue
	Details  DetailFetcher
	Locator  FeatureLocator
	Renderer PopupRenderer
	Logger   *zap.Logger

	TileBaseURL  string
	StyleURL     string
	Center       service.Coordinates
	Zoom         float64
	PollInterval time.Duration
	DataType     service.DataType
}

type openPopup struct {
	mapID string
	data  service.PopupData
}

// State is a snapshot of the map view.
type State struct {
	DataType          service.DataType          `json:"dataType"`
	VulnerabilityMode service.VulnerabilityMode `json:"vulnerabilityMode"`
	Layers            []service.LayerConfig     `json:"layers"`
	Filters           service.FilterState       `json:"filters"`
	Popup             *service.PopupData        `json:"popup,omitempty"`
	Maps              []string                  `json:"maps"`
}

// Coordinator owns the map widgets. It is the only component that mutates
// widget sources and layers; the registries reach it through the layer
// update callback and through return values.
//
// Every registry mutation must go through the Coordinator, which holds its
// lock while the registry callback re-renders the widgets.
type Coordinator struct {
	mu       sync.Mutex
	maps     map[string]Widget
	order    []string
	dataType service.DataType
	vulnMode service.VulnerabilityMode
	popup    *openPopup
	// detailSeq is the request token of the latest popup detail fetch.
	detailSeq uint64
	closed    bool

	factory  WidgetFactory
	layers   *service.LayerRegistry
	filters  *service.FilterRegistry
	bus      *service.EventBus
	toasts   *service.ToastQueue
	details  DetailFetcher
	locator  FeatureLocator
	renderer PopupRenderer
	logger   *zap.Logger

	tileBase string
	mapOpts  MapOptions
	poll     time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a coordinator. Call Close to stop background work.
func New(opts Options) *Coordinator {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	bus := opts.Bus
	if bus == nil {
		bus = service.NewEventBus()
	}
	c := &Coordinator{
		maps:     make(map[string]Widget),
		dataType: opts.DataType,
		vulnMode: service.VulnerabilityDay,
		factory:  opts.Factory,
		layers:   opts.Layers,
		filters:  opts.Filters,
		bus:      bus,
		toasts:   opts.Toasts,
		details:  opts.Details,
		locator:  opts.Locator,
		renderer: opts.Renderer,
		logger:   logger.Named("mapview"),
		tileBase: opts.TileBaseURL,
		mapOpts: MapOptions{
			Center:   opts.Center,
			Zoom:     opts.Zoom,
			StyleURL: opts.StyleURL,
		},
		poll: opts.PollInterval,
	}
	if c.dataType == "" {
		c.dataType = service.Plantability
	}
	if c.layers == nil {
		c.layers = service.NewLayerRegistry(service.LayerOptions{Bus: bus, Logger: logger})
	}
	if c.filters == nil {
		c.filters = service.NewFilterRegistry(bus)
	}
	if c.toasts == nil {
		c.toasts = service.NewToastQueue(0, bus)
	}
	if c.mapOpts.Center == (service.Coordinates{}) {
		c.mapOpts.Center = DefaultCenter
	}
	if c.mapOpts.Zoom == 0 {
		c.mapOpts.Zoom = DefaultZoom
	}
	if c.mapOpts.StyleURL == "" {
		c.mapOpts.StyleURL = DefaultStyleURL
	}
	if c.poll <= 0 {
		c.poll = DefaultPollInterval
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())
	c.layers.SetOnUpdate(c.renderLayersLocked)
	return c
}

// Close stops source polls and detail fetches and waits for them.
func (c *Coordinator) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.cancel()
	c.wg.Wait()
}

// Bus returns the coordinator's event bus.
func (c *Coordinator) Bus() *service.EventBus { return c.bus }

// Toasts returns the coordinator's toast queue.
func (c *Coordinator) Toasts() *service.ToastQueue { return c.toasts }

// Layers returns the layer registry. Callers must only read from it.
func (c *Coordinator) Layers() *service.LayerRegistry { return c.layers }

// Filters returns the filter registry. Callers must only read from it.
func (c *Coordinator) Filters() *service.FilterRegistry { return c.filters }

// InitMap creates the widget for mapID. Once its style is ready the
// controls, the current data source and the registry layers are installed.
func (c *Coordinator) InitMap(mapID string) (Widget, error) {
	c.mu.Lock()
	if _, ok := c.maps[mapID]; ok {
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrMapExists, mapID)
	}
	w, err := c.factory.NewWidget(mapID, c.mapOpts)
	if err != nil {
		c.mu.Unlock()
		return nil, fmt.Errorf("create map %s: %w", mapID, err)
	}
	c.maps[mapID] = w
	c.order = append(c.order, mapID)
	c.mu.Unlock()

	w.OnStyleReady(func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.maps[mapID] != w {
			return
		}
		c.attachControlsLocked(w)
		c.renderWidgetLocked(mapID, w, c.layers.List())
		c.applyFiltersLocked()
		c.logger.Info("map ready", zap.String("map", mapID), zap.String("dataType", string(c.dataType)))
	})

	c.publish("maps", "created", mapID)
	return w, nil
}

// RemoveMap drops a widget, closing the popup if it was open on it.
func (c *Coordinator) RemoveMap(mapID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.maps[mapID]; !ok {
		return fmt.Errorf("%w: %s", ErrMapNotFound, mapID)
	}
	if c.popup != nil && c.popup.mapID == mapID {
		c.closePopupLocked()
	}
	delete(c.maps, mapID)
	c.order = slices.DeleteFunc(c.order, func(id string) bool { return id == mapID })
	c.publish("maps", "deleted", mapID)
	return nil
}

// Map returns the widget for mapID.
func (c *Coordinator) Map(mapID string) (Widget, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	w, ok := c.maps[mapID]
	return w, ok
}

// Style returns a consistent snapshot of a StyleWidget's document.
func (c *Coordinator) Style(mapID string) (StyleDocument, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	w, ok := c.maps[mapID]
	if !ok {
		return StyleDocument{}, fmt.Errorf("%w: %s", ErrMapNotFound, mapID)
	}
	sw, ok := w.(*StyleWidget)
	if !ok {
		return StyleDocument{}, fmt.Errorf("map %s has no style document", mapID)
	}
	return sw.Style(), nil
}

// State returns a snapshot of the view.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := State{
		DataType:          c.dataType,
		VulnerabilityMode: c.vulnMode,
		Layers:            c.layers.List(),
		Filters:           c.filters.Snapshot(),
		Maps:              slices.Clone(c.order),
	}
	if s.Maps == nil {
		s.Maps = []string{}
	}
	if c.popup != nil {
		p := c.popup.data
		s.Popup = &p
	}
	return s
}

// DataType returns the active data type.
func (c *Coordinator) DataType() service.DataType {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dataType
}

// SetupSource registers the vector tile source of dt on mapID.
func (c *Coordinator) SetupSource(mapID string, dt service.DataType) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	w, ok := c.maps[mapID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrMapNotFound, mapID)
	}
	return c.setupSourceLocked(mapID, w, dt)
}

// SetupTile installs the layer for l on mapID, with its source and click
// handler.
func (c *Coordinator) SetupTile(mapID string, l service.LayerConfig) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	w, ok := c.maps[mapID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrMapNotFound, mapID)
	}
	return c.setupTileLocked(mapID, w, l, "")
}

// AddLayer shows the (dt, mode) layer with opacity.
func (c *Coordinator) AddLayer(dt service.DataType, mode service.RenderMode, opacity float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.layers.AddWithMode(dt, mode, opacity)
}

// ActivateLayer toggles the (dt, mode) layer.
func (c *Coordinator) ActivateLayer(dt service.DataType, mode service.RenderMode) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.layers.ActivateWithMode(dt, mode)
}

// RemoveLayer removes the layers of dt, only mode when given.
func (c *Coordinator) RemoveLayer(dt service.DataType, mode ...service.RenderMode) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.layers.Remove(dt, mode...)
}

// SetOpacity changes a layer's opacity.
func (c *Coordinator) SetOpacity(dt service.DataType, mode service.RenderMode, opacity float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.layers.SetOpacity(dt, mode, opacity)
}

// SetVisibility shows or hides a layer.
func (c *Coordinator) SetVisibility(dt service.DataType, mode service.RenderMode, visible bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.layers.SetVisibility(dt, mode, visible)
}

// ResetLayers restores the default layer configuration.
func (c *Coordinator) ResetLayers() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.layers.Reset()
}

// ToggleFilter flips value in the active data type's selection and
// re-applies the filter to every map.
func (c *Coordinator) ToggleFilter(value string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.filters.Toggle(c.dataType, value); err != nil {
		return err
	}
	c.syncFiltersLocked()
	return nil
}

// ClearFilter empties the active data type's selection.
func (c *Coordinator) ClearFilter() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.filters.Clear(c.dataType)
	c.syncFiltersLocked()
}

// ApplyFilters re-installs the active filter on every map.
func (c *Coordinator) ApplyFilters() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.filters.ApplyFilters(c.targetsLocked(), c.dataType, c.vulnMode)
}

// SetVulnerabilityMode switches between day and night vulnerability.
func (c *Coordinator) SetVulnerabilityMode(mode service.VulnerabilityMode) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if mode == c.vulnMode {
		return
	}
	c.vulnMode = mode
	relief := service.LayerID(service.Vulnerability, service.RenderColorRelief)
	for _, id := range c.order {
		w := c.maps[id]
		if w.HasLayer(relief) {
			if err := w.SetPaintProperty(relief, "fill-color", colorRelief(service.Vulnerability, mode)); err != nil {
				c.logger.Warn("update color relief", zap.String("map", id), zap.Error(err))
			}
		}
	}
	c.applyFiltersLocked()
	c.publish("maps", "updated", "vulnerability-mode")
}

// ChangeDataType swaps the displayed data type on every map. The popup is
// closed, the old layers, source and controls are removed, the new ones are
// installed and the attribution is replaced, all before returning. The
// incoming data type's filter starts empty.
func (c *Coordinator) ChangeDataType(dt service.DataType) error {
	if !dt.Valid() {
		return fmt.Errorf("%w: %q", service.ErrUnknownDataType, dt)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if dt == c.dataType {
		return nil
	}
	old := c.dataType

	c.closePopupLocked()
	for _, id := range c.order {
		w := c.maps[id]
		w.RemoveControl(ControlAttribution)
		w.RemoveControl(ControlNavigation)
	}

	c.dataType = dt
	c.filters.Clear(dt)
	c.layers.Remove(old)
	c.layers.Add(dt)

	for _, id := range c.order {
		c.attachControlsLocked(c.maps[id])
	}
	c.applyFiltersLocked()

	c.logger.Info("data type changed", zap.String("from", string(old)), zap.String("to", string(dt)))
	c.publish("maps", "updated", "data-type")
	return nil
}

// WaitSourceLoaded polls until sourceID is loaded on mapID. There is no
// retry limit; it stops only when ctx ends, the map is removed or the source
// goes away.
func (c *Coordinator) WaitSourceLoaded(ctx context.Context, mapID, sourceID string) error {
	ticker := time.NewTicker(c.poll)
	defer ticker.Stop()
	for {
		w, ok := c.Map(mapID)
		if !ok {
			return fmt.Errorf("%w: %s", ErrMapNotFound, mapID)
		}
		if !w.HasSource(sourceID) {
			return fmt.Errorf("source %s removed from map %s", sourceID, mapID)
		}
		if w.IsSourceLoaded(sourceID) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// renderLayersLocked is the layer registry callback.
func (c *Coordinator) renderLayersLocked(layers []service.LayerConfig) {
	for _, id := range c.order {
		c.renderWidgetLocked(id, c.maps[id], layers)
	}
	c.applyFiltersLocked()
	c.publish("maps", "updated", "layers")
}

// renderWidgetLocked reconciles w with the registry: stale layers and
// sources go, missing ones are installed, and every layer gets its opacity,
// visibility and z-order.
func (c *Coordinator) renderWidgetLocked(mapID string, w Widget, layers []service.LayerConfig) {
	want := make(map[string]bool, len(layers))
	sources := make(map[string]bool, len(layers))
	for _, l := range layers {
		want[service.LayerID(l.DataType, l.RenderMode)] = true
		sources[service.SourceID(l.DataType)] = true
	}
	for _, dt := range service.DataTypes {
		for _, m := range service.RenderModes {
			if id := service.LayerID(dt, m); !want[id] && w.HasLayer(id) {
				w.RemoveLayer(id)
			}
		}
		if sid := service.SourceID(dt); !sources[sid] && w.HasSource(sid) {
			w.RemoveSource(sid)
		}
	}

	// Top-down, so each layer is placed right below the one above it.
	above := ""
	for i := len(layers) - 1; i >= 0; i-- {
		l := layers[i]
		id := service.LayerID(l.DataType, l.RenderMode)
		if !w.HasLayer(id) {
			if err := c.setupTileLocked(mapID, w, l, above); err != nil {
				c.logger.Error("install layer", zap.String("map", mapID), zap.String("layer", id), zap.Error(err))
				continue
			}
		} else {
			if err := w.SetPaintProperty(id, opacityProperty(l.RenderMode), l.Opacity); err != nil {
				c.logger.Warn("set opacity", zap.String("layer", id), zap.Error(err))
			}
			if err := w.SetVisibility(id, l.Visible); err != nil {
				c.logger.Warn("set visibility", zap.String("layer", id), zap.Error(err))
			}
			if err := w.MoveLayer(id, above); err != nil {
				c.logger.Warn("move layer", zap.String("layer", id), zap.Error(err))
			}
		}
		above = id
	}
}

func (c *Coordinator) setupSourceLocked(mapID string, w Widget, dt service.DataType) error {
	sid := service.SourceID(dt)
	if w.HasSource(sid) {
		return nil
	}
	info := dt.Info()
	err := w.AddSource(sid, Source{
		Type:        "vector",
		Tiles:       []string{TileURL(c.tileBase, dt)},
		MinZoom:     info.MinZoom,
		MaxZoom:     info.MaxZoom,
		Attribution: info.Attribution,
	})
	if err != nil {
		return fmt.Errorf("add source %s: %w", sid, err)
	}
	c.watchSourceLocked(mapID, sid)
	return nil
}

func (c *Coordinator) setupTileLocked(mapID string, w Widget, l service.LayerConfig, beforeID string) error {
	if err := c.setupSourceLocked(mapID, w, l.DataType); err != nil {
		return err
	}
	spec := layerSpec(l, c.vulnMode)
	if err := w.AddLayer(spec, beforeID); err != nil {
		return fmt.Errorf("add layer %s: %w", spec.ID, err)
	}
	dt := l.DataType
	w.OnClick(spec.ID, func(ev ClickEvent) {
		c.handleClick(mapID, dt, ev)
	})
	return nil
}

// watchSourceLocked re-applies filters once the source has loaded.
func (c *Coordinator) watchSourceLocked(mapID, sourceID string) {
	if c.closed {
		return
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if err := c.WaitSourceLoaded(c.ctx, mapID, sourceID); err != nil {
			c.logger.Debug("stopped waiting for source", zap.String("map", mapID),
				zap.String("source", sourceID), zap.Error(err))
			return
		}
		c.mu.Lock()
		c.applyFiltersLocked()
		c.mu.Unlock()
		c.publish("maps", "loaded", mapID)
	}()
}

func (c *Coordinator) attachControlsLocked(w Widget) {
	w.AddControl(Control{Kind: ControlAttribution, Text: c.dataType.Info().Attribution})
	w.AddControl(Control{Kind: ControlNavigation})
}

func (c *Coordinator) syncFiltersLocked() {
	c.layers.SetFilters(c.dataType, c.filters.Values(c.dataType))
	c.applyFiltersLocked()
}

func (c *Coordinator) applyFiltersLocked() {
	if err := c.filters.ApplyFilters(c.targetsLocked(), c.dataType, c.vulnMode); err != nil {
		c.logger.Error("apply filters", zap.Error(err))
	}
}

func (c *Coordinator) targetsLocked() []service.FilterTarget {
	targets := make([]service.FilterTarget, 0, len(c.order))
	for _, id := range c.order {
		targets = append(targets, c.maps[id])
	}
	return targets
}

func (c *Coordinator) publish(resource, action, id string) {
	c.bus.Publish(service.Event{Resource: resource, Action: action, ID: id})
}
