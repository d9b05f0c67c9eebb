package service

import (
	"math"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// DefaultOpacity is applied when a layer is added without an explicit opacity.
const DefaultOpacity = 0.7

// unbandedFloor is the lowest z-index for data types without a reserved band,
// which stack above every banded layer.
const unbandedFloor = 1000

// zBand is a reserved z-index range, bounds inclusive.
type zBand struct {
	Min, Max int
}

var zBands = map[DataType]zBand{
	Plantability:     {Min: 100, Max: unbandedFloor - 1},
	Vulnerability:    {Min: 50, Max: 99},
	LocalClimateZone: {Min: 10, Max: 49},
}

func (b zBand) contains(z int) bool {
	return z >= b.Min && z <= b.Max
}

// LayerOptions configures a LayerRegistry.
type LayerOptions struct {
	// OnUpdate runs synchronously on the mutating goroutine after every
	// change, with the registry lock released.
	OnUpdate func([]LayerConfig)
	Bus      *EventBus
	Logger   *zap.Logger
}

// toggleRecord remembers the effect of the last ActivateWithMode call so
// that an immediate repeat can undo it exactly.
type toggleRecord struct {
	key       LayerKey
	before    *LayerConfig
	displaced []LayerConfig
	revision  uint64
}

// LayerRegistry tracks which (data type, render mode) layers are rendered,
// their opacity and their stacking order. State lives for the process only.
type LayerRegistry struct {
	mu       sync.RWMutex
	layers   map[LayerKey]LayerConfig
	revision uint64
	last     *toggleRecord

	onUpdate func([]LayerConfig)
	bus      *EventBus
	logger   *zap.Logger
}

// NewLayerRegistry creates a registry holding the default configuration.
func NewLayerRegistry(opts LayerOptions) *LayerRegistry {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &LayerRegistry{
		layers:   make(map[LayerKey]LayerConfig),
		onUpdate: opts.OnUpdate,
		bus:      opts.Bus,
		logger:   logger.Named("layers"),
	}
	r.resetLocked()
	return r
}

// SetOnUpdate replaces the update callback.
func (r *LayerRegistry) SetOnUpdate(fn func([]LayerConfig)) {
	r.mu.Lock()
	r.onUpdate = fn
	r.mu.Unlock()
}

// List returns every layer ordered by z-index.
func (r *LayerRegistry) List() []LayerConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.listLocked()
}

// Get returns the layer for (dt, mode).
func (r *LayerRegistry) Get(dt DataType, mode RenderMode) (LayerConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	l, ok := r.layers[LayerKey{dt, mode}]
	if ok {
		l.Filters = append([]string(nil), l.Filters...)
	}
	return l, ok
}

// Visible returns the visible layers ordered by z-index.
func (r *LayerRegistry) Visible() []LayerConfig {
	var out []LayerConfig
	for _, l := range r.List() {
		if l.Visible {
			out = append(out, l)
		}
	}
	return out
}

// Reset restores the default single plantability layer.
func (r *LayerRegistry) Reset() {
	r.mu.Lock()
	r.resetLocked()
	r.mu.Unlock()
	r.changed("reset", "")
}

// Add shows a FILL layer for dt, creating it if needed.
func (r *LayerRegistry) Add(dt DataType, opacity ...float64) {
	r.AddWithMode(dt, RenderFill, opacity...)
}

// AddWithMode shows a layer for dt drawn in mode, creating it if needed.
// An existing entry is made visible with the given opacity.
func (r *LayerRegistry) AddWithMode(dt DataType, mode RenderMode, opacity ...float64) {
	r.mu.Lock()
	r.addLocked(dt, mode, opacityArg(opacity))
	r.mu.Unlock()
	r.changed("created", LayerID(dt, mode))
}

// Remove deletes the layers for dt. With no mode every mode is removed.
func (r *LayerRegistry) Remove(dt DataType, mode ...RenderMode) {
	r.mu.Lock()
	removed := r.removeLocked(dt, mode...)
	r.mu.Unlock()
	if len(removed) > 0 {
		r.changed("deleted", string(dt))
	}
}

// ActivateWithMode toggles the (dt, mode) layer. A visible layer is removed;
// otherwise other modes of dt are removed and the layer is added, evicting any
// visible plantability-family FILL layer when mode is FILL. Calling it twice
// in a row with the same arguments restores the state before the first call.
func (r *LayerRegistry) ActivateWithMode(dt DataType, mode RenderMode) {
	key := LayerKey{dt, mode}

	r.mu.Lock()
	if last := r.last; last != nil && last.key == key && last.revision == r.revision {
		r.undoLocked(last)
		r.mu.Unlock()
		r.changed("updated", LayerID(dt, mode))
		return
	}

	rec := &toggleRecord{key: key}
	if cur, ok := r.layers[key]; ok {
		c := cur
		rec.before = &c
	}

	if cur, ok := r.layers[key]; ok && cur.Visible {
		delete(r.layers, key)
	} else {
		for _, m := range RenderModes {
			if m == mode {
				continue
			}
			if other, ok := r.layers[LayerKey{dt, m}]; ok && other.Visible {
				rec.displaced = append(rec.displaced, other)
				delete(r.layers, other.Key())
			}
		}
		if mode == RenderFill && dt.PlantabilityFamily() {
			rec.displaced = append(rec.displaced, r.evictPlantabilityFillLocked(dt)...)
		}
		r.addLocked(dt, mode, DefaultOpacity)
	}
	r.revision++
	rec.revision = r.revision
	r.last = rec
	r.mu.Unlock()

	r.changed("updated", LayerID(dt, mode))
}

// SetOpacity changes the opacity of (dt, mode). Missing layers are ignored.
func (r *LayerRegistry) SetOpacity(dt DataType, mode RenderMode, opacity float64) {
	r.mutate(dt, mode, func(l *LayerConfig) { l.Opacity = clampOpacity(opacity) })
}

// SetVisibility shows or hides (dt, mode). Missing layers are ignored.
func (r *LayerRegistry) SetVisibility(dt DataType, mode RenderMode, visible bool) {
	r.mutate(dt, mode, func(l *LayerConfig) {
		if visible && l.RenderMode == RenderFill && l.DataType.PlantabilityFamily() {
			r.evictPlantabilityFillLocked(l.DataType)
		}
		l.Visible = visible
	})
}

// SetFilters records the selected filter values of every layer of dt.
func (r *LayerRegistry) SetFilters(dt DataType, values []string) {
	r.mu.Lock()
	touched := false
	for k, l := range r.layers {
		if k.DataType != dt {
			continue
		}
		l.Filters = append([]string(nil), values...)
		r.layers[k] = l
		touched = true
	}
	if touched {
		r.revision++
	}
	r.mu.Unlock()
	if touched {
		r.changed("updated", string(dt))
	}
}

func (r *LayerRegistry) mutate(dt DataType, mode RenderMode, fn func(*LayerConfig)) {
	key := LayerKey{dt, mode}
	r.mu.Lock()
	l, ok := r.layers[key]
	if !ok {
		r.mu.Unlock()
		return
	}
	fn(&l)
	r.layers[key] = l
	r.revision++
	r.mu.Unlock()
	r.changed("updated", LayerID(dt, mode))
}

func (r *LayerRegistry) addLocked(dt DataType, mode RenderMode, opacity float64) {
	key := LayerKey{dt, mode}
	if mode == RenderFill && dt.PlantabilityFamily() {
		r.evictPlantabilityFillLocked(dt)
	}
	if l, ok := r.layers[key]; ok {
		l.Visible = true
		l.Opacity = opacity
		r.layers[key] = l
	} else {
		r.layers[key] = LayerConfig{
			DataType:   dt,
			Visible:    true,
			Opacity:    opacity,
			ZIndex:     r.nextZIndexLocked(dt),
			Filters:    []string{},
			RenderMode: mode,
		}
	}
	r.revision++
}

func (r *LayerRegistry) removeLocked(dt DataType, mode ...RenderMode) []LayerConfig {
	var removed []LayerConfig
	for k, l := range r.layers {
		if k.DataType != dt {
			continue
		}
		if len(mode) > 0 && k.RenderMode != mode[0] {
			continue
		}
		removed = append(removed, l)
		delete(r.layers, k)
	}
	if len(removed) > 0 {
		r.revision++
	}
	return removed
}

// evictPlantabilityFillLocked removes every visible plantability-family FILL
// layer other than the one for keep.
func (r *LayerRegistry) evictPlantabilityFillLocked(keep DataType) []LayerConfig {
	var evicted []LayerConfig
	for k, l := range r.layers {
		if k.RenderMode != RenderFill || !k.DataType.PlantabilityFamily() || k.DataType == keep || !l.Visible {
			continue
		}
		evicted = append(evicted, l)
		delete(r.layers, k)
		r.logger.Debug("evicted plantability fill layer",
			zap.String("evicted", string(k.DataType)), zap.String("by", string(keep)))
	}
	return evicted
}

func (r *LayerRegistry) undoLocked(rec *toggleRecord) {
	delete(r.layers, rec.key)
	if rec.before != nil {
		r.layers[rec.key] = *rec.before
	}
	for _, l := range rec.displaced {
		r.layers[l.Key()] = l
	}
	r.revision++
	r.last = nil
}

// nextZIndexLocked returns max(existing in dt's band)+1, or the band floor if
// the band is empty. Unbanded data types stack above everything.
func (r *LayerRegistry) nextZIndexLocked(dt DataType) int {
	band, banded := zBands[dt]
	if !banded {
		z := unbandedFloor
		for _, l := range r.layers {
			if l.ZIndex >= z {
				z = l.ZIndex + 1
			}
		}
		return z
	}
	z := band.Min
	for _, l := range r.layers {
		if band.contains(l.ZIndex) && l.ZIndex >= z {
			z = l.ZIndex + 1
		}
	}
	if z > band.Max {
		z = band.Max
	}
	return z
}

func (r *LayerRegistry) resetLocked() {
	r.layers = map[LayerKey]LayerConfig{}
	r.last = nil
	r.layers[LayerKey{Plantability, RenderFill}] = LayerConfig{
		DataType:   Plantability,
		Visible:    true,
		Opacity:    DefaultOpacity,
		ZIndex:     zBands[Plantability].Min,
		Filters:    []string{},
		RenderMode: RenderFill,
	}
	r.revision++
}

func (r *LayerRegistry) listLocked() []LayerConfig {
	out := make([]LayerConfig, 0, len(r.layers))
	for _, l := range r.layers {
		l.Filters = append([]string(nil), l.Filters...)
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ZIndex != out[j].ZIndex {
			return out[i].ZIndex < out[j].ZIndex
		}
		if out[i].DataType != out[j].DataType {
			return out[i].DataType < out[j].DataType
		}
		return out[i].RenderMode < out[j].RenderMode
	})
	return out
}

func (r *LayerRegistry) changed(action, id string) {
	r.mu.RLock()
	fn := r.onUpdate
	snapshot := r.listLocked()
	r.mu.RUnlock()

	if r.bus != nil {
		r.bus.Publish(Event{Resource: "layers", Action: action, ID: id})
	}
	if fn != nil {
		fn(snapshot)
	}
}

func opacityArg(opacity []float64) float64 {
	if len(opacity) == 0 {
		return DefaultOpacity
	}
	return clampOpacity(opacity[0])
}

func clampOpacity(v float64) float64 {
	if math.IsNaN(v) {
		return DefaultOpacity
	}
	return math.Max(0, math.Min(1, v))
}
