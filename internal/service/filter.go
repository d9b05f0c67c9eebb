package service

import (
	"errors"
	"fmt"
	"slices"
	"sort"
	"strconv"
	"sync"

	"github.com/joeblew999/plat-canopy/internal/expr"
)

// ErrInvalidFilterValue is returned for a value that does not belong to the
// filter domain of a data type.
var ErrInvalidFilterValue = errors.New("invalid filter value")

// FilterTarget is a live map that accepts layer filters. Map widgets
// implement it.
type FilterTarget interface {
	HasLayer(layerID string) bool
	SetFilter(layerID string, filter *expr.Expr) error
}

// FilterState is a snapshot of every selection set.
type FilterState struct {
	Scores              []int    `json:"filteredScores" doc:"Selected plantability scores"`
	Zones               []string `json:"filteredZones" doc:"Selected local climate zone codes"`
	VulnerabilityLevels []int    `json:"filteredVulnerabilityLevels" doc:"Selected vulnerability levels"`
}

// FilterRegistry keeps per-domain selection sets. Sets persist across data
// type switches; only the active data type's domain is applied to maps.
type FilterRegistry struct {
	mu     sync.RWMutex
	scores []int
	zones  []string
	levels []int
	bus    *EventBus
}

// NewFilterRegistry creates an empty filter registry.
func NewFilterRegistry(bus *EventBus) *FilterRegistry {
	return &FilterRegistry{bus: bus}
}

// ToggleScore adds score to the plantability selection, or removes it if present.
func (f *FilterRegistry) ToggleScore(score int) {
	f.mu.Lock()
	f.scores = toggle(f.scores, score)
	f.mu.Unlock()
	f.publish(DomainScores)
}

// ToggleZone adds a local climate zone code, or removes it if present.
func (f *FilterRegistry) ToggleZone(zone string) {
	f.mu.Lock()
	f.zones = toggle(f.zones, zone)
	f.mu.Unlock()
	f.publish(DomainZones)
}

// ToggleVulnerability adds a vulnerability level, or removes it if present.
func (f *FilterRegistry) ToggleVulnerability(level int) {
	f.mu.Lock()
	f.levels = toggle(f.levels, level)
	f.mu.Unlock()
	f.publish(DomainVulnerability)
}

// Toggle flips value in the domain of dt, parsing it as the domain requires.
func (f *FilterRegistry) Toggle(dt DataType, value string) error {
	switch dt.Info().Domain {
	case DomainScores:
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("%w: score %q", ErrInvalidFilterValue, value)
		}
		f.ToggleScore(n)
	case DomainVulnerability:
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("%w: vulnerability level %q", ErrInvalidFilterValue, value)
		}
		f.ToggleVulnerability(n)
	case DomainZones:
		if value == "" {
			return fmt.Errorf("%w: empty zone code", ErrInvalidFilterValue)
		}
		f.ToggleZone(value)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownDataType, dt)
	}
	return nil
}

// Clear empties the selection of dt's domain.
func (f *FilterRegistry) Clear(dt DataType) {
	domain := dt.Info().Domain
	f.mu.Lock()
	switch domain {
	case DomainScores:
		f.scores = nil
	case DomainZones:
		f.zones = nil
	case DomainVulnerability:
		f.levels = nil
	}
	f.mu.Unlock()
	f.publish(domain)
}

// Snapshot returns a copy of every selection set.
func (f *FilterRegistry) Snapshot() FilterState {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return FilterState{
		Scores:              append([]int{}, f.scores...),
		Zones:               append([]string{}, f.zones...),
		VulnerabilityLevels: append([]int{}, f.levels...),
	}
}

// Values returns the selection of dt's domain as strings, sorted.
func (f *FilterRegistry) Values(dt DataType) []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	var out []string
	switch dt.Info().Domain {
	case DomainScores:
		for _, v := range sortedCopy(f.scores) {
			out = append(out, strconv.Itoa(v))
		}
	case DomainVulnerability:
		for _, v := range sortedCopy(f.levels) {
			out = append(out, strconv.Itoa(v))
		}
	case DomainZones:
		out = sortedCopy(f.zones)
	}
	if out == nil {
		out = []string{}
	}
	return out
}

// Expression builds the inclusion filter for the active data type. It
// returns nil when the active selection is empty. Values are sorted so the
// same selection always yields the same expression.
func (f *FilterRegistry) Expression(active DataType, mode VulnerabilityMode) *expr.Expr {
	f.mu.RLock()
	defer f.mu.RUnlock()

	switch active.Info().Domain {
	case DomainScores:
		if len(f.scores) == 0 {
			return nil
		}
		return expr.In(expr.Floor(expr.Get("indice")), sortedCopy(f.scores)...)
	case DomainZones:
		if len(f.zones) == 0 {
			return nil
		}
		return expr.In(expr.Get("lcz"), sortedCopy(f.zones)...)
	case DomainVulnerability:
		if len(f.levels) == 0 {
			return nil
		}
		return expr.In(expr.Get(mode.Attribute()), sortedCopy(f.levels)...)
	}
	return nil
}

// ApplyFilters installs the active data type's filter on every layer of that
// data type present on each target. An empty selection clears the filter.
func (f *FilterRegistry) ApplyFilters(targets []FilterTarget, active DataType, mode VulnerabilityMode) error {
	filter := f.Expression(active, mode)
	for _, t := range targets {
		for _, m := range RenderModes {
			id := LayerID(active, m)
			if !t.HasLayer(id) {
				continue
			}
			if err := t.SetFilter(id, filter); err != nil {
				return fmt.Errorf("set filter on %s: %w", id, err)
			}
		}
	}
	return nil
}

func (f *FilterRegistry) publish(domain FilterDomain) {
	if f.bus != nil {
		f.bus.Publish(Event{Resource: "filters", Action: "updated", ID: string(domain)})
	}
}

// toggle keeps set sorted, so toggling a value twice restores it exactly.
func toggle[T int | string](set []T, v T) []T {
	i, found := slices.BinarySearch(set, v)
	if found {
		return slices.Delete(slices.Clone(set), i, i+1)
	}
	return slices.Insert(slices.Clone(set), i, v)
}

func sortedCopy[T int | string](in []T) []T {
	out := append([]T(nil), in...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
