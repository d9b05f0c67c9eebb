package service

import (
	"reflect"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// layerOp is one generated registry mutation.
type layerOp struct {
	Kind     int
	DataType DataType
	Mode     RenderMode
	Opacity  float64
}

func genLayerOp() gopter.Gen {
	return gopter.CombineGens(
		gen.IntRange(0, 4),
		gen.OneConstOf(Plantability, Vulnerability, LocalClimateZone, PlantabilityVulnerability),
		gen.OneConstOf(RenderFill, RenderSymbol, RenderColorRelief),
		gen.Float64Range(0, 1),
	).Map(func(v []any) layerOp {
		return layerOp{
			Kind:     v[0].(int),
			DataType: v[1].(DataType),
			Mode:     v[2].(RenderMode),
			Opacity:  v[3].(float64),
		}
	})
}

func (op layerOp) apply(r *LayerRegistry) {
	switch op.Kind {
	case 0:
		r.Add(op.DataType, op.Opacity)
	case 1:
		r.AddWithMode(op.DataType, op.Mode, op.Opacity)
	case 2:
		r.Remove(op.DataType)
	case 3:
		r.Remove(op.DataType, op.Mode)
	case 4:
		r.ActivateWithMode(op.DataType, op.Mode)
	}
}

func TestLayerRegistryProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("never two visible plantability fill layers", prop.ForAll(
		func(ops []layerOp) bool {
			r := NewLayerRegistry(LayerOptions{})
			for _, op := range ops {
				op.apply(r)
				if visibleFills(r.List()) > 1 {
					return false
				}
			}
			return true
		},
		gen.SliceOf(genLayerOp()),
	))

	properties.Property("activating twice restores the previous state", prop.ForAll(
		func(ops []layerOp, dt DataType, mode RenderMode) bool {
			r := NewLayerRegistry(LayerOptions{})
			for _, op := range ops {
				op.apply(r)
			}
			before := r.List()
			r.ActivateWithMode(dt, mode)
			r.ActivateWithMode(dt, mode)
			return reflect.DeepEqual(before, r.List())
		},
		gen.SliceOf(genLayerOp()),
		gen.OneConstOf(Plantability, Vulnerability, LocalClimateZone, PlantabilityVulnerability),
		gen.OneConstOf(RenderFill, RenderSymbol, RenderColorRelief),
	))

	properties.Property("banded z-indexes stay inside their band", prop.ForAll(
		func(ops []layerOp) bool {
			r := NewLayerRegistry(LayerOptions{})
			for _, op := range ops {
				op.apply(r)
			}
			for _, l := range r.List() {
				if band, ok := zBands[l.DataType]; ok && !band.contains(l.ZIndex) {
					return false
				}
			}
			return true
		},
		gen.SliceOf(genLayerOp()),
	))

	properties.TestingRun(t)
}
