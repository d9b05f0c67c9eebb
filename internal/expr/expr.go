// Package expr models MapLibre style expressions as a small tagged union.
//
// Expressions are built with constructors ([Get], [In], [Interpolate], ...)
// and encoded to the array form MapLibre expects when marshaled to JSON:
//
//	expr.In(expr.Floor(expr.Get("indice")), 3, 8)
//	// ["in", ["floor", ["get", "indice"]], ["literal", [3, 8]]]
//
// A nil Expr means "no expression"; as a layer filter it shows every feature.
package expr

import (
	"encoding/json"
	"fmt"
)

// Kind identifies the variant of an Expr.
type Kind uint8

const (
	KindGet Kind = iota + 1
	KindLiteral
	KindFloor
	KindEquals
	KindIn
	KindAll
	KindInterpolate
	KindMatch
)

var kindNames = map[Kind]string{
	KindGet:         "get",
	KindLiteral:     "literal",
	KindFloor:       "floor",
	KindEquals:      "==",
	KindIn:          "in",
	KindAll:         "all",
	KindInterpolate: "interpolate",
	KindMatch:       "match",
}

// String returns the MapLibre operator name.
func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// Stop is one input/output pair of an interpolation or match.
type Stop struct {
	Input  any
	Output any
}

// Expr is a node of an expression tree. Construct it with the package
// functions; the zero value is not a valid expression.
type Expr struct {
	kind     Kind
	property string
	value    any
	args     []*Expr
	stops    []Stop
	fallback any
}

// Kind reports the variant of e.
func (e *Expr) Kind() Kind { return e.kind }

// Args returns the operand expressions of e.
func (e *Expr) Args() []*Expr { return e.args }

// Property returns the feature property read by a Get expression.
func (e *Expr) Property() string { return e.property }

// Value returns the payload of a Literal expression.
func (e *Expr) Value() any { return e.value }

// Stops returns the stops of an Interpolate or Match expression.
func (e *Expr) Stops() []Stop { return e.stops }

// Get reads a feature property.
func Get(property string) *Expr {
	return &Expr{kind: KindGet, property: property}
}

// Literal wraps a constant value.
func Literal(v any) *Expr {
	return &Expr{kind: KindLiteral, value: v}
}

// Floor rounds a numeric expression down.
func Floor(e *Expr) *Expr {
	return &Expr{kind: KindFloor, args: []*Expr{e}}
}

// Equals compares an expression to a constant.
func Equals(e *Expr, v any) *Expr {
	return &Expr{kind: KindEquals, args: []*Expr{e, Literal(v)}}
}

// In tests membership of an expression in a set of constants.
func In[T comparable](e *Expr, values ...T) *Expr {
	set := make([]T, len(values))
	copy(set, values)
	return &Expr{kind: KindIn, args: []*Expr{e, Literal(set)}}
}

// All is the conjunction of its operands. Nil operands are skipped; All of
// nothing is nil.
func All(exprs ...*Expr) *Expr {
	var args []*Expr
	for _, e := range exprs {
		if e != nil {
			args = append(args, e)
		}
	}
	switch len(args) {
	case 0:
		return nil
	case 1:
		return args[0]
	}
	return &Expr{kind: KindAll, args: args}
}

// Interpolate maps a numeric input linearly across stops. Stops must be
// ordered by ascending input.
func Interpolate(input *Expr, stops ...Stop) *Expr {
	s := make([]Stop, len(stops))
	copy(s, stops)
	return &Expr{kind: KindInterpolate, args: []*Expr{input}, stops: s}
}

// Match maps discrete input values to outputs, falling back when none match.
func Match(input *Expr, fallback any, cases ...Stop) *Expr {
	s := make([]Stop, len(cases))
	copy(s, cases)
	return &Expr{kind: KindMatch, args: []*Expr{input}, stops: s, fallback: fallback}
}

// Encode returns the MapLibre array form of e. A nil Expr encodes to nil.
func (e *Expr) Encode() any {
	if e == nil {
		return nil
	}
	switch e.kind {
	case KindGet:
		return []any{"get", e.property}
	case KindLiteral:
		switch e.value.(type) {
		case string, float64, float32, int, int64, bool, nil:
			return e.value
		}
		return []any{"literal", e.value}
	case KindInterpolate:
		out := []any{"interpolate", []any{"linear"}, e.args[0].Encode()}
		for _, s := range e.stops {
			out = append(out, s.Input, s.Output)
		}
		return out
	case KindMatch:
		out := []any{"match", e.args[0].Encode()}
		for _, s := range e.stops {
			out = append(out, s.Input, s.Output)
		}
		return append(out, e.fallback)
	}
	out := []any{e.kind.String()}
	for _, a := range e.args {
		out = append(out, a.Encode())
	}
	return out
}

// MarshalJSON implements json.Marshaler.
func (e *Expr) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.Encode())
}

// String renders e as compact JSON, for logs.
func (e *Expr) String() string {
	if e == nil {
		return "null"
	}
	b, err := json.Marshal(e.Encode())
	if err != nil {
		return fmt.Sprintf("<%s: %v>", e.kind, err)
	}
	return string(b)
}

// Equal reports whether a and b encode to the same expression.
func Equal(a, b *Expr) bool {
	if a == nil || b == nil {
		return a == b
	}
	ab, err := a.MarshalJSON()
	if err != nil {
		return false
	}
	bb, err := b.MarshalJSON()
	if err != nil {
		return false
	}
	return string(ab) == string(bb)
}
