package expr_test

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeblew999/plat-canopy/internal/expr"
)

func decode(t *testing.T, e *expr.Expr) any {
	t.Helper()
	b, err := json.Marshal(e)
	require.NoError(t, err)
	var v any
	require.NoError(t, json.Unmarshal(b, &v))
	return v
}

func TestEncode(t *testing.T) {
	tests := []struct {
		name string
		expr *expr.Expr
		want string
	}{
		{
			name: "floor in set",
			expr: expr.In(expr.Floor(expr.Get("indice")), 3, 8),
			want: `["in",["floor",["get","indice"]],["literal",[3,8]]]`,
		},
		{
			name: "string set",
			expr: expr.In(expr.Get("lcz"), "1", "6"),
			want: `["in",["get","lcz"],["literal",["1","6"]]]`,
		},
		{
			name: "equals",
			expr: expr.Equals(expr.Get("indice_day"), 4),
			want: `["==",["get","indice_day"],4]`,
		},
		{
			name: "interpolate",
			expr: expr.Interpolate(expr.Get("indice"), expr.Stop{Input: 0, Output: "#ff0000"}, expr.Stop{Input: 10, Output: "#00ff00"}),
			want: `["interpolate",["linear"],["get","indice"],0,"#ff0000",10,"#00ff00"]`,
		},
		{
			name: "match",
			expr: expr.Match(expr.Get("lcz"), "#ccc", expr.Stop{Input: "1", Output: "#8c0000"}),
			want: `["match",["get","lcz"],"1","#8c0000","#ccc"]`,
		},
		{
			name: "nil",
			expr: nil,
			want: `null`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var want any
			require.NoError(t, json.Unmarshal([]byte(tt.want), &want))
			if diff := cmp.Diff(want, decode(t, tt.expr)); diff != "" {
				t.Errorf("encoding mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestAllSkipsNil(t *testing.T) {
	assert.Nil(t, expr.All())
	assert.Nil(t, expr.All(nil, nil))

	single := expr.Equals(expr.Get("a"), 1)
	assert.Same(t, single, expr.All(nil, single))

	both := expr.All(single, expr.Equals(expr.Get("b"), 2))
	assert.Equal(t, expr.KindAll, both.Kind())
	assert.Len(t, both.Args(), 2)
}

func TestEqual(t *testing.T) {
	a := expr.In(expr.Get("lcz"), "1", "2")
	b := expr.In(expr.Get("lcz"), "1", "2")
	c := expr.In(expr.Get("lcz"), "2", "1")

	assert.True(t, expr.Equal(a, b))
	assert.False(t, expr.Equal(a, c))
	assert.True(t, expr.Equal(nil, nil))
	assert.False(t, expr.Equal(a, nil))
}

func TestInCopiesValues(t *testing.T) {
	values := []int{1, 2}
	e := expr.In(expr.Get("x"), values...)
	values[0] = 9
	assert.Equal(t, `["in",["get","x"],["literal",[1,2]]]`, e.String())
}
