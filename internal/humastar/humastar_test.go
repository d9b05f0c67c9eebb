package humastar

import (
	"context"
	"net/http"
	"testing"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/humatest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type itemBody struct {
	ID string `json:"id"`
}

func (b itemBody) Actions() []Action {
	return ActionsFor([]ActionDef{
		{Rel: "remove", Pattern: "/things/%s", Method: http.MethodDelete, Title: "Remove thing"},
	}, b.ID)
}

func TestLinkTransformer(t *testing.T) {
	links := NewLinks()
	cfg := huma.DefaultConfig("Test API", "1.0.0")
	cfg.CreateHooks = nil
	cfg.Transformers = append(cfg.Transformers, links.Transformer())
	_, api := humatest.New(t, cfg)

	huma.Get(api, "/health", func(ctx context.Context, _ *EmptyInput) (*struct{ Body string }, error) {
		return &struct{ Body string }{Body: "ok"}, nil
	}, huma.OperationTags("health"))
	huma.Get(api, "/things", func(ctx context.Context, in *struct {
		Offset int `query:"offset"`
		Limit  int `query:"limit" default:"2"`
	}) (*struct{ Body PageBody[string] }, error) {
		return &struct{ Body PageBody[string] }{Body: PageBody[string]{
			Total: 5, Offset: in.Offset, Limit: in.Limit, Data: []string{"a", "b"},
		}}, nil
	}, huma.OperationTags("things"))
	huma.Get(api, "/things/{id}", func(ctx context.Context, in *struct {
		ID string `path:"id"`
	}) (*struct{ Body itemBody }, error) {
		return &struct{ Body itemBody }{Body: itemBody{ID: in.ID}}, nil
	}, huma.OperationTags("things"))
	huma.Get(api, "/live", func(ctx context.Context, _ *EmptyInput) (*struct{ Body string }, error) {
		return &struct{ Body string }{Body: "stream"}, nil
	}, huma.OperationTags("live"))
	links.Discover(api)

	resp := api.Get("/things/42")
	require.Equal(t, http.StatusOK, resp.Code)
	got := resp.Result().Header.Values("Link")
	assert.Contains(t, got, `</things>; rel="collection"`)
	assert.Contains(t, got, `</things/42>; rel="self"`)
	assert.Contains(t, got, `</things/42>; rel="remove"; method="DELETE"; title="Remove thing"`)

	resp = api.Get("/things?offset=2")
	got = resp.Result().Header.Values("Link")
	assert.Contains(t, got, `</things/{id}>; rel="item"`)
	assert.Contains(t, got, `</things?offset=0&limit=2>; rel="prev"`)
	assert.Contains(t, got, `</things?offset=4&limit=2>; rel="next"`)
	assert.Contains(t, got, `</things?offset=4&limit=2>; rel="last"`)

	health := links.For("/health")
	assert.Contains(t, health, `</things>; rel="things"`)
	assert.NotContains(t, health, `</live>; rel="live"`)
}

func TestPaginationLinks(t *testing.T) {
	assert.Nil(t, PageBody[int]{}.PaginationLinks("/x"))
	assert.Equal(t, []string{
		`</x?offset=0&limit=10>; rel="first"`,
		`</x?offset=0&limit=10>; rel="last"`,
	}, PageBody[int]{Limit: 10}.PaginationLinks("/x"))
}

func TestSignals(t *testing.T) {
	s, err := ParseSignals([]byte(`{"mapId":"main","lat":45.7,"zoom":14,"lng":0}`))
	require.NoError(t, err)
	assert.Equal(t, "main", s.String("mapId"))
	assert.Equal(t, 45.7, s.Float("lat"))
	assert.Equal(t, 14, s.Int("zoom"))
	assert.True(t, s.Has("lng"))
	assert.Zero(t, s.Float("lng"))
	assert.False(t, s.Has("missing"))
	assert.Empty(t, s.String("lat"))

	in := SignalsInput{RawBody: []byte("{")}
	_, err = in.MustParse()
	var se huma.StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusBadRequest, se.GetStatus())
}
