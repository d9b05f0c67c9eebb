package humastar

import (
	"fmt"
	"path"
	"slices"
	"strings"
	"sync"

	"github.com/danielgtaylor/huma/v2"
)

// Links holds RFC 8288 Link header values keyed by operation path.
type Links struct {
	mu sync.RWMutex
	m  map[string][]string
}

// NewLinks returns an empty link table. Register its Transformer on the
// Huma config, then call Discover once every route is registered.
func NewLinks() *Links {
	return &Links{m: map[string][]string{}}
}

// Add links from to target with rel.
func (l *Links) Add(from, to, rel string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.addLocked(from, to, rel)
}

// For returns the links of an operation path.
func (l *Links) For(opPath string) []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return slices.Clone(l.m[opPath])
}

// Discover walks the OpenAPI paths and links items to their collections,
// collections to their items and the /health entry point to every
// collection. Streaming endpoints tagged "live" are skipped.
func (l *Links) Discover(api huma.API) {
	oapi := api.OpenAPI()
	l.mu.Lock()
	defer l.mu.Unlock()

	var collections, items []string
	for p, pi := range oapi.Paths {
		if hasTag(primaryTags(pi), "live") {
			continue
		}
		if strings.Contains(p, "{") {
			items = append(items, p)
		} else {
			collections = append(collections, p)
		}
	}
	slices.Sort(collections)
	slices.Sort(items)

	for _, item := range items {
		if parent := path.Dir(item); oapi.Paths[parent] != nil {
			l.addLocked(item, parent, "collection")
		}
	}
	for _, coll := range collections {
		for _, item := range items {
			if path.Dir(item) == coll {
				l.addLocked(coll, item, "item")
			}
		}
		if coll != "/health" {
			l.addLocked(coll, "/health", "up")
			l.addLocked("/health", coll, lastSegment(coll))
		}
	}
	l.addLocked("/health", "/openapi.json", "service-desc")
	l.addLocked("/health", "/docs", "service-doc")
}

// Transformer returns a Huma Transformer that writes the Link headers of
// the operation, a self link for item paths and the links carried by
// [Pager] and [Actor] bodies.
func (l *Links) Transformer() huma.Transformer {
	return func(ctx huma.Context, status string, v any) (any, error) {
		op := ctx.Operation()
		if op == nil {
			return v, nil
		}

		for _, link := range l.For(op.Path) {
			ctx.AppendHeader("Link", link)
		}
		if strings.Contains(op.Path, "{") {
			ctx.AppendHeader("Link", fmt.Sprintf(`<%s>; rel="self"`, ctx.URL().Path))
		}
		if p, ok := v.(Pager); ok {
			for _, link := range p.PaginationLinks(ctx.URL().Path) {
				ctx.AppendHeader("Link", link)
			}
		}
		if a, ok := v.(Actor); ok {
			for _, action := range a.Actions() {
				ctx.AppendHeader("Link", action.LinkHeader())
			}
		}
		return v, nil
	}
}

func (l *Links) addLocked(from, to, rel string) {
	val := fmt.Sprintf(`<%s>; rel="%s"`, to, rel)
	if !slices.Contains(l.m[from], val) {
		l.m[from] = append(l.m[from], val)
	}
}

func primaryTags(pi *huma.PathItem) []string {
	for _, op := range []*huma.Operation{pi.Get, pi.Post, pi.Put, pi.Patch, pi.Delete} {
		if op != nil && len(op.Tags) > 0 {
			return op.Tags
		}
	}
	return nil
}

func hasTag(tags []string, tag string) bool {
	return slices.Contains(tags, tag)
}

func lastSegment(p string) string {
	parts := strings.Split(strings.TrimRight(p, "/"), "/")
	return parts[len(parts)-1]
}
