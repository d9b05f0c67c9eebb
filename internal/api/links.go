package api

import "github.com/joeblew999/plat-canopy/internal/humastar"

// curatedLinks are the relations that path discovery cannot infer.
var curatedLinks = []struct{ from, to, rel string }{
	{"/api/v1/state", "/api/v1/layers", "layers"},
	{"/api/v1/state", "/api/v1/filters", "filters"},
	{"/api/v1/state", "/api/v1/popup", "popup"},
	{"/api/v1/state", "/api/v1/live", "live"},
	{"/api/v1/layers", "/api/v1/filters", "filters"},
	{"/api/v1/filters", "/api/v1/layers", "layers"},
	{"/api/v1/info", "/api/v1/config", "config"},
	{"/api/v1/tables", "/api/v1/feedback", "feedback"},
	{"/api/v1/tiles/{dataType}/in-polygon", "/api/v1/in-polygon/latest", "latest"},
}

// AddLinks registers the curated relations on l.
func AddLinks(l *humastar.Links) {
	for _, c := range curatedLinks {
		l.Add(c.from, c.to, c.rel)
	}
}
