package route

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeblew999/plat-canopy/internal/service"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		want     View
		redirect bool
	}{
		{
			name: "full link",
			path: "/vulnerability/14/45.764/4.8357",
			want: View{DataType: service.Vulnerability, Zoom: 14, Lat: 45.764, Lng: 4.8357},
		},
		{
			name:     "bare link assumes plantability",
			path:     "/12.5/45.75/4.85/",
			want:     View{DataType: service.Plantability, Zoom: 12.5, Lat: 45.75, Lng: 4.85},
			redirect: true,
		},
		{
			name: "lcz",
			path: "lcz/9/45.7/4.9",
			want: View{DataType: service.LocalClimateZone, Zoom: 9, Lat: 45.7, Lng: 4.9},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := Parse(tt.path)
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.View)
			assert.Equal(t, tt.redirect, res.Redirect)
		})
	}
}

func TestParseInvalid(t *testing.T) {
	for _, path := range []string{
		"",
		"/plantability",
		"/trees/12/45/4",
		"/plantability/12/north/4",
		"/plantability/30/45/4",
		"/plantability/12/95/4",
		"/plantability/12/45/181",
		"/a/b/c/d/e",
	} {
		_, err := Parse(path)
		assert.ErrorIs(t, err, ErrInvalidRoute, path)
	}
}

func TestPathRoundTrip(t *testing.T) {
	v := View{DataType: service.PlantabilityVulnerability, Zoom: 13.25, Lat: 45.7640001, Lng: 4.8357}
	assert.Equal(t, "/plantability_vulnerability/13.25/45.764/4.8357", v.Path())

	res, err := Parse(v.Path())
	require.NoError(t, err)
	assert.False(t, res.Redirect)
	assert.Equal(t, service.PlantabilityVulnerability, res.View.DataType)
	assert.InDelta(t, v.Lat, res.View.Lat, 1e-6)

	bare, err := Parse("/12/45.764/4.8357")
	require.NoError(t, err)
	assert.Equal(t, "/plantability/12/45.764/4.8357", bare.View.Path())
}
