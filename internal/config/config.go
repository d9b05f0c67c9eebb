// Package config loads the shared label tables used by the map legends and
// popups.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

//go:embed shared/config.json
var defaultShared []byte

// Shared is the shared label configuration. The file is JSON, but YAML is
// accepted as well.
type Shared struct {
	// MetaFactorsMapping maps plantability factor keys to labels.
	MetaFactorsMapping map[string]string `yaml:"metaFactorsMapping" json:"metaFactorsMapping" doc:"Plantability factor labels by key"`
	// LocalClimateZones maps LCZ codes to labels.
	LocalClimateZones map[string]string `yaml:"localClimateZones" json:"localClimateZones" doc:"Local climate zone labels by code"`
}

// Default returns the embedded configuration.
func Default() *Shared {
	s, err := Parse(defaultShared)
	if err != nil {
		panic(fmt.Sprintf("config: embedded shared config: %v", err))
	}
	return s
}

// Load reads the shared config at path, or the embedded one when path is
// empty.
func Load(path string) (*Shared, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read shared config: %w", err)
	}
	s, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

// Parse decodes and validates a shared config document.
func Parse(data []byte) (*Shared, error) {
	var s Shared
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse shared config: %w", err)
	}
	if len(s.LocalClimateZones) == 0 {
		return nil, errors.New("shared config: localClimateZones is empty")
	}
	if s.MetaFactorsMapping == nil {
		s.MetaFactorsMapping = map[string]string{}
	}
	return &s, nil
}

// FactorLabel returns the label of a plantability factor, or key itself.
func (s *Shared) FactorLabel(key string) string {
	if l, ok := s.MetaFactorsMapping[key]; ok {
		return l
	}
	return key
}

// ZoneLabel returns the label of an LCZ code, or the code itself.
func (s *Shared) ZoneLabel(code string) string {
	if l, ok := s.LocalClimateZones[code]; ok {
		return l
	}
	return code
}

// ZoneCodes returns the LCZ codes: built types 1-10 first, then land cover
// types A-G.
func (s *Shared) ZoneCodes() []string {
	codes := make([]string, 0, len(s.LocalClimateZones))
	for c := range s.LocalClimateZones {
		codes = append(codes, c)
	}
	slices.SortFunc(codes, func(a, b string) int {
		if len(a) != len(b) && isDigits(a) && isDigits(b) {
			return len(a) - len(b)
		}
		da, db := isDigits(a), isDigits(b)
		switch {
		case da && !db:
			return -1
		case !da && db:
			return 1
		}
		if a < b {
			return -1
		}
		if a > b {
			return 1
		}
		return 0
	})
	return codes
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}
