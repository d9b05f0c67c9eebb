package tiles

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/paulmach/orb/maptile"

	"github.com/joeblew999/plat-canopy/internal/pmtiles"
	"github.com/joeblew999/plat-canopy/internal/service"
)

// Archives serves tiles from {dir}/{dataType}.pmtiles files. Archives are
// opened on first use and kept open until Close.
type Archives struct {
	dir string

	mu   sync.Mutex
	open map[service.DataType]*archiveFile
}

type archiveFile struct {
	f *os.File
	a *pmtiles.Archive
}

// NewArchives creates an archive set rooted at dir.
func NewArchives(dir string) *Archives {
	return &Archives{dir: dir, open: make(map[service.DataType]*archiveFile)}
}

// Path is the archive file of dt.
func (s *Archives) Path(dt service.DataType) string {
	return filepath.Join(s.dir, string(dt)+".pmtiles")
}

// Available lists the data types with an archive on disk.
func (s *Archives) Available() []service.DataType {
	out := []service.DataType{}
	for _, dt := range service.DataTypes {
		if _, err := os.Stat(s.Path(dt)); err == nil {
			out = append(out, dt)
		}
	}
	return out
}

// TileData returns the stored gzipped tile, or ErrNoTile.
func (s *Archives) TileData(_ context.Context, dt service.DataType, t maptile.Tile) ([]byte, error) {
	a, err := s.archive(dt)
	if err != nil {
		return nil, err
	}
	data, err := a.Tile(uint8(t.Z), t.X, t.Y)
	if errors.Is(err, pmtiles.ErrTileNotFound) {
		return nil, ErrNoTile
	}
	return data, err
}

// Close closes every open archive.
func (s *Archives) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var errs []error
	for dt, af := range s.open {
		errs = append(errs, af.f.Close())
		delete(s.open, dt)
	}
	return errors.Join(errs...)
}

func (s *Archives) archive(dt service.DataType) (*pmtiles.Archive, error) {
	if !dt.Valid() {
		return nil, fmt.Errorf("%w: %q", service.ErrUnknownDataType, dt)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if af, ok := s.open[dt]; ok {
		return af.a, nil
	}

	f, err := os.Open(s.Path(dt))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNoTile
	}
	if err != nil {
		return nil, err
	}
	a, err := pmtiles.Open(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("open %s: %w", s.Path(dt), err)
	}
	s.open[dt] = &archiveFile{f: f, a: a}
	return a, nil
}
