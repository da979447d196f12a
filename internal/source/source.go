package source

import (
	"fmt"
	"image"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ivlev/gifmerge/internal/compositor"
	"github.com/ivlev/gifmerge/internal/decoder"
)

// Source lists the animations of one export, in canvas order.
type Source interface {
	Count() int
	ID(index int) string
	Name(index int) string
	Dimensions(index int) (width, height int, err error)
	Read(index int) ([]byte, error)
	Close() error
}

// GIFSource reads .gif files from disk. A directory expands to its GIFs sorted
// by name.
type GIFSource struct {
	paths []string
	ids   []string
}

func NewGIFSource(paths ...string) (*GIFSource, error) {
	s := &GIFSource{}
	for _, path := range paths {
		fi, err := os.Stat(path)
		if err != nil {
			return nil, err
		}
		if !fi.IsDir() {
			s.paths = append(s.paths, path)
			continue
		}

		entries, err := os.ReadDir(path)
		if err != nil {
			return nil, err
		}
		var found []string
		for _, entry := range entries {
			if !entry.IsDir() && strings.EqualFold(filepath.Ext(entry.Name()), ".gif") {
				found = append(found, filepath.Join(path, entry.Name()))
			}
		}
		sort.Strings(found)
		s.paths = append(s.paths, found...)
	}

	seen := make(map[string]int)
	for _, p := range s.paths {
		id := strings.TrimSuffix(filepath.Base(p), filepath.Ext(p))
		if n := seen[id]; n > 0 {
			seen[id] = n + 1
			id = fmt.Sprintf("%s-%d", id, n+1)
		} else {
			seen[id] = 1
		}
		s.ids = append(s.ids, id)
	}
	return s, nil
}

// NewGIFSourceWithIDs keeps caller-chosen IDs, e.g. from a job file.
func NewGIFSourceWithIDs(ids, paths []string) (*GIFSource, error) {
	if len(ids) != len(paths) {
		return nil, fmt.Errorf("ids/paths mismatch: %d vs %d", len(ids), len(paths))
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			return nil, err
		}
	}
	return &GIFSource{paths: paths, ids: ids}, nil
}

func (s *GIFSource) Count() int {
	return len(s.paths)
}

func (s *GIFSource) ID(index int) string {
	return s.ids[index]
}

func (s *GIFSource) Name(index int) string {
	return filepath.Base(s.paths[index])
}

// Dimensions reads only the logical screen descriptor.
func (s *GIFSource) Dimensions(index int) (int, int, error) {
	data, err := s.Read(index)
	if err != nil {
		return 0, 0, err
	}
	cfg, err := decoder.DecodeConfig(data)
	if err != nil {
		return 0, 0, err
	}
	return cfg.Width, cfg.Height, nil
}

func (s *GIFSource) Read(index int) ([]byte, error) {
	return os.ReadFile(s.paths[index])
}

func (s *GIFSource) Close() error {
	return nil
}

// NaturalGridSize is the natural canvas of a grid of equally sized cells.
func NaturalGridSize(src Source, columns int) (image.Point, error) {
	n := src.Count()
	if n == 0 {
		return image.Point{}, nil
	}
	cellW, cellH := 0, 0
	for i := 0; i < n; i++ {
		w, h, err := src.Dimensions(i)
		if err != nil {
			return image.Point{}, fmt.Errorf("%s: %w", src.Name(i), err)
		}
		cellW, cellH = max(cellW, w), max(cellH, h)
	}
	cols := compositor.GridColumns(n, columns)
	rows := (n + cols - 1) / cols
	return image.Pt(cellW*cols, cellH*rows), nil
}
