// Package catalog collects the distinct series of a recording and writes them
// out as YAML documents.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"

	"go.sockspy.io/sockspy/pkg/models"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Sink keeps the catalog in memory. With an empty path nothing is written on
// Close.
type Sink struct {
	logger *zap.Logger
	path   string

	mu     sync.Mutex
	nextID int64
	series map[string]*models.SeriesInfo
}

func New(logger *zap.Logger, path string) *Sink {
	return &Sink{
		logger: logger,
		path:   path,
		series: make(map[string]*models.SeriesInfo),
	}
}

// Open loads a catalog left by an earlier run so ids stay stable.
func (s *Sink) Open(context.Context) error {
	if s.path == "" {
		return nil
	}
	f, err := os.Open(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to open the series catalog: %w", err)
	}
	defer f.Close()

	existing, err := Read(f)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range existing {
		info := existing[i]
		s.series[info.Path] = &info
		if info.ID > s.nextID {
			s.nextID = info.ID
		}
	}
	return nil
}

func (s *Sink) Write(_ context.Context, ev models.UpdateEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	info, ok := s.series[ev.Path]
	if !ok {
		s.nextID++
		info = &models.SeriesInfo{ID: s.nextID, Path: ev.Path}
		s.series[ev.Path] = info
	}
	info.Observe(ev)
	return nil
}

// Series returns the catalog ordered by id.
func (s *Sink) Series(context.Context) ([]models.SeriesInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.SeriesInfo, 0, len(s.series))
	for _, info := range s.series {
		out = append(out, *info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Sink) Close(ctx context.Context) error {
	if s.path == "" {
		return nil
	}
	series, _ := s.Series(ctx)
	f, err := os.Create(s.path)
	if err != nil {
		return fmt.Errorf("failed to create the series catalog: %w", err)
	}
	if err := Write(f, series); err != nil {
		_ = f.Close()
		return err
	}
	s.logger.Info("wrote the series catalog", zap.String("path", s.path), zap.Int("series", len(series)))
	return f.Close()
}

// Write encodes one YAML document per series.
func Write(w io.Writer, series []models.SeriesInfo) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	for _, info := range series {
		if err := enc.Encode(info); err != nil {
			return fmt.Errorf("failed to encode series %s: %w", info.Path, err)
		}
	}
	return enc.Close()
}

// Read decodes a catalog written by Write.
func Read(r io.Reader) ([]models.SeriesInfo, error) {
	dec := yaml.NewDecoder(r)
	var out []models.SeriesInfo
	for {
		var info models.SeriesInfo
		err := dec.Decode(&info)
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to decode the series catalog: %w", err)
		}
		out = append(out, info)
	}
}
