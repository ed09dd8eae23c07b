// Package sqlite stores metric samples in a local sqlite database.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	_ "github.com/mattn/go-sqlite3"
	"go.sockspy.io/sockspy/pkg/models"
	"go.uber.org/zap"
)

type Sink struct {
	logger *zap.Logger
	path   string
	conn   *sql.DB

	mu     sync.Mutex
	series map[string]*models.SeriesInfo
}

func New(logger *zap.Logger, path string) *Sink {
	return &Sink{
		logger: logger,
		path:   path,
		series: make(map[string]*models.SeriesInfo),
	}
}

func (s *Sink) Open(ctx context.Context) error {
	db, err := sql.Open("sqlite3", s.path)
	if err != nil {
		return fmt.Errorf("failed to open sqlite db: %w", err)
	}
	// sqlite serialises writers anyway and ":memory:" is per connection
	db.SetMaxOpenConns(1)
	s.conn = db

	if err := s.init(ctx); err != nil {
		_ = db.Close()
		return err
	}
	return s.load(ctx)
}

func (s *Sink) init(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS series (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		path TEXT NOT NULL UNIQUE,
		metric_count INTEGER NOT NULL
	);
	CREATE TABLE IF NOT EXISTS metrics (
		series_id INTEGER NOT NULL REFERENCES series(id),
		slot INTEGER NOT NULL,
		time INTEGER NOT NULL,
		value REAL,
		PRIMARY KEY (series_id, slot, time)
	);
	`
	if _, err := s.conn.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to create the sqlite schema: %w", err)
	}
	return nil
}

func (s *Sink) load(ctx context.Context) error {
	rows, err := s.conn.QueryContext(ctx, `SELECT id, path, metric_count FROM series`)
	if err != nil {
		return err
	}
	defer rows.Close()

	s.mu.Lock()
	defer s.mu.Unlock()
	for rows.Next() {
		var info models.SeriesInfo
		if err := rows.Scan(&info.ID, &info.Path, &info.MetricCount); err != nil {
			return err
		}
		s.series[info.Path] = &info
	}
	return rows.Err()
}

// seriesID returns the id of ev's series, creating the series on first use
// and widening metric_count when ev carries more slots. A cache miss upserts,
// so a forgotten entry resolves to the stored row again.
func (s *Sink) seriesID(ctx context.Context, tx *sql.Tx, ev models.UpdateEvent) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if info, ok := s.series[ev.Path]; ok && info.MetricCount >= len(ev.Metrics) {
		return info.ID, nil
	}

	query := `INSERT INTO series (path, metric_count) VALUES (?, ?)
		ON CONFLICT (path) DO UPDATE SET metric_count = MAX(metric_count, excluded.metric_count)
		RETURNING id, metric_count`
	info := &models.SeriesInfo{Path: ev.Path}
	if err := tx.QueryRowContext(ctx, query, ev.Path, len(ev.Metrics)).Scan(&info.ID, &info.MetricCount); err != nil {
		return 0, fmt.Errorf("failed to upsert series %s: %w", ev.Path, err)
	}
	if _, known := s.series[ev.Path]; !known {
		s.logger.Debug("new series", zap.Int64("id", info.ID), zap.String("path", ev.Path))
	}
	s.series[ev.Path] = info
	return info.ID, nil
}

func (s *Sink) Write(ctx context.Context, ev models.UpdateEvent) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	id, err := s.seriesID(ctx, tx, ev)
	if err != nil {
		return err
	}

	query := `INSERT OR REPLACE INTO metrics (series_id, slot, time, value) VALUES (?, ?, ?, ?)`
	for _, row := range ev.Rows(id) {
		if _, err := tx.ExecContext(ctx, query, row.SeriesID, row.Slot, row.Time.Unix(), row.Value); err != nil {
			s.forget(ev.Path, id)
			return fmt.Errorf("failed to insert metric: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		s.forget(ev.Path, id)
		return err
	}
	return nil
}

// forget drops a cache entry that may come from a rolled back transaction.
func (s *Sink) forget(path string, id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if info, ok := s.series[path]; ok && info.ID == id {
		delete(s.series, path)
	}
}

// Series lists the stored series with their sample counts.
func (s *Sink) Series(ctx context.Context) ([]models.SeriesInfo, error) {
	query := `
		SELECT s.id, s.path, s.metric_count, COUNT(DISTINCT m.time), COALESCE(MIN(m.time), 0), COALESCE(MAX(m.time), 0)
		FROM series s LEFT JOIN metrics m ON m.series_id = s.id
		GROUP BY s.id
		ORDER BY s.id
	`
	rows, err := s.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.SeriesInfo
	for rows.Next() {
		var info models.SeriesInfo
		if err := rows.Scan(&info.ID, &info.Path, &info.MetricCount, &info.Updates, &info.FirstTime, &info.LastTime); err != nil {
			return nil, err
		}
		out = append(out, info)
	}
	return out, rows.Err()
}

// Values returns the stored values of one metric slot ordered by time.
func (s *Sink) Values(ctx context.Context, path string, slot int) ([]*float64, error) {
	query := `
		SELECT m.value FROM metrics m JOIN series s ON s.id = m.series_id
		WHERE s.path = ? AND m.slot = ? ORDER BY m.time
	`
	rows, err := s.conn.QueryContext(ctx, query, path, slot)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*float64
	for rows.Next() {
		var v sql.NullFloat64
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		if v.Valid {
			f := v.Float64
			out = append(out, &f)
		} else {
			out = append(out, nil)
		}
	}
	return out, rows.Err()
}

func (s *Sink) Close(context.Context) error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Close()
}
