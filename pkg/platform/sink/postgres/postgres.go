// Package postgres stores metric samples in PostgreSQL, optionally as a
// TimescaleDB hypertable.
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.sockspy.io/sockspy/pkg/models"
	"go.uber.org/zap"
)

const (
	defaultBatchSize   = 10000
	defaultSeriesCache = 65536
)

var identRe = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

type Options struct {
	URL         string
	Timescale   bool
	BatchSize   int
	TablePrefix string
	// SeriesCache bounds the path to series id lookups kept in memory.
	SeriesCache int
}

// cachedSeries is the stored id of a path and the widest metric count
// written for it.
type cachedSeries struct {
	id          int64
	metricCount int
}

type Sink struct {
	logger *zap.Logger
	opts   Options
	pool   *pgxpool.Pool

	series *lru.Cache[string, cachedSeries]

	mu      sync.Mutex
	pending [][]any
}

func New(logger *zap.Logger, opts Options) (*Sink, error) {
	if opts.URL == "" {
		return nil, fmt.Errorf("postgres url is empty")
	}
	if opts.TablePrefix == "" {
		opts.TablePrefix = "rrd"
	}
	if !identRe.MatchString(opts.TablePrefix) {
		return nil, fmt.Errorf("invalid table prefix %q", opts.TablePrefix)
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}
	if opts.SeriesCache <= 0 {
		opts.SeriesCache = defaultSeriesCache
	}
	series, err := lru.New[string, cachedSeries](opts.SeriesCache)
	if err != nil {
		return nil, err
	}
	return &Sink{
		logger: logger,
		opts:   opts,
		series: series,
	}, nil
}

func (s *Sink) seriesTable() string  { return s.opts.TablePrefix + "_series" }
func (s *Sink) metricsTable() string { return s.opts.TablePrefix + "_metrics" }

// Schema returns the statements Open runs.
func (s *Sink) Schema() []string {
	series := pgx.Identifier{s.seriesTable()}.Sanitize()
	metrics := pgx.Identifier{s.metricsTable()}.Sanitize()
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id BIGSERIAL PRIMARY KEY,
			path TEXT NOT NULL UNIQUE,
			metric_count INTEGER NOT NULL
		)`, series),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			series_id BIGINT NOT NULL REFERENCES %s (id),
			slot INTEGER NOT NULL,
			time TIMESTAMPTZ NOT NULL,
			value DOUBLE PRECISION
		)`, metrics, series),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (series_id, slot, time DESC)`,
			pgx.Identifier{s.metricsTable() + "_series_slot_time_idx"}.Sanitize(), metrics),
	}
	if s.opts.Timescale {
		stmts = append(stmts,
			`CREATE EXTENSION IF NOT EXISTS timescaledb`,
			fmt.Sprintf(`SELECT create_hypertable('%s', 'time', if_not_exists => TRUE)`, s.metricsTable()),
		)
	}
	return stmts
}

func (s *Sink) Open(ctx context.Context) error {
	pool, err := pgxpool.New(ctx, s.opts.URL)
	if err != nil {
		return fmt.Errorf("failed to create the postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return fmt.Errorf("failed to reach postgres: %w", err)
	}
	s.pool = pool

	for _, stmt := range s.Schema() {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			pool.Close()
			s.pool = nil
			return fmt.Errorf("failed to prepare the postgres schema: %w", err)
		}
	}

	if err := s.loadSeries(ctx); err != nil {
		pool.Close()
		s.pool = nil
		return err
	}
	s.logger.Info("connected to postgres", zap.Int("cachedSeries", s.series.Len()), zap.Bool("timescale", s.opts.Timescale))
	return nil
}

// loadSeries warms the cache with the most recently created series.
func (s *Sink) loadSeries(ctx context.Context) error {
	rows, err := s.pool.Query(ctx, fmt.Sprintf(`SELECT id, path, metric_count FROM %s ORDER BY id DESC LIMIT %d`,
		pgx.Identifier{s.seriesTable()}.Sanitize(), s.opts.SeriesCache))
	if err != nil {
		return fmt.Errorf("failed to load series: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var entry cachedSeries
		var path string
		if err := rows.Scan(&entry.id, &path, &entry.metricCount); err != nil {
			return fmt.Errorf("failed to load series: %w", err)
		}
		s.series.Add(path, entry)
	}
	return rows.Err()
}

// seriesID resolves the id of ev's path. A cache miss or a wider event
// upserts, so evicted or concurrently inserted paths still resolve to the
// stored id and metric_count only grows.
func (s *Sink) seriesID(ctx context.Context, ev models.UpdateEvent) (int64, error) {
	if entry, ok := s.series.Get(ev.Path); ok && entry.metricCount >= len(ev.Metrics) {
		return entry.id, nil
	}

	query := fmt.Sprintf(`INSERT INTO %[1]s (path, metric_count) VALUES ($1, $2)
		ON CONFLICT (path) DO UPDATE SET metric_count = GREATEST(%[1]s.metric_count, EXCLUDED.metric_count)
		RETURNING id, metric_count`, pgx.Identifier{s.seriesTable()}.Sanitize())
	var entry cachedSeries
	if err := s.pool.QueryRow(ctx, query, ev.Path, len(ev.Metrics)).Scan(&entry.id, &entry.metricCount); err != nil {
		return 0, fmt.Errorf("failed to insert series %s: %w", ev.Path, err)
	}
	s.series.Add(ev.Path, entry)
	return entry.id, nil
}

// Write buffers the rows of ev and copies them in once a batch is full.
func (s *Sink) Write(ctx context.Context, ev models.UpdateEvent) error {
	id, err := s.seriesID(ctx, ev)
	if err != nil {
		return err
	}

	s.mu.Lock()
	for _, row := range ev.Rows(id) {
		s.pending = append(s.pending, CopyRow(row))
	}
	var batch [][]any
	if len(s.pending) >= s.opts.BatchSize {
		batch, s.pending = s.pending, nil
	}
	s.mu.Unlock()

	if batch == nil {
		return nil
	}
	return s.copy(ctx, batch)
}

// CopyRow orders a metric row the way the metrics table expects it.
func CopyRow(row models.MetricRow) []any {
	return []any{row.SeriesID, row.Slot, row.Time, row.Value}
}

func (s *Sink) copy(ctx context.Context, batch [][]any) error {
	n, err := s.pool.CopyFrom(ctx, pgx.Identifier{s.metricsTable()},
		[]string{"series_id", "slot", "time", "value"}, pgx.CopyFromRows(batch))
	if err != nil {
		return fmt.Errorf("failed to copy %d metric rows: %w", len(batch), err)
	}
	s.logger.Debug("copied metric rows", zap.Int64("rows", n))
	return nil
}

// Close flushes the last partial batch.
func (s *Sink) Close(ctx context.Context) error {
	if s.pool == nil {
		return nil
	}
	defer s.pool.Close()

	s.mu.Lock()
	batch := s.pending
	s.pending = nil
	s.mu.Unlock()
	if len(batch) == 0 {
		return nil
	}
	return s.copy(ctx, batch)
}

// Series lists the stored series.
func (s *Sink) Series(ctx context.Context) ([]models.SeriesInfo, error) {
	query := fmt.Sprintf(`SELECT id, path, metric_count FROM %s ORDER BY id`, pgx.Identifier{s.seriesTable()}.Sanitize())
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.SeriesInfo, error) {
		var info models.SeriesInfo
		err := row.Scan(&info.ID, &info.Path, &info.MetricCount)
		return info, err
	})
}
