package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.sockspy.io/sockspy/pkg/models"
	"go.uber.org/zap/zaptest"
)

func f(v float64) *float64 { return &v }

func TestSink_AssignsStableSeriesIDs(t *testing.T) {
	ctx := context.Background()
	s := New(zaptest.NewLogger(t), ":memory:")
	require.NoError(t, s.Open(ctx))
	defer s.Close(ctx)

	require.NoError(t, s.Write(ctx, models.UpdateEvent{Time: 10, Path: "/tmp/rrd/a.rrd", Metrics: []*float64{f(1), nil}}))
	require.NoError(t, s.Write(ctx, models.UpdateEvent{Time: 20, Path: "/tmp/rrd/b.rrd", Metrics: []*float64{f(5)}}))
	require.NoError(t, s.Write(ctx, models.UpdateEvent{Time: 30, Path: "/tmp/rrd/a.rrd", Metrics: []*float64{f(0), f(2), f(3)}}))

	series, err := s.Series(ctx)
	require.NoError(t, err)
	require.Len(t, series, 2)
	assert.Equal(t, "/tmp/rrd/a.rrd", series[0].Path)
	assert.Equal(t, 3, series[0].MetricCount)
	assert.Equal(t, int64(2), series[0].Updates)
	assert.Equal(t, int64(10), series[0].FirstTime)
	assert.Equal(t, int64(30), series[0].LastTime)
	assert.Equal(t, "/tmp/rrd/b.rrd", series[1].Path)
	assert.NotEqual(t, series[0].ID, series[1].ID)

	slot2, err := s.Values(ctx, "/tmp/rrd/a.rrd", 2)
	require.NoError(t, err)
	require.Len(t, slot2, 2)
	assert.Nil(t, slot2[0], "U is stored as null")
	assert.Equal(t, 2.0, *slot2[1])

	slot1, err := s.Values(ctx, "/tmp/rrd/a.rrd", 1)
	require.NoError(t, err)
	require.Len(t, slot1, 2)
	require.NotNil(t, slot1[1])
	assert.Equal(t, 0.0, *slot1[1], "zero is a value")
}

func TestSink_ReopenKeepsIDs(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "metrics.db")

	s := New(zaptest.NewLogger(t), path)
	require.NoError(t, s.Open(ctx))
	require.NoError(t, s.Write(ctx, models.UpdateEvent{Time: 1, Path: "a", Metrics: []*float64{f(1)}}))
	first, err := s.Series(ctx)
	require.NoError(t, err)
	require.NoError(t, s.Close(ctx))

	s = New(zaptest.NewLogger(t), path)
	require.NoError(t, s.Open(ctx))
	defer s.Close(ctx)
	require.NoError(t, s.Write(ctx, models.UpdateEvent{Time: 2, Path: "a", Metrics: []*float64{f(2)}}))
	// the same sample twice does not duplicate rows
	require.NoError(t, s.Write(ctx, models.UpdateEvent{Time: 2, Path: "a", Metrics: []*float64{f(2)}}))

	again, err := s.Series(ctx)
	require.NoError(t, err)
	require.Len(t, again, 1)
	assert.Equal(t, first[0].ID, again[0].ID)
	assert.Equal(t, int64(2), again[0].Updates)
}

func TestSink_FailedWriteDoesNotCacheRolledBackSeries(t *testing.T) {
	ctx := context.Background()
	s := New(zaptest.NewLogger(t), ":memory:")
	require.NoError(t, s.Open(ctx))
	defer s.Close(ctx)

	require.NoError(t, s.Write(ctx, models.UpdateEvent{Time: 1, Path: "a", Metrics: []*float64{f(1)}}))

	_, err := s.conn.ExecContext(ctx, `CREATE TRIGGER reject_slot3 BEFORE INSERT ON metrics
		WHEN NEW.slot = 3 BEGIN SELECT RAISE(ABORT, 'rejected'); END`)
	require.NoError(t, err)

	assert.Error(t, s.Write(ctx, models.UpdateEvent{Time: 2, Path: "fresh", Metrics: []*float64{f(1), f(2), f(3)}}))
	assert.Error(t, s.Write(ctx, models.UpdateEvent{Time: 2, Path: "a", Metrics: []*float64{f(1), f(2), f(3)}}))
	assert.NotContains(t, s.series, "fresh")
	assert.NotContains(t, s.series, "a", "a widened entry is dropped with its transaction")

	_, err = s.conn.ExecContext(ctx, `DROP TRIGGER reject_slot3`)
	require.NoError(t, err)

	require.NoError(t, s.Write(ctx, models.UpdateEvent{Time: 3, Path: "fresh", Metrics: []*float64{f(1), f(2), f(3)}}))
	require.NoError(t, s.Write(ctx, models.UpdateEvent{Time: 3, Path: "a", Metrics: []*float64{f(1)}}))

	series, err := s.Series(ctx)
	require.NoError(t, err)
	require.Len(t, series, 2)
	assert.Equal(t, "a", series[0].Path)
	assert.Equal(t, 1, series[0].MetricCount, "the rolled back widening is not stored")
	assert.Equal(t, "fresh", series[1].Path)
	assert.Equal(t, 3, series[1].MetricCount)

	var orphans int
	require.NoError(t, s.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM metrics WHERE series_id NOT IN (SELECT id FROM series)`).Scan(&orphans))
	assert.Zero(t, orphans)
}
