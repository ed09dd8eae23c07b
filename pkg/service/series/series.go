// Package series reports the distinct series found in a recording.
package series

import (
	"context"
	"fmt"
	"io"
	"slices"
	"strconv"
	"time"

	"facette.io/natsort"
	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"
	"go.sockspy.io/sockspy/pkg/models"
	"go.sockspy.io/sockspy/pkg/platform/sink/catalog"
	"go.sockspy.io/sockspy/pkg/service/decode"
	"go.sockspy.io/sockspy/pkg/service/ingest"
	"go.uber.org/zap"
)

// Reporter collects and renders series for the series command.
type Reporter struct {
	logger      *zap.Logger
	catalogPath string
	opts        ingest.Options
}

func New(logger *zap.Logger, catalogPath string, opts ingest.Options) *Reporter {
	return &Reporter{logger: logger, catalogPath: catalogPath, opts: opts}
}

// Run collects the series of src and renders them to w.
func (r *Reporter) Run(ctx context.Context, src decode.RecordSource, w io.Writer) ([]models.SeriesInfo, error) {
	series, err := Collect(ctx, r.logger, src, r.catalogPath, r.opts)
	if err != nil {
		return nil, err
	}
	if err := Render(w, series); err != nil {
		return nil, fmt.Errorf("failed to render series: %w", err)
	}
	r.logger.Info("listed series", zap.Int("count", len(series)))
	return series, nil
}

// Collect decodes src into a series catalog. With an empty catalogPath the
// catalog is kept in memory only.
func Collect(ctx context.Context, logger *zap.Logger, src decode.RecordSource, catalogPath string, opts ingest.Options) ([]models.SeriesInfo, error) {
	sink := catalog.New(logger, catalogPath)
	if _, err := ingest.New(logger, sink, opts).Run(ctx, src); err != nil {
		return nil, err
	}
	return sink.Series(ctx)
}

// Render writes series as a table in natural path order.
func Render(w io.Writer, series []models.SeriesInfo) error {
	series = slices.Clone(series)
	slices.SortStableFunc(series, func(a, b models.SeriesInfo) int {
		switch {
		case natsort.Compare(a.Path, b.Path):
			return -1
		case natsort.Compare(b.Path, a.Path):
			return 1
		}
		return 0
	})
	table := tablewriter.NewTable(w,
		tablewriter.WithHeaderAlignment(tw.AlignCenter),
		tablewriter.WithRowAlignment(tw.AlignLeft),
		tablewriter.WithRowAutoWrap(tw.WrapNone),
	)
	table.Header("ID", "Path", "Metrics", "Updates", "First", "Last")
	rows := make([][]string, 0, len(series))
	for _, s := range series {
		rows = append(rows, []string{
			strconv.FormatInt(s.ID, 10),
			s.Path,
			strconv.Itoa(s.MetricCount),
			strconv.FormatInt(s.Updates, 10),
			formatTime(s.FirstTime),
			formatTime(s.LastTime),
		})
	}
	if err := table.Bulk(rows); err != nil {
		return err
	}
	return table.Render()
}

func formatTime(ts int64) string {
	if ts == 0 {
		return "-"
	}
	return time.Unix(ts, 0).UTC().Format(time.RFC3339)
}
