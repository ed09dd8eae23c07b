package ingest

import (
	"context"

	"go.sockspy.io/sockspy/pkg/models"
)

// MetricSink stores UPDATE events. Write may be called from several workers
// at once. The sink assigns a stable id to every distinct series path and
// stores one row per metric slot, with nil slots stored as null.
type MetricSink interface {
	Open(ctx context.Context) error
	Write(ctx context.Context, ev models.UpdateEvent) error
	Close(ctx context.Context) error
}

// SeriesLister is implemented by sinks that can report their series catalog.
type SeriesLister interface {
	Series(ctx context.Context) ([]models.SeriesInfo, error)
}
