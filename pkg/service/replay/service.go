package replay

import (
	"context"

	"go.sockspy.io/sockspy/pkg/models"
)

// Source yields recorded traffic in log order and io.EOF at the end.
type Source interface {
	Next() (models.TrafficRecord, error)
}

type Service interface {
	// Run re-sends the client traffic of src to the live socket. It returns
	// once src is exhausted, ctx is cancelled or the live socket fails.
	Run(ctx context.Context, src Source) (Stats, error)
}
