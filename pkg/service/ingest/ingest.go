// Package ingest decodes a recording and feeds its UPDATE events to a sink.
package ingest

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/fnv"
	"sync/atomic"
	"time"

	"go.sockspy.io/sockspy/pkg/models"
	"go.sockspy.io/sockspy/pkg/service/decode"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	defaultQueueSize = 32
	defaultWorkers   = 1
)

type Options struct {
	// QueueSize bounds the events in flight between the decoder and the sink.
	QueueSize int
	// Workers writing to the sink. Events of one connection always go to the
	// same worker, so they reach the sink in recorded order.
	Workers int
	// ProgressEvery logs progress after this many written events. Zero turns
	// progress logging off.
	ProgressEvery int
}

type Stats struct {
	Decode  decode.Stats
	Written int64
	Elapsed time.Duration
}

type Pipeline struct {
	logger *zap.Logger
	sink   MetricSink
	opts   Options
}

func New(logger *zap.Logger, sink MetricSink, opts Options) *Pipeline {
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	if opts.Workers <= 0 {
		opts.Workers = defaultWorkers
	}
	return &Pipeline{logger: logger, sink: sink, opts: opts}
}

// Run decodes src and writes every UPDATE to the sink. The sink is opened
// first and closed before Run returns, also when decoding fails.
func (p *Pipeline) Run(ctx context.Context, src decode.RecordSource) (Stats, error) {
	var stats Stats
	start := time.Now()

	if err := p.sink.Open(ctx); err != nil {
		return stats, fmt.Errorf("failed to open the sink: %w", err)
	}

	events := make(chan models.UpdateEvent, p.opts.QueueSize)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(events)
		st, err := decode.New(p.logger.Named("decode")).Updates(gctx, src, events)
		stats.Decode = st
		return err
	})

	shards := []chan models.UpdateEvent{events}
	if p.opts.Workers > 1 {
		shards = make([]chan models.UpdateEvent, p.opts.Workers)
		for i := range shards {
			shards[i] = make(chan models.UpdateEvent, max(1, p.opts.QueueSize/p.opts.Workers))
		}
		g.Go(func() error {
			defer func() {
				for _, ch := range shards {
					close(ch)
				}
			}()
			for ev := range events {
				select {
				case shards[p.shard(ev)] <- ev:
				case <-gctx.Done():
					return gctx.Err()
				}
			}
			return nil
		})
	}

	var written atomic.Int64
	for _, shard := range shards {
		g.Go(func() error {
			for {
				select {
				case <-gctx.Done():
					return gctx.Err()
				case ev, ok := <-shard:
					if !ok {
						return nil
					}
					if err := p.sink.Write(gctx, ev); err != nil {
						return fmt.Errorf("failed to write update for %s: %w", ev.Path, err)
					}
					n := written.Add(1)
					if p.opts.ProgressEvery > 0 && n%int64(p.opts.ProgressEvery) == 0 {
						p.logger.Info("ingest progress", zap.Int64("updates", n), zap.Duration("elapsed", time.Since(start)))
					}
				}
			}
		})
	}

	runErr := g.Wait()
	closeErr := p.sink.Close(context.WithoutCancel(ctx))

	stats.Written = written.Load()
	stats.Elapsed = time.Since(start)
	if err := errors.Join(runErr, closeErr); err != nil {
		return stats, err
	}
	p.logger.Info("ingest finished",
		zap.Int64("updates", stats.Written),
		zap.Int("invalid", stats.Decode.Invalid),
		zap.Int("nonAscii", stats.Decode.NonASCII),
		zap.Duration("elapsed", stats.Elapsed))
	return stats, nil
}

// shard picks the worker for the connection ev arrived on.
func (p *Pipeline) shard(ev models.UpdateEvent) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(ev.RunID))
	_, _ = h.Write(binary.LittleEndian.AppendUint64(nil, uint64(ev.ConnID)))
	return int(h.Sum32() % uint32(p.opts.Workers))
}
