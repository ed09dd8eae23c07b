package proxy

import (
	"context"
	"net"
	"time"

	"go.sockspy.io/sockspy/pkg/core/proxy/util"
	"go.sockspy.io/sockspy/pkg/models"
	"go.sockspy.io/sockspy/utils"
	"go.uber.org/zap"
)

// forward relays one client/service pair until either side ends, a write
// fails or ctx is cancelled.
func (p *Proxy) forward(ctx context.Context, id models.ConnectionID, client, svc net.Conn) {
	logger := p.logger.With(zap.Uint64("conn", uint64(id)))
	defer util.Recover(logger, client, svc)
	defer util.Shutdown(logger, client, svc)

	// unblock in flight reads and writes on cancellation
	stop := context.AfterFunc(ctx, func() {
		now := time.Now()
		_ = client.SetDeadline(now)
		_ = svc.SetDeadline(now)
	})
	defer stop()

	done := make(chan struct{})
	defer close(done)

	fromClient := make(chan util.Chunk)
	fromService := make(chan util.Chunk)
	go util.ReadLoop(client, p.opts.BufferSize, fromClient, done)
	go util.ReadLoop(svc, p.opts.BufferSize, fromService, done)

	for {
		select {
		case <-ctx.Done():
			logger.Debug("forwarding cancelled")
			return
		case c := <-fromClient:
			if !p.relay(ctx, logger, id, models.ToService, c, svc) {
				return
			}
		case c := <-fromService:
			if !p.relay(ctx, logger, id, models.ToClient, c, client) {
				return
			}
		}
	}
}

// relay records one chunk and writes it to dst. It reports whether forwarding
// should go on.
func (p *Proxy) relay(ctx context.Context, logger *zap.Logger, id models.ConnectionID, dir models.Direction, c util.Chunk, dst net.Conn) bool {
	if c.Err != nil {
		if ctx.Err() == nil && !util.IsClosed(c.Err) {
			logger.Debug("read failed", zap.String("direction", string(dir)), zap.Error(c.Err))
		}
		return false
	}

	rec := models.TrafficRecord{
		Timestamp: time.Now(),
		ConnID:    id,
		Direction: dir,
		Payload:   c.Data,
	}
	if err := p.recorder.Write(rec); err != nil {
		utils.LogError(logger, err, "failed to record traffic")
	}

	if len(c.Data) == 0 {
		logger.Debug("stream ended", zap.String("direction", string(dir)))
		return false
	}
	if _, err := dst.Write(c.Data); err != nil {
		if ctx.Err() == nil && !util.IsClosed(err) {
			utils.LogError(logger, err, "failed to forward traffic", zap.String("direction", string(dir)))
		}
		return false
	}
	return true
}
