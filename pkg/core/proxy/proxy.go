// Package proxy sits on a Unix socket path in front of the real service and
// records every byte that passes through.
package proxy

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"time"

	"go.sockspy.io/sockspy/pkg/core/proxy/util"
	"go.sockspy.io/sockspy/pkg/models"
	"go.sockspy.io/sockspy/pkg/platform/recordlog"
	"go.sockspy.io/sockspy/utils"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const defaultBufferSize = 4096

type Options struct {
	// SocketPath is where clients connect, normally the vacated service path.
	SocketPath string
	// ServicePath is the relocated socket of the real service.
	ServicePath string
	// BufferSize bounds a single read, and so a single record.
	BufferSize int
	// DialTimeout bounds a single dial of the real service. Zero means no limit.
	DialTimeout time.Duration
}

type Proxy struct {
	logger   *zap.Logger
	recorder recordlog.Recorder
	opts     Options

	nextID atomic.Uint64
	active atomic.Int64
	ready  chan struct{}
}

func New(logger *zap.Logger, recorder recordlog.Recorder, opts Options) *Proxy {
	if opts.BufferSize <= 0 {
		opts.BufferSize = defaultBufferSize
	}
	return &Proxy{
		logger:   logger,
		recorder: recorder,
		opts:     opts,
		ready:    make(chan struct{}),
	}
}

// Ready is closed once the proxy listens on its socket.
func (p *Proxy) Ready() <-chan struct{} {
	return p.ready
}

// Connections is the number of client connections accepted so far.
func (p *Proxy) Connections() uint64 {
	return p.nextID.Load()
}

// Start listens on SocketPath and serves until ctx is cancelled or the real
// service can no longer be reached. Every forwarding task has finished when
// Start returns.
func (p *Proxy) Start(ctx context.Context) error {
	ln, err := net.Listen("unix", p.opts.SocketPath)
	if err != nil {
		return NewSocketError("listener", p.opts.SocketPath, err)
	}
	close(p.ready)
	p.logger.Info("proxy is listening", zap.String("socket", p.opts.SocketPath), zap.String("service", p.opts.ServicePath))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stopListening := context.AfterFunc(ctx, func() {
		if err := ln.Close(); err != nil && !util.IsClosed(err) {
			p.logger.Debug("failed to close the listener", zap.Error(err))
		}
	})
	defer stopListening()

	g, gctx := errgroup.WithContext(ctx)
	runErr := p.serve(ctx, gctx, ln, g)
	if runErr != nil {
		cancel()
	}
	if err := ln.Close(); err != nil && !util.IsClosed(err) {
		p.logger.Debug("failed to close the listener", zap.Error(err))
	}

	p.logger.Debug("waiting for forwarding tasks to finish", zap.Int64("active", p.active.Load()))
	if err := g.Wait(); err != nil {
		utils.LogError(p.logger, err, "forwarding task failed")
	}
	p.logger.Info("proxy stopped", zap.Uint64("connections", p.nextID.Load()))
	return runErr
}

// serve runs the connect then accept loop. The service is dialled before the
// client is accepted so a client is never accepted without somewhere to go.
func (p *Proxy) serve(ctx, taskCtx context.Context, ln net.Listener, g *errgroup.Group) error {
	dialer := net.Dialer{Timeout: p.opts.DialTimeout}
	for {
		svc, err := dialer.DialContext(ctx, "unix", p.opts.ServicePath)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return NewSocketError("service", p.opts.ServicePath, err)
		}

		client, err := ln.Accept()
		if err != nil {
			util.Shutdown(p.logger, svc)
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return NewSocketError("listener", p.opts.SocketPath, err)
		}

		id := models.ConnectionID(p.nextID.Add(1))
		p.logger.Debug("accepted a client", zap.Uint64("conn", uint64(id)))
		p.active.Add(1)
		g.Go(func() error {
			defer p.active.Add(-1)
			p.forward(taskCtx, id, client, svc)
			return nil
		})
	}
}
