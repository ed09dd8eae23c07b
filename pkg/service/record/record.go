// Package record wires the socket guard, the proxy and the record log into a
// recording session.
package record

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.sockspy.io/sockspy/config"
	"go.sockspy.io/sockspy/pkg/core/proxy"
	"go.sockspy.io/sockspy/pkg/core/socket"
	"go.sockspy.io/sockspy/pkg/platform/recordlog"
	"go.sockspy.io/sockspy/utils"
	"go.sockspy.io/sockspy/utils/log"
	"go.uber.org/zap"
)

type recorder struct {
	logger *zap.Logger
	config *config.Config
}

func New(logger *zap.Logger, cfg *config.Config) Service {
	return &recorder{
		logger: logger,
		config: cfg,
	}
}

func (r *recorder) Start(ctx context.Context) error {
	opts := r.config.Record
	if opts.Socket == "" {
		return errors.New("no socket to record, set --socket")
	}
	if opts.Output == "" {
		return errors.New("no output file, set --output")
	}

	runID := uuid.NewString()
	logger := r.logger.With(zap.String("run", runID))

	if opts.PidFile != "" {
		if err := utils.WritePidFile(opts.PidFile); err != nil {
			return fmt.Errorf("failed to write the pid file: %w", err)
		}
		defer utils.RemovePidFile(logger, opts.PidFile)
	}

	writer, err := recordlog.NewWriter(logger, opts.Output, runID)
	if err != nil {
		return err
	}

	guard, err := socket.Acquire(log.ForModule(logger, log.ModuleSocket, r.config.DebugModules), opts.Socket)
	if err != nil {
		_ = writer.Close()
		return err
	}
	// restore on every exit path, including panics
	defer func() {
		_ = guard.Release()
	}()

	p := proxy.New(log.ForModule(logger, log.ModuleProxy, r.config.DebugModules), writer, proxy.Options{
		SocketPath:  guard.Path(),
		ServicePath: guard.Original(),
		BufferSize:  opts.BufferSize,
	})
	logger.Info("recording", zap.String("socket", opts.Socket), zap.String("output", opts.Output))
	runErr := p.Start(ctx)

	// all forwarding tasks are done, nothing uses the relocated path anymore
	_ = guard.Release()

	if err := writer.Close(); err != nil {
		utils.LogError(logger, err, "failed to close the record log")
	}
	if runErr != nil {
		return runErr
	}

	if opts.Compress {
		dst := opts.Output + recordlog.CompressedSuffix
		if err := recordlog.Compress(opts.Output, dst); err != nil {
			return fmt.Errorf("failed to compress the recording: %w", err)
		}
		logger.Info("compressed the recording", zap.String("path", dst))
	}
	logger.Info("recording finished", zap.Uint64("connections", p.Connections()))
	return nil
}
