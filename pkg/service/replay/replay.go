// Package replay re-sends recorded client traffic to a live service socket.
package replay

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"go.sockspy.io/sockspy/config"
	"go.sockspy.io/sockspy/pkg/models"
	"go.uber.org/zap"
)

const (
	defaultDrainTimeout = time.Second
	defaultReadSize     = 1024
)

type Options struct {
	Socket       string
	DrainTimeout time.Duration
	ReadSize     int
	Rewrites     []config.Rewrite
}

// Stats summarises a replay run.
type Stats struct {
	Records   int
	Lines     int
	BytesSent int64
	Drains    int
	Timeouts  int
	NonASCII  int
}

type Driver struct {
	logger   *zap.Logger
	opts     Options
	rewriter *Rewriter
}

func New(logger *zap.Logger, opts Options) *Driver {
	if opts.DrainTimeout <= 0 {
		opts.DrainTimeout = defaultDrainTimeout
	}
	if opts.ReadSize <= 0 {
		opts.ReadSize = defaultReadSize
	}
	return &Driver{
		logger:   logger,
		opts:     opts,
		rewriter: NewRewriter(opts.Rewrites),
	}
}

var _ Service = (*Driver)(nil)

func (d *Driver) Run(ctx context.Context, src Source) (Stats, error) {
	var stats Stats

	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "unix", d.opts.Socket)
	if err != nil {
		return stats, fmt.Errorf("failed to connect to %s: %w", d.opts.Socket, err)
	}
	defer conn.Close()
	d.logger.Info("connected to the service", zap.String("socket", d.opts.Socket))

	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Now())
	})
	defer stop()

	var pending []byte
	buf := make([]byte, d.opts.ReadSize)
	for {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		rec, err := src.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return stats, err
		}
		stats.Records++

		switch rec.Direction {
		case models.ToService:
			if !isASCII(rec.Payload) {
				stats.NonASCII++
				d.logger.Warn("skipping a non-ascii payload", zap.Uint64("conn", uint64(rec.ConnID)), zap.Int("length", len(rec.Payload)))
				continue
			}
			pending, err = d.send(ctx, conn, append(pending, rec.Payload...), &stats)
			if err != nil {
				return stats, err
			}
		case models.ToClient:
			if rec.IsEOF() {
				continue
			}
			if err := d.drain(ctx, conn, buf, &stats); err != nil {
				return stats, err
			}
		}
	}

	if len(pending) > 0 {
		d.logger.Debug("dropping an unterminated command", zap.Int("length", len(pending)))
	}
	d.logger.Info("replay finished",
		zap.Int("records", stats.Records), zap.Int("lines", stats.Lines),
		zap.Int("drains", stats.Drains), zap.Int("timeouts", stats.Timeouts))
	return stats, nil
}

// send writes every complete line of data and returns the unterminated rest.
func (d *Driver) send(ctx context.Context, conn net.Conn, data []byte, stats *Stats) ([]byte, error) {
	parts := bytes.Split(data, []byte{'\n'})
	for _, part := range parts[:len(parts)-1] {
		line := d.rewriter.Apply(string(part))
		if line == "" {
			continue
		}
		d.logger.Debug("sent", zap.String("line", line))
		n, err := io.WriteString(conn, line+"\n")
		stats.BytesSent += int64(n)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("failed to send to the service: %w", err)
		}
		stats.Lines++
	}
	return append([]byte(nil), parts[len(parts)-1]...), nil
}

// drain reads whatever the service answered to the last command.
func (d *Driver) drain(ctx context.Context, conn net.Conn, buf []byte, stats *Stats) error {
	if err := conn.SetReadDeadline(time.Now().Add(d.opts.DrainTimeout)); err != nil {
		return fmt.Errorf("failed to set the drain deadline: %w", err)
	}
	n, err := conn.Read(buf)
	stats.Drains++
	if n > 0 {
		d.logger.Debug("received", zap.ByteString("response", buf[:n]))
	}
	switch {
	case err == nil:
	case ctx.Err() != nil:
		return ctx.Err()
	case errors.Is(err, os.ErrDeadlineExceeded):
		stats.Timeouts++
		d.logger.Debug("no response within the drain timeout", zap.Duration("timeout", d.opts.DrainTimeout))
	case errors.Is(err, io.EOF):
		return errors.New("the service closed the connection")
	default:
		return fmt.Errorf("failed to read from the service: %w", err)
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return conn.SetReadDeadline(time.Time{})
}

func isASCII(b []byte) bool {
	for _, c := range b {
		if c >= 0x80 {
			return false
		}
	}
	return true
}
