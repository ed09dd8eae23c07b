// Package socket moves a live Unix socket out of the way so a proxy can take
// its place, and puts it back afterwards.
package socket

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"

	"go.sockspy.io/sockspy/pkg/models"
	"go.uber.org/zap"
)

// ErrRelocated is returned when the relocated path is already taken, which
// usually means another sockspy run owns the socket.
var ErrRelocated = errors.New("socket is already relocated")

// Guard owns one relocation of a socket path.
type Guard struct {
	logger   *zap.Logger
	path     string
	original string

	once       sync.Once
	releaseErr error
}

// Acquire renames path to path+".original". The caller must call Release on
// every exit path; deferring it right after a successful Acquire is enough.
func Acquire(logger *zap.Logger, path string) (*Guard, error) {
	if path == "" {
		return nil, errors.New("socket path is empty")
	}
	original := path + models.OriginalSuffix
	if err := relocate(path, original); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return nil, fmt.Errorf("%w: %s exists: %w", ErrRelocated, original, err)
		}
		return nil, fmt.Errorf("failed to move %s to %s: %w", path, original, err)
	}
	logger.Info("moved the service socket aside", zap.String("path", path), zap.String("original", original))
	return &Guard{logger: logger, path: path, original: original}, nil
}

// Path is the vacated path the proxy listens on.
func (g *Guard) Path() string { return g.path }

// Original is where the real service socket lives while the guard is held.
func (g *Guard) Original() string { return g.original }

// Release moves the socket back. Only the first call does any work; later
// calls return the first result.
func (g *Guard) Release() error {
	g.once.Do(func() {
		if fi, err := os.Lstat(g.path); err == nil && fi.Mode()&fs.ModeSocket != 0 {
			if err := os.Remove(g.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
				g.logger.Debug("failed to remove the proxy socket", zap.String("path", g.path), zap.Error(err))
			}
		}
		if err := os.Rename(g.original, g.path); err != nil {
			g.releaseErr = fmt.Errorf("failed to restore %s: %w", g.path, err)
			g.logger.Error("failed to restore the service socket", zap.String("path", g.path), zap.String("original", g.original), zap.Error(err))
			return
		}
		g.logger.Info("restored the service socket", zap.String("path", g.path))
	})
	return g.releaseErr
}
