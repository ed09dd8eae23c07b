// Package util holds helpers shared by the forwarding tasks.
package util

import (
	"errors"
	"io"
	"net"
	"runtime/debug"

	"go.sockspy.io/sockspy/utils"
	"go.uber.org/zap"
)

// Chunk is the result of one read on a connection. An empty Data with a nil
// Err is the end of the stream.
type Chunk struct {
	Data []byte
	Err  error
}

// ReadLoop reads conn until it fails, pushing every read to out. It stops early
// when done is closed.
func ReadLoop(conn net.Conn, bufferSize int, out chan<- Chunk, done <-chan struct{}) {
	buf := make([]byte, bufferSize)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			select {
			case out <- Chunk{Data: data}:
			case <-done:
				return
			}
		}
		if err == nil {
			continue
		}
		c := Chunk{Data: []byte{}}
		if !errors.Is(err, io.EOF) {
			c.Err = err
		}
		select {
		case out <- c:
		case <-done:
		}
		return
	}
}

// IsClosed reports errors caused by a connection we already closed.
func IsClosed(err error) bool {
	return errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe)
}

// Shutdown half closes and then closes every connection. Failures are only
// logged at debug level.
func Shutdown(logger *zap.Logger, conns ...net.Conn) {
	for _, conn := range conns {
		if conn == nil {
			continue
		}
		if hc, ok := conn.(interface{ CloseWrite() error }); ok {
			if err := hc.CloseWrite(); err != nil && !IsClosed(err) {
				logger.Debug("failed to half close the connection", zap.Error(err))
			}
		}
		if err := conn.Close(); err != nil && !IsClosed(err) {
			logger.Debug("failed to close the connection", zap.Error(err))
		}
	}
}

// Recover must be deferred directly. It turns a panic in a forwarding task
// into closed connections and an error log.
func Recover(logger *zap.Logger, client, dest net.Conn) {
	r := recover()
	if r == nil {
		return
	}
	logger.Error("recovered from panic in a forwarding task, closing active connections",
		zap.Any("panic", r), zap.String("stack", string(debug.Stack())))
	for _, conn := range []net.Conn{client, dest} {
		if conn == nil {
			continue
		}
		if err := conn.Close(); err != nil && !IsClosed(err) {
			utils.LogError(logger, err, "failed to close the connection after a panic")
		}
	}
}
