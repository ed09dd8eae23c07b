package proxy

import (
	"bufio"
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"io"
	"net"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.sockspy.io/sockspy/pkg/models"
	"go.sockspy.io/sockspy/utils"
	"go.uber.org/zap/zaptest"
)

type memRecorder struct {
	mu   sync.Mutex
	recs []models.TrafficRecord
}

func (m *memRecorder) Write(rec models.TrafficRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recs = append(m.recs, rec)
	return nil
}

func (m *memRecorder) records() []models.TrafficRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.TrafficRecord(nil), m.recs...)
}

func (m *memRecorder) has(id models.ConnectionID, dir models.Direction) bool {
	for _, rec := range m.records() {
		if rec.ConnID == id && rec.Direction == dir && !rec.IsEOF() {
			return true
		}
	}
	return false
}

func (m *memRecorder) hasEOF(id models.ConnectionID) bool {
	for _, rec := range m.records() {
		if rec.ConnID == id && rec.IsEOF() {
			return true
		}
	}
	return false
}

// startService runs a line service that answers PING with PONG and echoes
// everything else.
func startService(t *testing.T, path string, echo bool) {
	t.Helper()
	ln, err := net.Listen("unix", path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				if echo {
					_, _ = io.Copy(conn, conn)
					return
				}
				r := bufio.NewReader(conn)
				for {
					line, err := r.ReadString('\n')
					if err != nil {
						return
					}
					if line == "PING\n" {
						line = "PONG\n"
					}
					if _, err := conn.Write([]byte(line)); err != nil {
						return
					}
				}
			}()
		}
	}()
}

type harness struct {
	proxy    *Proxy
	recorder *memRecorder
	socket   string
	cancel   context.CancelFunc
	errCh    chan error
}

func startProxy(t *testing.T, echo bool) *harness {
	t.Helper()
	return startProxyWithParent(t, context.Background(), echo)
}

func startProxyWithParent(t *testing.T, parent context.Context, echo bool) *harness {
	t.Helper()
	dir := t.TempDir()
	svcPath := filepath.Join(dir, "svc.sock")
	startService(t, svcPath, echo)

	h := &harness{recorder: &memRecorder{}, socket: filepath.Join(dir, "proxy.sock"), errCh: make(chan error, 1)}
	h.proxy = New(zaptest.NewLogger(t), h.recorder, Options{SocketPath: h.socket, ServicePath: svcPath, BufferSize: 1024})

	ctx, cancel := context.WithCancel(parent)
	h.cancel = cancel
	go func() { h.errCh <- h.proxy.Start(ctx) }()

	select {
	case <-h.proxy.Ready():
	case err := <-h.errCh:
		t.Fatalf("proxy failed to start: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("proxy did not start")
	}
	t.Cleanup(cancel)
	return h
}

func (h *harness) stop(t *testing.T) {
	t.Helper()
	h.cancel()
	select {
	case err := <-h.errCh:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("proxy did not drain")
	}
}

func pingPong(t *testing.T, socket string) {
	t.Helper()
	conn, err := net.Dial("unix", socket)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("PING\n"))
	require.NoError(t, err)
	reply := make([]byte, 5)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, err = io.ReadFull(conn, reply)
	require.NoError(t, err)
	assert.Equal(t, "PONG\n", string(reply))
}

func TestProxy_PingPongIsRecorded(t *testing.T) {
	h := startProxy(t, false)
	pingPong(t, h.socket)

	require.Eventually(t, func() bool { return h.recorder.hasEOF(1) }, 5*time.Second, 10*time.Millisecond)
	h.stop(t)

	var data []models.TrafficRecord
	for _, rec := range h.recorder.records() {
		assert.Equal(t, models.ConnectionID(1), rec.ConnID)
		if !rec.IsEOF() {
			data = append(data, rec)
		}
	}
	require.Len(t, data, 2)
	assert.Equal(t, models.ToService, data[0].Direction)
	assert.Equal(t, "PING\n", string(data[0].Payload))
	assert.Equal(t, models.ToClient, data[1].Direction)
	assert.Equal(t, "PONG\n", string(data[1].Payload))
	assert.False(t, data[1].Timestamp.Before(data[0].Timestamp))
}

func TestProxy_RelaysBytesExactly(t *testing.T) {
	h := startProxy(t, true)

	payload := make([]byte, 256*1024)
	_, err := rand.Read(payload)
	require.NoError(t, err)

	conn, err := net.Dial("unix", h.socket)
	require.NoError(t, err)

	go func() {
		for off := 0; off < len(payload); off += 3000 {
			end := min(off+3000, len(payload))
			if _, err := conn.Write(payload[off:end]); err != nil {
				return
			}
		}
	}()
	got := make([]byte, len(payload))
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(10*time.Second)))
	_, err = io.ReadFull(conn, got)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(payload, got))
	require.NoError(t, conn.(*net.UnixConn).CloseWrite())

	require.Eventually(t, func() bool { return h.recorder.hasEOF(1) }, 5*time.Second, 10*time.Millisecond)
	_ = conn.Close()
	h.stop(t)

	var sent, received bytes.Buffer
	eofSeen := false
	for _, rec := range h.recorder.records() {
		assert.LessOrEqual(t, len(rec.Payload), 1024)
		switch rec.Direction {
		case models.ToService:
			if rec.IsEOF() {
				eofSeen = true
			}
			sent.Write(rec.Payload)
		case models.ToClient:
			received.Write(rec.Payload)
		}
	}
	assert.True(t, eofSeen, "client close must be recorded as an empty send record")
	assert.True(t, bytes.Equal(payload, sent.Bytes()))
	assert.True(t, bytes.Equal(payload, received.Bytes()))
}

func TestProxy_AssignsIncreasingConnectionIDs(t *testing.T) {
	h := startProxy(t, false)
	pingPong(t, h.socket)
	require.Eventually(t, func() bool { return h.recorder.hasEOF(1) }, 5*time.Second, 10*time.Millisecond)
	pingPong(t, h.socket)
	require.Eventually(t, func() bool { return h.recorder.hasEOF(2) }, 5*time.Second, 10*time.Millisecond)
	h.stop(t)

	assert.Equal(t, uint64(2), h.proxy.Connections())
	seen := map[models.ConnectionID]bool{}
	for _, rec := range h.recorder.records() {
		seen[rec.ConnID] = true
	}
	assert.Equal(t, map[models.ConnectionID]bool{1: true, 2: true}, seen)
}

func TestProxy_BrokenClientDoesNotStopOtherConnections(t *testing.T) {
	parent := utils.NewCtx()
	h := startProxyWithParent(t, parent, false)

	first, err := net.Dial("unix", h.socket)
	require.NoError(t, err)
	second, err := net.Dial("unix", h.socket)
	require.NoError(t, err)
	defer second.Close()

	// the first client floods the service and hangs up without reading the
	// replies, so the proxy writes into a closed connection
	line := []byte(strings.Repeat("x", 127) + "\n")
	go func() {
		for {
			if _, err := first.Write(line); err != nil {
				return
			}
		}
	}()
	require.Eventually(t, func() bool {
		return h.recorder.has(1, models.ToClient) && h.proxy.Connections() == 2
	}, 5*time.Second, 10*time.Millisecond)
	require.NoError(t, first.Close())
	require.Eventually(t, func() bool { return h.proxy.active.Load() == 1 }, 5*time.Second, 10*time.Millisecond)

	_, err = second.Write([]byte("PING\n"))
	require.NoError(t, err)
	reply := make([]byte, 5)
	require.NoError(t, second.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, err = io.ReadFull(second, reply)
	require.NoError(t, err)
	assert.Equal(t, "PONG\n", string(reply))

	pingPong(t, h.socket)
	assert.NoError(t, parent.Err(), "a broken connection must not cancel the run")
	assert.Equal(t, uint64(3), h.proxy.Connections())
	h.stop(t)
}

func TestProxy_CancellationDrainsTasks(t *testing.T) {
	h := startProxy(t, false)

	conn, err := net.Dial("unix", h.socket)
	require.NoError(t, err)
	defer conn.Close()
	_, err = conn.Write([]byte("PING\n"))
	require.NoError(t, err)
	reply := make([]byte, 5)
	_, err = io.ReadFull(conn, reply)
	require.NoError(t, err)

	// the connection is still open while the run is cancelled
	h.stop(t)
	assert.Zero(t, h.proxy.active.Load())

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, err = conn.Read(reply)
	assert.Error(t, err, "the proxy must close the client side on shutdown")
}

func TestProxy_ServiceMissingIsFatal(t *testing.T) {
	dir := t.TempDir()
	p := New(zaptest.NewLogger(t), &memRecorder{}, Options{
		SocketPath:  filepath.Join(dir, "proxy.sock"),
		ServicePath: filepath.Join(dir, "missing.sock"),
	})

	err := p.Start(context.Background())
	require.Error(t, err)
	var se *SocketError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, ErrCodeServiceMissing, se.Code)
	assert.Equal(t, "service", se.Component)
}

func TestProxy_ListenFailure(t *testing.T) {
	dir := t.TempDir()
	p := New(zaptest.NewLogger(t), &memRecorder{}, Options{
		SocketPath:  filepath.Join(dir, "no-such-dir", "proxy.sock"),
		ServicePath: filepath.Join(dir, "svc.sock"),
	})
	err := p.Start(context.Background())
	require.Error(t, err)
	var se *SocketError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "listener", se.Component)
}

func TestSocketError_Message(t *testing.T) {
	se := NewSocketError("listener", "/run/rrdcached.sock", errors.New("listen unix /run/rrdcached.sock: bind: address already in use"))
	assert.Equal(t, ErrCodeAddressInUse, se.Code)
	assert.True(t, strings.Contains(se.Error(), "Possible solutions"))
	assert.Nil(t, NewSocketError("listener", "x", nil))
}
