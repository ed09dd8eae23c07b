package decode

import (
	"context"
	"io"
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.sockspy.io/sockspy/pkg/models"
	"go.uber.org/zap/zaptest"
)

type sliceSource struct {
	recs []models.TrafficRecord
}

func (s *sliceSource) Next() (models.TrafficRecord, error) {
	if len(s.recs) == 0 {
		return models.TrafficRecord{}, io.EOF
	}
	rec := s.recs[0]
	s.recs = s.recs[1:]
	return rec, nil
}

func send(id models.ConnectionID, payload string) models.TrafficRecord {
	return models.TrafficRecord{ConnID: id, Direction: models.ToService, Payload: []byte(payload)}
}

func recv(id models.ConnectionID, payload string) models.TrafficRecord {
	return models.TrafficRecord{ConnID: id, Direction: models.ToClient, Payload: []byte(payload)}
}

func texts(lines []models.DecodedLine) []string {
	out := make([]string, 0, len(lines))
	for _, l := range lines {
		out = append(out, l.String())
	}
	return out
}

func TestFeed_ReassemblesAcrossChunks(t *testing.T) {
	d := New(zaptest.NewLogger(t))

	assert.Empty(t, d.Feed(send(1, "UPDATE /tmp/rrd/a.rrd 17")))
	got := d.Feed(send(1, "00000000:1:2\nPING\r\n\n\nUPD"))
	assert.Equal(t, []string{"UPDATE /tmp/rrd/a.rrd 1700000000:1:2", "PING"}, texts(got))
	got = d.Feed(send(1, "ATE b 1:U\n"))
	assert.Equal(t, []string{"UPDATE b 1:U"}, texts(got))
}

func TestFeed_KeepsStreamsApart(t *testing.T) {
	d := New(zaptest.NewLogger(t))

	assert.Empty(t, d.Feed(send(1, "PI")))
	assert.Empty(t, d.Feed(send(2, "FLU")))
	assert.Empty(t, d.Feed(recv(1, "PO")))
	assert.Equal(t, []string{"PING"}, texts(d.Feed(send(1, "NG\n"))))
	assert.Equal(t, []string{"PONG"}, texts(d.Feed(recv(1, "NG\n"))))
	assert.Equal(t, []string{"FLUSH"}, texts(d.Feed(send(2, "SH\n"))))

	other := send(1, "X\n")
	other.RunID = "second-run"
	assert.Equal(t, []string{"X"}, texts(d.Feed(other)))
}

func TestFeed_ChunkBoundaryInvariance(t *testing.T) {
	stream := "UPDATE a 1:2:3\nUPDATE b 2:U:4\r\n\nBATCH\nUPDATE c 3:0.5\n.\nQUIT\ntrailing"
	want := []string{"UPDATE a 1:2:3", "UPDATE b 2:U:4", "BATCH", "UPDATE c 3:0.5", ".", "QUIT"}

	rng := rand.New(rand.NewSource(42))
	for round := 0; round < 200; round++ {
		d := New(zaptest.NewLogger(t))
		var got []string
		rest := stream
		for len(rest) > 0 {
			n := 1 + rng.Intn(len(rest))
			got = append(got, texts(d.Feed(send(1, rest[:n])))...)
			rest = rest[n:]
		}
		assert.Equal(t, want, got)
		assert.Equal(t, 1, d.Finish(), "the trailing fragment is dropped")
	}
}

func TestFeed_NonASCIIMarker(t *testing.T) {
	d := New(zaptest.NewLogger(t))
	got := d.Feed(send(1, "ok\n\xff\xfe\x00\x01\nafter\n"))
	require.Len(t, got, 3)
	assert.False(t, got[0].NonASCII)
	assert.True(t, got[1].NonASCII)
	assert.Equal(t, 4, got[1].Length)
	assert.Equal(t, "non-ascii message of length 4", got[1].String())
	assert.Equal(t, "after", got[2].Text)
}

func TestFeed_EOFDropsFragment(t *testing.T) {
	d := New(zaptest.NewLogger(t))
	assert.Empty(t, d.Feed(send(1, "half a line")))
	assert.Empty(t, d.Feed(send(1, "")))
	assert.Equal(t, []string{"new"}, texts(d.Feed(send(1, "new\n"))), "text after the end of a stream starts a fresh line")
	assert.Equal(t, 1, d.Finish())
}

func TestLines_ReconstructsSentLines(t *testing.T) {
	sent := []string{"UPDATE x 1:1", "UPDATE y 2:2", "STATS"}
	joined := strings.Join(sent, "\n") + "\n"
	src := &sliceSource{recs: []models.TrafficRecord{
		send(1, joined[:7]),
		recv(1, "0 ok\n"),
		send(1, joined[7:20]),
		send(1, joined[20:]),
		send(1, ""),
	}}

	d := New(zaptest.NewLogger(t))
	var got []string
	for line, err := range d.Lines(context.Background(), src) {
		require.NoError(t, err)
		if line.Direction == models.ToService {
			got = append(got, line.Text)
		}
	}
	assert.Equal(t, sent, got)
}

func TestUpdates_SkipsInvalidAndReplies(t *testing.T) {
	src := &sliceSource{recs: []models.TrafficRecord{
		send(1, "UPDATE a 10:1.5:U\nUPDATE broken x:1\nSTATS\n"),
		recv(1, "UPDATE fake 1:1\n"),
		send(2, "UPDATE b 20:0\n\xff\n"),
	}}

	out := make(chan models.UpdateEvent, 10)
	d := New(zaptest.NewLogger(t))
	stats, err := d.Updates(context.Background(), src, out)
	require.NoError(t, err)
	close(out)

	var events []models.UpdateEvent
	for ev := range out {
		events = append(events, ev)
	}
	require.Len(t, events, 2)
	assert.Equal(t, "a", events[0].Path)
	assert.Equal(t, int64(10), events[0].Time)
	require.Len(t, events[0].Metrics, 2)
	assert.Equal(t, 1.5, *events[0].Metrics[0])
	assert.Nil(t, events[0].Metrics[1])
	assert.Equal(t, "b", events[1].Path)
	assert.Equal(t, models.ConnectionID(1), events[0].ConnID)
	assert.Equal(t, models.ConnectionID(2), events[1].ConnID)

	assert.Equal(t, 2, stats.Updates)
	assert.Equal(t, 1, stats.Invalid)
	assert.Equal(t, 1, stats.NonASCII)
}

func TestUpdates_CancelledWhileBlocked(t *testing.T) {
	src := &sliceSource{recs: []models.TrafficRecord{send(1, "UPDATE a 1:1\nUPDATE a 2:2\n")}}
	ctx, cancel := context.WithCancel(context.Background())
	out := make(chan models.UpdateEvent)

	done := make(chan error, 1)
	go func() {
		_, err := New(zaptest.NewLogger(t)).Updates(ctx, src, out)
		done <- err
	}()
	<-out
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}
