// Package decode rebuilds protocol lines and UPDATE events from recorded
// traffic.
package decode

import (
	"bytes"
	"context"
	"errors"
	"io"
	"iter"

	"go.sockspy.io/sockspy/pkg/models"
	"go.sockspy.io/sockspy/pkg/platform/recordlog"
	"go.uber.org/zap"
)

// RecordSource yields records in log order.
type RecordSource interface {
	Next() (models.TrafficRecord, error)
}

// Decoder reassembles lines per stream. A Decoder is not safe for concurrent
// use; one decoding pass owns it.
type Decoder struct {
	logger  *zap.Logger
	buffers map[models.StreamKey][]byte
	dropped int
}

func New(logger *zap.Logger) *Decoder {
	return &Decoder{
		logger:  logger,
		buffers: make(map[models.StreamKey][]byte),
	}
}

// Feed appends rec to its stream and returns the lines it completes. Empty
// lines are skipped and a trailing carriage return is removed. The end of a
// stream discards whatever fragment is left.
func (d *Decoder) Feed(rec models.TrafficRecord) []models.DecodedLine {
	key := rec.Key()
	if rec.IsEOF() {
		d.discard(key)
		return nil
	}

	buf := append(d.buffers[key], rec.Payload...)
	var lines []models.DecodedLine
	for {
		i := bytes.IndexByte(buf, '\n')
		if i < 0 {
			break
		}
		raw := bytes.TrimSuffix(buf[:i], []byte{'\r'})
		buf = buf[i+1:]
		if len(raw) == 0 {
			continue
		}
		lines = append(lines, newLine(key, raw))
	}

	if len(buf) == 0 {
		delete(d.buffers, key)
	} else {
		// copy so the map does not pin the whole payload
		d.buffers[key] = append([]byte(nil), buf...)
	}
	return lines
}

func newLine(key models.StreamKey, raw []byte) models.DecodedLine {
	line := models.DecodedLine{
		RunID:     key.RunID,
		ConnID:    key.ConnID,
		Direction: key.Direction,
		Length:    len(raw),
	}
	if !isASCII(raw) {
		line.NonASCII = true
		return line
	}
	line.Text = string(raw)
	return line
}

func isASCII(b []byte) bool {
	for _, c := range b {
		if c >= 0x80 {
			return false
		}
	}
	return true
}

func (d *Decoder) discard(key models.StreamKey) {
	if rest, ok := d.buffers[key]; ok {
		d.dropped++
		d.logger.Debug("dropping an unterminated fragment",
			zap.Uint64("conn", uint64(key.ConnID)), zap.String("direction", string(key.Direction)), zap.Int("length", len(rest)))
		delete(d.buffers, key)
	}
}

// Finish drops every fragment still pending at the end of input and returns
// how many fragments were dropped in total.
func (d *Decoder) Finish() int {
	for key := range d.buffers {
		d.discard(key)
	}
	return d.dropped
}

// Lines decodes a whole log lazily. The sequence ends after the first error.
func (d *Decoder) Lines(ctx context.Context, src RecordSource) iter.Seq2[models.DecodedLine, error] {
	return func(yield func(models.DecodedLine, error) bool) {
		defer d.Finish()
		for {
			if err := ctx.Err(); err != nil {
				yield(models.DecodedLine{}, err)
				return
			}
			rec, err := src.Next()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield(models.DecodedLine{}, err)
				return
			}
			for _, line := range d.Feed(rec) {
				if !yield(line, nil) {
					return
				}
			}
		}
	}
}

// Updates sends every parsable UPDATE the client sent to out. Lines that fail
// to parse are logged and skipped. out is not closed.
func (d *Decoder) Updates(ctx context.Context, src RecordSource, out chan<- models.UpdateEvent) (Stats, error) {
	var stats Stats
	for line, err := range d.Lines(ctx, src) {
		if err != nil {
			return stats, err
		}
		stats.Lines++
		if line.Direction != models.ToService {
			continue
		}
		if line.NonASCII {
			stats.NonASCII++
			continue
		}
		if !IsUpdate(line.Text) {
			continue
		}
		ev, err := ParseUpdate(line.Text)
		if err != nil {
			stats.Invalid++
			d.logger.Warn("could not parse update", zap.String("line", line.Text), zap.Error(err))
			continue
		}
		ev.RunID, ev.ConnID = line.RunID, line.ConnID
		select {
		case out <- ev:
			stats.Updates++
		case <-ctx.Done():
			return stats, ctx.Err()
		}
	}
	stats.Dropped = d.dropped
	return stats, nil
}

// Stats counts what a decoding pass saw.
type Stats struct {
	Lines    int
	Updates  int
	Invalid  int
	NonASCII int
	Dropped  int
}

var _ RecordSource = (*recordlog.Reader)(nil)
