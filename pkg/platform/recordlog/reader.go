package recordlog

import (
	"bufio"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"iter"
	"strconv"
	"time"

	"github.com/tidwall/gjson"
	"go.sockspy.io/sockspy/pkg/models"
	"go.uber.org/zap"
)

const maxLineSize = 64 << 20

// Reader streams records from a recording. Lines that do not match the record
// schema are logged and skipped.
type Reader struct {
	logger  *zap.Logger
	scanner *bufio.Scanner
	line    int
	skipped int
}

func NewReader(logger *zap.Logger, r io.Reader) *Reader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	return &Reader{logger: logger, scanner: sc}
}

// Next returns the next valid record, or io.EOF at the end of input.
func (r *Reader) Next() (models.TrafficRecord, error) {
	for r.scanner.Scan() {
		r.line++
		raw := r.scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		rec, err := ParseLine(raw)
		if err != nil {
			r.skipped++
			r.logger.Warn("skipping malformed record", zap.Int("line", r.line), zap.Error(err))
			continue
		}
		return rec, nil
	}
	if err := r.scanner.Err(); err != nil {
		return models.TrafficRecord{}, fmt.Errorf("failed to read the record log at line %d: %w", r.line+1, err)
	}
	return models.TrafficRecord{}, io.EOF
}

// Skipped is the number of malformed lines seen so far.
func (r *Reader) Skipped() int { return r.skipped }

// All yields records until the input ends, ctx is cancelled or reading fails.
func (r *Reader) All(ctx context.Context) iter.Seq2[models.TrafficRecord, error] {
	return func(yield func(models.TrafficRecord, error) bool) {
		for {
			if err := ctx.Err(); err != nil {
				yield(models.TrafficRecord{}, err)
				return
			}
			rec, err := r.Next()
			if errors.Is(err, io.EOF) {
				return
			}
			if !yield(rec, err) || err != nil {
				return
			}
		}
	}
}

// ParseLine decodes one recorded line. Both the nested "fields" layout and a
// flat layout are accepted.
func ParseLine(raw []byte) (models.TrafficRecord, error) {
	if !gjson.ValidBytes(raw) {
		return models.TrafficRecord{}, errors.New("line is not valid json")
	}
	root := gjson.ParseBytes(raw)
	fields := root.Get(KeyFields)
	if !fields.IsObject() {
		fields = root
	}

	typ := fields.Get(KeyType)
	if !typ.Exists() {
		return models.TrafficRecord{}, fmt.Errorf("missing %q", KeyType)
	}
	dir, err := models.ParseDirection(typ.String())
	if err != nil {
		return models.TrafficRecord{}, err
	}

	id := fields.Get(KeyID)
	if id.Type != gjson.Number {
		return models.TrafficRecord{}, fmt.Errorf("missing or non numeric %q", KeyID)
	}
	connID, err := strconv.ParseUint(id.Raw, 10, 64)
	if err != nil {
		return models.TrafficRecord{}, fmt.Errorf("%q must be a non-negative integer, got %s", KeyID, id.Raw)
	}

	ts := root.Get(KeyTimestamp)
	if ts.Type != gjson.String {
		return models.TrafficRecord{}, fmt.Errorf("missing %q", KeyTimestamp)
	}
	timestamp, err := time.Parse(time.RFC3339Nano, ts.Str)
	if err != nil {
		return models.TrafficRecord{}, fmt.Errorf("invalid %q: %w", KeyTimestamp, err)
	}

	msg := fields.Get(KeyMessage)
	if msg.Type != gjson.String {
		return models.TrafficRecord{}, fmt.Errorf("missing %q", KeyMessage)
	}
	payload, err := base64.StdEncoding.DecodeString(msg.Str)
	if err != nil {
		return models.TrafficRecord{}, fmt.Errorf("invalid base64 in %q: %w", KeyMessage, err)
	}

	return models.TrafficRecord{
		Timestamp: timestamp,
		RunID:     fields.Get(KeyRun).String(),
		ConnID:    models.ConnectionID(connID),
		Direction: dir,
		Payload:   payload,
	}, nil
}
