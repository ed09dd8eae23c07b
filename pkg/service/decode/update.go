package decode

import (
	"fmt"
	"strconv"
	"strings"

	"go.sockspy.io/sockspy/pkg/models"
)

// ParseError reports an UPDATE line that could not be parsed. It is never
// fatal for a decoding pass.
type ParseError struct {
	Line   string
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid update %q: %s: %v", e.Line, e.Reason, e.Err)
	}
	return fmt.Sprintf("invalid update %q: %s", e.Line, e.Reason)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// IsUpdate reports whether line is an UPDATE command.
func IsUpdate(line string) bool {
	return strings.HasPrefix(line, models.UpdateKeyword)
}

// ParseUpdate parses `UPDATE <path> <ts>:<v1>:...:<vk>`. A value of U is kept
// as a nil metric.
func ParseUpdate(line string) (models.UpdateEvent, error) {
	parts := strings.SplitN(line, " ", 3)
	if len(parts) < 3 {
		return models.UpdateEvent{}, &ParseError{Line: line, Reason: "expected a path and a value list"}
	}
	if parts[0] != models.UpdateKeyword {
		return models.UpdateEvent{}, &ParseError{Line: line, Reason: "not an UPDATE command"}
	}
	path, data := parts[1], parts[2]
	if path == "" {
		return models.UpdateEvent{}, &ParseError{Line: line, Reason: "empty path"}
	}

	values := strings.Split(data, ":")
	ts, err := strconv.ParseInt(values[0], 10, 64)
	if err != nil {
		return models.UpdateEvent{}, &ParseError{Line: line, Reason: "timestamp is not an integer", Err: err}
	}

	metrics := make([]*float64, 0, len(values)-1)
	for i, v := range values[1:] {
		if v == models.UndefinedValue {
			metrics = append(metrics, nil)
			continue
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return models.UpdateEvent{}, &ParseError{Line: line, Reason: fmt.Sprintf("metric %d is not a number", i+1), Err: err}
		}
		metrics = append(metrics, &f)
	}

	return models.UpdateEvent{Time: ts, Path: path, Metrics: metrics}, nil
}
