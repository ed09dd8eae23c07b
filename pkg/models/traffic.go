package models

import (
	"fmt"
	"strings"
	"time"
)

// ConnectionID identifies one client/service pairing within a single proxy run.
// It is not unique across runs.
type ConnectionID uint64

type Direction string

const (
	// ToService is traffic the client sent towards the real service.
	ToService Direction = "send"
	// ToClient is traffic the real service sent back to the client.
	ToClient Direction = "recv"
)

// ParseDirection accepts the direction tag in any case.
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case string(ToService):
		return ToService, nil
	case string(ToClient):
		return ToClient, nil
	default:
		return "", fmt.Errorf("unknown direction %q", s)
	}
}

// Prompt is the marker used when printing decoded traffic.
func (d Direction) Prompt() string {
	if d == ToClient {
		return "<<"
	}
	return ">>"
}

// TrafficRecord is a single observed read on one side of a forwarded connection.
// A zero length payload marks the end of that direction.
type TrafficRecord struct {
	Timestamp time.Time
	RunID     string
	ConnID    ConnectionID
	Direction Direction
	Payload   []byte
}

// StreamKey groups records that belong to the same byte stream.
type StreamKey struct {
	RunID     string
	ConnID    ConnectionID
	Direction Direction
}

func (r TrafficRecord) Key() StreamKey {
	return StreamKey{RunID: r.RunID, ConnID: r.ConnID, Direction: r.Direction}
}

func (r TrafficRecord) IsEOF() bool {
	return len(r.Payload) == 0
}
