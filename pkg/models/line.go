package models

import "fmt"

// DecodedLine is one complete text line recovered from recorded traffic,
// or an opaque marker when the line was not ASCII.
type DecodedLine struct {
	RunID     string
	ConnID    ConnectionID
	Direction Direction
	Text      string
	NonASCII  bool
	Length    int
}

func (l DecodedLine) String() string {
	if l.NonASCII {
		return fmt.Sprintf("non-ascii message of length %d", l.Length)
	}
	return l.Text
}
