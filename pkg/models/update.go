package models

import "time"

// UpdateEvent is a parsed UPDATE command. A nil metric slot is an undefined
// value, which is not the same thing as zero.
type UpdateEvent struct {
	Time    int64      `json:"time" yaml:"time"`
	Path    string     `json:"path" yaml:"path"`
	Metrics []*float64 `json:"metrics" yaml:"metrics"`

	// RunID and ConnID name the connection the command arrived on.
	RunID  string       `json:"-" yaml:"-"`
	ConnID ConnectionID `json:"-" yaml:"-"`
}

func (u UpdateEvent) Timestamp() time.Time {
	return time.Unix(u.Time, 0).UTC()
}

// SeriesInfo is the catalog entry a sink keeps for each distinct series path.
type SeriesInfo struct {
	ID          int64  `json:"id" yaml:"id"`
	Path        string `json:"path" yaml:"path"`
	MetricCount int    `json:"metric_count" yaml:"metric_count"`
	Updates     int64  `json:"updates,omitempty" yaml:"updates,omitempty"`
	FirstTime   int64  `json:"first_time,omitempty" yaml:"first_time,omitempty"`
	LastTime    int64  `json:"last_time,omitempty" yaml:"last_time,omitempty"`
}

// Observe folds ev into the running counters of s.
func (s *SeriesInfo) Observe(ev UpdateEvent) {
	if len(ev.Metrics) > s.MetricCount {
		s.MetricCount = len(ev.Metrics)
	}
	if s.Updates == 0 || ev.Time < s.FirstTime {
		s.FirstTime = ev.Time
	}
	if s.Updates == 0 || ev.Time > s.LastTime {
		s.LastTime = ev.Time
	}
	s.Updates++
}

// MetricRow is one persisted metric sample. Slot is the 1-based position of the
// value inside the UPDATE command (the RRD data source number) and is the only
// identity a metric has.
type MetricRow struct {
	SeriesID int64
	Slot     int
	Time     time.Time
	Value    *float64
}

// Rows flattens the event into one row per metric slot.
func (u UpdateEvent) Rows(seriesID int64) []MetricRow {
	rows := make([]MetricRow, 0, len(u.Metrics))
	ts := u.Timestamp()
	for i, v := range u.Metrics {
		rows = append(rows, MetricRow{
			SeriesID: seriesID,
			Slot:     i + 1,
			Time:     ts,
			Value:    v,
		})
	}
	return rows
}
