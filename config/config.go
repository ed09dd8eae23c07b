// Package config provides configuration structures for the application.
package config

import (
	"fmt"
	"strings"
	"time"
)

type Config struct {
	Debug        bool     `json:"debug" yaml:"debug" mapstructure:"debug"`
	Verbose      int      `json:"verbose" yaml:"verbose" mapstructure:"verbose"`
	DebugModules []string `json:"debugModules" yaml:"debugModules" mapstructure:"debugModules"`
	ConfigPath   string   `json:"configPath" yaml:"configPath" mapstructure:"configPath"`
	Record       Record   `json:"record" yaml:"record" mapstructure:"record"`
	Replay       Replay   `json:"replay" yaml:"replay" mapstructure:"replay"`
	Ingest       Ingest   `json:"ingest" yaml:"ingest" mapstructure:"ingest"`
	Decipher     Decipher `json:"decipher" yaml:"decipher" mapstructure:"decipher"`
}

type Record struct {
	Socket     string `json:"socket" yaml:"socket" mapstructure:"socket"`
	Output     string `json:"output" yaml:"output" mapstructure:"output"`
	PidFile    string `json:"pidfile" yaml:"pidfile" mapstructure:"pidfile"`
	BufferSize int    `json:"bufferSize" yaml:"bufferSize" mapstructure:"bufferSize"`
	Compress   bool   `json:"compress" yaml:"compress" mapstructure:"compress"`
}

type Replay struct {
	Socket       string        `json:"socket" yaml:"socket" mapstructure:"socket"`
	Input        string        `json:"input" yaml:"input" mapstructure:"input"`
	DrainTimeout time.Duration `json:"drainTimeout" yaml:"drainTimeout" mapstructure:"drainTimeout"`
	ReadSize     int           `json:"readSize" yaml:"readSize" mapstructure:"readSize"`
	Rewrites     []Rewrite     `json:"rewrites" yaml:"rewrites" mapstructure:"rewrites"`
}

// Rewrite replaces every occurrence of From with To in replayed UPDATE lines.
type Rewrite struct {
	From string `json:"from" yaml:"from" mapstructure:"from"`
	To   string `json:"to" yaml:"to" mapstructure:"to"`
}

type Ingest struct {
	Input         string   `json:"input" yaml:"input" mapstructure:"input"`
	Sink          string   `json:"sink" yaml:"sink" mapstructure:"sink"`
	QueueSize     int      `json:"queueSize" yaml:"queueSize" mapstructure:"queueSize"`
	Workers       int      `json:"workers" yaml:"workers" mapstructure:"workers"`
	ProgressEvery int      `json:"progressEvery" yaml:"progressEvery" mapstructure:"progressEvery"`
	SQLite        SQLite   `json:"sqlite" yaml:"sqlite" mapstructure:"sqlite"`
	Postgres      Postgres `json:"postgres" yaml:"postgres" mapstructure:"postgres"`
	Catalog       Catalog  `json:"catalog" yaml:"catalog" mapstructure:"catalog"`
}

type SQLite struct {
	Path string `json:"path" yaml:"path" mapstructure:"path"`
}

type Postgres struct {
	URL         string `json:"url" yaml:"url" mapstructure:"url"`
	Timescale   bool   `json:"timescale" yaml:"timescale" mapstructure:"timescale"`
	BatchSize   int    `json:"batchSize" yaml:"batchSize" mapstructure:"batchSize"`
	TablePrefix string `json:"tablePrefix" yaml:"tablePrefix" mapstructure:"tablePrefix"`
	SeriesCache int    `json:"seriesCache" yaml:"seriesCache" mapstructure:"seriesCache"`
}

type Catalog struct {
	Path string `json:"path" yaml:"path" mapstructure:"path"`
}

type Decipher struct {
	Input   string `json:"input" yaml:"input" mapstructure:"input"`
	Updates bool   `json:"updates" yaml:"updates" mapstructure:"updates"`
	NoColor bool   `json:"noColor" yaml:"noColor" mapstructure:"noColor"`
}

// ParseRewrites turns "from=to" flag values into rewrite pairs.
func ParseRewrites(values []string) ([]Rewrite, error) {
	rewrites := make([]Rewrite, 0, len(values))
	for _, v := range values {
		from, to, ok := strings.Cut(v, "=")
		if !ok || from == "" {
			return nil, fmt.Errorf("invalid rewrite %q, expected from=to", v)
		}
		rewrites = append(rewrites, Rewrite{From: from, To: to})
	}
	return rewrites, nil
}
