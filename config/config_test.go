package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_Defaults(t *testing.T) {
	cfg := New()

	assert.Equal(t, ".", cfg.ConfigPath, "internal config overrides the default")
	assert.Equal(t, time.Second, cfg.Replay.DrainTimeout)
	assert.Equal(t, 1024, cfg.Replay.ReadSize)
	assert.Equal(t, 32, cfg.Ingest.QueueSize)
	assert.Equal(t, "log", cfg.Ingest.Sink)
	require.Len(t, cfg.Replay.Rewrites, 2)
	assert.Equal(t, Rewrite{From: "/opt/omd/sites/ll/var/check_mk/rrd", To: "/tmp/rrd"}, cfg.Replay.Rewrites[0])
	assert.Equal(t, Rewrite{From: "rrd 174", To: "rrd 205"}, cfg.Replay.Rewrites[1])
}

func TestMerge_OverridesScalars(t *testing.T) {
	merged, err := Merge("ingest:\n  sink: log\n  queueSize: 32\n", "ingest:\n  sink: sqlite\n")
	require.NoError(t, err)
	assert.Contains(t, merged, "sink: sqlite")
	assert.Contains(t, merged, "queueSize: 32")
}

func TestParseRewrites(t *testing.T) {
	got, err := ParseRewrites([]string{"rrd 174=rrd 205", "/a=/b"})
	require.NoError(t, err)
	assert.Equal(t, []Rewrite{{From: "rrd 174", To: "rrd 205"}, {From: "/a", To: "/b"}}, got)

	_, err = ParseRewrites([]string{"missing-separator"})
	assert.Error(t, err)
	_, err = ParseRewrites([]string{"=empty"})
	assert.Error(t, err)
}
