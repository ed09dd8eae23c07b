package log

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Module names used with logger.Named.
const (
	ModuleRecord = "record"
	ModuleProxy  = "proxy"
	ModuleSocket = "socket"
	ModuleDecode = "decode"
	ModuleReplay = "replay"
	ModuleIngest = "ingest"
	ModuleSink   = "sink"
)

// ForModule returns a named logger. When debugModules is not empty, debug
// entries are only kept for the listed modules.
func ForModule(base *zap.Logger, module string, debugModules []string) *zap.Logger {
	named := base.Named(module)
	if len(debugModules) == 0 {
		return named
	}
	for _, m := range debugModules {
		if m == module {
			return named
		}
	}
	return named.WithOptions(zap.WrapCore(func(core zapcore.Core) zapcore.Core {
		return &levelFilterCore{Core: core, minLevel: zapcore.InfoLevel}
	}))
}

// levelFilterCore drops entries below minLevel.
type levelFilterCore struct {
	zapcore.Core
	minLevel zapcore.Level
}

func (c *levelFilterCore) Enabled(l zapcore.Level) bool {
	return l >= c.minLevel && c.Core.Enabled(l)
}

func (c *levelFilterCore) Check(entry zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(entry.Level) {
		return c.Core.Check(entry, ce)
	}
	return ce
}

func (c *levelFilterCore) With(fields []zapcore.Field) zapcore.Core {
	return &levelFilterCore{Core: c.Core.With(fields), minLevel: c.minLevel}
}
