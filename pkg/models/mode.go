package models

import "go.uber.org/zap/zapcore"

// Sink names accepted by the ingest command.
const (
	SinkSQLite   = "sqlite"
	SinkPostgres = "postgres"
	SinkCatalog  = "catalog"
	SinkLog      = "log"
)

// UpdateKeyword is the command prefix of the only structurally parsed command.
const UpdateKeyword = "UPDATE"

// UndefinedValue is the token the protocol uses for a missing sample.
const UndefinedValue = "U"

// OriginalSuffix is appended to the real service socket while it is relocated.
const OriginalSuffix = ".original"

// VerbosityLevel maps the -v count onto a log level.
func VerbosityLevel(verbose int) zapcore.Level {
	if verbose > 0 {
		return zapcore.DebugLevel
	}
	return zapcore.InfoLevel
}
