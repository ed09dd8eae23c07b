package utils

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime/debug"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var Version = "dev"

// ErrCode is the process exit code, set by commands that fail.
var ErrCode = 0

// LogError logs err unless it only reports that the context was cancelled.
func LogError(logger *zap.Logger, err error, msg string, fields ...zap.Field) {
	if logger == nil {
		return
	}
	if errors.Is(err, context.Canceled) {
		return
	}
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	logger.Error(msg, fields...)
}

func CheckFileExists(path string) bool {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return false
	}
	return true
}

// HandlePanic is deferred in main so that a crash still leaves a trace in the log file.
func HandlePanic(logger *zap.Logger) {
	if r := recover(); r != nil {
		if logger == nil {
			fmt.Fprintf(os.Stderr, "recovered from: %v\n%s\n", r, debug.Stack())
			return
		}
		logger.Error("recovered from panic", zap.Any("panic", r), zap.String("stack", string(debug.Stack())))
		ErrCode = 1
	}
}

// BindFlagsToViper binds every flag of the command to viper, keyed by its
// camelCase name, prefixed with the config section when one is given.
func BindFlagsToViper(logger *zap.Logger, cmd *cobra.Command, viperKeyPrefix string) error {
	var bindErr error
	cmd.Flags().VisitAll(func(flag *pflag.Flag) {
		key := flag.Name
		if viperKeyPrefix != "" {
			key = viperKeyPrefix + "." + flag.Name
		}
		if err := viper.BindPFlag(key, flag); err != nil {
			LogError(logger, err, "failed to bind flag to config", zap.String("flag", flag.Name))
			bindErr = err
		}
	})
	return bindErr
}

// WritePidFile records the current pid so external tooling can signal the recorder.
func WritePidFile(path string) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}
	return os.WriteFile(path, []byte(fmt.Sprintf("%d", os.Getpid())), 0o644)
}

func RemovePidFile(logger *zap.Logger, path string) {
	if strings.TrimSpace(path) == "" {
		return
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		LogError(logger, err, "failed to remove pid file", zap.String("pidfile", path))
	}
}
