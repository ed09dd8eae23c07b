package cli

import (
	"context"
	"errors"
	"io"

	"go.sockspy.io/sockspy/pkg/platform/recordlog"
	"go.sockspy.io/sockspy/utils"
	"go.uber.org/zap"
)

// openRecording opens a recording, compressed or not, for streaming.
func openRecording(logger *zap.Logger, path string) (*recordlog.Reader, io.Closer, error) {
	f, err := recordlog.Open(path)
	if err != nil {
		utils.LogError(logger, err, "failed to open the recording", zap.String("path", path))
		return nil, nil, err
	}
	return recordlog.NewReader(logger, f), f, nil
}

// finish turns a cancelled run into a clean exit and logs anything else.
func finish(logger *zap.Logger, err error, msg string) error {
	if err == nil || errors.Is(err, context.Canceled) {
		return nil
	}
	utils.LogError(logger, err, msg)
	return err
}
