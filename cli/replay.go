package cli

import (
	"context"
	"errors"

	"github.com/spf13/cobra"
	"go.sockspy.io/sockspy/config"
	replaySvc "go.sockspy.io/sockspy/pkg/service/replay"
	"go.sockspy.io/sockspy/utils"
	"go.uber.org/zap"
)

func init() {
	Register("replay", Replay)
}

func Replay(ctx context.Context, logger *zap.Logger, conf *config.Config, serviceFactory ServiceFactory, cmdConfigurator CmdConfigurator) *cobra.Command {
	var cmd = &cobra.Command{
		Use:     "replay",
		Short:   "re-send recorded client traffic to a live service socket",
		Example: `sockspy replay --socket /tmp/rrdcached.sock --input record.jsonl --rewrite "rrd 174=rrd 205"`,
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			return cmdConfigurator.ValidateFlags(ctx, cmd)
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := serviceFactory.GetService(ctx, cmd.Name())
			if err != nil {
				utils.LogError(logger, err, "failed to get service")
				return err
			}
			replay, ok := svc.(replaySvc.Service)
			if !ok {
				err := errors.New("service doesn't satisfy replay service interface")
				utils.LogError(logger, err, "failed to start replay")
				return err
			}

			reader, closer, err := openRecording(logger, conf.Replay.Input)
			if err != nil {
				return err
			}
			defer closer.Close()

			stats, err := replay.Run(ctx, reader)
			if reader.Skipped() > 0 {
				logger.Warn("skipped malformed records", zap.Int("count", reader.Skipped()))
			}
			logger.Info("replay summary", zap.Int("lines", stats.Lines), zap.Int64("bytes", stats.BytesSent), zap.Int("nonAscii", stats.NonASCII))
			return finish(logger, err, "failed to replay")
		},
	}

	if err := cmdConfigurator.AddFlags(cmd); err != nil {
		utils.LogError(logger, err, "failed to add replay flags")
		return nil
	}
	cmd.SilenceUsage = true
	cmd.SilenceErrors = true
	return cmd
}
