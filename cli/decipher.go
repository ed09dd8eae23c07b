package cli

import (
	"context"
	"errors"

	"github.com/spf13/cobra"
	"go.sockspy.io/sockspy/config"
	"go.sockspy.io/sockspy/pkg/service/decipher"
	"go.sockspy.io/sockspy/utils"
	"go.uber.org/zap"
)

func init() {
	Register("decipher", Decipher)
}

func Decipher(ctx context.Context, logger *zap.Logger, conf *config.Config, serviceFactory ServiceFactory, cmdConfigurator CmdConfigurator) *cobra.Command {
	var cmd = &cobra.Command{
		Use:     "decipher",
		Short:   "print a recording as text lines per connection",
		Example: `sockspy decipher --input record.jsonl --updates`,
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			return cmdConfigurator.ValidateFlags(ctx, cmd)
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := serviceFactory.GetService(ctx, cmd.Name())
			if err != nil {
				utils.LogError(logger, err, "failed to get service")
				return err
			}
			printer, ok := svc.(*decipher.Printer)
			if !ok {
				return errors.New("service doesn't satisfy decipher service interface")
			}

			reader, closer, err := openRecording(logger, conf.Decipher.Input)
			if err != nil {
				return err
			}
			defer closer.Close()

			stats, err := printer.Run(ctx, reader)
			logger.Debug("decipher summary", zap.Int("records", stats.Records), zap.Int("lines", stats.Lines), zap.Int("updates", stats.Updates))
			return finish(logger, err, "failed to decipher")
		},
	}

	if err := cmdConfigurator.AddFlags(cmd); err != nil {
		utils.LogError(logger, err, "failed to add decipher flags")
		return nil
	}
	cmd.SilenceUsage = true
	cmd.SilenceErrors = true
	return cmd
}
