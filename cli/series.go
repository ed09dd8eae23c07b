package cli

import (
	"context"
	"errors"
	"os"

	"github.com/spf13/cobra"
	"go.sockspy.io/sockspy/config"
	"go.sockspy.io/sockspy/pkg/service/series"
	"go.sockspy.io/sockspy/utils"
	"go.uber.org/zap"
)

func init() {
	Register("series", Series)
}

func Series(ctx context.Context, logger *zap.Logger, conf *config.Config, serviceFactory ServiceFactory, cmdConfigurator CmdConfigurator) *cobra.Command {
	var cmd = &cobra.Command{
		Use:     "series",
		Short:   "list the distinct series updated in a recording",
		Example: `sockspy series --input record.jsonl`,
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			return cmdConfigurator.ValidateFlags(ctx, cmd)
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := serviceFactory.GetService(ctx, cmd.Name())
			if err != nil {
				utils.LogError(logger, err, "failed to get service")
				return err
			}
			reporter, ok := svc.(*series.Reporter)
			if !ok {
				return errors.New("service doesn't satisfy series service interface")
			}

			reader, closer, err := openRecording(logger, conf.Ingest.Input)
			if err != nil {
				return err
			}
			defer closer.Close()

			_, err = reporter.Run(ctx, reader, os.Stdout)
			return finish(logger, err, "failed to list series")
		},
	}

	if err := cmdConfigurator.AddFlags(cmd); err != nil {
		utils.LogError(logger, err, "failed to add series flags")
		return nil
	}
	cmd.SilenceUsage = true
	cmd.SilenceErrors = true
	return cmd
}
