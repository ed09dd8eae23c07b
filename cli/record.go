package cli

import (
	"context"
	"errors"

	"github.com/spf13/cobra"
	"go.sockspy.io/sockspy/config"
	recordSvc "go.sockspy.io/sockspy/pkg/service/record"
	"go.sockspy.io/sockspy/utils"
	"go.uber.org/zap"
)

func init() {
	Register("record", Record)
}

func Record(ctx context.Context, logger *zap.Logger, _ *config.Config, serviceFactory ServiceFactory, cmdConfigurator CmdConfigurator) *cobra.Command {
	var cmd = &cobra.Command{
		Use:     "record",
		Short:   "move a service socket aside and record all traffic through it",
		Example: `sockspy record --socket /omd/sites/ll/tmp/run/rrdcached.sock --output record.jsonl`,
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			return cmdConfigurator.ValidateFlags(ctx, cmd)
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := serviceFactory.GetService(ctx, cmd.Name())
			if err != nil {
				utils.LogError(logger, err, "failed to get service")
				return err
			}
			record, ok := svc.(recordSvc.Service)
			if !ok {
				err := errors.New("service doesn't satisfy record service interface")
				utils.LogError(logger, err, "failed to start recording")
				return err
			}
			return finish(logger, record.Start(ctx), "failed to record")
		},
	}

	if err := cmdConfigurator.AddFlags(cmd); err != nil {
		utils.LogError(logger, err, "failed to add record flags")
		return nil
	}
	cmd.SilenceUsage = true
	cmd.SilenceErrors = true
	return cmd
}
