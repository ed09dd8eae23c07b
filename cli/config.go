package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.sockspy.io/sockspy/config"
	"go.sockspy.io/sockspy/utils"
	"go.uber.org/zap"
)

func init() {
	Register("config", Config)
}

// ConfigFileName is the configuration file looked up in --configPath.
const ConfigFileName = "sockspy.yaml"

func Config(ctx context.Context, logger *zap.Logger, _ *config.Config, _ ServiceFactory, cmdConfigurator CmdConfigurator) *cobra.Command {
	var cmd = &cobra.Command{
		Use:     "config",
		Short:   "manage the sockspy configuration file",
		Example: "sockspy config --generate --path /path/to/localdir",
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			return cmdConfigurator.ValidateFlags(ctx, cmd)
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			isGenerate, err := cmd.Flags().GetBool("generate")
			if err != nil {
				utils.LogError(logger, err, "failed to get generate flag")
				return err
			}
			if !isGenerate {
				return cmd.Help()
			}
			path, err := cmd.Flags().GetString("path")
			if err != nil {
				utils.LogError(logger, err, "failed to get path flag")
				return err
			}
			target := filepath.Join(path, ConfigFileName)
			if utils.CheckFileExists(target) {
				return fmt.Errorf("%s already exists", target)
			}
			if err := os.WriteFile(target, []byte(config.GetDefaultConfig()), 0o644); err != nil {
				utils.LogError(logger, err, "failed to write the config file")
				return err
			}
			logger.Info("generated the config file", zap.String("path", target))
			return nil
		},
	}

	if err := cmdConfigurator.AddFlags(cmd); err != nil {
		utils.LogError(logger, err, "failed to add config flags")
		return nil
	}
	cmd.SilenceUsage = true
	cmd.SilenceErrors = true
	return cmd
}
