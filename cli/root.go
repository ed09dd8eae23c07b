package cli

import (
	"context"
	"sort"

	"github.com/spf13/cobra"
	"go.sockspy.io/sockspy/cli/provider"
	"go.sockspy.io/sockspy/config"
	"go.sockspy.io/sockspy/utils"
	"go.uber.org/zap"
)

func Root(ctx context.Context, logger *zap.Logger, conf *config.Config, svcFactory ServiceFactory, cmdConfigurator CmdConfigurator) *cobra.Command {
	var rootCmd = &cobra.Command{
		Use:     "sockspy",
		Short:   "Record, inspect and replay traffic on a Unix domain socket",
		Example: provider.RootExamples,
		Version: utils.Version,
	}

	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.SetHelpTemplate(provider.RootCustomHelpTemplate)
	rootCmd.SetVersionTemplate(provider.VersionTemplate)

	if err := cmdConfigurator.AddFlags(rootCmd); err != nil {
		utils.LogError(logger, err, "failed to set the root flags")
		return nil
	}

	names := make([]string, 0, len(Registered))
	for name := range Registered {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		rootCmd.AddCommand(Registered[name](ctx, logger, conf, svcFactory, cmdConfigurator))
	}
	return rootCmd
}
