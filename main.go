package main

import (
	"fmt"
	"os"

	"go.sockspy.io/sockspy/cli"
	"go.sockspy.io/sockspy/cli/provider"
	"go.sockspy.io/sockspy/config"
	"go.sockspy.io/sockspy/utils"
	"go.sockspy.io/sockspy/utils/log"
)

// version is injected during build by ldflags.
var version string

func main() {
	setVersion()
	start()
	os.Exit(utils.ErrCode)
}

func setVersion() {
	if version == "" {
		version = "1-dev"
	}
	utils.Version = version
}

func start() {
	ctx := utils.NewCtx()
	logger, closer, err := log.New(log.LogFileName)
	if err != nil {
		fmt.Println("Failed to start the logger for the CLI", err)
		utils.ErrCode = 1
		return
	}
	defer func() {
		_ = logger.Sync()
		if err := closer.Close(); err != nil {
			fmt.Println("Failed to close the log file", err)
		}
	}()
	defer utils.HandlePanic(logger)

	conf := config.New()
	svcProvider := provider.NewServiceProvider(logger, conf)
	cmdConfigurator := provider.NewCmdConfigurator(logger, conf)
	rootCmd := cli.Root(ctx, logger, conf, svcProvider, cmdConfigurator)
	if rootCmd == nil {
		utils.ErrCode = 1
		return
	}
	if err := rootCmd.Execute(); err != nil {
		utils.ErrCode = 1
	}
}
