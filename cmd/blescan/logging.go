package main

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/blescan/pkg/config"
)

// loadSettings loads the --config file (defaults when unset) and builds the logger.
// --log-level takes precedence over the file. With neither set, logging is
// silenced so that only command output reaches the terminal.
func loadSettings(cmd *cobra.Command) (*config.Config, *logrus.Logger, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, err
	}

	levelFlag, _ := cmd.Flags().GetString("log-level")
	if levelFlag != "" {
		if _, err := logrus.ParseLevel(levelFlag); err != nil {
			return nil, nil, fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", levelFlag)
		}
		cfg.LogLevel = levelFlag
	}

	logger := cfg.NewLogger()
	logger.SetOutput(cmd.ErrOrStderr())
	if levelFlag == "" && path == "" {
		logger.SetLevel(logrus.PanicLevel)
	}
	return cfg, logger, nil
}
