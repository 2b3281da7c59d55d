package main

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/shotbridge/internal/config"
)

// configureLogger creates a logger with the appropriate log level based on flags.
// --log-level takes precedence, then --verbose, then fallback (the settings
// file level for serve). An empty fallback keeps the logger silent.
func configureLogger(cmd *cobra.Command, fallback string) (*logrus.Logger, error) {
	logLevel := logrus.PanicLevel

	logLevelStr, _ := cmd.Flags().GetString("log-level")
	verbose, _ := cmd.Flags().GetBool("verbose")
	switch {
	case logLevelStr != "":
		level, err := config.ParseLevel(logLevelStr)
		if err != nil {
			return nil, fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", logLevelStr)
		}
		logLevel = level
	case verbose:
		logLevel = logrus.DebugLevel
	case fallback != "":
		level, err := config.ParseLevel(fallback)
		if err != nil {
			return nil, err
		}
		logLevel = level
	}

	logger := logrus.New()
	logger.SetLevel(logLevel)
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger, nil
}
