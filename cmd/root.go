// Package cmd defines and implements the CLI commands for the archiver
// executable.
package cmd

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/linkvault/archiver/internal/logging"
)

var cfgFile string

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "archiver",
		Short: "A pipeline for durably archiving web content.",
		Long: `archiver pulls URLs from a configured feed, captures their content
through a chain of fetchers, enriches the result, and persists both the
media and a rendered summary to one or more storage backends. Every item's
lifecycle is tracked in the configured state stores, which double as a
cache so already-archived URLs are not fetched twice.`,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./archiver.yaml)")

	cmd.AddCommand(newArchiveCmd())

	return cmd
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		logger, lerr := logging.New(logging.Config{Development: true})
		if lerr != nil {
			panic(err)
		}
		logger.Fatal("command execution failed", zap.Error(err))
	}
}
