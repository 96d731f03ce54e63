package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/onera/studio/internal/logging"
)

type commandContext struct {
	logLevel *string
}

func (c *commandContext) logger(cmd *cobra.Command) *slog.Logger {
	level := "warn"
	if c.logLevel != nil && *c.logLevel != "" {
		level = *c.logLevel
	}
	return logging.New(cmd.ErrOrStderr(), level)
}

func newRootCommand() *cobra.Command {
	var logLevel string
	ctx := &commandContext{logLevel: &logLevel}

	rootCmd := &cobra.Command{
		Use:           "onera",
		Short:         "Onera timeline tools",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")

	rootCmd.AddCommand(newInspectCommand())
	rootCmd.AddCommand(newEditCommand())
	rootCmd.AddCommand(newExportCommand(ctx))
	rootCmd.AddCommand(newPreviewCommand(ctx))
	rootCmd.AddCommand(newPlayCommand())

	return rootCmd
}
