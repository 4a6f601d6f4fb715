package main

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Onset-lab/nii2dcm/internal/config"
	"github.com/Onset-lab/nii2dcm/internal/logging"
)

func newRoot(version string) *cobra.Command {
	var logCloser io.Closer

	cmd := &cobra.Command{
		Use:           "nii2dcm",
		Short:         "Convert NIfTI volumes into DICOM series",
		Long:          "nii2dcm converts 3D and 4D NIfTI-1 volumes into DICOM series (MR, CT or Secondary Capture).",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			settings, err := logSettings(cmd)
			if err != nil {
				return err
			}
			level, err := logging.ParseLevel(settings.Level)
			if err != nil {
				return err
			}
			w, closer := logging.Output(cmd.ErrOrStderr(), logging.FileOptions{
				Path:       settings.File,
				MaxSizeMB:  settings.MaxSizeMB,
				MaxAgeDays: settings.MaxAgeDays,
				MaxBackups: settings.MaxBackups,
			})
			logCloser = closer
			slog.SetDefault(logging.Logger(w, settings.JSON, level))
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if logCloser != nil {
				return logCloser.Close()
			}
			return nil
		},
		Run: func(cmd *cobra.Command, args []string) {
			printCommandTree(cmd.OutOrStdout(), cmd, 0)
		},
	}
	cmd.AddCommand(
		newConvertCmd(),
		newInspectCmd(),
		newModalitiesCmd(),
		newTagsCmd(),
		newVersionCmd(version),
	)

	pf := cmd.PersistentFlags()
	pf.String("log-level", "info", "Log level (debug, info, warn, error)")
	pf.Bool("log-json", false, "Log as JSON")
	pf.String("log-file", "", "Also log to this file, rotated by size")
	return cmd
}

// logSettings returns the log section of --config, for commands that take
// one, with the log flags the user set applied over it.
func logSettings(cmd *cobra.Command) (config.LogConfig, error) {
	f := cmd.Flags()
	cfg := config.Default()
	if path, err := f.GetString("config"); err == nil && path != "" {
		if cfg, err = config.Load(path); err != nil {
			return config.LogConfig{}, err
		}
	}

	settings := cfg.Log
	if f.Changed("log-level") || settings.Level == "" {
		settings.Level, _ = f.GetString("log-level")
	}
	if f.Changed("log-json") {
		settings.JSON, _ = f.GetBool("log-json")
	}
	if f.Changed("log-file") {
		settings.File, _ = f.GetString("log-file")
	}
	if settings.MaxSizeMB <= 0 {
		settings.MaxSizeMB = config.Default().Log.MaxSizeMB
	}
	return settings, nil
}

func printCommandTree(w io.Writer, cmd *cobra.Command, indent int) {
	fmt.Fprintln(w, strings.Repeat("  ", indent)+cmd.Name()+": "+cmd.Short)
	for _, sub := range cmd.Commands() {
		if sub.IsAvailableCommand() {
			printCommandTree(w, sub, indent+1)
		}
	}
}

func newVersionCmd(version string) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "nii2dcm %s\n", version)
		},
	}
}
