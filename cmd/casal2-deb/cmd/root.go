package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/casal2/casal2-deb/internal/logger"
	"github.com/casal2/casal2-deb/internal/service/assembler"
	"github.com/casal2/casal2-deb/internal/version"
)

var (
	// configPath to the configuration file; empty means casal2-deb.yaml in the work dir or built-in defaults.
	configPath string
	// workDir is the root every configured path is relative to.
	workDir string
	// skipBuild skips the platform build step.
	skipBuild bool
	// logLevel is applied to the global logger before any command runs.
	logLevel string

	// rootCmd assembles the Casal2 Debian package.
	rootCmd = &cobra.Command{
		Use:   "casal2-deb [skip-building]",
		Short: "Assemble the Casal2 Debian package",
		Long: `Builds the Casal2 archive (unless skipped), reads the version from the latest
git commit, lays out bin/linux/deb/Casal2 with binaries, libraries and
documentation, writes DEBIAN/control and runs dpkg-deb --build on the tree.

The optional skip-building argument accepts true or false and is equivalent
to --skip-build.`,
		Args:              cobra.MaximumNArgs(1),
		SilenceUsage:      true,
		PersistentPreRunE: applyLogLevel,
		RunE: func(cmd *cobra.Command, args []string) error {
			skip, err := resolveSkipBuild(cmd, args)
			if err != nil {
				return err
			}

			// Setup graceful shutdown handling.
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			options := &assembler.Options{
				SkipBuild:  skip,
				WorkDir:    workDir,
				ConfigPath: configPath,
			}

			if _, err = assembler.Run(ctx, options); err != nil {
				logger.ErrorKV(ctx, "Packaging failed", "error", err)
				return err
			}

			return nil
		},
	}
)

// Execute runs the casal2-deb CLI and exits with non-zero status on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to configuration file (YAML or TOML)")
	rootCmd.PersistentFlags().StringVarP(&workDir, "work-dir", "C", ".", "working root all configured paths are relative to")
	rootCmd.PersistentFlags().StringVarP(&logLevel, "log-level", "l", "info", "log level: debug, info, warn or error")
	rootCmd.Flags().BoolVar(&skipBuild, "skip-build", false, "skip building the Casal2 archive")

	rootCmd.AddCommand(newDescribeCommand(), newConfigCommand())
	version.AttachCobraVersionCommand(rootCmd)
}

// applyLogLevel sets the global log level from --log-level.
func applyLogLevel(_ *cobra.Command, _ []string) error {
	level, ok := logger.ParseLogLevel(logLevel)
	if !ok {
		return fmt.Errorf("unknown log level %q", logLevel)
	}

	logger.SetLevel(level)

	return nil
}

// resolveSkipBuild merges the positional argument with --skip-build.
func resolveSkipBuild(cmd *cobra.Command, args []string) (bool, error) {
	if len(args) == 0 {
		return skipBuild, nil
	}

	skip, err := strconv.ParseBool(args[0])
	if err != nil {
		return false, fmt.Errorf("skip-building must be true or false, got %q", args[0])
	}

	if cmd.Flags().Changed("skip-build") && skip != skipBuild {
		return false, fmt.Errorf("skip-building argument %q contradicts --skip-build=%t", args[0], skipBuild)
	}

	return skip, nil
}
