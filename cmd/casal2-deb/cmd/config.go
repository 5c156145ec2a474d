package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/casal2/casal2-deb/internal/config"
)

var errConfigExists = errors.New("configuration file already exists")

func newConfigCommand() *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the casal2-deb configuration file",
	}

	var force bool

	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write the built-in configuration to a file",
		Long: `Writes the built-in layout, commands and asset list to --config, or to
casal2-deb.yaml in the work dir. A .toml extension selects TOML.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := configPath
			if path == "" {
				path = filepath.Join(workDir, config.DefaultConfigFilename)
			}

			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%w: %s (use --force to overwrite)", errConfigExists, path)
			}

			if err := config.Save(path, config.Default()); err != nil {
				return err
			}

			_, err := fmt.Fprintln(cmd.OutOrStdout(), path)

			return err
		},
	}
	initCmd.Flags().BoolVarP(&force, "force", "f", false, "overwrite an existing file")

	configCmd.AddCommand(initCmd)

	return configCmd
}
