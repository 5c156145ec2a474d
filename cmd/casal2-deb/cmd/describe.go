package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/casal2/casal2-deb/internal/service/assembler"
)

func newDescribeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "describe",
		Short: "Print the commit, version and control manifest the next package would get",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			desc, err := assembler.Describe(cmd.Context(), &assembler.Options{
				WorkDir:    workDir,
				ConfigPath: configPath,
			})
			if err != nil {
				return err
			}

			_, err = fmt.Fprint(cmd.OutOrStdout(), desc.String())

			return err
		},
	}
}
