// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/git-db/git-db/cmd/flags"
	"github.com/git-db/git-db/internal/gitdbconfig"
	"github.com/git-db/git-db/internal/log"
	"github.com/git-db/git-db/pkg/vcs"
)

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize the VCS repository and write the default git-db config keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			sp := log.StartSpinner("Initializing git-db...")

			repo, err := vcs.Open(flags.RepoDir())
			if err != nil {
				repo, err = vcs.Init(flags.RepoDir())
				if err != nil {
					sp.Fail(fmt.Sprintf("Failed to initialize VCS repository: %s", err))
					return err
				}
			}

			if err := gitdbconfig.InitDefaults(repo); err != nil {
				sp.Fail(fmt.Sprintf("Failed to write default config: %s", err))
				return err
			}

			sp.Success("Initialization complete")
			return nil
		},
	}
}
