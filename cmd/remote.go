// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/git-db/git-db/internal/gitdbconfig"
	"github.com/git-db/git-db/internal/log"
)

func remoteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "remote",
		Short: "Manage which database the active branch tracks",
	}
	cmd.AddCommand(remoteAddCmd())
	return cmd
}

func remoteAddCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "add <name>",
		Short: "Track a registered database on the currently checked out branch",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := openRepo()
			if err != nil {
				return err
			}

			branch, global, err := activeBranchAndGlobal(repo)
			if err != nil {
				return err
			}

			exists, err := gitdbconfig.RemoteExists(repo, global.ConfigSectionPrefix, args[0])
			if err != nil {
				return err
			}
			if !exists {
				return fmt.Errorf("database %q is not registered, run 'git-db database add' first", args[0])
			}

			if err := gitdbconfig.WriteBranchDatabase(repo, branch, args[0]); err != nil {
				return err
			}

			log.Info(fmt.Sprintf("Branch %q now tracks database %q", branch, args[0]))
			return nil
		},
	}
}
