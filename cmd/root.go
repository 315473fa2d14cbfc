// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/git-db/git-db/cmd/flags"
	"github.com/git-db/git-db/internal/gitdbconfig"
	"github.com/git-db/git-db/pkg/vcs"
)

// Version is the git-db version, recorded into every ledger this binary
// bootstraps.
var Version = "development"

func init() {
	viper.SetEnvPrefix("GITDB")
	viper.AutomaticEnv()

	flags.RepoFlags(rootCmd)
}

var rootCmd = &cobra.Command{
	Use:          "git-db",
	Short:        "Track Postgres schema and query changes as a version-controlled repository",
	SilenceUsage: true,
	Version:      Version,
}

// Execute runs the root command.
func Execute() error {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(databaseCmd())
	rootCmd.AddCommand(remoteCmd())
	rootCmd.AddCommand(patchCmd())
	rootCmd.AddCommand(queryCmd())

	return rootCmd.Execute()
}

// openRepo opens the git-db working tree rooted at flags.RepoDir,
// returning errNotInitialized if no VCS repository exists there yet.
func openRepo() (*vcs.Repo, error) {
	repo, err := vcs.Open(flags.RepoDir())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errNotInitialized, err)
	}
	return repo, nil
}

// activeBranchAndGlobal is a small convenience shared by most commands:
// the currently checked out branch and the parsed `git-db` global config.
func activeBranchAndGlobal(repo *vcs.Repo) (string, gitdbconfig.Global, error) {
	branch, err := repo.ActiveBranch()
	if err != nil {
		return "", gitdbconfig.Global{}, errNoActiveBranch
	}
	global, err := gitdbconfig.ReadGlobal(repo)
	if err != nil {
		return "", gitdbconfig.Global{}, err
	}
	return branch, global, nil
}
