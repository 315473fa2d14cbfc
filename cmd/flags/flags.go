// SPDX-License-Identifier: Apache-2.0

package flags

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// RepoDir returns the working tree root git-db operates against.
func RepoDir() string {
	return viper.GetString("REPO_DIR")
}

// Overwrite returns the `--overwrite` value for `patch create`.
func Overwrite() bool {
	return viper.GetBool("OVERWRITE")
}

// Yes returns the `--yes` value, which skips the `patch apply` confirmation
// prompt.
func Yes() bool {
	return viper.GetBool("YES")
}

// RepoFlags registers the persistent `--repo` flag every command accepts.
func RepoFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().String("repo", ".", "path to the git-db working tree")
	viper.BindPFlag("REPO_DIR", cmd.PersistentFlags().Lookup("repo"))
}
