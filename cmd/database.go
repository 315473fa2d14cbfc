// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/git-db/git-db/cmd/flags"
	"github.com/git-db/git-db/internal/gitdbconfig"
	"github.com/git-db/git-db/internal/log"
	"github.com/git-db/git-db/pkg/materialize"
	"github.com/git-db/git-db/pkg/pgdb"
)

func databaseCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "database",
		Short: "Register and inspect remote Postgres servers",
	}
	cmd.AddCommand(databaseAddCmd())
	cmd.AddCommand(databaseCheckCmd())
	cmd.AddCommand(databasePullCmd())
	return cmd
}

func databaseAddCmd() *cobra.Command {
	var asDefault bool

	cmd := &cobra.Command{
		Use:   "add <name> <host[:port]> [user] [password]",
		Short: "Register a remote server in the git-db config",
		Args:  cobra.RangeArgs(2, 4),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := openRepo()
			if err != nil {
				return err
			}

			global, err := gitdbconfig.ReadGlobal(repo)
			if err != nil {
				return err
			}

			name := args[0]
			host, port := splitHostPort(args[1])

			remote := gitdbconfig.Remote{Name: name, URL: host, Port: port}
			if len(args) > 2 {
				remote.User = args[2]
			}
			if len(args) > 3 {
				remote.Password = args[3]
			}

			if err := gitdbconfig.WriteRemote(repo, global.ConfigSectionPrefix, remote); err != nil {
				return err
			}

			if asDefault {
				if err := gitdbconfig.WriteGlobalDefaultDatabase(repo, name); err != nil {
					return err
				}
			}

			log.Info(fmt.Sprintf("Registered remote %q (%s:%s)", name, remote.URL, remote.Port))
			return nil
		},
	}
	cmd.Flags().BoolVar(&asDefault, "default", false, "make this the default database for untracked branches")
	return cmd
}

func splitHostPort(hostPort string) (host, port string) {
	if h, p, ok := strings.Cut(hostPort, ":"); ok {
		return h, p
	}
	return hostPort, "5432"
}

func databaseCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check <name>",
		Short: "Connect to a registered remote and report its server version",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := openRepo()
			if err != nil {
				return err
			}

			global, err := gitdbconfig.ReadGlobal(repo)
			if err != nil {
				return err
			}
			remote, err := gitdbconfig.ReadRemote(repo, global.ConfigSectionPrefix, args[0])
			if err != nil {
				return err
			}

			sp := log.StartSpinner(fmt.Sprintf("Connecting to %q...", args[0]))

			conn, err := pgdb.Connect(cmd.Context(), remote.URL, remote.Port, remote.User, remote.Password, "")
			if err != nil {
				sp.Fail(fmt.Sprintf("Connection failed: %s", err))
				return err
			}
			defer conn.Close()

			var version string
			if err := conn.DB.QueryRowContext(cmd.Context(), "SELECT version()").Scan(&version); err != nil {
				sp.Fail(fmt.Sprintf("Failed to query server version: %s", err))
				return err
			}

			sp.Success(fmt.Sprintf("Connected: %s", version))
			return nil
		},
	}
}

func databasePullCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pull <name>",
		Short: "Materialize a remote's current schema into the working tree",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := openRepo()
			if err != nil {
				return err
			}

			global, err := gitdbconfig.ReadGlobal(repo)
			if err != nil {
				return err
			}
			remote, err := gitdbconfig.ReadRemote(repo, global.ConfigSectionPrefix, args[0])
			if err != nil {
				return err
			}

			sp := log.StartSpinner(fmt.Sprintf("Pulling %q...", args[0]))

			summary, err := materialize.Materialize(cmd.Context(), repo, flags.RepoDir(), global.DatabaseBranchPrefix, remote)
			if err != nil {
				sp.Fail(fmt.Sprintf("Materialization failed: %s", err))
				return err
			}

			if tip, err := repo.CommitOf(summary.BranchName); err == nil {
				_ = gitdbconfig.WriteBranchBaseCommit(repo, summary.BranchName, tip)
			}

			if !summary.Committed {
				sp.Success(fmt.Sprintf("%q is already up to date (%d databases)", args[0], len(summary.Databases)))
				return nil
			}
			sp.Success(fmt.Sprintf("Pulled %q: %d databases onto branch %q", args[0], len(summary.Databases), summary.BranchName))
			return nil
		},
	}
}
