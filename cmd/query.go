// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/git-db/git-db/cmd/flags"
	"github.com/git-db/git-db/internal/gitdbconfig"
	"github.com/git-db/git-db/internal/log"
	"github.com/git-db/git-db/pkg/ledger"
	"github.com/git-db/git-db/pkg/patch"
	"github.com/git-db/git-db/pkg/pgdb"
)

func queryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "query <database>",
		Short: "Create a new ad-hoc query file and register it in the database's ledger",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			dbName := args[0]

			repo, err := openRepo()
			if err != nil {
				return err
			}
			branch, global, err := activeBranchAndGlobal(repo)
			if err != nil {
				return err
			}

			remoteName, err := patch.ResolveTrackedDatabase(repo, branch, global)
			if err != nil {
				return err
			}
			remote, err := gitdbconfig.ReadRemote(repo, global.ConfigSectionPrefix, remoteName)
			if err != nil {
				return err
			}

			filename := renderQueryName(global.QueryName, branch)
			relPath := filepath.Join(dbName, "queries", filename)
			fullPath := filepath.Join(flags.RepoDir(), relPath)

			if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
				return err
			}
			if err := os.WriteFile(fullPath, []byte("-- "+relPath+"\n"), 0o644); err != nil {
				return err
			}

			conn, err := pgdb.Connect(ctx, remote.URL, remote.Port, remote.User, remote.Password, dbName)
			if err != nil {
				return fmt.Errorf("connecting to database %q to register query: %w", dbName, err)
			}
			defer conn.Close()

			l := ledger.New(conn.DB, Version)
			if err := l.Init(ctx); err != nil {
				return fmt.Errorf("bootstrapping ledger for database %q: %w", dbName, err)
			}

			namespace := filepath.Dir(relPath)
			if err := l.RegisterQuery(ctx, filepath.Base(relPath), namespace, relPath); err != nil {
				return err
			}

			if err := repo.AddAllAndCommit("git-db: new query " + relPath); err != nil {
				return err
			}

			log.Info(fmt.Sprintf("Created %s", relPath))
			return nil
		},
	}
	cmd.AddCommand(queryListCmd())
	return cmd
}

// renderQueryName expands the `{branch}` and `{timestamp}` wildcards in the
// `query_name` config template.
func renderQueryName(template, branch string) string {
	name := strings.ReplaceAll(template, "{branch}", strings.ReplaceAll(branch, "/", "_"))
	name = strings.ReplaceAll(name, "{timestamp}", strconv.FormatInt(time.Now().Unix(), 10))
	return name
}

func queryListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List every query registered across managed databases",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			repo, err := openRepo()
			if err != nil {
				return err
			}
			branch, global, err := activeBranchAndGlobal(repo)
			if err != nil {
				return err
			}
			remoteName, err := patch.ResolveTrackedDatabase(repo, branch, global)
			if err != nil {
				return err
			}
			remote, err := gitdbconfig.ReadRemote(repo, global.ConfigSectionPrefix, remoteName)
			if err != nil {
				return err
			}

			dbs, err := managedDatabases(flags.RepoDir())
			if err != nil {
				return err
			}

			rows := [][]string{{"Database", "Query", "Applied"}}
			for _, db := range dbs {
				conn, err := pgdb.Connect(ctx, remote.URL, remote.Port, remote.User, remote.Password, db)
				if err != nil {
					log.Warn(fmt.Sprintf("could not connect to database %q: %s", db, err))
					continue
				}
				queries, err := ledger.New(conn.DB, Version).ListQueries(ctx)
				conn.Close()
				if err != nil {
					log.Warn(fmt.Sprintf("could not read ledger for database %q: %s", db, err))
					continue
				}
				for _, q := range queries {
					rows = append(rows, []string{db, q.Path, strconv.FormatBool(q.Applied)})
				}
			}

			return pterm.DefaultTable.WithHasHeader().WithData(rows).Render()
		},
	}
}
