// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/git-db/git-db/cmd/flags"
	"github.com/git-db/git-db/internal/gitdbconfig"
	"github.com/git-db/git-db/internal/log"
	"github.com/git-db/git-db/internal/pqerr"
	"github.com/git-db/git-db/pkg/apply"
	"github.com/git-db/git-db/pkg/ledger"
	"github.com/git-db/git-db/pkg/patch"
	"github.com/git-db/git-db/pkg/pgdb"
)

func patchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "patch",
		Short: "Assemble and apply patch bundles",
	}
	cmd.AddCommand(patchCreateCmd())
	cmd.AddCommand(patchApplyCmd())
	cmd.AddCommand(patchStatusCmd())
	return cmd
}

// managedDatabases lists the top-level database directories on the
// checked-out branch, excluding the patches/ directory itself.
func managedDatabases(repoDir string) ([]string, error) {
	entries, err := os.ReadDir(repoDir)
	if err != nil {
		return nil, fmt.Errorf("listing managed databases: %w", err)
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() || e.Name() == "patches" || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

func patchCreateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create [name]",
		Short: "Assemble a patch bundle from the active branch's changes",
		Args:  cobra.MaximumNArgs(1),
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

			if dirty, err := repo.HasUncommittedChanges(); err != nil {
				return err
			} else if dirty {
				if err := repo.AddAllAndCommit("git-db: staged changes for patch"); err != nil {
					return err
				}
			}

			remoteName, err := patch.ResolveTrackedDatabase(repo, branch, global)
			if err != nil {
				return err
			}
			remote, err := gitdbconfig.ReadRemote(repo, global.ConfigSectionPrefix, remoteName)
			if err != nil {
				return err
			}

			branchCfg, err := gitdbconfig.ReadBranch(repo, branch)
			if err != nil {
				return err
			}
			patchTarget := branchCfg.BaseCommit
			if patchTarget == "" {
				patchTarget = global.DatabaseBranchPrefix + "/" + remoteName
			}

			dbs, err := managedDatabases(flags.RepoDir())
			if err != nil {
				return err
			}

			ledgers := make(map[string]*ledger.Ledger, len(dbs))
			var conns []*pgdb.Conn
			defer func() {
				for _, c := range conns {
					c.Close()
				}
			}()

			for _, db := range dbs {
				conn, err := pgdb.Connect(ctx, remote.URL, remote.Port, remote.User, remote.Password, db)
				if err != nil {
					log.Warn(fmt.Sprintf("could not connect to database %q to read its ledger: %s", db, err))
					continue
				}
				conns = append(conns, conn)

				l := ledger.New(conn.DB, Version)
				if err := l.Init(ctx); err != nil {
					log.Warn(fmt.Sprintf("could not bootstrap ledger for database %q, skipping query folding: %s", db, err))
					continue
				}
				ledgers[db] = l
			}

			sp := log.StartSpinner("Assembling patch...")

			result, err := patch.Assemble(ctx, repo, repo, flags.RepoDir(), patchTarget, branch, branch, flags.Overwrite(), dbs, ledgers)
			if err != nil {
				if err == patch.ErrNothingToPatch {
					sp.Success("Nothing to patch")
					return nil
				}
				sp.Fail(fmt.Sprintf("Failed to assemble patch: %s", err))
				return err
			}

			if tip, err := repo.CommitOf(branch); err == nil {
				_ = gitdbconfig.WriteBranchBaseCommit(repo, branch, tip)
			}

			sp.Success(fmt.Sprintf("Assembled %s: %s", result.Name, strings.Join(result.Databases, ", ")))
			return nil
		},
	}
	cmd.Flags().Bool("overwrite", false, "reuse the current patch number, replacing its directory")
	viper.BindPFlag("OVERWRITE", cmd.Flags().Lookup("overwrite"))
	return cmd
}

func patchApplyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "apply [remote] [patch]",
		Short: "Apply a patch bundle to its remote",
		Args:  cobra.MaximumNArgs(2),
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

			remoteName := ""
			if len(args) > 0 {
				remoteName = args[0]
			} else {
				remoteName, err = patch.ResolveTrackedDatabase(repo, branch, global)
				if err != nil {
					return err
				}
			}
			remote, err := gitdbconfig.ReadRemote(repo, global.ConfigSectionPrefix, remoteName)
			if err != nil {
				return err
			}

			patchName := ""
			if len(args) > 1 {
				patchName = args[1]
			} else {
				patchName, err = latestPatchName(flags.RepoDir())
				if err != nil {
					return err
				}
			}

			if !flags.Yes() {
				confirmed, _ := pterm.DefaultInteractiveConfirm.
					WithDefaultText(fmt.Sprintf("Apply %s to %q?", patchName, remoteName)).
					Show()
				if !confirmed {
					// UserAbort: a declined confirmation is not a failure,
					// so this exits 0 rather than propagating errUserAbort.
					log.Info(errUserAbort.Error())
					return nil
				}
			}

			patchDir := filepath.Join(flags.RepoDir(), "patches", patchName)

			outcomes, err := apply.Apply(ctx, patchDir, flags.RepoDir(), remote, patchName, Version)
			if err != nil {
				return err
			}

			failed := 0
			for _, o := range outcomes {
				if o.Err != nil {
					failed++
					log.Warn(fmt.Sprintf("%s: %s", o.Database, pqerr.Describe(o.Err)))
					continue
				}
				log.Info(fmt.Sprintf("%s: applied", o.Database))
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d databases failed to apply %s", failed, len(outcomes), patchName)
			}
			return nil
		},
	}
	cmd.Flags().Bool("yes", false, "skip the confirmation prompt")
	viper.BindPFlag("YES", cmd.Flags().Lookup("yes"))
	return cmd
}

func patchStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "List every patch recorded in each managed database's ledger",
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

			rows := [][]string{{"Database", "Patch", "Applied"}}
			for _, db := range dbs {
				conn, err := pgdb.Connect(ctx, remote.URL, remote.Port, remote.User, remote.Password, db)
				if err != nil {
					log.Warn(fmt.Sprintf("could not connect to database %q: %s", db, err))
					continue
				}
				patches, err := ledger.New(conn.DB, Version).ListPatches(ctx)
				conn.Close()
				if err != nil {
					log.Warn(fmt.Sprintf("could not read ledger for database %q: %s", db, err))
					continue
				}
				for _, p := range patches {
					rows = append(rows, []string{db, p.Name, strconv.FormatBool(p.Applied)})
				}
			}

			return pterm.DefaultTable.WithHasHeader().WithData(rows).Render()
		},
	}
}

// latestPatchName returns the highest-numbered patch_<N> directory under
// patches/.
func latestPatchName(repoDir string) (string, error) {
	entries, err := os.ReadDir(filepath.Join(repoDir, "patches"))
	if err != nil {
		return "", fmt.Errorf("listing patches directory: %w", err)
	}

	best := -1
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), "patch_") {
			continue
		}
		n, err := strconv.Atoi(strings.TrimPrefix(e.Name(), "patch_"))
		if err != nil {
			continue
		}
		if n > best {
			best = n
		}
	}
	if best < 0 {
		return "", fmt.Errorf("no patches found under %q", filepath.Join(repoDir, "patches"))
	}
	return fmt.Sprintf("patch_%d", best), nil
}
