// SPDX-License-Identifier: Apache-2.0

// Package vcs is the VCS Adapter (C1): it opens a version-control
// repository, enumerates branches, commits, and file diffs between two
// refs, and reads/writes the repository's config file. It is backed by
// go-git so that git-db never shells out to a `git` binary.
//
// git-db's "database branch" is an orphan branch: go-git has no
// `checkout --orphan` verb, so CheckoutOrphan builds one by hand — an
// empty tree object, a parentless commit pointing at it, and a new branch
// reference pointing at that commit — then checks it out like any other
// branch.
package vcs

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	rawconfig "github.com/go-git/go-git/v5/plumbing/format/config"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/utils/merkletrie"
)

// commitAuthor identifies git-db's commits; there is no interactive credential
// prompting for VCS operations, so this is a fixed, non-configurable
// identity.
var commitAuthor = object.Signature{
	Name:  "git-db",
	Email: "git-db@localhost",
}

// Repo wraps a go-git repository.
type Repo struct {
	repo *git.Repository
}

// Open opens an existing repository rooted at or above path.
func Open(path string) (*Repo, error) {
	repo, err := git.PlainOpenWithOptions(path, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return nil, fmt.Errorf("opening vcs repository: %w", err)
	}
	return &Repo{repo: repo}, nil
}

// Init creates a new repository rooted at path, for the `init` command's
// "initialize VCS repo if missing" step.
func Init(path string) (*Repo, error) {
	repo, err := git.PlainInit(path, false)
	if err != nil {
		return nil, fmt.Errorf("initializing vcs repository: %w", err)
	}
	return &Repo{repo: repo}, nil
}

// ActiveBranch returns the short name of the branch HEAD currently points
// at.
func (r *Repo) ActiveBranch() (string, error) {
	head, err := r.repo.Head()
	if err != nil {
		return "", fmt.Errorf("resolving HEAD: %w", err)
	}
	if !head.Name().IsBranch() {
		return "", fmt.Errorf("HEAD is not on a branch")
	}
	return head.Name().Short(), nil
}

// HasUncommittedChanges reports whether the working tree has any
// modified, added, or deleted entries relative to the index/HEAD.
func (r *Repo) HasUncommittedChanges() (bool, error) {
	wt, err := r.repo.Worktree()
	if err != nil {
		return false, fmt.Errorf("opening worktree: %w", err)
	}
	status, err := wt.Status()
	if err != nil {
		return false, fmt.Errorf("computing worktree status: %w", err)
	}
	return !status.IsClean(), nil
}

// BranchExists reports whether a local branch with the given name exists.
func (r *Repo) BranchExists(name string) (bool, error) {
	_, err := r.repo.Reference(plumbing.NewBranchReferenceName(name), true)
	if err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("resolving branch %q: %w", name, err)
	}
	return true, nil
}

// Checkout switches the working tree to an existing branch.
func (r *Repo) Checkout(name string) error {
	wt, err := r.repo.Worktree()
	if err != nil {
		return fmt.Errorf("opening worktree: %w", err)
	}
	if err := wt.Checkout(&git.CheckoutOptions{Branch: plumbing.NewBranchReferenceName(name)}); err != nil {
		return fmt.Errorf("checking out branch %q: %w", name, err)
	}
	return nil
}

// CheckoutOrphan creates a new branch with no history and no parent, and
// checks it out. The branch starts at an empty tree: the caller is
// expected to populate the working tree and commit via AddAllAndCommit.
func (r *Repo) CheckoutOrphan(name string) error {
	emptyTree, err := emptyTreeHash(r.repo)
	if err != nil {
		return fmt.Errorf("building empty tree for orphan branch %q: %w", name, err)
	}

	now := time.Now()
	sig := commitAuthor
	sig.When = now

	commit := &object.Commit{
		Author:    sig,
		Committer: sig,
		Message:   "git-db: initialize database branch",
		TreeHash:  emptyTree,
	}
	obj := r.repo.Storer.NewEncodedObject()
	obj.SetType(plumbing.CommitObject)
	if err := commit.Encode(obj); err != nil {
		return fmt.Errorf("encoding orphan root commit: %w", err)
	}
	commitHash, err := r.repo.Storer.SetEncodedObject(obj)
	if err != nil {
		return fmt.Errorf("writing orphan root commit: %w", err)
	}

	refName := plumbing.NewBranchReferenceName(name)
	ref := plumbing.NewHashReference(refName, commitHash)
	if err := r.repo.Storer.SetReference(ref); err != nil {
		return fmt.Errorf("creating branch %q: %w", name, err)
	}

	return r.Checkout(name)
}

func emptyTreeHash(repo *git.Repository) (plumbing.Hash, error) {
	tree := &object.Tree{}
	obj := repo.Storer.NewEncodedObject()
	obj.SetType(plumbing.TreeObject)
	if err := tree.Encode(obj); err != nil {
		return plumbing.ZeroHash, err
	}
	return repo.Storer.SetEncodedObject(obj)
}

// RemoveAllTracked deletes every file tracked at HEAD from the working
// tree's filesystem, without committing. It is the first half of a full
// re-materialization; the Materializer repopulates the tree afterward and
// calls AddAllAndCommit.
func (r *Repo) RemoveAllTracked() error {
	wt, err := r.repo.Worktree()
	if err != nil {
		return fmt.Errorf("opening worktree: %w", err)
	}

	head, err := r.repo.Head()
	if err != nil {
		return fmt.Errorf("resolving HEAD: %w", err)
	}
	commit, err := r.repo.CommitObject(head.Hash())
	if err != nil {
		return fmt.Errorf("resolving HEAD commit: %w", err)
	}
	tree, err := commit.Tree()
	if err != nil {
		return fmt.Errorf("resolving HEAD tree: %w", err)
	}

	walker := object.NewTreeWalker(tree, true, nil)
	defer walker.Close()

	for {
		name, entry, err := walker.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("walking HEAD tree: %w", err)
		}
		if !entry.Mode.IsFile() {
			continue
		}
		if err := wt.Filesystem.Remove(name); err != nil {
			return fmt.Errorf("removing tracked file %q: %w", name, err)
		}
	}

	return nil
}

// AddAllAndCommit stages every change in the working tree and commits it.
func (r *Repo) AddAllAndCommit(message string) error {
	wt, err := r.repo.Worktree()
	if err != nil {
		return fmt.Errorf("opening worktree: %w", err)
	}
	if _, err := wt.Add("."); err != nil {
		return fmt.Errorf("staging changes: %w", err)
	}

	sig := commitAuthor
	sig.When = time.Now()

	if _, err := wt.Commit(message, &git.CommitOptions{Author: &sig}); err != nil {
		return fmt.Errorf("committing %q: %w", message, err)
	}
	return nil
}

// CommitOf resolves ref (a branch name, tag, or commit-ish) to its commit
// hash.
func (r *Repo) CommitOf(ref string) (string, error) {
	hash, err := r.repo.ResolveRevision(plumbing.Revision(ref))
	if err != nil {
		return "", fmt.Errorf("resolving %q: %w", ref, err)
	}
	return hash.String(), nil
}

// ChangeKind mirrors the three kinds of file-level change the Patch
// Assembler cares about.
type ChangeKind string

const (
	Added    ChangeKind = "A"
	Modified ChangeKind = "M"
	Deleted  ChangeKind = "D"
)

// Change is one file-level difference between two refs.
type Change struct {
	Kind   ChangeKind
	PathA  string
	PathB  string
	BlobA  string
	BlobB  string
}

// Diff returns every file-level change between refA and refB, in the
// order go-git's tree differ produces them.
func (r *Repo) Diff(refA, refB string) ([]Change, error) {
	treeA, err := r.treeForRef(refA)
	if err != nil {
		return nil, err
	}
	treeB, err := r.treeForRef(refB)
	if err != nil {
		return nil, err
	}

	changes, err := treeA.Diff(treeB)
	if err != nil {
		return nil, fmt.Errorf("diffing %q against %q: %w", refA, refB, err)
	}

	result := make([]Change, 0, len(changes))
	for _, c := range changes {
		action, err := c.Action()
		if err != nil {
			return nil, fmt.Errorf("determining change action: %w", err)
		}

		var kind ChangeKind
		switch action {
		case merkletrie.Insert:
			kind = Added
		case merkletrie.Delete:
			kind = Deleted
		default:
			kind = Modified
		}

		from, to, err := c.Files()
		if err != nil {
			return nil, fmt.Errorf("reading changed files: %w", err)
		}

		// c.From.Name/c.To.Name are the full slash-separated paths from the
		// tree root; the File values from c.Files() carry only the base name.
		change := Change{Kind: kind}
		if from != nil {
			change.PathA = c.From.Name
			if content, err := from.Contents(); err == nil {
				change.BlobA = content
			}
		}
		if to != nil {
			change.PathB = c.To.Name
			if content, err := to.Contents(); err == nil {
				change.BlobB = content
			}
		}

		result = append(result, change)
	}

	return result, nil
}

func (r *Repo) treeForRef(ref string) (*object.Tree, error) {
	hash, err := r.repo.ResolveRevision(plumbing.Revision(ref))
	if err != nil {
		return nil, fmt.Errorf("resolving %q: %w", ref, err)
	}
	commit, err := r.repo.CommitObject(*hash)
	if err != nil {
		return nil, fmt.Errorf("resolving commit for %q: %w", ref, err)
	}
	return commit.Tree()
}

// ConfigGet reads key from section (optionally "section.subsection", in
// the style of the config keys documented for this tool), returning def
// if unset.
func (r *Repo) ConfigGet(section, key, def string) (string, error) {
	cfg, err := r.repo.Config()
	if err != nil {
		return "", fmt.Errorf("reading config: %w", err)
	}
	opts := resolveSection(cfg, section)
	if !sectionHasOption(opts, key) {
		return def, nil
	}
	return sectionOption(opts, key), nil
}

// ConfigHas reports whether key is set under section.
func (r *Repo) ConfigHas(section, key string) (bool, error) {
	cfg, err := r.repo.Config()
	if err != nil {
		return false, fmt.Errorf("reading config: %w", err)
	}
	return sectionHasOption(resolveSection(cfg, section), key), nil
}

// ConfigSet writes key=value under section and persists the config file.
func (r *Repo) ConfigSet(section, key, value string) error {
	cfg, err := r.repo.Config()
	if err != nil {
		return fmt.Errorf("reading config: %w", err)
	}
	setOption(resolveSection(cfg, section), key, value)
	if err := r.repo.Storer.SetConfig(cfg); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}

// resolveSection splits "section.subsection" (as used for
// "<prefix>.<name>" and "branch.<name>" keys) into a go-git config
// section/subsection pair, and returns a pointer to that section's option
// list so callers can read or mutate it in place. A section with no dot
// has no subsection.
func resolveSection(cfg *config.Config, section string) *rawconfig.Options {
	name, sub, hasSub := strings.Cut(section, ".")
	s := cfg.Raw.Section(name)
	if hasSub {
		return &s.Subsection(sub).Options
	}
	return &s.Options
}

func sectionHasOption(opts *rawconfig.Options, key string) bool {
	for _, o := range *opts {
		if strings.EqualFold(o.Key, key) {
			return true
		}
	}
	return false
}

func sectionOption(opts *rawconfig.Options, key string) string {
	for _, o := range *opts {
		if strings.EqualFold(o.Key, key) {
			return o.Value
		}
	}
	return ""
}

func setOption(opts *rawconfig.Options, key, value string) {
	for _, o := range *opts {
		if strings.EqualFold(o.Key, key) {
			o.Value = value
			return
		}
	}
	*opts = append(*opts, &rawconfig.Option{Key: key, Value: value})
}
