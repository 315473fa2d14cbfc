// SPDX-License-Identifier: Apache-2.0

// Package gitdbconfig layers git-db's documented config-key conventions
// (spec.md §6.2) on top of the VCS Adapter's generic section/key reader
// and writer, so the rest of the tool never has to know the section
// naming scheme.
package gitdbconfig

import "fmt"

// configReaderWriter is the subset of *vcs.Repo this package depends on.
type configReaderWriter interface {
	ConfigGet(section, key, def string) (string, error)
	ConfigSet(section, key, value string) error
	ConfigHas(section, key string) (bool, error)
}

const globalSection = "git-db"

// Global holds the options stored under the `git-db` section.
type Global struct {
	ConfigSectionPrefix  string
	DatabaseBranchPrefix string
	Database             string
	DefaultDatabase      string
	StoreMigrations      bool
	IgnoreDB             string
	IgnoreSchema         string
	QueryName            string
}

const (
	defaultConfigSectionPrefix  = "database"
	defaultDatabaseBranchPrefix = "database"
	defaultQueryName            = "{branch}/{timestamp}.sql"
)

// ReadGlobal reads the `git-db` section, applying the documented
// defaults for anything unset.
func ReadGlobal(c configReaderWriter) (Global, error) {
	var g Global
	var err error

	if g.ConfigSectionPrefix, err = c.ConfigGet(globalSection, "configsectionprefix", defaultConfigSectionPrefix); err != nil {
		return Global{}, err
	}
	if g.DatabaseBranchPrefix, err = c.ConfigGet(globalSection, "databasebranchprefix", defaultDatabaseBranchPrefix); err != nil {
		return Global{}, err
	}
	if g.Database, err = c.ConfigGet(globalSection, "database", ""); err != nil {
		return Global{}, err
	}
	if g.DefaultDatabase, err = c.ConfigGet(globalSection, "defaultdatabase", ""); err != nil {
		return Global{}, err
	}
	storeMigrations, err := c.ConfigGet(globalSection, "storemigrations", "true")
	if err != nil {
		return Global{}, err
	}
	g.StoreMigrations = storeMigrations == "true"

	// ignoredb/ignoreschema are two distinct, literal keys. The source
	// this tool was distilled from read the ignore_schema value back out
	// under the key 'ignoredb' — almost certainly a copy-paste bug, not
	// an intentional alias. git-db does not reproduce that: each key
	// means exactly what its name says, and there is no 'ignore_schema'
	// alias for 'ignoreschema'.
	if g.IgnoreDB, err = c.ConfigGet(globalSection, "ignoredb", ""); err != nil {
		return Global{}, err
	}
	if g.IgnoreSchema, err = c.ConfigGet(globalSection, "ignoreschema", ""); err != nil {
		return Global{}, err
	}
	if g.QueryName, err = c.ConfigGet(globalSection, "query_name", defaultQueryName); err != nil {
		return Global{}, err
	}

	return g, nil
}

// WriteGlobalDefaultDatabase sets the `git-db.defaultdatabase` key, used by
// `database add --default` and by branches with no explicit tracking
// target.
func WriteGlobalDefaultDatabase(c configReaderWriter, name string) error {
	return c.ConfigSet(globalSection, "defaultdatabase", name)
}

// InitDefaults writes the `git-db` section keys that have a non-empty
// default (configsectionprefix, databasebranchprefix, storemigrations,
// query_name), so a freshly initialized repository has an explicit,
// inspectable config for them. The keys whose default is empty (database,
// defaultdatabase, ignoredb, ignoreschema) are not written.
func InitDefaults(c configReaderWriter) error {
	defaults := map[string]string{
		"configsectionprefix":  defaultConfigSectionPrefix,
		"databasebranchprefix": defaultDatabaseBranchPrefix,
		"storemigrations":      "true",
		"query_name":           defaultQueryName,
	}
	for key, value := range defaults {
		if err := c.ConfigSet(globalSection, key, value); err != nil {
			return fmt.Errorf("writing default git-db.%s: %w", key, err)
		}
	}
	return nil
}

// Remote holds one remote's connection config, stored under
// `<prefix>.<name>`.
type Remote struct {
	Name     string
	URL      string
	Port     string
	User     string
	Password string
}

// ReadRemote reads the connection config for a remote registered under
// section prefix.
func ReadRemote(c configReaderWriter, prefix, name string) (Remote, error) {
	section := prefix + "." + name

	url, err := c.ConfigGet(section, "url", "")
	if err != nil {
		return Remote{}, err
	}
	if url == "" {
		return Remote{}, fmt.Errorf("remote %q is not registered", name)
	}
	port, err := c.ConfigGet(section, "port", "5432")
	if err != nil {
		return Remote{}, err
	}
	user, err := c.ConfigGet(section, "user", "")
	if err != nil {
		return Remote{}, err
	}
	password, err := c.ConfigGet(section, "password", "")
	if err != nil {
		return Remote{}, err
	}

	return Remote{Name: name, URL: url, Port: port, User: user, Password: password}, nil
}

// WriteRemote persists a remote's connection config.
func WriteRemote(c configReaderWriter, prefix string, r Remote) error {
	section := prefix + "." + r.Name
	if err := c.ConfigSet(section, "url", r.URL); err != nil {
		return err
	}
	if err := c.ConfigSet(section, "port", r.Port); err != nil {
		return err
	}
	if err := c.ConfigSet(section, "user", r.User); err != nil {
		return err
	}
	return c.ConfigSet(section, "password", r.Password)
}

// RemoteExists reports whether a remote is registered under section
// prefix.
func RemoteExists(c configReaderWriter, prefix, name string) (bool, error) {
	return c.ConfigHas(prefix+"."+name, "url")
}

// Branch holds one branch's patch-tracking config, stored under
// `branch.<name>`.
type Branch struct {
	Name       string
	Database   string
	Numbering  string
	Current    int
	BaseCommit string
}

// ReadBranch reads the tracking config for the named branch.
func ReadBranch(c configReaderWriter, name string) (Branch, error) {
	section := "branch." + name

	database, err := c.ConfigGet(section, "database", "")
	if err != nil {
		return Branch{}, err
	}
	numbering, err := c.ConfigGet(section, "numbering", "simple")
	if err != nil {
		return Branch{}, err
	}
	currentStr, err := c.ConfigGet(section, "current", "0")
	if err != nil {
		return Branch{}, err
	}
	baseCommit, err := c.ConfigGet(section, "basecommit", "")
	if err != nil {
		return Branch{}, err
	}

	var current int
	if _, err := fmt.Sscanf(currentStr, "%d", &current); err != nil {
		return Branch{}, fmt.Errorf("parsing branch.%s.current %q: %w", name, currentStr, err)
	}

	return Branch{Name: name, Database: database, Numbering: numbering, Current: current, BaseCommit: baseCommit}, nil
}

// WriteBranchDatabase sets the database a branch tracks.
func WriteBranchDatabase(c configReaderWriter, name, database string) error {
	return c.ConfigSet("branch."+name, "database", database)
}

// WriteBranchCurrent sets a branch's current patch number.
func WriteBranchCurrent(c configReaderWriter, name string, current int) error {
	return c.ConfigSet("branch."+name, "current", fmt.Sprintf("%d", current))
}

// WriteBranchBaseCommit records the commit a branch's next `patch create`
// should diff forward from — the boundary left by the last successful
// `database pull` or `patch create` on this branch.
func WriteBranchBaseCommit(c configReaderWriter, name, commit string) error {
	return c.ConfigSet("branch."+name, "basecommit", commit)
}
