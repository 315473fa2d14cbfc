// SPDX-License-Identifier: Apache-2.0

// Package connstr builds Postgres connection strings for the DB Adapter
// from the discrete host/port/user/password/database fields that git-db's
// config stores.
package connstr

import (
	"fmt"
	"net/url"
)

// Build assembles a `postgres://` DSN from discrete connection fields.
// database may be empty, in which case the server's default database is
// used (required for autocommit operations like CREATE DATABASE).
func Build(host, port, user, password, database string) string {
	u := url.URL{
		Scheme: "postgres",
		Host:   fmt.Sprintf("%s:%s", host, port),
	}
	if user != "" {
		u.User = url.UserPassword(user, password)
	}
	if database != "" {
		u.Path = "/" + database
	}

	q := u.Query()
	q.Set("sslmode", "disable")
	u.RawQuery = q.Encode()

	return u.String()
}
