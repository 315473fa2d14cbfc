// SPDX-License-Identifier: Apache-2.0

package sqlcheck_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/git-db/git-db/pkg/sqlcheck"
)

func TestValidateTableDump(t *testing.T) {
	tests := map[string]struct {
		ddl         string
		schema      string
		table       string
		expectedErr bool
	}{
		"matching create table": {
			ddl:    "CREATE TABLE public.widgets (id int, name text);",
			schema: "public",
			table:  "widgets",
		},
		"matching create table amongst other statements": {
			ddl: `SET search_path = public;
CREATE TABLE public.widgets (id int);
ALTER TABLE public.widgets OWNER TO postgres;`,
			schema: "public",
			table:  "widgets",
		},
		"wrong table name": {
			ddl:         "CREATE TABLE public.widgets (id int);",
			schema:      "public",
			table:       "gadgets",
			expectedErr: true,
		},
		"no create table statement": {
			ddl:         "ALTER TABLE public.widgets OWNER TO postgres;",
			schema:      "public",
			table:       "widgets",
			expectedErr: true,
		},
		"unparseable ddl": {
			ddl:         "CREATE TALBE public.widgets (id int);",
			schema:      "public",
			table:       "widgets",
			expectedErr: true,
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			err := sqlcheck.ValidateTableDump(tt.ddl, tt.schema, tt.table)
			if tt.expectedErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
		})
	}
}
