// Package migrations holds the goose SQL migrations, one directory per dialect.
package migrations

import "embed"

// FS contains sql/<dialect>/*.sql.
//
//go:embed sql
var FS embed.FS
