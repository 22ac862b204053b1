// Package migrations embeds the SQL migrations so the binary can create its
// schema without the source tree.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
