// Package migrations embeds the goose migrations of the projects schema.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
