// Package migrations embeds the goose SQL migrations run by the migrate command.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
