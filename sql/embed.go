// Package sql carries the embedded goose migrations.
package sql

import "embed"

//go:embed *.sql
var FS embed.FS
