// Package migrations holds the schema as ordered NNNN_name.{up,down}.sql
// files, compiled into the binary.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
