package migrations

import "embed"

// FS: схема Postgres, файлы применяются по порядку имён.
//
//go:embed *.sql
var FS embed.FS
