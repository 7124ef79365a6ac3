// Package migrations embeds the SQL schema for the MySQL prompt journal.
package migrations

import "embed"

// Files 暴露所有 SQL 迁移文件。
//
//go:embed *.sql
var Files embed.FS
