// Package schema holds the idempotent table definitions of the stores and
// applies them at startup.
package schema

import "embed"

// PostgresFS embeds the PostgreSQL table definitions.
//
//go:embed postgres/*.sql
var PostgresFS embed.FS

// ClickhouseFS embeds the ClickHouse table definitions.
//
//go:embed clickhouse/*.sql
var ClickhouseFS embed.FS
