// Package main provides the remigrate CLI.
//
// remigrate applies a directory of numbered Postgres migration files in
// order, one transaction per file, after rewriting them so that re-running
// an already applied file is a no-op.
//
// Usage:
//
//	remigrate [flags] <command>
//
// Commands that touch the database (apply, verify) need --db or a database
// section in remigrate.yaml / REMIGRATE_DATABASE_* variables. Commands that
// only work with files (fix, restore, list) do not.
package main

import (
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/lib/pq"
)

func main() {
	Execute()
}
