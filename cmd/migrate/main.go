// Command migrate applies the goose migrations in migrations/.
//
// DATABASE_URL must point at the target Postgres instance. The first
// argument is the goose command (up, down, status, version, redo,
// up-to N, down-to N); remaining arguments are passed through.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"

	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"
)

const migrationsDir = "migrations"

func usage() {
	fmt.Fprintln(os.Stderr, "usage: migrate <command> [args]")
	fmt.Fprintln(os.Stderr, "commands: up, down, status, version, redo, up-to <version>, down-to <version>")
	os.Exit(2)
}

func main() {
	if len(os.Args) < 2 {
		usage()
	}

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		log.Fatal("DATABASE_URL is required")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer func() { _ = db.Close() }()

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		log.Fatalf("connect to database: %v", err)
	}

	if err := goose.RunContext(ctx, os.Args[1], db, migrationsDir, os.Args[2:]...); err != nil {
		log.Fatalf("migration %s: %v", os.Args[1], err)
	}
}
