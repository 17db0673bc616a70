package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"skyvault.org/internal/migrate"
	"skyvault.org/internal/obs"
)

func main() {
	logger := obs.Logger()

	dsn := flag.String("dsn", os.Getenv("SKYVAULT_PG_DSN"), "PostgreSQL DSN")
	migrationsDir := flag.String("migrations", "ops/migrations/sql", "directory with .up.sql/.down.sql files")
	seedsDir := flag.String("seeds", "ops/migrations/seeds", "directory with seed .sql files")
	flag.Parse()

	if *dsn == "" {
		logger.Fatal("a DSN is required (flag -dsn or SKYVAULT_PG_DSN)")
	}

	cmd := flag.Arg(0)
	if cmd == "" {
		cmd = "up"
	}

	db, err := sql.Open("pgx", *dsn)
	if err != nil {
		logger.Fatalf("open database: %v", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		logger.Fatalf("ping database: %v", err)
	}

	mgr := migrate.NewManager(db, *migrationsDir, *seedsDir)

	switch cmd {
	case "up":
		if err := mgr.Up(ctx); err != nil {
			logger.Fatalf("migrate up: %v", err)
		}
		logger.Println("migrations applied")
	case "down":
		if err := mgr.Down(ctx); err != nil {
			logger.Fatalf("migrate down: %v", err)
		}
		logger.Println("last migration rolled back")
	case "seed":
		if err := mgr.Seed(ctx); err != nil {
			logger.Fatalf("seed: %v", err)
		}
		logger.Println("seeds applied")
	case "status":
		applied, err := mgr.Status(ctx)
		if err != nil {
			logger.Fatalf("status: %v", err)
		}
		if len(applied) == 0 {
			fmt.Println("no migrations applied")
			return
		}
		for _, name := range applied {
			fmt.Println(name)
		}
	default:
		logger.Fatalf("unknown command %q (want up, down, seed or status)", cmd)
	}
}
