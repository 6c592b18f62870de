// Package main applies database migrations.
//
// Usage: migrate [-command up|down|status|version]
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"

	"github.com/relaydev/syncd/internal/config"
	"github.com/relaydev/syncd/internal/migrate"
	"github.com/relaydev/syncd/pkg/logger"
)

func main() {
	command := flag.String("command", "up", "migration command: up, down, status, version")
	flag.Parse()

	_ = godotenv.Load(".env")
	_ = godotenv.Overload(".env.local")

	log := logger.NewLogger()
	cfg, err := config.NewConfig(log)
	if err != nil {
		log.Error("failed to load configuration", logger.Error(err))
		os.Exit(1)
	}

	sqldb, err := sql.Open("pgx", cfg.Database.DSN())
	if err != nil {
		log.Error("failed to open database", logger.Error(err))
		os.Exit(1)
	}
	db := bun.NewDB(sqldb, pgdialect.New())
	defer db.Close()

	migrator := migrate.NewMigrator(db, log)
	ctx := context.Background()

	switch *command {
	case "up":
		err = migrator.Up(ctx)
	case "down":
		err = migrator.Down(ctx)
	case "status":
		err = migrator.Status(ctx)
	case "version":
		var version int64
		if version, err = migrator.Version(ctx); err == nil {
			fmt.Printf("database version: %d\n", version)
		}
	default:
		log.Error("unknown command", slog.String("command", *command))
		os.Exit(1)
	}
	if err != nil {
		log.Error("migration command failed", logger.Error(err))
		os.Exit(1)
	}
}
