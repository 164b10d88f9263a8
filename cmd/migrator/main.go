package main

import (
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
	"github.com/linemk/naijahub/internal/config"
)

const migrationsTable = "naijahub_migrations"

func main() {
	var (
		migrationsPathFlag string
		down               bool
	)
	flag.StringVar(&migrationsPathFlag, "migrations-path", "", "path to migration files")
	flag.BoolVar(&down, "down", false, "roll back the latest migration instead of applying")
	// флаги разбирает config.MustLoad
	cfg := config.MustLoad()

	migrationsPath := cfg.Migrations.Path
	if migrationsPathFlag != "" {
		migrationsPath = migrationsPathFlag
	}

	if cfg.Database.Password == "" {
		log.Fatal("DB_PASSWORD environment variable is required")
	}

	log.Printf("migrating %s@%s:%d/%s from %s", cfg.Database.User, cfg.Database.Host, cfg.Database.Port, cfg.Database.Name, migrationsPath)

	m, err := migrate.New("file://"+migrationsPath, cfg.Database.MigrateDSN(migrationsTable))
	if err != nil {
		log.Fatalf("failed to create migrate instance: %v", err)
	}
	defer m.Close()

	if down {
		err = m.Steps(-1)
	} else {
		err = m.Up()
	}
	switch {
	case errors.Is(err, migrate.ErrNoChange):
		fmt.Println("No migrations to apply")
	case err != nil:
		log.Fatalf("migration failed: %v", err)
	default:
		log.Println("Migrations applied successfully")
	}

	db, err := sql.Open("postgres", cfg.Database.DSN())
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	// все таблицы, с которыми работают сервисы, должны быть под row level security
	rows, err := db.Query(`
		SELECT tablename, rowsecurity
		FROM pg_tables
		WHERE schemaname = 'public' AND tablename <> $1
		ORDER BY tablename
	`, migrationsTable)
	if err != nil {
		log.Fatalf("failed to list tables: %v", err)
	}
	defer rows.Close()

	fmt.Println("Tables (row level security):")
	for rows.Next() {
		var (
			table string
			rls   bool
		)
		if err := rows.Scan(&table, &rls); err != nil {
			log.Fatalf("failed to scan table row: %v", err)
		}
		state := "on"
		if !rls {
			state = "OFF"
		}
		fmt.Printf(" - %-36s %s\n", table, state)
	}
	if err := rows.Err(); err != nil {
		log.Fatalf("failed to read tables: %v", err)
	}
}
