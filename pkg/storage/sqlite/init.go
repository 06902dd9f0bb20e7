// Package sqlite persists per-round aggregated metric history so a
// federation run's learning curve survives aggregator restarts.
package sqlite

import (
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	migrate "github.com/rubenv/sql-migrate"
)

var (
	ErrDBConnection = errors.New("database connection error")
	ErrDBQuery      = errors.New("database query error")
	ErrCreate       = errors.New("create error")
	ErrNotFound     = errors.New("not found")
)

type Database struct {
	*sqlx.DB
}

func NewDatabase(path string) (*Database, error) {
	db, err := sqlx.Connect("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDBConnection, err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)

	database := &Database{DB: db}

	if err := database.Migrate(); err != nil {
		return nil, err
	}

	return database, nil
}

func (db *Database) Migrate() error {
	migrations := &migrate.MemoryMigrationSource{
		Migrations: []*migrate.Migration{
			{
				Id: "1_create_round_metrics",
				Up: []string{
					`CREATE TABLE IF NOT EXISTS round_metrics (
						run_id TEXT NOT NULL,
						round INTEGER NOT NULL,
						loss REAL NOT NULL,
						metrics TEXT NOT NULL,
						created_at TIMESTAMP NOT NULL,
						PRIMARY KEY (run_id, round)
					)`,
					`CREATE INDEX IF NOT EXISTS idx_round_metrics_run ON round_metrics(run_id)`,
				},
				Down: []string{
					`DROP TABLE IF EXISTS round_metrics`,
				},
			},
		},
	}

	if _, err := migrate.Exec(db.DB.DB, "sqlite3", migrations, migrate.Up); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}
