package migration

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	billingeventdomain "github.com/smallbiznis/classifieds/internal/billingevent/domain"
	listingdomain "github.com/smallbiznis/classifieds/internal/listing/domain"
	subscriptiondomain "github.com/smallbiznis/classifieds/internal/subscription/domain"
	"gorm.io/gorm"
)

const migrationsDir = "sql"

//go:embed sql/*.sql
var embeddedMigrations embed.FS

// Models lists every table the service owns, for dialects without SQL migrations.
func Models() []any {
	return []any{
		&subscriptiondomain.Subscription{},
		&billingeventdomain.EventRecord{},
		&listingdomain.Listing{},
		&listingdomain.Image{},
	}
}

// Run brings the schema up to date and reports the resulting schema version.
// Postgres gets the versioned SQL files; mysql and sqlite use AutoMigrate and
// report version 0.
func Run(conn *gorm.DB, dbType string) (uint, error) {
	switch strings.ToLower(strings.TrimSpace(dbType)) {
	case "", "postgres", "postgresql":
		sqlDB, err := conn.DB()
		if err != nil {
			return 0, err
		}
		return upPostgres(sqlDB)
	default:
		if err := conn.AutoMigrate(Models()...); err != nil {
			return 0, fmt.Errorf("auto migrate: %w", err)
		}
		return 0, nil
	}
}

func upPostgres(db *sql.DB) (uint, error) {
	if db == nil {
		return 0, errors.New("migration: nil database handle")
	}

	files, err := fs.Sub(embeddedMigrations, migrationsDir)
	if err != nil {
		return 0, fmt.Errorf("migration: embedded files: %w", err)
	}
	src, err := iofs.New(files, ".")
	if err != nil {
		return 0, fmt.Errorf("migration: source: %w", err)
	}
	target, err := postgres.WithInstance(db, &postgres.Config{MigrationsTable: "classifieds_schema_migrations"})
	if err != nil {
		return 0, fmt.Errorf("migration: postgres driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "postgres", target)
	if err != nil {
		return 0, fmt.Errorf("migration: %w", err)
	}
	// m.Close is not called; it would close the pool the app shares.

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return 0, fmt.Errorf("migration: up: %w", err)
	}
	version, dirty, err := m.Version()
	if err != nil {
		return 0, fmt.Errorf("migration: version: %w", err)
	}
	if dirty {
		return version, fmt.Errorf("migration: version %d is dirty", version)
	}
	return version, nil
}
