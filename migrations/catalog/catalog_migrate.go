package catalog

import (
	"database/sql"
	"fmt"
	"log"

	"gomarketplace_sync/migrations/infrastructure"
	"gomarketplace_sync/pkg/dbconnect/migration"
)

// All lists the migrations of the catalog store in the order they must run.
func All() []migration.MigrationInterface {
	return []migration.MigrationInterface{
		&infrastructure.MigrationsSchema{},
		&CreateCatalogSchema{},
		&CreateItemsTable{},
		&CreateItemsRemoteIndex{},
		&CreateMetadataTable{},
	}
}

type CreateCatalogSchema struct{}

func (m *CreateCatalogSchema) UpMigration(db *sql.DB) error {
	_, err := db.Exec(`CREATE SCHEMA IF NOT EXISTS catalog;`)
	if err != nil {
		return fmt.Errorf("failed to create schema catalog: %w", err)
	}
	return nil
}

type CreateItemsTable struct{}

func (m *CreateItemsTable) UpMigration(db *sql.DB) error {
	if ok, err := checkAndSkipMigration(db, "catalog.items"); err != nil {
		return err
	} else if ok {
		return nil
	}
	query := `
	CREATE TABLE IF NOT EXISTS catalog.items (
		sku VARCHAR(255) PRIMARY KEY,
		status VARCHAR(32) NOT NULL DEFAULT 'AVAILABLE',
		title TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		brand VARCHAR(255) NOT NULL DEFAULT '',
		model VARCHAR(255) NOT NULL DEFAULT '',
		material VARCHAR(255) NOT NULL DEFAULT '',
		condition VARCHAR(255) NOT NULL DEFAULT '',
		color VARCHAR(255) NOT NULL DEFAULT '',
		size VARCHAR(255) NOT NULL DEFAULT '',
		dimensions TEXT NOT NULL DEFAULT '',
		category VARCHAR(255) NOT NULL DEFAULT '',
		gender VARCHAR(64) NOT NULL DEFAULT '',
		country VARCHAR(255) NOT NULL DEFAULT '',
		price NUMERIC(14, 2),
		sale_price NUMERIC(14, 2),
		compare_at_price NUMERIC(14, 2),
		wholesale_price NUMERIC(14, 2),
		quantity INT NOT NULL DEFAULT 0,
		images TEXT[] NOT NULL DEFAULT '{}',
		cost NUMERIC(14, 2),
		notes TEXT NOT NULL DEFAULT '',
		remote_id VARCHAR(64),
		published_at TIMESTAMP,
		last_error TEXT NOT NULL DEFAULT '',
		updated_at TIMESTAMP NOT NULL DEFAULT current_timestamp,
		CONSTRAINT items_images_max CHECK (cardinality(images) <= 9),
		CONSTRAINT items_remote_status CHECK (
			(remote_id IS NOT NULL) = (status IN ('PUBLISHED', 'UPDATED', 'UPDATE_FAILED'))
		)
	);`
	if err := executeAndMarkMigration(db, query, "catalog.items"); err != nil {
		return err
	}
	log.Println("Migration 'catalog.items' completed successfully.")
	return nil
}

type CreateItemsRemoteIndex struct{}

func (m *CreateItemsRemoteIndex) UpMigration(db *sql.DB) error {
	if ok, err := checkAndSkipMigration(db, "catalog.items_remote_id_idx"); err != nil {
		return err
	} else if ok {
		return nil
	}
	query := `
	CREATE UNIQUE INDEX IF NOT EXISTS items_remote_id_idx
		ON catalog.items(remote_id) WHERE remote_id IS NOT NULL;`
	if err := executeAndMarkMigration(db, query, "catalog.items_remote_id_idx"); err != nil {
		return err
	}
	log.Println("Migration 'catalog.items_remote_id_idx' completed successfully.")
	return nil
}

type CreateMetadataTable struct{}

func (m *CreateMetadataTable) UpMigration(db *sql.DB) error {
	if ok, err := checkAndSkipMigration(db, "catalog.metadata"); err != nil {
		return err
	} else if ok {
		return nil
	}
	query := `
	CREATE TABLE IF NOT EXISTS catalog.metadata (
		id SERIAL PRIMARY KEY,
		key_name VARCHAR(255) UNIQUE NOT NULL,
		value TEXT,
		last_update TIMESTAMP
	);`
	if err := executeAndMarkMigration(db, query, "catalog.metadata"); err != nil {
		return err
	}
	log.Println("Migration 'catalog.metadata' completed successfully.")
	return nil
}

func checkAndSkipMigration(db *sql.DB, migrationName string) (bool, error) {
	var migrationExists bool
	err := db.QueryRow("SELECT EXISTS (SELECT 1 FROM migrations.migrations WHERE name = $1)", migrationName).Scan(&migrationExists)
	if err != nil {
		return migrationExists, fmt.Errorf("failed to check migration status: %w", err)
	}
	if migrationExists {
		log.Printf("Migration '%s' already completed. Skipping.\n", migrationName)
	}
	return migrationExists, nil
}

func executeAndMarkMigration(db *sql.DB, query string, migrationName string) error {
	_, err := db.Exec(query)
	if err != nil {
		return fmt.Errorf("failed to execute migration '%s': %w", migrationName, err)
	}
	_, err = db.Exec("INSERT INTO migrations.migrations (name, time) VALUES ($1, current_timestamp)", migrationName)
	if err != nil {
		return fmt.Errorf("failed to mark migration '%s' as complete: %w", migrationName, err)
	}
	return nil
}
