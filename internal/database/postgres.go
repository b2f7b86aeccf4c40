package database

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

type PgCollabRepository struct {
	conn *sql.DB
}

func NewPgCollabRepository(dsn string) (*PgCollabRepository, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}

	if err := db.Ping(); err != nil {
		return nil, err
	}

	repo := &PgCollabRepository{conn: db}
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return repo, nil
}

func (db *PgCollabRepository) migrate() error {
	driver, err := migratepg.WithInstance(db.conn, &migratepg.Config{})
	if err != nil {
		return err
	}

	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return err
	}

	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return err
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}

	return nil
}

func (db *PgCollabRepository) Ping() error {
	return db.conn.Ping()
}

func (db *PgCollabRepository) Close() error {
	if db.conn != nil {
		return db.conn.Close()
	}
	return nil
}
