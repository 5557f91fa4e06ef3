package database

import (
	"database/sql"
	"time"

	_ "github.com/lib/pq"

	"github.com/AnshRaj112/medconsult-backend/pkg/logger"
)

var PostgresDB *sql.DB

// ConnectPostgres connects to the identity database and makes sure the actors
// table exists.
func ConnectPostgres(postgresURI string) error {
	var err error

	PostgresDB, err = sql.Open("postgres", postgresURI)
	if err != nil {
		return err
	}

	PostgresDB.SetMaxOpenConns(25)
	PostgresDB.SetMaxIdleConns(5)
	PostgresDB.SetConnMaxLifetime(5 * time.Minute)

	if err = PostgresDB.Ping(); err != nil {
		return err
	}

	log := logger.Component("postgres")
	log.Info().Msg("connected to PostgreSQL")

	return InitPostgresTables(PostgresDB)
}

// InitPostgresTables creates the identity tables if they don't exist.
func InitPostgresTables(db *sql.DB) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS actors (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			username VARCHAR(20) NOT NULL UNIQUE,
			display_name VARCHAR(255) NOT NULL,
			role VARCHAR(16) NOT NULL CHECK (role IN ('patient', 'doctor')),
			password_hash VARCHAR(255) NOT NULL,
			created_at TIMESTAMP NOT NULL DEFAULT NOW(),
			is_active BOOLEAN NOT NULL DEFAULT TRUE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_actors_username_lower ON actors(LOWER(username))`,
		`CREATE INDEX IF NOT EXISTS idx_actors_role ON actors(role)`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return err
		}
	}

	log := logger.Component("postgres")
	log.Info().Msg("PostgreSQL tables initialized")
	return nil
}

func DisconnectPostgres() error {
	if PostgresDB != nil {
		return PostgresDB.Close()
	}
	return nil
}
