package migration

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/USGS-R/EGRETci/internal/errors"
)

// Migrator defines the interface for database migration operations
type Migrator interface {
	Run(ctx context.Context, db *sqlx.DB) error
	Version() string
}

// MigrationRunner handles database schema migrations
type MigrationRunner struct {
	version string
}

// NewRunner creates a new migration runner
func NewRunner() *MigrationRunner {
	return &MigrationRunner{
		version: "1.0.0",
	}
}

// Version returns the migration version
func (r *MigrationRunner) Version() string {
	return r.version
}

// Run executes all database migrations in the correct order. Every statement
// is idempotent so Run is safe on every start.
func (r *MigrationRunner) Run(ctx context.Context, db *sqlx.DB) error {
	if err := r.createSessionsTable(ctx, db); err != nil {
		return errors.Wrap(err, "failed to create egretci_sessions table")
	}

	if err := r.createReplicatesTable(ctx, db); err != nil {
		return errors.Wrap(err, "failed to create egretci_replicates table")
	}

	if err := r.createIndexes(ctx, db); err != nil {
		return errors.Wrap(err, "failed to create indexes")
	}

	return nil
}

func (r *MigrationRunner) createSessionsTable(ctx context.Context, db *sqlx.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS egretci_sessions (
			id UUID PRIMARY KEY,
			created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
			start_date DATE NOT NULL,
			days INTEGER NOT NULL,
			n_boot INTEGER NOT NULL,
			n_kalman INTEGER NOT NULL,
			effective INTEGER NOT NULL,
			discarded INTEGER NOT NULL,
			rho DOUBLE PRECISION NOT NULL,
			seed BIGINT NOT NULL,
			block_length INTEGER NOT NULL,
			annual_start_month SMALLINT NOT NULL,
			spine JSONB NOT NULL
		)
	`)
	return err
}

// createReplicatesTable stores one row per replicate column
func (r *MigrationRunner) createReplicatesTable(ctx context.Context, db *sqlx.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS egretci_replicates (
			session_id UUID NOT NULL REFERENCES egretci_sessions(id) ON DELETE CASCADE,
			col INTEGER NOT NULL,
			source INTEGER NOT NULL,
			conc DOUBLE PRECISION[] NOT NULL,
			flux DOUBLE PRECISION[] NOT NULL,
			PRIMARY KEY (session_id, col)
		)
	`)
	return err
}

func (r *MigrationRunner) createIndexes(ctx context.Context, db *sqlx.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE INDEX IF NOT EXISTS idx_egretci_sessions_created_at ON egretci_sessions(created_at DESC)
	`)
	return err
}
