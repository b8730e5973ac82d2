package main

import (
	"context"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/spf13/cobra"

	"github.com/USGS-R/EGRETci/adapters/postgres"
	"github.com/USGS-R/EGRETci/internal/errors"
	"github.com/USGS-R/EGRETci/internal/log"
	"github.com/USGS-R/EGRETci/internal/migration"
	"github.com/USGS-R/EGRETci/ports"
)

// openStore connects to PostgreSQL and runs migrations
func openStore(ctx context.Context, url string) (*sqlx.DB, ports.ReplicateStore, error) {
	if url == "" {
		return nil, nil, errors.ConfigInvalid("DATABASE_URL is required")
	}
	db, err := sqlx.Connect("postgres", url)
	if err != nil {
		return nil, nil, errors.WithCode(errors.CodeDatabaseError, err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, nil, errors.Wrap(err, "failed to ping database")
	}

	runner := migration.NewRunner()
	if err := runner.Run(ctx, db); err != nil {
		db.Close()
		return nil, nil, errors.Wrap(err, "database migration failed")
	}
	log.Infow("replicate store ready", "schema", runner.Version())
	return db, postgres.NewReplicateRepository(db), nil
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the replicate store schema in DATABASE_URL",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			defer log.Sync()

			db, _, err := openStore(cmd.Context(), cfg.Store.DatabaseURL)
			if err != nil {
				return err
			}
			return db.Close()
		},
	}
}
