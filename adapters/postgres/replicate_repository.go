// Package postgres stores replicate matrices in PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/USGS-R/EGRETci/domain/core"
	"github.com/USGS-R/EGRETci/domain/record"
	"github.com/USGS-R/EGRETci/internal/errors"
	"github.com/USGS-R/EGRETci/ports"
)

// ReplicateRepositoryImpl implements ReplicateStore for PostgreSQL
type ReplicateRepositoryImpl struct {
	db *sqlx.DB
}

// NewReplicateRepository creates a new PostgreSQL replicate repository
func NewReplicateRepository(db *sqlx.DB) ports.ReplicateStore {
	return &ReplicateRepositoryImpl{db: db}
}

type sessionRow struct {
	ports.SessionInfo
	Spine []byte `db:"spine"`
}

type replicateRow struct {
	Col    int             `db:"col"`
	Source int             `db:"source"`
	Conc   pq.Float64Array `db:"conc"`
	Flux   pq.Float64Array `db:"flux"`
}

const sessionColumns = `id, created_at, start_date, days, n_boot, n_kalman, effective, discarded,
	rho, seed, block_length, annual_start_month`

// Save writes the session and all of its replicate columns in one transaction
func (r *ReplicateRepositoryImpl) Save(ctx context.Context, snap *ports.ReplicateSnapshot) error {
	if len(snap.Conc) != len(snap.Flux) || len(snap.Conc) != len(snap.Sources) {
		return errors.InvalidInput(fmt.Sprintf("snapshot has %d conc, %d flux and %d source columns",
			len(snap.Conc), len(snap.Flux), len(snap.Sources)))
	}
	spine, err := json.Marshal(snap.Spine)
	if err != nil {
		return errors.Wrap(err, "failed to encode spine")
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.WithCode(errors.CodeDatabaseError, err)
	}
	defer tx.Rollback()

	_, err = tx.NamedExecContext(ctx, `
		INSERT INTO egretci_sessions (`+sessionColumns+`, spine)
		VALUES (:id, :created_at, :start_date, :days, :n_boot, :n_kalman, :effective, :discarded,
			:rho, :seed, :block_length, :annual_start_month, :spine)
	`, sessionRow{SessionInfo: snap.Info, Spine: spine})
	if err != nil {
		return errors.WithCode(errors.CodeDatabaseError, fmt.Errorf("insert session %s: %w", snap.Info.ID, err))
	}

	stmt, err := tx.PreparexContext(ctx, `
		INSERT INTO egretci_replicates (session_id, col, source, conc, flux)
		VALUES ($1, $2, $3, $4, $5)
	`)
	if err != nil {
		return errors.WithCode(errors.CodeDatabaseError, err)
	}
	defer stmt.Close()

	for col := range snap.Conc {
		if _, err := stmt.ExecContext(ctx, snap.Info.ID, col, snap.Sources[col],
			pq.Float64Array(snap.Conc[col]), pq.Float64Array(snap.Flux[col])); err != nil {
			return errors.WithCode(errors.CodeDatabaseError, fmt.Errorf("insert replicate %d: %w", col, err))
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.WithCode(errors.CodeDatabaseError, err)
	}
	return nil
}

// Load reads a session and its replicate columns in column order
func (r *ReplicateRepositoryImpl) Load(ctx context.Context, id core.SessionID) (*ports.ReplicateSnapshot, error) {
	var row sessionRow
	err := r.db.GetContext(ctx, &row, `
		SELECT `+sessionColumns+`, spine
		FROM egretci_sessions
		WHERE id = $1
	`, id)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, errors.WithCode(errors.CodeNotFound, fmt.Errorf("%w: %s", core.ErrSessionNotFound, id))
	}
	if err != nil {
		return nil, errors.WithCode(errors.CodeDatabaseError, err)
	}

	var spine []record.Daily
	if err := json.Unmarshal(row.Spine, &spine); err != nil {
		return nil, errors.Wrap(err, "failed to decode spine")
	}

	var reps []replicateRow
	err = r.db.SelectContext(ctx, &reps, `
		SELECT col, source, conc, flux
		FROM egretci_replicates
		WHERE session_id = $1
		ORDER BY col
	`, id)
	if err != nil {
		return nil, errors.WithCode(errors.CodeDatabaseError, err)
	}

	snap := &ports.ReplicateSnapshot{
		Info:    row.SessionInfo,
		Spine:   spine,
		Sources: make([]int, len(reps)),
		Conc:    make([][]float64, len(reps)),
		Flux:    make([][]float64, len(reps)),
	}
	for i, rep := range reps {
		snap.Sources[i] = rep.Source
		snap.Conc[i] = rep.Conc
		snap.Flux[i] = rep.Flux
	}
	return snap, nil
}

// List returns the most recent sessions first
func (r *ReplicateRepositoryImpl) List(ctx context.Context, limit int) ([]ports.SessionInfo, error) {
	if limit <= 0 {
		limit = 50
	}
	var infos []ports.SessionInfo
	err := r.db.SelectContext(ctx, &infos, `
		SELECT `+sessionColumns+`
		FROM egretci_sessions
		ORDER BY created_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, errors.WithCode(errors.CodeDatabaseError, err)
	}
	return infos, nil
}

// Delete removes a session; its replicates cascade
func (r *ReplicateRepositoryImpl) Delete(ctx context.Context, id core.SessionID) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM egretci_sessions WHERE id = $1`, id)
	if err != nil {
		return errors.WithCode(errors.CodeDatabaseError, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.WithCode(errors.CodeDatabaseError, err)
	}
	if n == 0 {
		return errors.WithCode(errors.CodeNotFound, fmt.Errorf("%w: %s", core.ErrSessionNotFound, id))
	}
	return nil
}
