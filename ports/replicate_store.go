package ports

import (
	"context"
	"time"

	"github.com/USGS-R/EGRETci/domain/core"
	"github.com/USGS-R/EGRETci/domain/record"
)

// SessionInfo describes a stored ensemble
type SessionInfo struct {
	ID               core.SessionID `db:"id" json:"id"`
	CreatedAt        time.Time      `db:"created_at" json:"created_at"`
	StartDate        time.Time      `db:"start_date" json:"start_date"`
	Days             int            `db:"days" json:"days"`
	NBoot            int            `db:"n_boot" json:"n_boot"`
	NKalman          int            `db:"n_kalman" json:"n_kalman"`
	Effective        int            `db:"effective" json:"effective"`
	Discarded        int            `db:"discarded" json:"discarded"`
	Rho              float64        `db:"rho" json:"rho"`
	Seed             int64          `db:"seed" json:"seed"`
	BlockLength      int            `db:"block_length" json:"block_length"`
	AnnualStartMonth int            `db:"annual_start_month" json:"annual_start_month"`
}

// ReplicateSnapshot is everything needed to recompute interval views for a
// session without regenerating the ensemble. Conc and Flux hold one complete
// daily series per replicate column; Sources gives the bootstrap attempt that
// produced each column.
type ReplicateSnapshot struct {
	Info    SessionInfo
	Spine   []record.Daily
	Sources []int
	Conc    [][]float64
	Flux    [][]float64
}

// ReplicateStore persists replicate matrices
type ReplicateStore interface {
	Save(ctx context.Context, snap *ReplicateSnapshot) error
	Load(ctx context.Context, id core.SessionID) (*ReplicateSnapshot, error)
	List(ctx context.Context, limit int) ([]SessionInfo, error)
	Delete(ctx context.Context, id core.SessionID) error
}
