// Package testkit provides fixtures shared by package tests: synthetic daily
// records, fake estimators and an in-memory replicate store.
package testkit

import (
	"github.com/USGS-R/EGRETci/adapters/rng"
	"github.com/USGS-R/EGRETci/internal/config"
	"github.com/USGS-R/EGRETci/internal/metrics"
	"github.com/USGS-R/EGRETci/ports"
)

// TestKit provides testing utilities and fixtures
type TestKit struct {
	store   *InMemoryReplicateStore // Shared store instance
	metrics *metrics.Metrics
	seed    int64
}

// NewTestKit creates a new test kit seeded with seed
func NewTestKit(seed int64) *TestKit {
	return &TestKit{
		store:   NewInMemoryReplicateStore(),
		metrics: metrics.NewUnregistered(),
		seed:    seed,
	}
}

// RNGAdapter returns a seeded RNG adapter
func (t *TestKit) RNGAdapter() ports.RNGPort {
	return rng.NewSeededAdapter(t.seed)
}

// ReplicateStore returns the shared in-memory store
func (t *TestKit) ReplicateStore() *InMemoryReplicateStore {
	return t.store
}

// Metrics returns collectors on a private registry
func (t *TestKit) Metrics() *metrics.Metrics {
	return t.metrics
}

// EnsembleConfig returns a small simple-bootstrap configuration for tests
func (t *TestKit) EnsembleConfig(nBoot, nKalman int, rho float64) config.EnsembleConfig {
	cfg := config.DefaultEnsemble()
	cfg.NBoot = nBoot
	cfg.NKalman = nKalman
	cfg.Rho = rho
	cfg.Seed = t.seed
	cfg.BlockLength = 0
	cfg.Workers = 4
	cfg.FitConcurrency = 2
	return cfg
}
