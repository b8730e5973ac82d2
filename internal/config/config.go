package config

import (
	"math"
	"os"
	"runtime"
	"sort"
	"strconv"
	"strings"

	"github.com/USGS-R/EGRETci/internal/errors"
)

// Config represents the complete application configuration
type Config struct {
	Ensemble EnsembleConfig
	Store    StoreConfig
	Server   ServerConfig
	LogLevel string
}

// EnsembleConfig controls ensemble generation and interval summaries
type EnsembleConfig struct {
	NBoot            int       // bootstrap re-estimations
	NKalman          int       // stochastic traces per re-estimation
	Rho              float64   // AR(1) lag-one correlation, in [0,1)
	Probabilities    []float64 // quantile levels, strictly increasing in (0,1)
	BlockLength      int       // block bootstrap length in days, 0 = simple bootstrap
	Seed             int64
	Workers          int // concurrent bootstrap attempts
	FitConcurrency   int // concurrent calls into the estimator
	AnnualStartMonth int // 1 = calendar year, 10 = water year
}

// StoreConfig holds replicate store settings
type StoreConfig struct {
	DatabaseURL string
}

// ServerConfig holds HTTP settings for the serve command
type ServerConfig struct {
	Addr string
}

// Defaults for the ensemble
const (
	DefaultNBoot       = 100
	DefaultNKalman     = 10
	DefaultRho         = 0.9
	DefaultBlockLength = 200
	DefaultSeed        = 376168
)

// DefaultProbabilities returns the 5th/50th/95th percentile levels
func DefaultProbabilities() []float64 {
	return []float64{0.05, 0.5, 0.95}
}

// DefaultEnsemble returns an EnsembleConfig with every default applied
func DefaultEnsemble() EnsembleConfig {
	workers := runtime.GOMAXPROCS(0)
	return EnsembleConfig{
		NBoot:            DefaultNBoot,
		NKalman:          DefaultNKalman,
		Rho:              DefaultRho,
		Probabilities:    DefaultProbabilities(),
		BlockLength:      DefaultBlockLength,
		Seed:             DefaultSeed,
		Workers:          workers,
		FitConcurrency:   workers,
		AnnualStartMonth: 1,
	}
}

// Load reads configuration from environment variables and validates it
func Load() (*Config, error) {
	ens := DefaultEnsemble()
	ens.NBoot = getEnvIntOrDefault("NBOOT", ens.NBoot)
	ens.NKalman = getEnvIntOrDefault("NKALMAN", ens.NKalman)
	ens.Rho = getEnvFloatOrDefault("RHO", ens.Rho)
	ens.BlockLength = getEnvIntOrDefault("BLOCK_LENGTH", ens.BlockLength)
	ens.Seed = int64(getEnvIntOrDefault("SEED", int(ens.Seed)))
	ens.Workers = getEnvIntOrDefault("WORKERS", ens.Workers)
	ens.FitConcurrency = getEnvIntOrDefault("FIT_CONCURRENCY", ens.Workers)
	ens.AnnualStartMonth = getEnvIntOrDefault("ANNUAL_START_MONTH", ens.AnnualStartMonth)

	if raw := os.Getenv("PROBABILITIES"); raw != "" {
		probs, err := ParseProbabilities(raw)
		if err != nil {
			return nil, errors.Wrap(err, "failed to parse PROBABILITIES")
		}
		ens.Probabilities = probs
	}

	cfg := &Config{
		Ensemble: ens,
		Store: StoreConfig{
			DatabaseURL: getEnvOrDefault("DATABASE_URL", ""),
		},
		Server: ServerConfig{
			Addr: getEnvOrDefault("HTTP_ADDR", ":8080"),
		},
		LogLevel: getEnvOrDefault("LOG_LEVEL", "INFO"),
	}

	if err := cfg.Ensemble.Validate(); err != nil {
		return nil, errors.Wrap(err, "configuration validation failed")
	}
	return cfg, nil
}

// Validate rejects configurations that cannot produce a valid ensemble
func (c *EnsembleConfig) Validate() error {
	if c.NBoot <= 0 {
		return errors.ConfigInvalidf("nBoot must be positive, got %d", c.NBoot)
	}
	if c.NKalman <= 0 {
		return errors.ConfigInvalidf("nKalman must be positive, got %d", c.NKalman)
	}
	if math.IsNaN(c.Rho) || c.Rho < 0 || c.Rho >= 1 {
		return errors.ConfigInvalidf("rho must be in [0,1), got %v", c.Rho)
	}
	if err := ValidateProbabilities(c.Probabilities); err != nil {
		return err
	}
	if c.BlockLength < 0 {
		return errors.ConfigInvalidf("block length must not be negative, got %d", c.BlockLength)
	}
	if c.Workers <= 0 {
		return errors.ConfigInvalidf("workers must be positive, got %d", c.Workers)
	}
	if c.FitConcurrency <= 0 {
		return errors.ConfigInvalidf("fit concurrency must be positive, got %d", c.FitConcurrency)
	}
	if c.AnnualStartMonth < 1 || c.AnnualStartMonth > 12 {
		return errors.ConfigInvalidf("annual start month must be 1..12, got %d", c.AnnualStartMonth)
	}
	return nil
}

// ValidateProbabilities requires a non-empty, strictly increasing list in (0,1)
func ValidateProbabilities(probs []float64) error {
	if len(probs) == 0 {
		return errors.ConfigInvalid("at least one probability is required")
	}
	for i, p := range probs {
		if math.IsNaN(p) || p <= 0 || p >= 1 {
			return errors.ConfigInvalidf("probability %v outside (0,1)", p)
		}
		if i > 0 && p <= probs[i-1] {
			return errors.ConfigInvalidf("probabilities must be strictly increasing, got %v", probs)
		}
	}
	return nil
}

// ParseProbabilities parses "0.05,0.5,0.95"; the result is sorted
func ParseProbabilities(raw string) ([]float64, error) {
	fields := strings.Split(raw, ",")
	probs := make([]float64, 0, len(fields))
	for _, f := range fields {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		p, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return nil, errors.ConfigInvalidf("invalid probability %q", f)
		}
		probs = append(probs, p)
	}
	sort.Float64s(probs)
	if err := ValidateProbabilities(probs); err != nil {
		return nil, err
	}
	return probs, nil
}

// Helper functions for environment variable parsing
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}
