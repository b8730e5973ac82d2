package testkit

import (
	"math"
	"math/rand/v2"
	"time"

	"github.com/USGS-R/EGRETci/domain/core"
	"github.com/USGS-R/EGRETci/domain/record"
)

// RecordGeneratorConfig configures the synthetic daily record generator
type RecordGeneratorConfig struct {
	Start          time.Time `json:"start"`
	Days           int       `json:"days"`
	BaseDischarge  float64   `json:"base_discharge"`  // m³/s
	SeasonalSwing  float64   `json:"seasonal_swing"`  // fraction of BaseDischarge, 0 = constant flow
	BaseConc       float64   `json:"base_conc"`       // mg/L
	SE             float64   `json:"se"`              // log-space residual SD
	SampleEvery    int       `json:"sample_every"`    // days between samples, 0 = no samples
	SampleNoise    float64   `json:"sample_noise"`    // log-space noise on sampled values
	DetectionLimit float64   `json:"detection_limit"` // values below are reported censored
	Seed           int64     `json:"seed"`
}

// DefaultRecordConfig returns a two-year record sampled twice a month
func DefaultRecordConfig() RecordGeneratorConfig {
	return RecordGeneratorConfig{
		Start:          core.NewDay(2004, time.October, 1),
		Days:           730,
		BaseDischarge:  50,
		SeasonalSwing:  0.6,
		BaseConc:       2,
		SE:             0.3,
		SampleEvery:    14,
		SampleNoise:    0.3,
		DetectionLimit: 0,
		Seed:           42,
	}
}

// RecordGenerator produces deterministic daily records and sample sets
type RecordGenerator struct {
	config RecordGeneratorConfig
	rng    *rand.Rand
}

// NewRecordGenerator creates a new generator
func NewRecordGenerator(config RecordGeneratorConfig) *RecordGenerator {
	return &RecordGenerator{
		config: config,
		rng:    rand.New(rand.NewPCG(uint64(config.Seed), 0x5eed)),
	}
}

// Generate returns the daily record and the calibration samples drawn from it
func (g *RecordGenerator) Generate() (*record.Table, []record.Sample) {
	c := g.config
	days := make([]record.Daily, c.Days)
	for i := range days {
		date := c.Start.AddDate(0, 0, i)
		dec := core.DecimalYear(date)
		q := c.BaseDischarge * (1 + c.SeasonalSwing*math.Sin(2*math.Pi*dec))
		days[i] = NewDaily(date, q, c.BaseConc, c.SE)
	}
	spine := &record.Table{Days: days}

	var samples []record.Sample
	if c.SampleEvery > 0 {
		for i := 0; i < c.Days; i += c.SampleEvery {
			d := days[i]
			value := d.ConcDay * math.Exp(c.SampleNoise*g.rng.NormFloat64())
			s := record.Sample{
				Date:      d.Date,
				DecYear:   d.DecYear,
				Value:     value,
				Discharge: d.Discharge,
			}
			if value < c.DetectionLimit {
				s.Value = c.DetectionLimit
				s.Censored = true
			}
			samples = append(samples, s)
		}
	}
	return spine, samples
}

// NewDaily builds one fitted day whose bias-corrected mean is conc
func NewDaily(date time.Time, discharge, conc, se float64) record.Daily {
	return record.Daily{
		Date:      core.Day(date),
		DecYear:   core.DecimalYear(date),
		Discharge: discharge,
		YHat:      math.Log(conc) - se*se/2,
		SE:        se,
		ConcDay:   conc,
		FluxDay:   record.Flux(conc, discharge),
	}
}

// ConstantSpine is a record with fixed discharge, concentration and SE
func ConstantSpine(start time.Time, days int, discharge, conc, se float64) *record.Table {
	out := make([]record.Daily, days)
	for i := range out {
		out[i] = NewDaily(start.AddDate(0, 0, i), discharge, conc, se)
	}
	return &record.Table{Days: out}
}

// SamplesAt returns uncensored samples on the given rows at value
func SamplesAt(spine *record.Table, value float64, rows ...int) []record.Sample {
	out := make([]record.Sample, 0, len(rows))
	for _, r := range rows {
		d := spine.Days[r]
		out = append(out, record.Sample{Date: d.Date, DecYear: d.DecYear, Value: value, Discharge: d.Discharge})
	}
	return out
}

// CensoredAt returns censored samples on the given rows with reporting limit dl
func CensoredAt(spine *record.Table, dl float64, rows ...int) []record.Sample {
	out := SamplesAt(spine, dl, rows...)
	for i := range out {
		out[i].Censored = true
	}
	return out
}
