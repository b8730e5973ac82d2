package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/USGS-R/EGRETci/adapters/excel"
	"github.com/USGS-R/EGRETci/adapters/regression"
	"github.com/USGS-R/EGRETci/adapters/rng"
	"github.com/USGS-R/EGRETci/app"
	"github.com/USGS-R/EGRETci/domain/interval"
	"github.com/USGS-R/EGRETci/internal/config"
	"github.com/USGS-R/EGRETci/internal/log"
	"github.com/USGS-R/EGRETci/internal/metrics"
	"github.com/USGS-R/EGRETci/internal/temporal"
	"github.com/USGS-R/EGRETci/ports"
)

type runOptions struct {
	input      string
	samples    string
	output     string
	variable   string
	resolution []string
	persist    bool

	seed             int64
	nBoot            int
	nKalman          int
	rho              float64
	blockLength      int
	workers          int
	annualStartMonth int
}

func newRunCmd() *cobra.Command {
	var opts runOptions

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Build the replicate ensemble for a record and print interval views",
		Long: `Read a daily discharge record and its calibration samples, build the
replicate ensemble and print prediction intervals.

The input is either a workbook with Daily and Sample sheets, or a daily CSV
together with --samples. When the daily sheet carries yHat and SE columns they
are reported as the deterministic series; otherwise the regression baseline is.

Example: egretci run --input choptank.xlsx --nboot 100 --nkalman 10 --rho 0.9 --output pi.xlsx`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			defer log.Sync()
			applyRunFlags(cmd, &opts, &cfg.Ensemble)
			if err := cfg.Ensemble.Validate(); err != nil {
				return err
			}
			return runIntervals(cmd.Context(), cmd.OutOrStdout(), cfg, opts)
		},
	}

	defaults := config.DefaultEnsemble()
	cmd.Flags().StringVar(&opts.input, "input", "", "Workbook (.xlsx) or daily CSV file")
	cmd.Flags().StringVar(&opts.samples, "samples", "", "Sample CSV file when --input is a CSV")
	cmd.Flags().StringVar(&opts.output, "output", "", "Write every view to this workbook")
	cmd.Flags().StringVar(&opts.variable, "variable", "flux", "Variable to print: conc|flux")
	cmd.Flags().StringSliceVar(&opts.resolution, "resolution", []string{"annual", "cumulative"}, "Views to print: daily,monthly,annual,cumulative")
	cmd.Flags().BoolVar(&opts.persist, "persist", false, "Store replicates in DATABASE_URL")
	cmd.Flags().Int64Var(&opts.seed, "seed", defaults.Seed, "Base random seed")
	cmd.Flags().IntVar(&opts.nBoot, "nboot", defaults.NBoot, "Bootstrap re-estimations")
	cmd.Flags().IntVar(&opts.nKalman, "nkalman", defaults.NKalman, "Stochastic traces per re-estimation")
	cmd.Flags().Float64Var(&opts.rho, "rho", defaults.Rho, "Lag-one correlation of the residual process")
	cmd.Flags().IntVar(&opts.blockLength, "block-length", defaults.BlockLength, "Bootstrap block length in days, 0 for simple bootstrap")
	cmd.Flags().IntVar(&opts.workers, "workers", defaults.Workers, "Concurrent bootstrap attempts")
	cmd.Flags().IntVar(&opts.annualStartMonth, "annual-start-month", 1, "First month of the annual period, 10 for water years")
	_ = cmd.MarkFlagRequired("input")

	return cmd
}

// applyRunFlags overrides environment configuration with flags set explicitly
func applyRunFlags(cmd *cobra.Command, opts *runOptions, ens *config.EnsembleConfig) {
	flags := cmd.Flags()
	if flags.Changed("seed") {
		ens.Seed = opts.seed
	}
	if flags.Changed("nboot") {
		ens.NBoot = opts.nBoot
	}
	if flags.Changed("nkalman") {
		ens.NKalman = opts.nKalman
	}
	if flags.Changed("rho") {
		ens.Rho = opts.rho
	}
	if flags.Changed("block-length") {
		ens.BlockLength = opts.blockLength
	}
	if flags.Changed("workers") {
		ens.Workers = opts.workers
		ens.FitConcurrency = opts.workers
	}
	if flags.Changed("annual-start-month") {
		ens.AnnualStartMonth = opts.annualStartMonth
	}
}

func runIntervals(ctx context.Context, out io.Writer, cfg *config.Config, opts runOptions) error {
	variable, err := interval.ParseVariable(opts.variable)
	if err != nil {
		return err
	}
	resolutions := make([]temporal.Resolution, 0, len(opts.resolution))
	for _, raw := range opts.resolution {
		res, err := temporal.ParseResolution(raw)
		if err != nil {
			return err
		}
		resolutions = append(resolutions, res)
	}

	in, err := excel.LoadInput(opts.input, opts.samples)
	if err != nil {
		return err
	}
	est, err := regression.NewEstimator(in.Daily, in.Samples, regression.DefaultConfig())
	if err != nil {
		return err
	}
	spine := in.Daily
	if !in.HasBaseline {
		if spine, err = est.Baseline(ctx); err != nil {
			return fmt.Errorf("baseline fit failed: %w", err)
		}
	}

	var store ports.ReplicateStore
	if opts.persist {
		db, s, err := openStore(ctx, cfg.Store.DatabaseURL)
		if err != nil {
			return err
		}
		defer db.Close()
		store = s
	}

	svc, err := app.NewIntervalService(cfg.Ensemble, app.IntervalServiceDeps{
		Estimator: est,
		RNG:       rng.NewSeededAdapter(cfg.Ensemble.Seed),
		Store:     store,
		Metrics:   metrics.NewUnregistered(),
		Logger:    log.GetSugaredLogger(),
	})
	if err != nil {
		return err
	}
	session, err := svc.Run(ctx, spine, est.Samples())
	if err != nil {
		return err
	}
	defer svc.Close(session.ID)

	summary, err := session.Summary()
	if err != nil {
		return err
	}
	printSummary(out, summary)

	for _, res := range resolutions {
		view, err := session.View(ctx, res, variable)
		if err != nil {
			return err
		}
		printView(out, view)
	}

	if opts.output != "" {
		var all []*interval.View
		for _, v := range []interval.Variable{interval.VariableConc, interval.VariableFlux} {
			for _, res := range temporal.Resolutions() {
				view, err := session.View(ctx, res, v)
				if err != nil {
					return err
				}
				all = append(all, view)
			}
		}
		if err := excel.WriteViews(opts.output, all); err != nil {
			return err
		}
	}
	return nil
}

func printSummary(out io.Writer, s *app.Summary) {
	fmt.Fprintf(out, "session    %s\n", s.SessionID)
	fmt.Fprintf(out, "record     %s .. %s (%d days)\n", s.Start.Format("2006-01-02"), s.End.Format("2006-01-02"), s.Days)
	fmt.Fprintf(out, "replicates %d (%d of %d re-estimations kept)\n", s.Replicates, s.Report.Effective, s.Report.Requested)
	fmt.Fprintf(out, "total flux %.4g kg (ensemble median %.4g, sd %.3g)\n\n", s.TotalFluxModel, s.TotalFlux.Median, s.TotalFlux.StdDev)
}

func printView(out io.Writer, v *interval.View) {
	fmt.Fprintf(out, "%s %s\n", v.Resolution, v.Variable)
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', tabwriter.AlignRight)
	header := []string{"period", "model"}
	for _, p := range v.Probabilities {
		header = append(header, fmt.Sprintf("p%g", p))
	}
	fmt.Fprintln(tw, strings.Join(header, "\t")+"\t")
	for i, r := range v.Results {
		cells := []string{r.Key, fmt.Sprintf("%.4g", v.Deterministic[i].Value)}
		for _, q := range r.Quantiles {
			cells = append(cells, fmt.Sprintf("%.4g", q))
		}
		fmt.Fprintln(tw, strings.Join(cells, "\t")+"\t")
	}
	tw.Flush()
	fmt.Fprintln(out)
}

