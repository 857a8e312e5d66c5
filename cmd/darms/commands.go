package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"darms/internal/config"
	"darms/internal/engine"
	"darms/internal/logging"
	"darms/internal/metrics"
	"darms/internal/policy"
	"darms/internal/publish"
	"darms/internal/samplesize"
	"darms/internal/storage"
)

type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:          "darms",
		Short:        "Robust screening strategies for multi-period airport security games",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "run configuration (YAML or JSON); defaults to the built-in sample instance")
	root.AddCommand(
		newSolveCmd(opts),
		newSampleSizeCmd(opts),
		newTrialsCmd(opts),
		newExportLPCmd(opts),
		newConfigCmd(),
	)
	return root
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.DefaultConfig(), nil
	}
	return config.Load(path)
}

// runtime is the wired pipeline for one command invocation.
type runtime struct {
	cfg        *config.Config
	logger     *slog.Logger
	engine     *engine.Engine
	collectors *metrics.Collectors
	store      storage.Store
	publisher  publish.Publisher
}

func newRuntime(ctx context.Context, cfg *config.Config) (*runtime, error) {
	logger := logging.NewLoggerTo(os.Stderr, cfg.LogLevel, cfg.LogFormat)
	store, err := storage.NewStore(cfg.Storage)
	if err != nil {
		return nil, err
	}
	if store != nil {
		if err := store.Init(ctx); err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("init storage: %w", err)
		}
	}
	rt := &runtime{
		cfg:        cfg,
		logger:     logger,
		collectors: metrics.NewCollectors(),
		store:      store,
		publisher:  publish.NewPublisher(cfg.Publish.Kafka, logger),
	}
	rt.engine = engine.NewEngine(cfg, logger, metrics.NewStore(cfg.Metrics.StoreLimit), rt.collectors, rt.store, rt.publisher)
	return rt, nil
}

func (rt *runtime) close() {
	if rt.cfg.Metrics.Textfile != "" {
		if err := rt.collectors.WriteTextfile(rt.cfg.Metrics.Textfile); err != nil {
			rt.logger.Warn("metrics textfile write failed", "path", rt.cfg.Metrics.Textfile, "err", err)
		}
	}
	if rt.publisher != nil {
		_ = rt.publisher.Close()
	}
	if rt.store != nil {
		_ = rt.store.Close()
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// writeJSON writes v to path, or to w when path is empty.
func writeJSON(w io.Writer, path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	if path == "" {
		_, err = w.Write(data)
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func newSolveCmd(root *rootOptions) *cobra.Command {
	var (
		mode     string
		rule     string
		seed     uint64
		overflow bool
		solver   string
	)
	cmd := &cobra.Command{
		Use:   "solve",
		Short: "Sample scenarios, solve the policy program and validate it out of sample",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(root.configPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("mode") {
				cfg.Solve.Mode = mode
			}
			if cmd.Flags().Changed("rule") {
				cfg.Solve.Rule = rule
			}
			if cmd.Flags().Changed("seed") {
				cfg.Seed = seed
			}
			if cmd.Flags().Changed("overflow") {
				cfg.Solve.Overflow = overflow
			}
			if cmd.Flags().Changed("solver") {
				cfg.Solve.Solver = solver
			}
			if err := config.Validate(cfg); err != nil {
				return err
			}
			ctx, cancel := signalContext()
			defer cancel()
			rt, err := newRuntime(ctx, cfg)
			if err != nil {
				return err
			}
			defer rt.close()
			report, err := rt.engine.Execute(ctx, cfg)
			if err != nil {
				return err
			}
			for _, v := range rt.engine.Violations().List(10) {
				rt.logger.Debug("violation", "sample", v.Sample, "family", v.Family, "window", v.Window, "excess", v.Excess)
			}
			return writeJSON(cmd.OutOrStdout(), cfg.Output.Report, report)
		},
	}
	cmd.Flags().StringVar(&mode, "mode", "joint", "solve mode: joint or decomposed")
	cmd.Flags().StringVar(&rule, "rule", "linear", "decision rule: constant or linear")
	cmd.Flags().Uint64Var(&seed, "seed", 1, "scenario seed")
	cmd.Flags().BoolVar(&overflow, "overflow", false, "carry excess resource demand to the next window at a fine")
	cmd.Flags().StringVar(&solver, "solver", "dual", "lp backend: dual or simplex")
	return cmd
}

func newSampleSizeCmd(root *rootOptions) *cobra.Command {
	var (
		epsilon   float64
		beta      float64
		dimension int
	)
	cmd := &cobra.Command{
		Use:   "samplesize",
		Short: "Print the training-pool size that bounds the violation probability",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(root.configPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("epsilon") {
				cfg.Robustness.Epsilon = epsilon
			}
			if cmd.Flags().Changed("beta") {
				cfg.Robustness.Beta = beta
			}
			nw := dimension
			if nw <= 0 {
				p, err := cfg.Problem()
				if err != nil {
					return err
				}
				rule, err := policy.ParseRule(cfg.Solve.Rule)
				if err != nil {
					return err
				}
				nw = samplesize.Dimension(len(p.Flights), len(p.Categories), len(p.Windows), len(p.Operations), rule == policy.RuleLinear)
			}
			n, err := samplesize.Estimate(cfg.Robustness.Epsilon, cfg.Robustness.Beta, nw, cfg.Robustness.MaxSamples)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "dimension=%d epsilon=%g beta=%g samples=%d\n", nw, cfg.Robustness.Epsilon, cfg.Robustness.Beta, n)
			return nil
		},
	}
	cmd.Flags().Float64Var(&epsilon, "epsilon", 0.1, "target violation probability")
	cmd.Flags().Float64Var(&beta, "beta", 0.01, "confidence complement")
	cmd.Flags().IntVar(&dimension, "dimension", 0, "structural dimension; derived from the instance when 0")
	return cmd
}

func newTrialsCmd(root *rootOptions) *cobra.Command {
	var runs int
	cmd := &cobra.Command{
		Use:   "trials",
		Short: "Repeat the pipeline with independent seeds and check the violation bound empirically",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(root.configPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("runs") {
				cfg.Trials.Runs = runs
			}
			ctx, cancel := signalContext()
			defer cancel()
			rt, err := newRuntime(ctx, cfg)
			if err != nil {
				return err
			}
			defer rt.close()
			summary, err := rt.engine.Trials(ctx, cfg, cfg.Trials.Runs)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), "", summary)
		},
	}
	cmd.Flags().IntVar(&runs, "runs", 10, "number of independent runs")
	return cmd
}

func newExportLPCmd(root *rootOptions) *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "export-lp",
		Short: "Write the joint policy program in LP format without solving it",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(root.configPath)
			if err != nil {
				return err
			}
			if out == "" {
				out = cfg.Output.LP
			}
			eng := engine.NewEngine(cfg, logging.NewLoggerTo(os.Stderr, cfg.LogLevel, cfg.LogFormat), nil, nil, nil, nil)
			if out == "" {
				return eng.ExportLP(cfg, cmd.OutOrStdout())
			}
			f, err := os.Create(out)
			if err != nil {
				return err
			}
			if err := eng.ExportLP(cfg, f); err != nil {
				_ = f.Close()
				return err
			}
			return f.Close()
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "output path; stdout when empty")
	return cmd
}

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage run configurations",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "init [path]",
		Short: "Write the default configuration with the sample instance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.Save(args[0], config.DefaultConfig()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", args[0])
			return nil
		},
	})
	return cmd
}
