// Package cli implements the goparallel command line.
//
//	goparallel run -p pipeline.yaml -i 'data/**/*.txt'
//	goparallel funcs
//	goparallel worker
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/nemanja-m/goparallel/internal/input"
	"github.com/nemanja-m/goparallel/internal/pipeline"
	"github.com/nemanja-m/goparallel/internal/shared/config"
	"github.com/nemanja-m/goparallel/internal/shared/httpx"
	"github.com/nemanja-m/goparallel/internal/shared/logging"
	"github.com/nemanja-m/goparallel/pkg/core"
	"github.com/nemanja-m/goparallel/pkg/funcs"
	"github.com/nemanja-m/goparallel/pkg/parallel"
)

var configFile string

func BuildCLI() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "goparallel",
		Short:         "Run spawn, map and reduce pipelines on a pool of isolated workers",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file path (default: ./config/parallel.yaml or ./parallel.yaml)")

	rootCmd.AddCommand(buildRunCommand())
	rootCmd.AddCommand(buildFuncsCommand())
	rootCmd.AddCommand(buildWorkerCommand())

	return rootCmd
}

type runOptions struct {
	pipeline string
	inputs   []string
	format   string
	output   string
	workers  int
}

func buildRunCommand() *cobra.Command {
	var opts runOptions

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a pipeline over the lines of the input files",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runPipeline(ctx, opts, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVarP(&opts.pipeline, "pipeline", "p", "", "pipeline definition file")
	cmd.Flags().StringSliceVarP(&opts.inputs, "input", "i", nil, "input file glob patterns")
	cmd.Flags().StringVar(&opts.format, "format", "", "input format: lines or records (overrides the pipeline)")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "json", "output format: json or yaml")
	cmd.Flags().IntVarP(&opts.workers, "workers", "w", 0, "maximum number of workers (overrides config)")
	cmd.MarkFlagRequired("pipeline")
	cmd.MarkFlagRequired("input")

	return cmd
}

func runPipeline(ctx context.Context, opts runOptions, out io.Writer) error {
	cfg, err := config.LoadParallel(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if opts.workers > 0 {
		cfg.Pool.MaxWorkers = opts.workers
	}
	logger := logging.New(os.Stderr, logging.ParseLevel(cfg.Logging.Level), cfg.Logging.Format)

	def, err := pipeline.Load(opts.pipeline)
	if err != nil {
		return err
	}
	format := def.Input
	if opts.format != "" {
		format = opts.format
	}
	data, err := input.Load(opts.inputs, format)
	if err != nil {
		return err
	}

	popts := parallel.OptionsFromConfig(cfg, logger)
	popts.Env = core.MergeEnv(cfg.Env.Values, def.Env)

	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		popts.Metrics = reg
		srv := httpx.NewServer(cfg.Metrics.Addr, metricsHandler(reg), logger)

		metricsCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		go func() {
			if err := srv.ListenAndServe(metricsCtx); err != nil {
				logger.Error("Metrics server failed", "error", err)
			}
		}()
	}

	p := parallel.New(data, popts)
	defer p.Close(context.Background())

	logger.Info("Running pipeline",
		"pipeline", def.Name,
		"inputs", len(data),
		"stages", len(def.Stages),
		"workers", cfg.Pool.MaxWorkers,
		"provider", cfg.Pool.Provider,
	)

	result, err := def.Run(ctx, p, funcs.Default)
	if err != nil {
		return fmt.Errorf("pipeline %s failed: %w", def.Name, err)
	}
	return writeResult(out, result, opts.output)
}

func metricsHandler(reg *prometheus.Registry) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	return mux
}

func writeResult(w io.Writer, v any, format string) error {
	switch format {
	case "", "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}

func buildFuncsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "funcs",
		Short: "List registered functions, helpers and libraries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, name := range funcs.List() {
				if _, err := fmt.Fprintln(cmd.OutOrStdout(), name); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

func buildWorkerCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Serve tasks as a worker process",
		Long: `Serve tasks on the socket named by GOPARALLEL_WORKER_SOCKET until stdin
closes. The process provider starts workers this way; it is not meant to be
run by hand.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !parallel.IsWorker() {
				return errors.New("worker must be started by the process provider")
			}
			return parallel.ServeWorker(cmd.Context())
		},
	}
}
