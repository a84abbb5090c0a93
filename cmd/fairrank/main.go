// Command fairrank computes fair consensus rankings for one or more job
// files and prints the results as JSON.
//
// Usage:
//
//	fairrank [-concurrency N] [-metrics-file path] [-log-level level] job.yaml...
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ahrav/go-fairrank/infrastructure/imputation"
	"github.com/ahrav/go-fairrank/infrastructure/middleware"
	"github.com/ahrav/go-fairrank/internal/application"
	"github.com/ahrav/go-fairrank/internal/domain"
)

// output is the JSON document printed per job.
type output struct {
	Job       string            `json:"job"`
	Consensus *domain.Consensus `json:"consensus,omitempty"`
	Error     string            `json:"error,omitempty"`
}

func main() {
	var (
		concurrency = flag.Int("concurrency", 0, "Maximum jobs run at once (0 = number of CPUs)")
		metricsFile = flag.String("metrics-file", "", "Write Prometheus metrics in text format to this file")
		logLevel    = flag.String("log-level", "info", "Log level: debug, info, warn or error")
		timeout     = flag.Duration("timeout", 0, "Overall deadline (0 = none)")
	)
	flag.Parse()

	logger, err := newLogger(os.Stderr, *logLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if flag.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "usage: fairrank [flags] job.yaml...")
		flag.PrintDefaults()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if *timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *timeout)
		defer cancel()
	}

	code := run(ctx, logger, flag.Args(), *concurrency, *metricsFile, os.Stdout)
	stop()
	os.Exit(code)
}

// run loads and executes every job and returns the process exit code:
// 0 when all jobs succeed, 1 when any job fails to load or run.
func run(ctx context.Context, logger *slog.Logger, paths []string, concurrency int, metricsFile string, stdout io.Writer) int {
	registry := prometheus.NewRegistry()
	metrics := middleware.NewPrometheusMetrics(registry)

	impCfg := imputation.DefaultConfig()
	impCfg.Metrics = metrics
	imputer, err := imputation.New(impCfg)
	if err != nil {
		logger.Error("failed to build imputer", slog.Any("error", err))
		return 1
	}
	loader, err := application.NewJobLoader(application.NewDefaultUnitRegistry(application.RegistryDeps{
		Imputer: imputer,
	}))
	if err != nil {
		logger.Error("failed to create job loader", slog.Any("error", err))
		return 1
	}

	code := 0
	var outputs []output
	var jobs []*application.Job
	for _, path := range paths {
		job, err := loader.LoadFromFile(ctx, path)
		if err != nil {
			logger.Error("failed to load job", slog.String("path", path), slog.Any("error", err))
			outputs = append(outputs, output{Job: path, Error: err.Error()})
			code = 1
			continue
		}
		jobs = append(jobs, job)
	}

	start := time.Now()
	runner := application.NewRunner(metrics, logger)
	results, err := application.NewBatchRunner(runner, concurrency).Run(ctx, jobs)
	if err != nil {
		logger.Error("batch interrupted", slog.Any("error", err))
		code = 1
	}
	for _, r := range results {
		if r.Err != nil {
			outputs = append(outputs, output{Job: r.Job, Error: r.Err.Error()})
			code = 1
			continue
		}
		consensus := r.Consensus
		outputs = append(outputs, output{Job: r.Job, Consensus: &consensus})
	}
	logger.Info("batch finished",
		slog.Int("jobs", len(jobs)),
		slog.Duration("elapsed", time.Since(start)),
	)

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(outputs); err != nil {
		logger.Error("failed to write results", slog.Any("error", err))
		code = 1
	}

	if metricsFile != "" {
		if err := prometheus.WriteToTextfile(metricsFile, registry); err != nil {
			logger.Error("failed to write metrics", slog.String("path", metricsFile), slog.Any("error", err))
			code = 1
		}
	}
	return code
}

func newLogger(w io.Writer, level string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl})), nil
}
