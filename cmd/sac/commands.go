package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/samuelfneumann/gosac/agent"
	_ "github.com/samuelfneumann/gosac/agent/nonlinear/continuous/sac"
	"github.com/samuelfneumann/gosac/experiment"
	"github.com/samuelfneumann/gosac/experiment/tracker"
)

var (
	configPath  string
	metricsAddr string
	logLevel    string
	savePath    string
	progress    bool

	rootCmd = &cobra.Command{
		Use:          "sac",
		Short:        "Run Soft Actor-Critic experiments",
		SilenceUsage: true,
	}

	runCmd = &cobra.Command{
		Use:   "run",
		Short: "Run the experiment described by an experiment file",
		RunE:  runExperiment,
	}

	validateCmd = &cobra.Command{
		Use:   "validate",
		Short: "Check that an experiment file is valid without running it",
		RunE:  validateExperiment,
	}
)

func init() {
	for _, cmd := range []*cobra.Command{runCmd, validateCmd} {
		cmd.Flags().StringVarP(&configPath, "config", "c", "",
			"experiment file (.json, .yaml, or .yml)")
		_ = cmd.MarkFlagRequired("config")
	}

	runCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "",
		"serve Prometheus metrics on this address, e.g. :9090")
	runCmd.Flags().StringVar(&logLevel, "log-level", "info",
		"log level (debug, info, warn, error)")
	runCmd.Flags().StringVar(&savePath, "save", "",
		"save the trained agent to this file")
	runCmd.Flags().BoolVar(&progress, "progress", false,
		"display a progress bar on stderr")

	rootCmd.AddCommand(runCmd, validateCmd)
}

func newLogger(out io.Writer, level string) (*slog.Logger, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("newLogger: %w", err)
	}
	return slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: l})),
		nil
}

func validateExperiment(cmd *cobra.Command, _ []string) error {
	c, err := experiment.LoadConfig(configPath)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%v: valid %v experiment, %v agent, "+
		"%v steps\n", configPath, c.Type, c.AgentConf.Type, c.MaxSteps)
	return nil
}

func runExperiment(cmd *cobra.Command, _ []string) error {
	logger, err := newLogger(cmd.ErrOrStderr(), logLevel)
	if err != nil {
		return err
	}

	c, err := experiment.LoadConfig(configPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt,
		syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	metrics, err := tracker.NewMetrics(reg, "sac")
	if err != nil {
		return err
	}
	if metricsAddr != "" {
		shutdown := serveMetrics(reg, metricsAddr, logger)
		defer shutdown()
	}

	opts := []experiment.Option{
		experiment.WithLogger(logger),
		experiment.WithMetrics(metrics),
	}
	if progress {
		opts = append(opts, experiment.WithProgress(cmd.ErrOrStderr()))
	}

	exp, a, err := createExperiment(c, opts...)
	if err != nil {
		return err
	}
	if closer, ok := a.(io.Closer); ok {
		defer closer.Close()
	}

	logger.Info("starting experiment",
		slog.String("config", configPath),
		slog.Uint64("seed", c.Seed),
		slog.Uint64("max_steps", uint64(c.MaxSteps)),
		slog.String("train_mode", string(c.TrainMode)),
	)
	start := time.Now()
	runErr := exp.Run(ctx)
	if errors.Is(runErr, context.Canceled) {
		logger.Warn("experiment interrupted, saving collected data")
		runErr = nil
	}
	if err := errors.Join(runErr, exp.Save()); err != nil {
		return err
	}

	if savePath != "" {
		saver, ok := a.(interface{ Save(string) error })
		if !ok {
			return fmt.Errorf("agent %T cannot be saved", a)
		}
		if err := saver.Save(savePath); err != nil {
			return err
		}
		logger.Info("saved agent", slog.String("file", savePath))
	}

	logger.Info("experiment finished",
		slog.Duration("elapsed", time.Since(start).Truncate(time.Millisecond)))
	return nil
}

// createExperiment creates the experiment described by c and returns
// it along with its agent
func createExperiment(c experiment.Config,
	opts ...experiment.Option) (experiment.Experiment, agent.Agent, error) {
	var a agent.Agent
	capture := func(o *experiment.Online) { a = o.Agent() }

	exp, err := c.CreateExp(append(opts, capture)...)
	if err != nil {
		return nil, nil, err
	}
	return exp, a, nil
}

// serveMetrics serves the metrics registered with reg on addr until the
// returned function is called
func serveMetrics(reg *prometheus.Registry, addr string,
	logger *slog.Logger) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("serving metrics", slog.String("addr", addr))
		err := server.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", slog.Any("error", err))
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = server.Shutdown(ctx)
	}
}
