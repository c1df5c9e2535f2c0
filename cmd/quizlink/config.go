package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/risa-org/quizlink/client"
	"github.com/risa-org/quizlink/metrics"
	"github.com/risa-org/quizlink/reserve"
	"github.com/risa-org/quizlink/store/file"
)

// sessionFlags are shared by the commands that open a session.
type sessionFlags struct {
	storePath   string
	metricsAddr string
	timeout     time.Duration
}

func (f *sessionFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.storePath, "store", envOr(envStore, ""), "file to keep resume tokens in")
	cmd.Flags().StringVar(&f.metricsAddr, "metrics-addr", envOr(envMetricsAddr, ""), "serve prometheus metrics on this address")
	cmd.Flags().DurationVar(&f.timeout, "timeout", 10*time.Second, "how long to wait for each acknowledgement")
}

// build assembles the client config and starts the metrics endpoint when
// asked. The returned func stops it.
func (f *sessionFlags) build(cmd *cobra.Command, logger *slog.Logger) (client.Config, func(), error) {
	base, _ := cmd.Flags().GetString("base-url")

	cfg := client.DefaultConfig()
	cfg.BaseURL = base
	cfg.Reserver = &reserve.Client{BaseURL: base}
	cfg.RequestTimeout = f.timeout
	cfg.Logger = logger
	cfg.UserAgent = "quizlink/" + version

	if f.storePath != "" {
		st, err := file.New(f.storePath)
		if err != nil {
			return cfg, nil, err
		}
		cfg.Store = st
	}

	stop := func() {}
	if f.metricsAddr != "" {
		cfg.Metrics = metrics.New()
		stop = serveMetrics(f.metricsAddr, cfg.Metrics, logger)
	}
	return cfg, stop, nil
}

func serveMetrics(addr string, m *metrics.Collector, logger *slog.Logger) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.Registry(), promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server", "err", err)
		}
	}()
	logger.Info("serving metrics", "addr", addr)

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	}
}
