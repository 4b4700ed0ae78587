package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/edup2p/punchline/server/rendezvous"
	"github.com/edup2p/punchline/types"
)

func runServer(pCtx context.Context, cfg *fileConfig) error {
	ctx, stop := signal.NotifyContext(pCtx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	conn, err := types.ListenUDP(cfg.Rendezvous.Port)
	if err != nil {
		return fmt.Errorf("could not bind UDP port %d: %w", cfg.Rendezvous.Port, err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	srv, err := rendezvous.NewServer(cfg.Rendezvous, conn, rendezvous.WithMetrics(rendezvous.NewMetrics(reg)))
	if err != nil {
		_ = conn.Close()
		return err
	}

	if cfg.Rendezvous.MetricsAddr != "" {
		go serveMetrics(ctx, cfg.Rendezvous.MetricsAddr, reg)
	}

	return srv.Serve(ctx)
}

func serveMetrics(ctx context.Context, addr string, reg *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))

	hs := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()

		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		_ = hs.Shutdown(shutCtx)
	}()

	slog.Info("serving metrics", "addr", addr)

	if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("metrics server failed", "err", err)
	}
}
