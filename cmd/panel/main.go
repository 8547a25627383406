package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/skyportlabs/panel/internal/api"
	"github.com/skyportlabs/panel/internal/audit"
	"github.com/skyportlabs/panel/internal/auth"
	"github.com/skyportlabs/panel/internal/config"
	"github.com/skyportlabs/panel/internal/metrics"
	"github.com/skyportlabs/panel/internal/node"
	"github.com/skyportlabs/panel/internal/observability"
	"github.com/skyportlabs/panel/internal/redeploy"
	"github.com/skyportlabs/panel/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("config error: %v", err))
	}
	logger := observability.NewLogger(cfg.Observability.LogLevel)

	kv, err := openStore(cfg.Storage)
	if err != nil {
		logger.Error("store_init_failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer kv.Close()
	recs := store.NewRecords(kv)

	var recorder audit.Recorder
	if cfg.Audit.NATSURL != "" {
		natsRec, err := audit.NewNATSRecorder(cfg.Audit.NATSURL, cfg.Audit.Subject, logger)
		if err != nil {
			logger.Error("audit_init_failed", slog.String("error", err.Error()))
			os.Exit(1)
		}
		defer natsRec.Close()
		recorder = natsRec
	} else {
		recorder = &audit.LogRecorder{Logger: logger}
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	nodes := node.NewClient(time.Duration(cfg.Node.TimeoutSeconds)*time.Second, logger)
	orch := redeploy.NewOrchestrator(recs, nodes, recorder, m, logger)

	metricsHandler := promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	apiServer := api.New(cfg, orch, recs, metricsHandler, logger)
	routes := apiServer.Routes()

	gate := auth.NewGate(cfg.Auth)
	protected := gate.Middleware(routes)
	var root http.Handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if cfg.Server.HealthPublic && (r.URL.Path == "/healthz" || r.URL.Path == "/readyz") {
			routes.ServeHTTP(w, r)
			return
		}
		protected.ServeHTTP(w, r)
	})
	root = observability.Middleware(logger, m, root)

	httpSrv := &http.Server{
		Addr:         cfg.Server.ListenAddr,
		Handler:      root,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeoutSeconds) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeoutSeconds) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeoutSeconds) * time.Second,
	}

	go func() {
		logger.Info("panel_start", slog.String("listen_addr", cfg.Server.ListenAddr), slog.String("storage_driver", cfg.Storage.Driver))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server_failed", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}()

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown_failed", slog.String("error", err.Error()))
	}
	logger.Info("panel_stopped")
}

func openStore(cfg config.StorageConfig) (store.KV, error) {
	switch cfg.Driver {
	case "memory":
		return store.NewMemKV(), nil
	default:
		return store.NewBadgerKV(cfg.Path)
	}
}
