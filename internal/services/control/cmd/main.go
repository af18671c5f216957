package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"

	"github.com/LeonardoBeccarini/dust_patrol/internal/config"
	"github.com/LeonardoBeccarini/dust_patrol/internal/grpchealth"
	"github.com/LeonardoBeccarini/dust_patrol/internal/logging"
	"github.com/LeonardoBeccarini/dust_patrol/internal/metrics"
	"github.com/LeonardoBeccarini/dust_patrol/internal/services/control"
	"github.com/LeonardoBeccarini/dust_patrol/pkg/rpa"
)

const healthService = "rpa.Control"

func main() {
	var configPath string
	config.AddConfigFlag(pflag.CommandLine, &configPath)
	pflag.Parse()

	cfg, err := config.Load(config.New(), configPath)
	if err != nil {
		log.Fatalf("control: %v", err)
	}
	defer logging.Setup(logging.Options{
		Prefix:     "[control]",
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
	}).Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	registry := control.NewRegistry(nil)
	srv := control.NewServer(control.Config{
		BindAddress:      cfg.Control.BindAddress,
		Port:             cfg.Control.Port,
		HandshakeTimeout: cfg.Control.HandshakeTimeout,
		IdleTimeout:      cfg.Control.IdleTimeout,
		MaxLineBytes:     cfg.Control.MaxLineBytes,
		MaxConnections:   cfg.Control.MaxConnections,
	}, registry)
	srv.SetMetrics(metrics.NewControl(reg))
	registry.Register(rpa.FullUICommand, control.ConnectionDump(srv))

	// bind failure is the only fatal condition
	if err := srv.Listen(); err != nil {
		log.Fatalf("control: %v", err)
	}

	hs, err := grpchealth.Listen(cfg.Control.GRPCAddr, healthService)
	if err != nil {
		log.Fatalf("control: %v", err)
	}
	go func() {
		if err := hs.Serve(ctx); err != nil {
			log.Printf("control: grpc health stopped: %v", err)
		}
	}()
	hs.SetServing(healthService, true)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte("ok")) })
	mux.HandleFunc("/connections", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(srv.Connections())
	})
	httpSrv := &http.Server{Addr: cfg.Control.HTTPAddr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		log.Printf("control: HTTP listening on %s", cfg.Control.HTTPAddr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("control: http server error: %v", err)
		}
	}()

	if err := srv.Serve(ctx); err != nil {
		log.Printf("control: serve: %v", err)
	}
	hs.SetServing(healthService, false)

	shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(shCtx)
	log.Println("control: shutdown complete")
}
