package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/LeonardoBeccarini/dust_patrol/internal/config"
	"github.com/LeonardoBeccarini/dust_patrol/internal/logging"
	"github.com/LeonardoBeccarini/dust_patrol/internal/services/gateway/app"
)

func main() {
	var configPath string
	config.AddConfigFlag(pflag.CommandLine, &configPath)
	pflag.Parse()

	cfg, err := config.Load(config.New(), configPath)
	if err != nil {
		log.Fatalf("gateway: %v", err)
	}
	defer logging.Setup(logging.Options{
		Prefix:     "[gateway]",
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
	}).Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g := app.NewGateway(app.Config{
		OrchestratorURL: cfg.Dashboard.OrchestratorURL,
		PersistenceURL:  cfg.Dashboard.PersistenceURL,
		ControlURL:      cfg.Dashboard.ControlURL,
		HTTPTimeout:     cfg.Dashboard.Timeout,
		DustThreshold:   cfg.Orchestrator.DustThreshold,
		BreakerFailures: cfg.Dashboard.BreakerFailures,
		BreakerOpenFor:  cfg.Dashboard.BreakerOpenFor,
	})

	srv := &http.Server{
		Addr:              cfg.Dashboard.HTTPAddr,
		Handler:           g.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Printf("gateway: listening on %s", cfg.Dashboard.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("gateway: http server error: %v", err)
		}
	}()

	<-ctx.Done()
	stop()

	shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shCtx)
	log.Println("gateway: shutdown complete")
}
