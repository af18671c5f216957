package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/LeonardoBeccarini/dust_patrol/internal/config"
	"github.com/LeonardoBeccarini/dust_patrol/internal/logging"
	sensorSimulator "github.com/LeonardoBeccarini/dust_patrol/internal/sensor-simulator"
)

func main() {
	var configPath string
	config.AddConfigFlag(pflag.CommandLine, &configPath)
	seed := pflag.Int64("seed", 0, "random seed, 0 picks one from the clock")
	pflag.Parse()

	cfg, err := config.Load(config.New(), configPath)
	if err != nil {
		log.Fatalf("simulator: %v", err)
	}
	defer logging.Setup(logging.Options{Prefix: "[solair-sim]", File: cfg.Log.File,
		MaxSizeMB: cfg.Log.MaxSizeMB, MaxBackups: cfg.Log.MaxBackups}).Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	gen := sensorSimulator.NewDataGenerator(cfg.Simulator.Baseline, cfg.Simulator.Amplitude, *seed)
	sim := sensorSimulator.NewSensorSimulator(gen)
	if err := sim.Listen(cfg.Simulator.Address); err != nil {
		log.Fatalf("simulator: listen %s: %v", cfg.Simulator.Address, err)
	}
	defer sim.Close()

	<-ctx.Done()
	starts, stops := sim.Counts()
	log.Printf("simulator: shutting down after %d starts, %d stops", starts, stops)
}
