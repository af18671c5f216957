package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/pflag"

	"github.com/LeonardoBeccarini/dust_patrol/internal/config"
	"github.com/LeonardoBeccarini/dust_patrol/internal/grpchealth"
	"github.com/LeonardoBeccarini/dust_patrol/internal/logging"
	"github.com/LeonardoBeccarini/dust_patrol/internal/metrics"
	"github.com/LeonardoBeccarini/dust_patrol/internal/services/control"
	"github.com/LeonardoBeccarini/dust_patrol/internal/services/orchestrator"
	"github.com/LeonardoBeccarini/dust_patrol/internal/services/persistence"
	"github.com/LeonardoBeccarini/dust_patrol/pkg/rabbitmq"
	"github.com/LeonardoBeccarini/dust_patrol/pkg/rpa"
	"github.com/LeonardoBeccarini/dust_patrol/pkg/solair"
)

const healthService = "dust.Orchestrator"

func main() {
	var configPath string
	config.AddConfigFlag(pflag.CommandLine, &configPath)
	once := pflag.Bool("once", false, "exit after the run instead of keeping the status endpoints up")
	pflag.Parse()

	cfg, err := config.Load(config.New(), configPath)
	if err != nil {
		log.Fatalf("orchestrator: %v", err)
	}
	defer logging.Setup(logging.Options{
		Prefix:     "[orchestrator]",
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
	}).Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	om := metrics.NewOrchestrator(reg)

	// --- embedded control server (bench setups without the phone) ---
	if cfg.Orchestrator.EmbedControlServer {
		srv := control.NewServer(control.Config{
			BindAddress:      cfg.Control.BindAddress,
			Port:             cfg.Control.Port,
			HandshakeTimeout: cfg.Control.HandshakeTimeout,
			IdleTimeout:      cfg.Control.IdleTimeout,
			MaxLineBytes:     cfg.Control.MaxLineBytes,
			MaxConnections:   cfg.Control.MaxConnections,
		}, nil)
		srv.SetMetrics(metrics.NewControl(reg))
		if err := srv.Listen(); err != nil {
			log.Fatalf("orchestrator: embedded control server: %v", err)
		}
		go func() {
			if err := srv.Serve(ctx); err != nil {
				log.Printf("orchestrator: embedded control server: %v", err)
			}
		}()
	}

	// --- command channel ---
	channel := rpa.NewClient(rpa.ClientConfig{
		Addr:            cfg.Channel.Address,
		DialTimeout:     cfg.Channel.DialTimeout,
		ReadTimeout:     cfg.Channel.ReadTimeout,
		BulkReadTimeout: cfg.Channel.BulkReadTimeout,
	})
	channel.SetObserver(om.ObserveCommand)

	// --- measurement gateway ---
	gw := solair.NewBreaker(solair.New(solair.Config{
		Address:   cfg.Gateway.Address,
		SlaveID:   byte(cfg.Gateway.SlaveID),
		Timeout:   cfg.Gateway.Timeout,
		StartMode: uint16(cfg.Gateway.StartMode),
		StopMode:  uint16(cfg.Gateway.StopMode),
	}), "solair", cfg.Gateway.BreakerFailures, cfg.Gateway.BreakerOpenFor)

	// --- persistence ---
	store, err := persistence.OpenSQLite(cfg.Storage.SQLitePath)
	if err != nil {
		log.Fatalf("orchestrator: %v", err)
	}
	defer store.Close()

	var sink orchestrator.Sink = store
	if cfg.Storage.Influx.Enabled() {
		client := influxdb2.NewClient(cfg.Storage.Influx.URL, cfg.Storage.Influx.Token)
		defer client.Close()
		influx, err := persistence.NewInfluxSink(client, persistence.InfluxConfig{
			InfluxURL:    cfg.Storage.Influx.URL,
			InfluxToken:  cfg.Storage.Influx.Token,
			InfluxOrg:    cfg.Storage.Influx.Org,
			InfluxBucket: cfg.Storage.Influx.Bucket,
			Measurement:  cfg.Storage.Influx.Measurement,
		})
		if err != nil {
			log.Fatalf("orchestrator: %v", err)
		}
		sink = persistence.NewMulti(store, influx)
	}

	opts := []orchestrator.Option{orchestrator.WithMetrics(om)}
	if cfg.MQTT.Enabled {
		mq, err := rabbitmq.NewRabbitMQConn(ctx, &rabbitmq.RabbitMQConfig{
			Host:     cfg.MQTT.Host,
			Port:     cfg.MQTT.Port,
			User:     cfg.MQTT.User,
			Password: cfg.MQTT.Password,
			ClientID: cfg.MQTT.ClientID + "-orchestrator",
		})
		if err != nil {
			// events are a mirror; the run goes on without them
			log.Printf("orchestrator: mqtt disabled: %v", err)
		} else {
			opts = append(opts, orchestrator.WithPublisher(rabbitmq.NewPublisher(mq, 1)))
		}
	}

	orc := orchestrator.New(orchestrator.Config{
		Points:            cfg.Orchestrator.PointSequence,
		DustThreshold:     cfg.Orchestrator.DustThreshold,
		MaxRetries:        cfg.Orchestrator.MaxRetries,
		MeasurementSettle: cfg.Orchestrator.MeasurementSettle(),
		MoveSettle:        cfg.Orchestrator.MoveSettle(),
		Waypoint:          cfg.Orchestrator.Waypoint,
		ReadyInterval:     cfg.Orchestrator.ReadyInterval,
		ReadyTimeout:      cfg.Orchestrator.ReadyTimeout,
		TopicPrefix:       cfg.MQTT.TopicPrefix,
	}, channel, gw, sink, opts...)

	// --- status surfaces ---
	hs, err := grpchealth.Listen(cfg.Orchestrator.GRPCAddr, healthService)
	if err != nil {
		log.Fatalf("orchestrator: %v", err)
	}
	go func() {
		if err := hs.Serve(ctx); err != nil {
			log.Printf("orchestrator: grpc health stopped: %v", err)
		}
	}()

	httpSrv := &http.Server{
		Addr:              cfg.Orchestrator.HTTPAddr,
		Handler:           orchestrator.NewHTTPMux(orc, store, reg),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Printf("orchestrator: HTTP listening on %s", cfg.Orchestrator.HTTPAddr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("orchestrator: http server error: %v", err)
		}
	}()

	hs.SetServing(healthService, true)
	report, err := orc.Run(ctx)
	if err != nil {
		log.Printf("orchestrator: run %s ended early: %v", report.RunID, err)
		hs.SetServing(healthService, false)
	} else {
		log.Printf("orchestrator: all measurement points completed (%s)", report.Summary())
	}

	if !*once {
		<-ctx.Done()
	}
	stop()

	shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(shCtx)
	log.Println("orchestrator: shutdown complete")
}
