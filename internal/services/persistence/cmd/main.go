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
	"github.com/spf13/pflag"

	"github.com/LeonardoBeccarini/dust_patrol/internal/config"
	"github.com/LeonardoBeccarini/dust_patrol/internal/logging"
	"github.com/LeonardoBeccarini/dust_patrol/internal/services/persistence"
	"github.com/LeonardoBeccarini/dust_patrol/pkg/dedup"
	"github.com/LeonardoBeccarini/dust_patrol/pkg/rabbitmq"
)

func main() {
	var configPath string
	config.AddConfigFlag(pflag.CommandLine, &configPath)
	pflag.Parse()

	cfg, err := config.Load(config.New(), configPath)
	if err != nil {
		log.Fatalf("persistence: %v", err)
	}
	defer logging.Setup(logging.Options{
		Prefix:     "[persistence]",
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
	}).Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- MQTT ---
	mq, err := rabbitmq.NewRabbitMQConn(ctx, &rabbitmq.RabbitMQConfig{
		Host:     cfg.MQTT.Host,
		Port:     cfg.MQTT.Port,
		User:     cfg.MQTT.User,
		Password: cfg.MQTT.Password,
		ClientID: cfg.MQTT.ClientID + "-persistence",
	})
	if err != nil {
		log.Fatalf("persistence: mqtt connect failed: %v", err)
	}
	defer rabbitmq.CloseRabbitMQConn(mq)
	topic := cfg.MQTT.TopicPrefix + "/attempt/#"
	consumer := rabbitmq.NewConsumer(mq, topic, 1, nil)

	// --- InfluxDB ---
	influxClient := influxdb2.NewClient(cfg.Storage.Influx.URL, cfg.Storage.Influx.Token)
	defer influxClient.Close()
	influx, err := persistence.NewInfluxSink(influxClient, persistence.InfluxConfig{
		InfluxURL:    cfg.Storage.Influx.URL,
		InfluxToken:  cfg.Storage.Influx.Token,
		InfluxOrg:    cfg.Storage.Influx.Org,
		InfluxBucket: cfg.Storage.Influx.Bucket,
		Measurement:  cfg.Storage.Influx.Measurement,
	})
	if err != nil {
		log.Fatalf("persistence: %v (set DUST_STORAGE_INFLUX_URL, _TOKEN, _ORG and _BUCKET)", err)
	}

	svc := persistence.NewService(consumer, influx, dedup.New(10*time.Minute, 10000))

	mux := persistence.NewHTTPMux(svc, influx, persistence.Health{
		MQTTConnected: mq.IsConnectionOpen,
		Influx:        influx,
		MinErrorAge:   30 * time.Second,
	})
	srv := &http.Server{
		Addr:              cfg.Storage.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Printf("persistence: HTTP listening on %s", cfg.Storage.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("persistence: http server error: %v", err)
		}
	}()

	log.Printf("persistence: consuming %s", topic)
	go func() {
		if err := svc.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("persistence: consumer stopped: %v", err)
		}
	}()

	<-ctx.Done()
	stop()

	shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shCtx)
	log.Println("persistence: shutdown complete")
}
