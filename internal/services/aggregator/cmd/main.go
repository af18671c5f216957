package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/LeonardoBeccarini/dust_patrol/internal/config"
	"github.com/LeonardoBeccarini/dust_patrol/internal/logging"
	"github.com/LeonardoBeccarini/dust_patrol/internal/services/aggregator"
	"github.com/LeonardoBeccarini/dust_patrol/pkg/rabbitmq"
)

func main() {
	var configPath string
	config.AddConfigFlag(pflag.CommandLine, &configPath)
	pflag.Parse()

	cfg, err := config.Load(config.New(), configPath)
	if err != nil {
		log.Fatalf("aggregator: %v", err)
	}
	defer logging.Setup(logging.Options{Prefix: "[aggregator]", File: cfg.Log.File,
		MaxSizeMB: cfg.Log.MaxSizeMB, MaxBackups: cfg.Log.MaxBackups}).Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client, err := rabbitmq.NewRabbitMQConn(ctx, &rabbitmq.RabbitMQConfig{
		Host:     cfg.MQTT.Host,
		Port:     cfg.MQTT.Port,
		User:     cfg.MQTT.User,
		Password: cfg.MQTT.Password,
		ClientID: cfg.MQTT.ClientID + "-aggregator",
	})
	if err != nil {
		log.Fatalf("aggregator: mqtt connect failed: %v", err)
	}
	defer rabbitmq.CloseRabbitMQConn(client)

	publisher := rabbitmq.NewPublisher(client, 1)
	consumer := rabbitmq.NewConsumer(client, cfg.MQTT.TopicPrefix+"/point/#", 1, nil)

	svc := aggregator.NewDataAggregatorService(consumer, publisher, cfg.MQTT.TopicPrefix, cfg.Aggregator.Interval)
	log.Printf("aggregator: running, cycle %v", cfg.Aggregator.Interval)
	svc.Start(ctx)
}
