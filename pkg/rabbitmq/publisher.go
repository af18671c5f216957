package rabbitmq

import (
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// IPublisher sends one JSON document to a topic.
type IPublisher interface {
	PublishJSON(topic string, v any) error
}

type Publisher struct {
	client  mqtt.Client
	qos     byte
	timeout time.Duration
}

func NewPublisher(client mqtt.Client, qos byte) *Publisher {
	return &Publisher{client: client, qos: qos, timeout: 5 * time.Second}
}

// PublishJSON marshals v and waits for the broker to take it.
func (p *Publisher) PublishJSON(topic string, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %T: %w", v, err)
	}
	token := p.client.Publish(topic, p.qos, false, body)
	if !token.WaitTimeout(p.timeout) {
		return fmt.Errorf("publish to %s: timed out after %v", topic, p.timeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	return nil
}
