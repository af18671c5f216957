package rabbitmq

import (
	"context"
	"fmt"
	"log"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Handler processes one message. Returned errors are logged; the message is
// not redelivered by this layer.
type Handler func(topic string, payload []byte) error

type IConsumer interface {
	ConsumeMessage(ctx context.Context) error
	SetHandler(handler Handler)
}

type Consumer struct {
	client  mqtt.Client
	topic   string
	qos     byte
	handler Handler
}

func NewConsumer(client mqtt.Client, topic string, qos byte, handler Handler) *Consumer {
	return &Consumer{client: client, topic: topic, qos: qos, handler: handler}
}

func (c *Consumer) SetHandler(handler Handler) { c.handler = handler }

// ConsumeMessage subscribes and blocks until ctx is cancelled.
func (c *Consumer) ConsumeMessage(ctx context.Context) error {
	token := c.client.Subscribe(c.topic, c.qos, func(_ mqtt.Client, msg mqtt.Message) {
		if c.handler == nil {
			log.Printf("mqtt: no handler set for %s", c.topic)
			return
		}
		if err := c.handler(msg.Topic(), msg.Payload()); err != nil {
			log.Printf("mqtt: handling message on %s: %v", msg.Topic(), err)
		}
	})
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("subscribe %s: %w", c.topic, token.Error())
	}
	log.Printf("mqtt: subscribed to %s (qos %d)", c.topic, c.qos)

	<-ctx.Done()

	c.client.Unsubscribe(c.topic).Wait()
	return nil
}
