package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type doneToken struct{ err error }

func (t doneToken) Wait() bool                     { return true }
func (t doneToken) WaitTimeout(time.Duration) bool { return true }
func (t doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (t doneToken) Error() error { return t.err }

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 1 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 1 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

// fakeClient records publishes and lets tests deliver messages to the
// subscription callback. Unused mqtt.Client methods panic.
type fakeClient struct {
	mqtt.Client

	mu         sync.Mutex
	published  map[string][]byte
	qos        byte
	publishErr error
	subscribed chan mqtt.MessageHandler
	unsubbed   []string
}

func newFakeClient() *fakeClient {
	return &fakeClient{published: map[string][]byte{}, subscribed: make(chan mqtt.MessageHandler, 1)}
}

func (f *fakeClient) Publish(topic string, qos byte, _ bool, payload interface{}) mqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published[topic] = payload.([]byte)
	f.qos = qos
	return doneToken{err: f.publishErr}
}

func (f *fakeClient) Subscribe(_ string, _ byte, cb mqtt.MessageHandler) mqtt.Token {
	f.subscribed <- cb
	return doneToken{}
}

func (f *fakeClient) Unsubscribe(topics ...string) mqtt.Token {
	f.mu.Lock()
	f.unsubbed = append(f.unsubbed, topics...)
	f.mu.Unlock()
	return doneToken{}
}

func TestPublishJSON(t *testing.T) {
	c := newFakeClient()
	p := NewPublisher(c, 1)

	require.NoError(t, p.PublishJSON("dust/attempt/A1", map[string]any{"point": "A1", "dust_level": 42.5}))

	var got map[string]any
	require.NoError(t, json.Unmarshal(c.published["dust/attempt/A1"], &got))
	assert.Equal(t, "A1", got["point"])
	assert.Equal(t, 42.5, got["dust_level"])
	assert.Equal(t, byte(1), c.qos)
}

func TestPublishJSONBrokerError(t *testing.T) {
	c := newFakeClient()
	c.publishErr = errors.New("not connected")
	err := NewPublisher(c, 1).PublishJSON("dust/point/A1", struct{}{})
	assert.ErrorContains(t, err, "not connected")
}

func TestConsumerDeliversUntilCancel(t *testing.T) {
	c := newFakeClient()
	got := make(chan string, 1)
	cons := NewConsumer(c, "dust/attempt/#", 1, func(topic string, payload []byte) error {
		got <- topic + " " + string(payload)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- cons.ConsumeMessage(ctx) }()

	cb := <-c.subscribed
	cb(c, fakeMessage{topic: "dust/attempt/A1", payload: []byte(`{"x":1}`)})
	assert.Equal(t, `dust/attempt/A1 {"x":1}`, <-got)

	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, []string{"dust/attempt/#"}, c.unsubbed)
}
