package aggregator

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LeonardoBeccarini/dust_patrol/internal/model"
	"github.com/LeonardoBeccarini/dust_patrol/pkg/rabbitmq"
)

type published struct {
	topic string
	evt   model.RunSummaryEvent
}

type recordingPublisher struct {
	mu  sync.Mutex
	out []published
}

func (p *recordingPublisher) PublishJSON(topic string, v any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.out = append(p.out, published{topic, v.(model.RunSummaryEvent)})
	return nil
}

func (p *recordingPublisher) all() []published {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]published(nil), p.out...)
}

type stubConsumer struct {
	handler rabbitmq.Handler
	ready   chan struct{}
}

func (s *stubConsumer) SetHandler(h rabbitmq.Handler) { s.handler = h }
func (s *stubConsumer) ConsumeMessage(ctx context.Context) error {
	close(s.ready)
	<-ctx.Done()
	return nil
}

func pointEvent(t *testing.T, id, run, status string, attempts int) []byte {
	t.Helper()
	b, err := json.Marshal(model.PointResultEvent{EventID: id, RunID: run, Point: "A1", Status: status, Attempts: attempts})
	require.NoError(t, err)
	return b
}

func TestAggregatePublishesChangedRunsOnly(t *testing.T) {
	pub := &recordingPublisher{}
	d := NewDataAggregatorService(&stubConsumer{}, pub, "dust", time.Minute)

	require.NoError(t, d.messageHandler("dust/point/A1", pointEvent(t, "e1", "r1", "succeeded", 1)))
	require.NoError(t, d.messageHandler("dust/point/A2", pointEvent(t, "e2", "r1", "failed", 3)))
	require.NoError(t, d.messageHandler("dust/point/A2", pointEvent(t, "e2", "r1", "failed", 3))) // redelivery
	require.NoError(t, d.messageHandler("dust/point/A1", pointEvent(t, "e3", "r2", "skipped", 0)))
	require.NoError(t, d.messageHandler("dust/point/A1", []byte("{broken")))

	assert.Equal(t, 2, d.aggregateAndPublish())
	out := pub.all()
	require.Len(t, out, 2)
	assert.Equal(t, "dust/run/r1", out[0].topic)
	assert.Equal(t, 2, out[0].evt.Points)
	assert.Equal(t, 4, out[0].evt.Attempts)
	assert.Equal(t, map[string]int{"succeeded": 1, "failed": 1}, out[0].evt.ByStatus)
	assert.Equal(t, "dust/run/r2", out[1].topic)

	assert.Zero(t, d.aggregateAndPublish(), "nothing changed")

	require.NoError(t, d.messageHandler("dust/point/A3", pointEvent(t, "e4", "r1", "aborted", 2)))
	assert.Equal(t, 1, d.aggregateAndPublish())
	last := pub.all()[2]
	assert.Equal(t, 3, last.evt.Points)
	assert.Equal(t, 1, last.evt.ByStatus["aborted"])
}

func TestStartFlushesOnCancel(t *testing.T) {
	pub := &recordingPublisher{}
	cons := &stubConsumer{ready: make(chan struct{})}
	d := NewDataAggregatorService(cons, pub, "dust", time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { d.Start(ctx); close(done) }()

	<-cons.ready
	require.NoError(t, cons.handler("dust/point/A1", pointEvent(t, "e1", "r9", "succeeded", 1)))
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return")
	}
	require.Len(t, pub.all(), 1)
	assert.Equal(t, "r9", pub.all()[0].evt.RunID)
}
