package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"

	"github.com/LeonardoBeccarini/dust_patrol/internal/model"
	"github.com/LeonardoBeccarini/dust_patrol/pkg/dedup"
	"github.com/LeonardoBeccarini/dust_patrol/pkg/rabbitmq"
)

// AttemptWriter stores mirrored attempt events.
type AttemptWriter interface {
	WriteAttempt(ctx context.Context, evt model.MeasurementAttemptEvent) error
}

// Service mirrors the orchestrator's attempt events from MQTT into a time
// series store and keeps the latest reading per point in memory.
type Service struct {
	consumer rabbitmq.IConsumer
	writer   AttemptWriter
	dedup    *dedup.Deduper

	mu     sync.RWMutex
	latest map[string]model.MeasurementRecord
}

func NewService(consumer rabbitmq.IConsumer, writer AttemptWriter, d *dedup.Deduper) *Service {
	if d == nil {
		d = dedup.New(0, 0)
	}
	return &Service{
		consumer: consumer,
		writer:   writer,
		dedup:    d,
		latest:   make(map[string]model.MeasurementRecord),
	}
}

// Start consumes until ctx is cancelled.
func (s *Service) Start(ctx context.Context) error {
	s.consumer.SetHandler(func(topic string, payload []byte) error {
		return s.Handle(ctx, topic, payload)
	})
	return s.consumer.ConsumeMessage(ctx)
}

// Handle processes one attempt event. Malformed payloads are dropped so they
// do not stall the stream.
func (s *Service) Handle(ctx context.Context, topic string, payload []byte) error {
	var evt model.MeasurementAttemptEvent
	if err := json.Unmarshal(payload, &evt); err != nil {
		log.Printf("persistence: invalid JSON on %s: %v", topic, err)
		return nil
	}
	if evt.Point == "" {
		evt.Point = pointFromTopic(topic)
	}
	if !s.dedup.ShouldProcess(evt.EventID) {
		log.Printf("persistence: duplicate event %s on %s dropped", evt.EventID, topic)
		return nil
	}
	if evt.Outcome == string(model.OutcomeNoData) {
		return nil
	}

	s.remember(evt)
	if s.writer == nil {
		return nil
	}
	if err := s.writer.WriteAttempt(ctx, evt); err != nil {
		return fmt.Errorf("mirror point=%s attempt=%d: %w", evt.Point, evt.Attempt, err)
	}
	log.Printf("persistence: mirrored point=%s attempt=%d dust=%.1f outcome=%s",
		evt.Point, evt.Attempt, evt.DustLevel, evt.Outcome)
	return nil
}

func (s *Service) remember(evt model.MeasurementAttemptEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.latest[evt.Point]; ok && cur.Timestamp.After(evt.Timestamp) {
		return
	}
	s.latest[evt.Point] = model.MeasurementRecord{
		Point:     evt.Point,
		DustLevel: evt.DustLevel,
		Timestamp: evt.Timestamp,
	}
}

// LatestCache returns the cached readings sorted by point.
func (s *Service) LatestCache() []model.MeasurementRecord {
	s.mu.RLock()
	out := make([]model.MeasurementRecord, 0, len(s.latest))
	for _, r := range s.latest {
		out = append(out, r)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Point < out[j].Point })
	return out
}

// pointFromTopic takes the last level of "<prefix>/attempt/<point>".
func pointFromTopic(topic string) string {
	if i := strings.LastIndex(topic, "/"); i >= 0 {
		return topic[i+1:]
	}
	return topic
}
