// Package aggregator folds point results into per-run summaries and
// republishes them on a fixed cycle.
package aggregator

import (
	"context"
	"encoding/json"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/LeonardoBeccarini/dust_patrol/internal/model"
	"github.com/LeonardoBeccarini/dust_patrol/pkg/dedup"
	"github.com/LeonardoBeccarini/dust_patrol/pkg/rabbitmq"
)

type runTally struct {
	summary model.RunSummaryEvent
	dirty   bool
}

type DataAggregatorService struct {
	consumer            rabbitmq.IConsumer
	publisher           rabbitmq.IPublisher
	topicPrefix         string
	aggregationInterval time.Duration
	dedup               *dedup.Deduper

	mutex sync.Mutex
	runs  map[string]*runTally
}

func NewDataAggregatorService(consumer rabbitmq.IConsumer, publisher rabbitmq.IPublisher, topicPrefix string, aggregationInterval time.Duration) *DataAggregatorService {
	if aggregationInterval <= 0 {
		aggregationInterval = time.Minute
	}
	return &DataAggregatorService{
		consumer:            consumer,
		publisher:           publisher,
		topicPrefix:         topicPrefix,
		aggregationInterval: aggregationInterval,
		dedup:               dedup.New(time.Hour, 10000),
		runs:                make(map[string]*runTally),
	}
}

func (d *DataAggregatorService) messageHandler(topic string, payload []byte) error {
	var evt model.PointResultEvent
	if err := json.Unmarshal(payload, &evt); err != nil {
		log.Printf("aggregator: invalid point result on %s: %v", topic, err)
		return nil
	}
	if evt.RunID == "" || !d.dedup.ShouldProcess(evt.EventID) {
		return nil
	}

	d.mutex.Lock()
	defer d.mutex.Unlock()
	t, ok := d.runs[evt.RunID]
	if !ok {
		t = &runTally{summary: model.RunSummaryEvent{RunID: evt.RunID, ByStatus: map[string]int{}}}
		d.runs[evt.RunID] = t
	}
	t.summary.Points++
	t.summary.ByStatus[evt.Status]++
	t.summary.Attempts += evt.Attempts
	t.dirty = true
	return nil
}

// Start consumes and publishes until ctx is cancelled.
func (d *DataAggregatorService) Start(ctx context.Context) {
	d.consumer.SetHandler(d.messageHandler)
	go func() {
		if err := d.consumer.ConsumeMessage(ctx); err != nil {
			log.Printf("aggregator: consumer stopped: %v", err)
		}
	}()

	ticker := time.NewTicker(d.aggregationInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.aggregateAndPublish()
			return
		case <-ticker.C:
			d.aggregateAndPublish()
		}
	}
}

// aggregateAndPublish publishes every run that changed since the last cycle.
func (d *DataAggregatorService) aggregateAndPublish() int {
	d.mutex.Lock()
	var out []model.RunSummaryEvent
	for _, t := range d.runs {
		if !t.dirty {
			continue
		}
		t.dirty = false
		s := t.summary
		s.ByStatus = make(map[string]int, len(t.summary.ByStatus))
		for k, v := range t.summary.ByStatus {
			s.ByStatus[k] = v
		}
		s.Timestamp = time.Now()
		out = append(out, s)
	}
	d.mutex.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].RunID < out[j].RunID })
	for _, s := range out {
		if err := d.publisher.PublishJSON(d.topicPrefix+"/run/"+s.RunID, s); err != nil {
			log.Printf("aggregator: publish run %s: %v", s.RunID, err)
			continue
		}
		log.Printf("aggregator: run %s: %d points %v", s.RunID, s.Points, s.ByStatus)
	}
	return len(out)
}
