// Package orchestrator sequences a measurement run: wait for the control
// channel, then for every point move the robot, check the gateway, measure
// with bounded retries and record each reading.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/LeonardoBeccarini/dust_patrol/internal/metrics"
	"github.com/LeonardoBeccarini/dust_patrol/internal/model"
	"github.com/LeonardoBeccarini/dust_patrol/pkg/rabbitmq"
	"github.com/LeonardoBeccarini/dust_patrol/pkg/rpa"
	"github.com/LeonardoBeccarini/dust_patrol/pkg/solair"
)

// Robot commands issued before every point id.
const (
	CmdGoHome        = "goHome"
	CmdClickBack     = "clickBackButton"
	CmdMeasuringSpot = "measuringSpot"
)

var ErrControlNotReady = errors.New("control channel not ready")

// CommandSender is the client side of the command channel.
type CommandSender interface {
	SendCommand(ctx context.Context, command string) (rpa.Response, error)
}

// Sink stores one reading; the store assigns the timestamp.
type Sink interface {
	Append(ctx context.Context, point string, dustLevel float64) error
}

type Config struct {
	Points            model.PointSequence
	DustThreshold     float64
	MaxRetries        int
	MeasurementSettle time.Duration
	MoveSettle        time.Duration
	Waypoint          string
	ReadyInterval     time.Duration
	ReadyTimeout      time.Duration // 0 waits until ctx ends
	TopicPrefix       string
}

type Orchestrator struct {
	cfg       Config
	channel   CommandSender
	gateway   solair.Gateway
	sink      Sink
	publisher rabbitmq.IPublisher
	metrics   *metrics.Orchestrator

	mu      sync.RWMutex
	ready   bool
	running bool
	last    Report
}

type Option func(*Orchestrator)

// WithPublisher mirrors attempts and point results to MQTT.
func WithPublisher(p rabbitmq.IPublisher) Option { return func(o *Orchestrator) { o.publisher = p } }

func WithMetrics(m *metrics.Orchestrator) Option { return func(o *Orchestrator) { o.metrics = m } }

func New(cfg Config, channel CommandSender, gateway solair.Gateway, sink Sink, opts ...Option) *Orchestrator {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.ReadyInterval <= 0 {
		cfg.ReadyInterval = 2 * time.Second
	}
	if cfg.Waypoint == "" {
		cfg.Waypoint = "Peanut"
	}
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = "dust"
	}
	o := &Orchestrator{cfg: cfg, channel: channel, gateway: gateway, sink: sink}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run performs one full pass over the point sequence. Per-point failures are
// reported in the Report; an error is returned only when the control channel
// never became ready or ctx was cancelled.
func (o *Orchestrator) Run(ctx context.Context) (Report, error) {
	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		return Report{}, errors.New("run already in progress")
	}
	o.running = true
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		o.running = false
		o.mu.Unlock()
	}()

	report := Report{RunID: uuid.NewString(), Started: time.Now()}
	o.store(report)
	log.Printf("orchestrator: run %s started, %d points", report.RunID, len(o.cfg.Points))

	finish := func(err error) (Report, error) {
		report.Finished = time.Now()
		if err != nil {
			report.Err = err.Error()
		}
		o.store(report)
		return report, err
	}

	if err := o.WaitControlReady(ctx); err != nil {
		return finish(err)
	}

	for _, point := range o.cfg.Points {
		res := o.VisitPoint(ctx, report.RunID, point)
		report.Points = append(report.Points, res)
		o.store(report)
		if res.Status == model.PointAborted && ctx.Err() != nil {
			log.Printf("orchestrator: run %s cancelled at point %s", report.RunID, point)
			return finish(ctx.Err())
		}
	}

	report.Completed = true
	log.Printf("orchestrator: run %s completed: %s", report.RunID, report.Summary())
	return finish(nil)
}

// WaitControlReady pings the control channel every ReadyInterval until a
// non-empty response arrives, ReadyTimeout elapses or ctx ends.
func (o *Orchestrator) WaitControlReady(ctx context.Context) error {
	if o.cfg.ReadyTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.ReadyTimeout)
		defer cancel()
	}
	log.Printf("orchestrator: waiting for control channel")

	ping := func() error {
		resp, err := o.channel.SendCommand(ctx, rpa.PingCommand)
		if err != nil {
			return err
		}
		if resp.Empty() {
			return rpa.ErrNoResponse
		}
		return nil
	}
	b := backoff.WithContext(backoff.NewConstantBackOff(o.cfg.ReadyInterval), ctx)
	err := backoff.RetryNotify(ping, b, func(err error, next time.Duration) {
		log.Printf("orchestrator: control not ready (%v), retrying in %v", err, next)
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrControlNotReady, err)
	}

	o.mu.Lock()
	o.ready = true
	o.mu.Unlock()
	log.Printf("orchestrator: control channel ready")
	return nil
}

// VisitPoint runs MOVE, GATE_CHECK and the measure loop for one point.
func (o *Orchestrator) VisitPoint(ctx context.Context, runID, point string) PointResult {
	res := PointResult{Point: point, Started: time.Now()}
	done := func(st model.PointStatus, err error) PointResult {
		res.Status = st
		res.Finished = time.Now()
		if err != nil {
			res.Err = err.Error()
		}
		o.metrics.Point(string(st))
		o.publishPoint(runID, res)
		log.Printf("orchestrator: point %s %s after %d attempts", point, st, len(res.Attempts))
		return res
	}

	if err := o.move(ctx, point); err != nil {
		log.Printf("orchestrator: point %s move failed: %v", point, err)
		return done(model.PointAborted, err)
	}

	if err := o.gateway.Probe(ctx); err != nil {
		if ctx.Err() != nil {
			return done(model.PointAborted, ctx.Err())
		}
		log.Printf("orchestrator: point %s skipped, gateway unreachable: %v", point, err)
		return done(model.PointSkipped, err)
	}

	for attempt := 1; attempt <= o.cfg.MaxRetries; attempt++ {
		a, err := o.measure(ctx, point, attempt)
		if err != nil {
			return done(model.PointAborted, err)
		}
		res.Attempts = append(res.Attempts, a)
		o.metrics.Attempt(string(a.Outcome))
		o.publishAttempt(runID, a)
		if a.Outcome == model.OutcomeAccepted {
			return done(model.PointSucceeded, nil)
		}
		log.Printf("orchestrator: point %s attempt %d/%d %s, retrying", point, attempt, o.cfg.MaxRetries, a.Outcome)
	}
	return done(model.PointFailed, fmt.Errorf("no acceptable reading after %d attempts", o.cfg.MaxRetries))
}

func (o *Orchestrator) move(ctx context.Context, point string) error {
	log.Printf("orchestrator: moving to point %s", point)
	for _, cmd := range []string{CmdGoHome, o.cfg.Waypoint, CmdClickBack, CmdMeasuringSpot, point} {
		if _, err := o.channel.SendCommand(ctx, cmd); err != nil {
			return fmt.Errorf("move to %s: command %q: %w", point, cmd, err)
		}
	}
	return sleep(ctx, o.cfg.MoveSettle)
}

// measure performs one start, settle, stop, read cycle. It returns an error
// only when ctx ends; every other failure is an attempt outcome.
func (o *Orchestrator) measure(ctx context.Context, point string, attempt int) (model.MeasurementAttempt, error) {
	a := model.MeasurementAttempt{Point: point, Attempt: attempt, At: time.Now()}

	if err := o.gateway.Start(ctx); err != nil {
		// the read below decides the attempt
		log.Printf("orchestrator: point %s attempt %d start failed: %v", point, attempt, err)
	}
	if err := sleep(ctx, o.cfg.MeasurementSettle); err != nil {
		return a, err
	}
	if err := o.gateway.Stop(ctx); err != nil {
		log.Printf("orchestrator: point %s attempt %d stop failed: %v", point, attempt, err)
	}

	regs, err := o.gateway.ReadLatest(ctx)
	if ctx.Err() != nil {
		return a, ctx.Err()
	}
	if err == nil && len(regs) == 0 {
		err = solair.ErrNoData
	}
	if err != nil {
		a.Outcome = model.OutcomeNoData
		a.Err = err.Error()
		log.Printf("orchestrator: point %s attempt %d no measurement: %v", point, attempt, err)
		return a, nil
	}

	a.DustLevel = float64(regs[0])
	a.Outcome = model.OutcomeExceeded
	if a.DustLevel <= o.cfg.DustThreshold {
		a.Outcome = model.OutcomeAccepted
	}
	o.metrics.DustLevel(point, a.DustLevel)
	log.Printf("orchestrator: point %s attempt %d dust level %.1f (%s)", point, attempt, a.DustLevel, a.Outcome)

	if err := o.sink.Append(ctx, point, a.DustLevel); err != nil {
		o.metrics.PersistFailed()
		a.Err = err.Error()
		log.Printf("orchestrator: point %s attempt %d persistence failure: %v", point, attempt, err)
	} else {
		a.Persisted = true
	}
	return a, nil
}

// Ready reports whether the control channel answered a ping.
func (o *Orchestrator) Ready() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.ready
}

// LastReport returns the report of the current or most recent run.
func (o *Orchestrator) LastReport() Report {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.last.clone()
}

func (o *Orchestrator) store(r Report) {
	o.mu.Lock()
	o.last = r.clone()
	o.mu.Unlock()
}

func (o *Orchestrator) publishAttempt(runID string, a model.MeasurementAttempt) {
	if o.publisher == nil {
		return
	}
	evt := model.MeasurementAttemptEvent{
		EventID:   uuid.NewString(),
		RunID:     runID,
		Point:     a.Point,
		Attempt:   a.Attempt,
		DustLevel: a.DustLevel,
		Outcome:   string(a.Outcome),
		Timestamp: a.At,
	}
	if err := o.publisher.PublishJSON(o.cfg.TopicPrefix+"/attempt/"+a.Point, evt); err != nil {
		log.Printf("orchestrator: publish attempt point=%s attempt=%d: %v", a.Point, a.Attempt, err)
	}
}

func (o *Orchestrator) publishPoint(runID string, r PointResult) {
	if o.publisher == nil {
		return
	}
	evt := model.PointResultEvent{
		EventID:   uuid.NewString(),
		RunID:     runID,
		Point:     r.Point,
		Status:    string(r.Status),
		Attempts:  len(r.Attempts),
		Timestamp: r.Finished,
	}
	if err := o.publisher.PublishJSON(o.cfg.TopicPrefix+"/point/"+r.Point, evt); err != nil {
		log.Printf("orchestrator: publish result point=%s: %v", r.Point, err)
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
