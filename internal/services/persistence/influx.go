package persistence

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/LeonardoBeccarini/dust_patrol/internal/model"
)

type InfluxConfig struct {
	InfluxURL    string
	InfluxToken  string
	InfluxOrg    string
	InfluxBucket string
	Measurement  string // default "dust_level"
}

var ErrInfluxNotConfigured = errors.New("influx not configured")

// InfluxSink writes readings as points tagged by measurement point and keeps
// the time of the last write error for the health endpoints.
type InfluxSink struct {
	writeAPI    api.WriteAPIBlocking
	queryAPI    api.QueryAPI
	bucket      string
	measurement string

	mu      sync.RWMutex
	lastErr time.Time
}

func NewInfluxSink(client influxdb2.Client, cfg InfluxConfig) (*InfluxSink, error) {
	if cfg.InfluxURL == "" || cfg.InfluxToken == "" || cfg.InfluxOrg == "" || cfg.InfluxBucket == "" {
		return nil, ErrInfluxNotConfigured
	}
	return newInfluxSink(client.WriteAPIBlocking(cfg.InfluxOrg, cfg.InfluxBucket), client.QueryAPI(cfg.InfluxOrg), cfg), nil
}

func newInfluxSink(w api.WriteAPIBlocking, q api.QueryAPI, cfg InfluxConfig) *InfluxSink {
	m := cfg.Measurement
	if m == "" {
		m = "dust_level"
	}
	return &InfluxSink{
		writeAPI:    w,
		queryAPI:    q,
		bucket:      cfg.InfluxBucket,
		measurement: sanitizeMeasurement(m),
		lastErr:     time.Now().Add(-24 * time.Hour),
	}
}

func (s *InfluxSink) Append(ctx context.Context, point string, dustLevel float64) error {
	p := influxdb2.NewPoint(s.measurement,
		map[string]string{"point": point},
		map[string]interface{}{"dust_level": dustLevel},
		time.Now())
	if err := s.write(ctx, p); err != nil {
		return writeFailed("influx write", err)
	}
	return nil
}

// WriteAttempt stores a mirrored attempt event with its run and outcome.
func (s *InfluxSink) WriteAttempt(ctx context.Context, evt model.MeasurementAttemptEvent) error {
	ts := evt.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	p := influxdb2.NewPoint(s.measurement,
		map[string]string{"point": evt.Point, "run_id": evt.RunID, "outcome": evt.Outcome},
		map[string]interface{}{"dust_level": evt.DustLevel, "attempt": int64(evt.Attempt)},
		ts)
	if err := s.write(ctx, p); err != nil {
		return writeFailed("influx write", err)
	}
	return nil
}

func (s *InfluxSink) write(ctx context.Context, p *write.Point) error {
	err := s.writeAPI.WritePoint(ctx, p)
	if err != nil {
		s.mu.Lock()
		s.lastErr = time.Now()
		s.mu.Unlock()
		log.Printf("persistence: influx write error: %v", err)
	}
	return err
}

// LastErrorAge is how long ago the last write failed.
func (s *InfluxSink) LastErrorAge() time.Duration {
	if s == nil {
		return 99999 * time.Hour
	}
	s.mu.RLock()
	t := s.lastErr
	s.mu.RUnlock()
	return time.Since(t)
}

func (s *InfluxSink) buildFlux(minutes int) string {
	return fmt.Sprintf(`
from(bucket: %q)
  |> range(start: -%dm)
  |> filter(fn: (r) => r._measurement == %q and r._field == "dust_level")
  |> group(columns: ["point"])
  |> last()
`, s.bucket, minutes, s.measurement)
}

// QueryLatest returns the last reading per point within the window.
func (s *InfluxSink) QueryLatest(ctx context.Context, minutes int) ([]model.MeasurementRecord, error) {
	if s == nil || s.queryAPI == nil {
		return nil, ErrInfluxNotConfigured
	}
	res, err := s.queryAPI.Query(ctx, s.buildFlux(minutes))
	if err != nil {
		return nil, fmt.Errorf("influx query: %w", err)
	}
	defer res.Close()

	var out []model.MeasurementRecord
	for res.Next() {
		rec := res.Record()
		r := model.MeasurementRecord{Timestamp: rec.Time().UTC()}
		if v, ok := rec.ValueByKey("point").(string); ok {
			r.Point = v
		}
		switch v := rec.Value().(type) {
		case float64:
			r.DustLevel = v
		case int64:
			r.DustLevel = float64(v)
		case string:
			if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
				r.DustLevel = f
			}
		}
		out = append(out, r)
	}
	if err := res.Err(); err != nil {
		return out, fmt.Errorf("influx iterate: %w", err)
	}
	return out, nil
}

func sanitizeMeasurement(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z',
			r >= 'A' && r <= 'Z',
			r >= '0' && r <= '9',
			r == '_', r == ':', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
