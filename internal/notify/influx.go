package notify

import (
	"context"
	"fmt"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/terminal-bench/safetywatch/internal/events"
)

// Measurements written by InfluxSink.
const (
	MeasurementRisk         = "safety_risk"
	MeasurementIntervention = "safety_intervention"
)

// PointWriter is the blocking write API of the InfluxDB client.
type PointWriter interface {
	WritePoint(ctx context.Context, point ...*write.Point) error
}

// InfluxConfig locates the bucket receiving the risk time series.
type InfluxConfig struct {
	URL    string
	Token  string
	Org    string
	Bucket string
}

// InfluxSink records each scored cycle and each intervention as a point so
// the risk trend can be charted over longer periods than the in-memory
// history holds.
type InfluxSink struct {
	writer PointWriter
	client influxdb2.Client
}

// NewInfluxSink connects to InfluxDB.
func NewInfluxSink(cfg InfluxConfig) (*InfluxSink, error) {
	if cfg.URL == "" || cfg.Org == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("influx: url, org and bucket are required")
	}
	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	return &InfluxSink{
		writer: client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		client: client,
	}, nil
}

// NewInfluxSinkWithWriter wraps an existing writer.
func NewInfluxSinkWithWriter(w PointWriter) *InfluxSink {
	return &InfluxSink{writer: w}
}

func (s *InfluxSink) Name() string { return "influxdb" }

func (s *InfluxSink) Deliver(ctx context.Context, env *events.Envelope) error {
	point, err := pointFor(env)
	if err != nil || point == nil {
		return err
	}
	if err := s.writer.WritePoint(ctx, point); err != nil {
		return fmt.Errorf("write %s: %w", point.Name(), err)
	}
	return nil
}

func pointFor(env *events.Envelope) (*write.Point, error) {
	switch env.Type {
	case events.TypeStatusChanged:
		ev, err := events.ParseData[events.StatusChanged](env)
		if err != nil {
			return nil, err
		}
		ts := ev.Result.ComputedAt
		if ts.IsZero() {
			ts = env.Timestamp
		}
		return influxdb2.NewPoint(MeasurementRisk,
			map[string]string{
				"user":   env.UserID,
				"source": string(ev.Result.Source),
				"tier":   ev.Tier.String(),
			},
			map[string]any{
				"risk_level": ev.Result.RiskLevel,
				"confidence": ev.Result.Confidence,
				"trend":      string(ev.Trend),
			},
			ts,
		), nil
	case events.TypeIntervention:
		iv, err := events.ParseData[events.Intervention](env)
		if err != nil {
			return nil, err
		}
		return influxdb2.NewPoint(MeasurementIntervention,
			map[string]string{
				"user": env.UserID,
				"tier": iv.Tier.String(),
			},
			map[string]any{"risk_level": iv.RiskLevel},
			iv.IssuedAt,
		), nil
	default:
		return nil, nil
	}
}

func (s *InfluxSink) Close(context.Context) error {
	if s.client != nil {
		s.client.Close()
	}
	return nil
}
