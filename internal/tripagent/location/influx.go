package location

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	client "github.com/influxdata/influxdb1-client/v2"
)

// InfluxConfig describes where telegraf stores the GPS samples.
type InfluxConfig struct {
	Addr            string
	Username        string
	Password        string
	Database        string
	RetentionPolicy string
	Measurement     string
	Timeout         time.Duration

	// Topics maps each field to the value of the "topic" tag.
	Topics map[Field]string
}

type influxSource struct {
	client client.Client
	cfg    InfluxConfig
}

// NewInfluxSource returns a Source backed by InfluxDB 1.x.
func NewInfluxSource(cfg InfluxConfig) (Source, error) {
	c, err := client.NewHTTPClient(client.HTTPConfig{
		Addr:     cfg.Addr,
		Username: cfg.Username,
		Password: cfg.Password,
		Timeout:  cfg.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create influxdb client: %w", err)
	}
	return &influxSource{client: c, cfg: cfg}, nil
}

func (s *influxSource) command() string {
	from := fmt.Sprintf("%q", s.cfg.Measurement)
	if s.cfg.RetentionPolicy != "" {
		from = fmt.Sprintf("%q.%q", s.cfg.RetentionPolicy, s.cfg.Measurement)
	}
	return `SELECT "value" FROM ` + from + ` WHERE "topic" = $topic AND time >= $start AND time <= $end ORDER BY time ASC`
}

func (s *influxSource) Query(ctx context.Context, field Field, start, end time.Time) ([]Sample, error) {
	topic, ok := s.cfg.Topics[field]
	if !ok {
		return nil, fmt.Errorf("no topic configured for %s", field)
	}

	q := client.NewQueryWithParameters(s.command(), s.cfg.Database, "ns", client.Params{
		"topic": topic,
		"start": start.UTC().Format(time.RFC3339Nano),
		"end":   end.UTC().Format(time.RFC3339Nano),
	})

	type result struct {
		resp *client.Response
		err  error
	}
	done := make(chan result, 1)
	go func() {
		resp, err := s.client.Query(q)
		done <- result{resp, err}
	}()

	var r result
	select {
	case r = <-done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if r.err != nil {
		return nil, fmt.Errorf("influxdb query for %s failed: %w", field, r.err)
	}
	if err := r.resp.Error(); err != nil {
		return nil, fmt.Errorf("influxdb query for %s failed: %w", field, err)
	}

	var samples []Sample
	for _, res := range r.resp.Results {
		for _, row := range res.Series {
			for _, values := range row.Values {
				sample, err := parseRow(values)
				if err != nil {
					return nil, fmt.Errorf("unexpected %s row %v: %w", field, values, err)
				}
				samples = append(samples, sample)
			}
		}
	}
	return samples, nil
}

// Close releases idle connections.
func (s *influxSource) Close() error {
	return s.client.Close()
}

// parseRow reads a [time, value] row returned with nanosecond epochs.
func parseRow(values []interface{}) (Sample, error) {
	if len(values) < 2 {
		return Sample{}, fmt.Errorf("want 2 columns, got %d", len(values))
	}

	ns, err := toInt64(values[0])
	if err != nil {
		return Sample{}, fmt.Errorf("time: %w", err)
	}
	v, err := toFloat64(values[1])
	if err != nil {
		return Sample{}, fmt.Errorf("value: %w", err)
	}
	return Sample{Time: time.Unix(0, ns), Value: v}, nil
}

func toInt64(v interface{}) (int64, error) {
	switch n := v.(type) {
	case json.Number:
		return n.Int64()
	case float64:
		return int64(n), nil
	case int64:
		return n, nil
	default:
		return 0, fmt.Errorf("unsupported type %T", v)
	}
}

func toFloat64(v interface{}) (float64, error) {
	switch n := v.(type) {
	case json.Number:
		return n.Float64()
	case float64:
		return n, nil
	case int64:
		return float64(n), nil
	default:
		return 0, fmt.Errorf("unsupported type %T", v)
	}
}
