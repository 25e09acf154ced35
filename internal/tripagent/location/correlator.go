package location

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/capsule-io/timelapse-trip/pkg/log"
)

const (
	// DefaultMargin widens the query on both sides of the session.
	DefaultMargin = 5 * time.Second

	step = time.Second
)

// Correlator aligns recorded positions with a session's frame times.
type Correlator struct {
	source Source
	margin time.Duration

	// ForceNoCoverage makes every session report no coverage.
	forceNoCoverage bool

	log log.Logger
}

func NewCorrelator(source Source, forceNoCoverage bool) *Correlator {
	return &Correlator{
		source:          source,
		margin:          DefaultMargin,
		forceNoCoverage: forceNoCoverage,
		log:             log.WithName("location"),
	}
}

// Correlate returns one point per second over [T0, Tn] of the ordered frame
// times, or an empty series when coverage is missing. A query failure
// yields an empty series together with the error.
func (c *Correlator) Correlate(ctx context.Context, timestamps []time.Time) (Series, error) {
	if c.forceNoCoverage {
		c.log.Info("Location overlay disabled by policy")
		return Series{}, nil
	}
	if len(timestamps) == 0 || c.source == nil {
		return Series{}, nil
	}

	first, last := timestamps[0], timestamps[len(timestamps)-1]
	start, end := first.Add(-c.margin), last.Add(c.margin)

	lat, err := c.source.Query(ctx, Latitude, start, end)
	if err != nil {
		return Series{}, fmt.Errorf("failed to query latitude: %w", err)
	}
	lon, err := c.source.Query(ctx, Longitude, start, end)
	if err != nil {
		return Series{}, fmt.Errorf("failed to query longitude: %w", err)
	}
	if len(lat) == 0 || len(lon) == 0 {
		c.log.Warn("No recorded positions for the session, continuing without maps",
			"from", start, "to", end, "latitudes", len(lat), "longitudes", len(lon))
		return Series{}, nil
	}

	origin := first.Truncate(step)
	slots := int(last.Truncate(step).Sub(origin)/step) + 1

	lats, ok := Resample(lat, origin, slots)
	if !ok {
		c.log.Warn("Latitude series has a gap that cannot be filled forward", "from", origin)
		return Series{}, nil
	}
	lons, ok := Resample(lon, origin, slots)
	if !ok {
		c.log.Warn("Longitude series has a gap that cannot be filled forward", "from", origin)
		return Series{}, nil
	}

	points := make([]Point, slots)
	for i := range points {
		points[i] = Point{Time: origin.Add(time.Duration(i) * step), Lat: lats[i], Lon: lons[i]}
	}
	return Series{Points: points}, nil
}

// Resample maps samples onto slots one-second buckets starting at origin.
// Each bucket takes its first sample; empty buckets repeat the previous
// value, including one carried from before origin. It reports false when a
// bucket has no earlier value to repeat.
func Resample(samples []Sample, origin time.Time, slots int) ([]float64, bool) {
	if slots <= 0 {
		return nil, false
	}

	sorted := append([]Sample(nil), samples...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Time.Before(sorted[j].Time) })

	values := make([]float64, slots)
	set := make([]bool, slots)

	var carry float64
	haveCarry := false
	carryBucket := 0

	for _, s := range sorted {
		b := bucket(s.Time, origin)
		switch {
		case b < 0:
			// Only the first sample of the latest bucket before origin counts.
			if !haveCarry || b != carryBucket {
				carry, carryBucket, haveCarry = s.Value, b, true
			}
		case b < slots && !set[b]:
			values[b], set[b] = s.Value, true
		}
	}

	prev, havePrev := carry, haveCarry
	for i := range values {
		if set[i] {
			prev, havePrev = values[i], true
			continue
		}
		if !havePrev {
			return nil, false
		}
		values[i] = prev
	}
	return values, true
}

// bucket returns floor((t - origin) / step).
func bucket(t, origin time.Time) int {
	d := t.Sub(origin)
	b := int(d / step)
	if d < 0 && d%step != 0 {
		b--
	}
	return b
}
