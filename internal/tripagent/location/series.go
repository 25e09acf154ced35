package location

import (
	"context"
	"time"
)

// Field selects one coordinate series.
type Field string

const (
	Latitude  Field = "latitude"
	Longitude Field = "longitude"
)

// Sample is one stored value of a coordinate series.
type Sample struct {
	Time  time.Time
	Value float64
}

// Source is a time-series store queried for recorded coordinates.
type Source interface {
	// Query returns the samples of field within [start, end], ordered by time.
	// An empty result is valid.
	Query(ctx context.Context, field Field, start, end time.Time) ([]Sample, error)
}

// Point is a position on the 1-second grid.
type Point struct {
	Time time.Time
	Lat  float64
	Lon  float64
}

// Series is a gap-free run of points, one per second. Empty means no coverage.
type Series struct {
	Points []Point
}

// Covered reports whether the session has location coverage.
func (s Series) Covered() bool {
	return len(s.Points) > 0
}

// At returns the point of the grid second containing t.
func (s Series) At(t time.Time) (Point, bool) {
	i, ok := s.index(t)
	if !ok {
		return Point{}, false
	}
	return s.Points[i], true
}

// Track returns the points up to and including the one containing t.
func (s Series) Track(t time.Time) []Point {
	i, ok := s.index(t)
	if !ok {
		return nil
	}
	return s.Points[:i+1]
}

func (s Series) index(t time.Time) (int, bool) {
	if len(s.Points) == 0 || t.Before(s.Points[0].Time) {
		return 0, false
	}
	i := int(t.Sub(s.Points[0].Time) / time.Second)
	if i >= len(s.Points) {
		return 0, false
	}
	return i, true
}
