package store

import (
	"context"
	"math"

	"github.com/DataDog/sketches-go/ddsketch"
)

// percentileAccuracy is the DDSketch relative accuracy (1% error).
const percentileAccuracy = 0.01

// DirectionStats holds window statistics for one traffic direction.
type DirectionStats struct {
	Count int64   `json:"count"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Avg   float64 `json:"avg"`
	P50   float64 `json:"p50"`
	P90   float64 `json:"p90"`
	P95   float64 `json:"p95"`
	P99   float64 `json:"p99"`
}

// Summary aggregates a sender's samples over a time window.
type Summary struct {
	Address     string         `json:"address"`
	WindowHours int            `json:"window_hours"`
	Upload      DirectionStats `json:"upload_kbps"`
	Download    DirectionStats `json:"download_kbps"`
	FirstTs     int64          `json:"first_ts,omitempty"`
	LastTs      int64          `json:"last_ts,omitempty"`
}

// Summary computes window statistics for address over the last windowHours.
// An empty window yields a Summary with zero counts, not an error.
func (s *Store) Summary(ctx context.Context, address string, windowHours int) (*Summary, error) {
	samples, err := s.History(ctx, address, windowHours)
	if err != nil {
		return nil, err
	}

	summary := &Summary{
		Address:     address,
		WindowHours: windowHours,
	}
	if len(samples) == 0 {
		return summary, nil
	}

	up := newDirectionAggregate()
	down := newDirectionAggregate()
	for _, sample := range samples {
		up.add(sample.UploadKbps)
		down.add(sample.DownloadKbps)
	}

	summary.Upload = up.stats()
	summary.Download = down.stats()
	summary.FirstTs = samples[0].TimestampMs
	summary.LastTs = samples[len(samples)-1].TimestampMs
	return summary, nil
}

// directionAggregate maintains running statistics for one direction.
type directionAggregate struct {
	count  int64
	sum    float64
	min    float64
	max    float64
	sketch *ddsketch.DDSketch
}

func newDirectionAggregate() *directionAggregate {
	agg := &directionAggregate{
		min: math.MaxFloat64,
		max: -math.MaxFloat64,
	}
	// nil sketch degrades to min/max/avg only
	if sketch, err := ddsketch.NewDefaultDDSketch(percentileAccuracy); err == nil {
		agg.sketch = sketch
	}
	return agg
}

func (a *directionAggregate) add(value float64) {
	a.count++
	a.sum += value
	if value < a.min {
		a.min = value
	}
	if value > a.max {
		a.max = value
	}
	if a.sketch != nil {
		a.sketch.Add(value)
	}
}

func (a *directionAggregate) stats() DirectionStats {
	if a.count == 0 {
		return DirectionStats{}
	}

	stats := DirectionStats{
		Count: a.count,
		Min:   a.min,
		Max:   a.max,
		Avg:   a.sum / float64(a.count),
	}

	if a.sketch != nil {
		stats.P50, _ = a.sketch.GetValueAtQuantile(0.50)
		stats.P90, _ = a.sketch.GetValueAtQuantile(0.90)
		stats.P95, _ = a.sketch.GetValueAtQuantile(0.95)
		stats.P99, _ = a.sketch.GetValueAtQuantile(0.99)
	}
	return stats
}
