// Package stats keeps process-lifetime counters over processed images.
package stats

import (
	"context"
	"maps"
	"sync"
	"time"

	"github.com/okian/ewaste/internal/domain/model"
	"github.com/okian/ewaste/internal/domain/types"
	"github.com/okian/ewaste/pkg/metrics"
)

// Aggregator accumulates detection statistics. One instance is created at
// startup and shared by every request; the zero value is not usable.
type Aggregator struct {
	mu         sync.RWMutex
	processed  int64
	detections int64
	byCategory map[string]int64
	samples    []float64
}

// New returns an empty Aggregator.
func New() *Aggregator {
	return &Aggregator{byCategory: make(map[string]int64)}
}

// Record counts one processed image with its detections and processing time.
// All fields are updated in a single critical section.
func (a *Aggregator) Record(_ context.Context, detections []model.Detection, elapsed time.Duration) error {
	a.mu.Lock()
	a.processed++
	a.detections += int64(len(detections))
	for _, d := range detections {
		a.byCategory[d.Label]++
	}
	a.samples = append(a.samples, elapsed.Seconds())
	a.mu.Unlock()

	metrics.RecordImageProcessed(elapsed)
	for _, d := range detections {
		metrics.RecordDetection(d.Label)
	}
	return nil
}

// Snapshot returns a consistent copy of the counters.
func (a *Aggregator) Snapshot() types.Statistics {
	a.mu.RLock()
	defer a.mu.RUnlock()

	var avg float64
	if n := len(a.samples); n > 0 {
		var sum float64
		for _, s := range a.samples {
			sum += s
		}
		avg = sum / float64(n)
	}
	return types.Statistics{
		TotalProcessedImages:  a.processed,
		TotalDetections:       a.detections,
		DetectionBreakdown:    maps.Clone(a.byCategory),
		ProcessingTimeAverage: avg,
	}
}
