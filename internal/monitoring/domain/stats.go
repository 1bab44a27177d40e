package monitoring

import (
	"math"
	"time"

	"smartbuilding-advisor/internal/telemetry/domain"
)

// Stats summarizes a baseline with population standard deviation.
type Stats struct {
	N    int
	Mean float64
	Std  float64
}

// ComputeStats returns mean and population std of values.
func ComputeStats(values []float64) Stats {
	if len(values) == 0 {
		return Stats{}
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))
	var sq float64
	for _, v := range values {
		d := v - mean
		sq += d * d
	}
	return Stats{N: len(values), Mean: mean, Std: math.Sqrt(sq / float64(len(values)))}
}

// valuesBefore returns the values of samples strictly before at.
func valuesBefore(samples []telemetry.Sample, at time.Time) []float64 {
	out := make([]float64, 0, len(samples))
	for _, s := range samples {
		if s.At.Before(at) {
			out = append(out, s.Value)
		}
	}
	return out
}

func round4(v float64) float64 {
	return math.Round(v*1e4) / 1e4
}
