package forecast

import (
	"math"
	"time"

	"smartbuilding-advisor/internal/telemetry/domain"
)

// FeatureNames is the fixed model input order.
var FeatureNames = []string{
	"energy_mean",
	"energy_std",
	"energy_max",
	"energy_min",
	"energy_last",
	"occupancy_mean",
	"occupancy_last",
	"temp_external_mean",
	"temp_external_target",
	"wind_speed_kmh",
	"cloud_cover",
	"area_m2",
	"hour",
	"day_of_week",
	"is_weekend",
	"hour_sin",
	"hour_cos",
}

// FeatureInput is the history window of one unit, oldest first.
type FeatureInput struct {
	Records     []telemetry.HistoryRecord
	Lookback    int
	DefaultArea float64
}

// Interval infers the sampling step from the last two records.
func Interval(records []telemetry.HistoryRecord, fallback time.Duration) time.Duration {
	if n := len(records); n >= 2 {
		if dt := records[n-1].At.Sub(records[n-2].At); dt > 0 {
			return dt
		}
	}
	return fallback
}

// TargetAt is one interval past the newest record.
func TargetAt(records []telemetry.HistoryRecord, fallback time.Duration) time.Time {
	if len(records) == 0 {
		return time.Time{}
	}
	return records[len(records)-1].At.Add(Interval(records, fallback)).UTC()
}

// BuildFeatures computes the model vector over the last Lookback records.
// Calendar features use target; weather at target is the last observation.
func BuildFeatures(in FeatureInput, target time.Time) []float64 {
	seq := in.Records
	if in.Lookback > 0 && len(seq) > in.Lookback {
		seq = seq[len(seq)-in.Lookback:]
	}
	if len(seq) == 0 {
		return nil
	}
	energy := make([]float64, len(seq))
	occupancy := make([]float64, len(seq))
	var tempSum float64
	var tempN int
	for i, r := range seq {
		energy[i] = r.EnergyKWh
		occupancy[i] = valueOr(r.Occupancy, 0)
		if r.TempExternal != nil {
			tempSum += *r.TempExternal
			tempN++
		}
	}
	last := seq[len(seq)-1]

	var tempMean float64
	if tempN > 0 {
		tempMean = tempSum / float64(tempN)
	}
	area := valueOr(last.AreaM2, in.DefaultArea)
	if area <= 0 {
		area = in.DefaultArea
	}

	target = target.UTC()
	hour := float64(target.Hour())
	dow := float64((int(target.Weekday()) + 6) % 7)
	weekend := 0.0
	if dow >= 5 {
		weekend = 1
	}

	mean, std := meanStd(energy)
	return []float64{
		mean,
		std,
		maxOf(energy),
		minOf(energy),
		energy[len(energy)-1],
		average(occupancy),
		occupancy[len(occupancy)-1],
		tempMean,
		lastObserved(seq, func(r telemetry.HistoryRecord) *float64 { return r.TempExternal }),
		lastObserved(seq, func(r telemetry.HistoryRecord) *float64 { return r.WindSpeedKMH }),
		lastObserved(seq, func(r telemetry.HistoryRecord) *float64 { return r.CloudCover }),
		area,
		hour,
		dow,
		weekend,
		math.Sin(2 * math.Pi * hour / 24),
		math.Cos(2 * math.Pi * hour / 24),
	}
}

// OccupancyProbability averages occupancy over the trailing window and
// clamps it to [0,1]. Missing occupancy counts as empty.
func OccupancyProbability(records []telemetry.HistoryRecord, window time.Duration, fallback time.Duration) (float64, bool) {
	if len(records) == 0 {
		return 0, false
	}
	step := Interval(records, fallback)
	if step <= 0 {
		step = 30 * time.Minute
	}
	needed := int(math.Round(float64(window) / float64(step)))
	if needed < 1 {
		needed = 1
	}
	if needed > len(records) {
		needed = len(records)
	}
	tail := records[len(records)-needed:]
	var sum float64
	for _, r := range tail {
		sum += valueOr(r.Occupancy, 0)
	}
	p := sum / float64(len(tail))
	return Round(math.Max(0, math.Min(1, p)), 3), true
}

// Round rounds half away from zero to the given decimals.
func Round(v float64, decimals int) float64 {
	pow := math.Pow(10, float64(decimals))
	return math.Round(v*pow) / pow
}

func valueOr(v *float64, fallback float64) float64 {
	if v == nil {
		return fallback
	}
	return *v
}

func lastObserved(seq []telemetry.HistoryRecord, get func(telemetry.HistoryRecord) *float64) float64 {
	for i := len(seq) - 1; i >= 0; i-- {
		if v := get(seq[i]); v != nil {
			return *v
		}
	}
	return 0
}

func meanStd(values []float64) (float64, float64) {
	mean := average(values)
	var sq float64
	for _, v := range values {
		d := v - mean
		sq += d * d
	}
	return mean, math.Sqrt(sq / float64(len(values)))
}

func average(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func maxOf(values []float64) float64 {
	out := values[0]
	for _, v := range values[1:] {
		if v > out {
			out = v
		}
	}
	return out
}

func minOf(values []float64) float64 {
	out := values[0]
	for _, v := range values[1:] {
		if v < out {
			out = v
		}
	}
	return out
}
