package monitoring

import (
	"time"

	"smartbuilding-advisor/internal/pipeline/config"
	pipeline "smartbuilding-advisor/internal/pipeline/domain"
	tariff "smartbuilding-advisor/internal/tariff/domain"
	"smartbuilding-advisor/internal/telemetry/domain"
)

// DailyTotal is the energy consumed by a unit on one calendar day.
type DailyTotal struct {
	Day time.Time
	KWh float64
}

// DailyTotals buckets samples by UTC calendar day, oldest first.
func DailyTotals(samples []telemetry.Sample) []DailyTotal {
	var totals []DailyTotal
	for _, s := range samples {
		day := time.Date(s.At.Year(), s.At.Month(), s.At.Day(), 0, 0, 0, 0, time.UTC)
		if n := len(totals); n > 0 && totals[n-1].Day.Equal(day) {
			totals[n-1].KWh += s.Value
			continue
		}
		totals = append(totals, DailyTotal{Day: day, KWh: s.Value})
	}
	return totals
}

// WeeklyInput is one unit's week of daily totals.
type WeeklyInput struct {
	BuildingID string
	UnitID     string
	Anchor     time.Time
	Daily      []DailyTotal
	BudgetKWh  float64
	Tariff     tariff.Tariff
}

// AnalyzeWeek reports variability, budget and trend findings for a week.
func AnalyzeWeek(in WeeklyInput, cfg config.WeeklyConfig) []pipeline.AnomalyEvent {
	if len(in.Daily) == 0 {
		return nil
	}
	var events []pipeline.AnomalyEvent

	minDay, maxDay := in.Daily[0].KWh, in.Daily[0].KWh
	var total float64
	for _, d := range in.Daily {
		total += d.KWh
		if d.KWh < minDay {
			minDay = d.KWh
		}
		if d.KWh > maxDay {
			maxDay = d.KWh
		}
	}

	if len(in.Daily) >= 2 && minDay > 0 && maxDay/minDay > cfg.VariabilityRatio {
		events = append(events, weeklyEvent(in, pipeline.KindWeeklyHighVariability, pipeline.SeverityMedium, maxDay/minDay, map[string]any{
			"max_day_kwh": round4(maxDay),
			"min_day_kwh": round4(minDay),
			"ratio":       round4(maxDay / minDay),
		}))
	}

	if in.BudgetKWh > 0 && total > in.BudgetKWh {
		overage := total - in.BudgetKWh
		events = append(events, weeklyEvent(in, pipeline.KindWeeklyBudgetExceeded, pipeline.SeverityLow, round4(total), map[string]any{
			"total_kwh":   round4(total),
			"budget_kwh":  in.BudgetKWh,
			"overage_kwh": round4(overage),
			"excess_cost": round4(overage * in.Tariff.HighPrice),
			"currency":    in.Tariff.Currency,
		}))
	}

	if len(in.Daily) >= cfg.MinTrendDays {
		rising := 0
		for i := 1; i < len(in.Daily); i++ {
			if in.Daily[i].KWh > in.Daily[i-1].KWh {
				rising++
			}
		}
		if rising >= cfg.MinRisingDays {
			events = append(events, weeklyEvent(in, pipeline.KindWeeklyRisingTrend, pipeline.SeverityLow, float64(rising), map[string]any{
				"rising_days": rising,
				"days":        len(in.Daily),
			}))
		}
	}
	return events
}

func weeklyEvent(in WeeklyInput, kind pipeline.EventKind, severity pipeline.Severity, value float64, details map[string]any) pipeline.AnomalyEvent {
	v := value
	details["report"] = "weekly"
	return pipeline.AnomalyEvent{
		Timestamp:  in.Anchor.UTC(),
		BuildingID: in.BuildingID,
		UnitID:     in.UnitID,
		Kind:       kind,
		SensorType: telemetry.SensorEnergy,
		Value:      &v,
		Severity:   severity,
		Action:     pipeline.EventActionNotify,
		Category:   pipeline.CategoryOperational,
		Details:    details,
	}
}
