package tariff

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Tariff is a two-rate time-of-use tariff of one building.
type Tariff struct {
	LowStartMinute  int
	LowEndMinute    int
	LowPrice        float64
	HighPrice       float64
	SundayAllDayLow bool
	Currency        string
	Location        *time.Location
}

// Source resolves the tariff of a building.
type Source interface {
	TariffFor(ctx context.Context, buildingID string) (Tariff, error)
}

// New builds a tariff from HH:MM window bounds.
func New(lowStart, lowEnd string, lowPrice, highPrice float64, sundayAllDayLow bool, currency string) (Tariff, error) {
	start, err := ParseClock(lowStart)
	if err != nil {
		return Tariff{}, err
	}
	end, err := ParseClock(lowEnd)
	if err != nil {
		return Tariff{}, err
	}
	if lowPrice < 0 || highPrice < 0 {
		return Tariff{}, errors.New("tariff: negative price")
	}
	return Tariff{
		LowStartMinute:  start,
		LowEndMinute:    end,
		LowPrice:        lowPrice,
		HighPrice:       highPrice,
		SundayAllDayLow: sundayAllDayLow,
		Currency:        currency,
		Location:        time.UTC,
	}, nil
}

// ParseClock converts HH:MM or HH:MM:SS to minutes after midnight.
func ParseClock(value string) (int, error) {
	for _, layout := range []string{"15:04", "15:04:05"} {
		if t, err := time.Parse(layout, value); err == nil {
			return t.Hour()*60 + t.Minute(), nil
		}
	}
	return 0, fmt.Errorf("tariff: invalid clock %q", value)
}

// IsLow reports whether at falls in the low-price period. A window whose
// start is after its end wraps past midnight.
func (t Tariff) IsLow(at time.Time) bool {
	loc := t.Location
	if loc == nil {
		loc = time.UTC
	}
	local := at.In(loc)
	if t.SundayAllDayLow && local.Weekday() == time.Sunday {
		return true
	}
	cur := local.Hour()*60 + local.Minute()
	start, end := t.LowStartMinute, t.LowEndMinute
	switch {
	case start > end:
		return cur >= start || cur < end
	case start < end:
		return cur >= start && cur < end
	default:
		return false
	}
}

// PriceAt returns the price per kWh at a timestamp.
func (t Tariff) PriceAt(at time.Time) float64 {
	if t.IsLow(at) {
		return t.LowPrice
	}
	return t.HighPrice
}

// Static returns the same tariff for every building.
type Static struct {
	Tariff Tariff
}

// TariffFor returns the static tariff.
func (s Static) TariffFor(context.Context, string) (Tariff, error) {
	return s.Tariff, nil
}
