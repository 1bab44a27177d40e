package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"smartbuilding-advisor/internal/tariff/domain"
)

const defaultTariffTable = "tariff_model"

// Source loads building tariffs and falls back to a default tariff.
type Source struct {
	db       *sql.DB
	table    string
	fallback tariff.Tariff
}

// Option configures the source.
type Option func(*Source)

// WithTable overrides the tariff table name.
func WithTable(table string) Option {
	return func(s *Source) {
		if table != "" {
			s.table = table
		}
	}
}

// NewSource constructs a tariff source.
func NewSource(db *sql.DB, fallback tariff.Tariff, opts ...Option) *Source {
	s := &Source{db: db, table: defaultTariffTable, fallback: fallback}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// TariffFor returns the stored tariff of a building, or the fallback.
func (s *Source) TariffFor(ctx context.Context, buildingID string) (tariff.Tariff, error) {
	if s == nil || s.db == nil {
		return tariff.Tariff{}, errors.New("tariff source: nil db")
	}
	if buildingID == "" {
		return tariff.Tariff{}, errors.New("tariff source: empty building id")
	}
	query := fmt.Sprintf(`
SELECT to_char(low_tariff_start, 'HH24:MI'), to_char(low_tariff_end, 'HH24:MI'),
	low_price_per_kwh, high_price_per_kwh, sunday_all_day_low, currency, timezone
FROM %s
WHERE building_id = $1
LIMIT 1`, s.table)

	var (
		start, end, currency, timezone string
		low, high                      float64
		sunday                         bool
	)
	err := s.db.QueryRowContext(ctx, query, buildingID).Scan(&start, &end, &low, &high, &sunday, &currency, &timezone)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return s.fallback, nil
		}
		return tariff.Tariff{}, err
	}
	t, err := tariff.New(start, end, low, high, sunday, currency)
	if err != nil {
		return tariff.Tariff{}, err
	}
	if timezone != "" {
		loc, err := time.LoadLocation(timezone)
		if err != nil {
			return tariff.Tariff{}, fmt.Errorf("tariff source: %w", err)
		}
		t.Location = loc
	}
	return t, nil
}
