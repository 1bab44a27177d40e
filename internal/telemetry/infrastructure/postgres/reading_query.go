package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"smartbuilding-advisor/internal/telemetry/domain"
)

const (
	defaultReadingsTable = "sensor_readings"
	defaultSensorsTable  = "sensors"
)

// ReadingQuery is a Postgres implementation of the telemetry queries.
type ReadingQuery struct {
	db            *sql.DB
	readingsTable string
	sensorsTable  string
}

// QueryOption configures the reading query.
type QueryOption func(*ReadingQuery)

// WithReadingsTable overrides the readings table name.
func WithReadingsTable(table string) QueryOption {
	return func(q *ReadingQuery) {
		if q != nil && table != "" {
			q.readingsTable = table
		}
	}
}

// WithSensorsTable overrides the sensors table name.
func WithSensorsTable(table string) QueryOption {
	return func(q *ReadingQuery) {
		if q != nil && table != "" {
			q.sensorsTable = table
		}
	}
}

// NewReadingQuery constructs a query with default table names.
func NewReadingQuery(db *sql.DB, opts ...QueryOption) *ReadingQuery {
	q := &ReadingQuery{db: db, readingsTable: defaultReadingsTable, sensorsTable: defaultSensorsTable}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// LatestValidTimestamp returns MAX(ts) over readings flagged ok.
func (q *ReadingQuery) LatestValidTimestamp(ctx context.Context, buildingID string) (time.Time, bool, error) {
	if q == nil || q.db == nil {
		return time.Time{}, false, errors.New("reading query: nil db")
	}
	if buildingID == "" {
		return time.Time{}, false, errors.New("reading query: empty building id")
	}
	query := fmt.Sprintf(`
SELECT MAX(r.ts)
FROM %s r
JOIN %s s ON s.sensor_id = r.sensor_id
WHERE s.building_id = $1 AND r.quality_flag = $2`, q.readingsTable, q.sensorsTable)

	var latest sql.NullTime
	if err := q.db.QueryRowContext(ctx, query, buildingID, telemetry.QualityOK).Scan(&latest); err != nil {
		return time.Time{}, false, err
	}
	if !latest.Valid {
		return time.Time{}, false, nil
	}
	return latest.Time.UTC(), true, nil
}

// LatestAsOf returns the newest reading at or before anchor for every
// registered sensor. Sensors without any reading come back missing.
func (q *ReadingQuery) LatestAsOf(ctx context.Context, buildingID string, anchor time.Time) (telemetry.Snapshot, error) {
	if q == nil || q.db == nil {
		return nil, errors.New("reading query: nil db")
	}
	if buildingID == "" || anchor.IsZero() {
		return nil, errors.New("reading query: invalid arguments")
	}
	query := fmt.Sprintf(`
SELECT s.unit_id, s.sensor_type, r.ts, r.value, r.quality_flag
FROM %s s
LEFT JOIN LATERAL (
	SELECT ts, value, quality_flag
	FROM %s
	WHERE sensor_id = s.sensor_id AND ts <= $2
	ORDER BY ts DESC
	LIMIT 1
) r ON TRUE
WHERE s.building_id = $1
ORDER BY s.unit_id, s.sensor_type`, q.sensorsTable, q.readingsTable)

	rows, err := q.db.QueryContext(ctx, query, buildingID, anchor.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	snapshot := make(telemetry.Snapshot)
	for rows.Next() {
		var (
			unitID     string
			sensorType string
			ts         sql.NullTime
			value      sql.NullFloat64
			flag       sql.NullString
		)
		if err := rows.Scan(&unitID, &sensorType, &ts, &value, &flag); err != nil {
			return nil, err
		}
		reading := telemetry.Reading{
			BuildingID:  buildingID,
			UnitID:      unitID,
			SensorType:  telemetry.SensorType(sensorType),
			QualityFlag: flag.String,
		}
		if ts.Valid {
			reading.Timestamp = ts.Time.UTC()
		}
		if value.Valid {
			v := value.Float64
			reading.Value = &v
		}
		snapshot.Put(reading)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return snapshot, nil
}

// Window returns ok-flagged samples with from < ts <= to ordered by time.
func (q *ReadingQuery) Window(ctx context.Context, buildingID string, sensors []telemetry.SensorType, from, to time.Time) (telemetry.Series, error) {
	if q == nil || q.db == nil {
		return nil, errors.New("reading query: nil db")
	}
	if buildingID == "" || from.IsZero() || to.IsZero() || !to.After(from) {
		return nil, errors.New("reading query: invalid arguments")
	}
	types := make([]string, 0, len(sensors))
	for _, sensor := range sensors {
		types = append(types, string(sensor))
	}
	query := fmt.Sprintf(`
SELECT s.unit_id, s.sensor_type, r.ts, r.value
FROM %s r
JOIN %s s ON s.sensor_id = r.sensor_id
WHERE s.building_id = $1
	AND s.sensor_type = ANY($2)
	AND r.ts > $3
	AND r.ts <= $4
	AND r.quality_flag = $5
	AND r.value IS NOT NULL
ORDER BY s.unit_id, s.sensor_type, r.ts ASC`, q.readingsTable, q.sensorsTable)

	rows, err := q.db.QueryContext(ctx, query, buildingID, types, from.UTC(), to.UTC(), telemetry.QualityOK)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	series := make(telemetry.Series)
	for rows.Next() {
		var (
			unitID     string
			sensorType string
			ts         time.Time
			value      float64
		)
		if err := rows.Scan(&unitID, &sensorType, &ts, &value); err != nil {
			return nil, err
		}
		series.Append(unitID, telemetry.SensorType(sensorType), telemetry.Sample{At: ts.UTC(), Value: value})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return series, nil
}

// SensorIDs returns unit -> sensor type -> sensor id for a building.
func (q *ReadingQuery) SensorIDs(ctx context.Context, buildingID string) (map[string]map[telemetry.SensorType]string, error) {
	if q == nil || q.db == nil {
		return nil, errors.New("reading query: nil db")
	}
	query := fmt.Sprintf(`
SELECT unit_id, sensor_type, sensor_id
FROM %s
WHERE building_id = $1`, q.sensorsTable)

	rows, err := q.db.QueryContext(ctx, query, buildingID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make(map[string]map[telemetry.SensorType]string)
	for rows.Next() {
		var unitID, sensorType, sensorID string
		if err := rows.Scan(&unitID, &sensorType, &sensorID); err != nil {
			return nil, err
		}
		byType := result[unitID]
		if byType == nil {
			byType = make(map[telemetry.SensorType]string)
			result[unitID] = byType
		}
		byType[telemetry.SensorType(sensorType)] = sensorID
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// History returns up to limit energy records of a unit at or before anchor,
// oldest first, joined with occupancy and weather at the same timestamp.
func (q *ReadingQuery) History(ctx context.Context, buildingID, unitID string, anchor time.Time, limit int) ([]telemetry.HistoryRecord, error) {
	if q == nil || q.db == nil {
		return nil, errors.New("reading query: nil db")
	}
	if buildingID == "" || unitID == "" || anchor.IsZero() || limit <= 0 {
		return nil, errors.New("reading query: invalid arguments")
	}
	query := fmt.Sprintf(`
SELECT e.ts, e.value, o.value, w.temp_external, w.wind_speed_kmh, w.cloud_cover, u.area_m2
FROM %[1]s e
JOIN %[2]s se ON se.sensor_id = e.sensor_id AND se.sensor_type = 'energy'
JOIN units u ON u.unit_id = se.unit_id
JOIN buildings b ON b.building_id = se.building_id
LEFT JOIN %[2]s so ON so.unit_id = se.unit_id AND so.sensor_type = 'occupancy'
LEFT JOIN %[1]s o ON o.sensor_id = so.sensor_id AND o.ts = e.ts AND o.quality_flag = $5
LEFT JOIN external_weather w ON w.location_id = b.location_id AND w.ts = e.ts
WHERE se.building_id = $1
	AND se.unit_id = $2
	AND e.ts <= $3
	AND e.quality_flag = $5
	AND e.value IS NOT NULL
ORDER BY e.ts DESC
LIMIT $4`, q.readingsTable, q.sensorsTable)

	rows, err := q.db.QueryContext(ctx, query, buildingID, unitID, anchor.UTC(), limit, telemetry.QualityOK)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []telemetry.HistoryRecord
	for rows.Next() {
		var (
			rec                       telemetry.HistoryRecord
			occ, temp, wind, cloud, a sql.NullFloat64
		)
		if err := rows.Scan(&rec.At, &rec.EnergyKWh, &occ, &temp, &wind, &cloud, &a); err != nil {
			return nil, err
		}
		rec.At = rec.At.UTC()
		rec.Occupancy = nullFloat(occ)
		rec.TempExternal = nullFloat(temp)
		rec.WindSpeedKMH = nullFloat(wind)
		rec.CloudCover = nullFloat(cloud)
		rec.AreaM2 = nullFloat(a)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i, j := 0, len(records)-1; i < j; i, j = i+1, j-1 {
		records[i], records[j] = records[j], records[i]
	}
	return records, nil
}

func nullFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
