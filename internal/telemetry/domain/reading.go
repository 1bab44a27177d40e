package telemetry

import (
	"context"
	"sort"
	"time"
)

// SensorType identifies what a unit sensor measures.
type SensorType string

const (
	SensorEnergy       SensorType = "energy"
	SensorTempInternal SensorType = "temp_internal"
	SensorHumidity     SensorType = "humidity"
	SensorOccupancy    SensorType = "occupancy"
)

// QualityOK marks a stored reading accepted by ingestion.
const QualityOK = "ok"

// Reading is the most recent stored value of one unit sensor.
// A zero Timestamp or nil Value means the reading is missing.
type Reading struct {
	BuildingID  string
	UnitID      string
	SensorType  SensorType
	Timestamp   time.Time
	Value       *float64
	QualityFlag string
}

// Missing reports whether the reading lacks a timestamp or value.
func (r Reading) Missing() bool {
	return r.Timestamp.IsZero() || r.Value == nil
}

// Snapshot maps unit -> sensor type -> latest reading.
type Snapshot map[string]map[SensorType]Reading

// Put stores a reading under its unit and sensor type.
func (s Snapshot) Put(r Reading) {
	byType := s[r.UnitID]
	if byType == nil {
		byType = make(map[SensorType]Reading)
		s[r.UnitID] = byType
	}
	byType[r.SensorType] = r
}

// Get returns the reading for a unit sensor.
func (s Snapshot) Get(unitID string, sensor SensorType) (Reading, bool) {
	byType, ok := s[unitID]
	if !ok {
		return Reading{}, false
	}
	r, ok := byType[sensor]
	return r, ok
}

// Units returns unit ids in ascending order.
func (s Snapshot) Units() []string {
	units := make([]string, 0, len(s))
	for unitID := range s {
		units = append(units, unitID)
	}
	sort.Strings(units)
	return units
}

// SensorTypes returns the sensor types present for a unit in ascending order.
func (s Snapshot) SensorTypes(unitID string) []SensorType {
	byType := s[unitID]
	types := make([]SensorType, 0, len(byType))
	for sensor := range byType {
		types = append(types, sensor)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

// Sample is one valid time-series point.
type Sample struct {
	At    time.Time
	Value float64
}

// Series maps unit -> sensor type -> samples ordered by time.
type Series map[string]map[SensorType][]Sample

// Samples returns the ordered samples for a unit sensor.
func (s Series) Samples(unitID string, sensor SensorType) []Sample {
	if s == nil {
		return nil
	}
	return s[unitID][sensor]
}

// Append adds a sample to the end of a unit sensor series.
func (s Series) Append(unitID string, sensor SensorType, sample Sample) {
	byType := s[unitID]
	if byType == nil {
		byType = make(map[SensorType][]Sample)
		s[unitID] = byType
	}
	byType[sensor] = append(byType[sensor], sample)
}

// HistoryRecord is one energy interval of a unit joined with occupancy,
// weather and unit attributes at the same timestamp.
type HistoryRecord struct {
	At           time.Time
	EnergyKWh    float64
	Occupancy    *float64
	TempExternal *float64
	WindSpeedKMH *float64
	CloudCover   *float64
	AreaM2       *float64
}

// ReadingQuery reads unit telemetry bounded by an anchor.
type ReadingQuery interface {
	LatestAsOf(ctx context.Context, buildingID string, anchor time.Time) (Snapshot, error)
	// Window returns valid samples with from < ts <= to.
	Window(ctx context.Context, buildingID string, sensors []SensorType, from, to time.Time) (Series, error)
	SensorIDs(ctx context.Context, buildingID string) (map[string]map[SensorType]string, error)
}

// HistoryQuery reads the most recent energy history of one unit.
type HistoryQuery interface {
	History(ctx context.Context, buildingID, unitID string, anchor time.Time, limit int) ([]HistoryRecord, error)
}

// AnchorQuery finds the newest valid reading of a building.
type AnchorQuery interface {
	LatestValidTimestamp(ctx context.Context, buildingID string) (time.Time, bool, error)
}
