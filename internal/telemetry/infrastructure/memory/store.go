package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"smartbuilding-advisor/internal/telemetry/domain"
)

type sensor struct {
	id         string
	buildingID string
	unitID     string
	sensorType telemetry.SensorType
}

type storedReading struct {
	ts    time.Time
	value *float64
	flag  string
}

type weather struct {
	temp  float64
	wind  float64
	cloud float64
}

// Store is an in-memory telemetry store for tests and local runs.
type Store struct {
	mu       sync.RWMutex
	sensors  []sensor
	readings map[string][]storedReading
	weather  map[string]map[time.Time]weather
	areas    map[string]float64
}

// NewStore constructs an empty store.
func NewStore() *Store {
	return &Store{
		readings: make(map[string][]storedReading),
		weather:  make(map[string]map[time.Time]weather),
		areas:    make(map[string]float64),
	}
}

// AddSensor registers a sensor of a unit.
func (s *Store) AddSensor(buildingID, unitID string, sensorType telemetry.SensorType, sensorID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.sensors {
		if existing.id == sensorID {
			return
		}
	}
	s.sensors = append(s.sensors, sensor{id: sensorID, buildingID: buildingID, unitID: unitID, sensorType: sensorType})
}

// AddReading stores a raw reading with an explicit quality flag.
func (s *Store) AddReading(sensorID string, ts time.Time, value *float64, flag string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readings[sensorID] = append(s.readings[sensorID], storedReading{ts: ts.UTC(), value: value, flag: flag})
}

// AddSample registers the unit sensor if needed and stores an ok reading.
func (s *Store) AddSample(buildingID, unitID string, sensorType telemetry.SensorType, ts time.Time, value float64) {
	id := SensorID(buildingID, unitID, sensorType)
	s.AddSensor(buildingID, unitID, sensorType, id)
	v := value
	s.AddReading(id, ts, &v, telemetry.QualityOK)
}

// SetWeather stores external weather for a building at ts.
func (s *Store) SetWeather(buildingID string, ts time.Time, temp, wind, cloud float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	byTime := s.weather[buildingID]
	if byTime == nil {
		byTime = make(map[time.Time]weather)
		s.weather[buildingID] = byTime
	}
	byTime[ts.UTC()] = weather{temp: temp, wind: wind, cloud: cloud}
}

// SetArea stores the floor area of a unit.
func (s *Store) SetArea(unitID string, area float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.areas[unitID] = area
}

// SensorID returns the id AddSample assigns to a unit sensor.
func SensorID(buildingID, unitID string, sensorType telemetry.SensorType) string {
	return buildingID + ":" + unitID + ":" + string(sensorType)
}

// LatestValidTimestamp returns the newest ok-flagged reading time.
func (s *Store) LatestValidTimestamp(_ context.Context, buildingID string) (time.Time, bool, error) {
	if buildingID == "" {
		return time.Time{}, false, errors.New("memory telemetry: empty building id")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var latest time.Time
	found := false
	for _, sn := range s.sensors {
		if sn.buildingID != buildingID {
			continue
		}
		for _, r := range s.readings[sn.id] {
			if r.flag != telemetry.QualityOK {
				continue
			}
			if !found || r.ts.After(latest) {
				latest = r.ts
				found = true
			}
		}
	}
	return latest, found, nil
}

// LatestAsOf returns the newest reading at or before anchor per sensor.
func (s *Store) LatestAsOf(_ context.Context, buildingID string, anchor time.Time) (telemetry.Snapshot, error) {
	if buildingID == "" || anchor.IsZero() {
		return nil, errors.New("memory telemetry: invalid arguments")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	snapshot := make(telemetry.Snapshot)
	for _, sn := range s.sensors {
		if sn.buildingID != buildingID {
			continue
		}
		reading := telemetry.Reading{BuildingID: buildingID, UnitID: sn.unitID, SensorType: sn.sensorType}
		var best *storedReading
		for i := range s.readings[sn.id] {
			r := &s.readings[sn.id][i]
			if r.ts.After(anchor) {
				continue
			}
			if best == nil || r.ts.After(best.ts) {
				best = r
			}
		}
		if best != nil {
			reading.Timestamp = best.ts
			reading.Value = copyFloat(best.value)
			reading.QualityFlag = best.flag
		}
		snapshot.Put(reading)
	}
	return snapshot, nil
}

// Window returns ok-flagged samples with from < ts <= to.
func (s *Store) Window(_ context.Context, buildingID string, sensors []telemetry.SensorType, from, to time.Time) (telemetry.Series, error) {
	if buildingID == "" || !to.After(from) {
		return nil, errors.New("memory telemetry: invalid arguments")
	}
	wanted := make(map[telemetry.SensorType]struct{}, len(sensors))
	for _, st := range sensors {
		wanted[st] = struct{}{}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	series := make(telemetry.Series)
	for _, sn := range s.sensors {
		if sn.buildingID != buildingID {
			continue
		}
		if _, ok := wanted[sn.sensorType]; !ok {
			continue
		}
		samples := make([]telemetry.Sample, 0)
		for _, r := range s.readings[sn.id] {
			if r.flag != telemetry.QualityOK || r.value == nil {
				continue
			}
			if !r.ts.After(from) || r.ts.After(to) {
				continue
			}
			samples = append(samples, telemetry.Sample{At: r.ts, Value: *r.value})
		}
		sort.Slice(samples, func(i, j int) bool { return samples[i].At.Before(samples[j].At) })
		for _, sample := range samples {
			series.Append(sn.unitID, sn.sensorType, sample)
		}
	}
	return series, nil
}

// SensorIDs returns unit -> sensor type -> sensor id.
func (s *Store) SensorIDs(_ context.Context, buildingID string) (map[string]map[telemetry.SensorType]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make(map[string]map[telemetry.SensorType]string)
	for _, sn := range s.sensors {
		if sn.buildingID != buildingID {
			continue
		}
		byType := result[sn.unitID]
		if byType == nil {
			byType = make(map[telemetry.SensorType]string)
			result[sn.unitID] = byType
		}
		byType[sn.sensorType] = sn.id
	}
	return result, nil
}

// History returns up to limit energy records at or before anchor, oldest first.
func (s *Store) History(_ context.Context, buildingID, unitID string, anchor time.Time, limit int) ([]telemetry.HistoryRecord, error) {
	if buildingID == "" || unitID == "" || anchor.IsZero() || limit <= 0 {
		return nil, errors.New("memory telemetry: invalid arguments")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var energyID, occID string
	for _, sn := range s.sensors {
		if sn.buildingID != buildingID || sn.unitID != unitID {
			continue
		}
		switch sn.sensorType {
		case telemetry.SensorEnergy:
			energyID = sn.id
		case telemetry.SensorOccupancy:
			occID = sn.id
		}
	}
	if energyID == "" {
		return nil, nil
	}
	occByTime := make(map[time.Time]float64)
	for _, r := range s.readings[occID] {
		if r.flag == telemetry.QualityOK && r.value != nil {
			occByTime[r.ts] = *r.value
		}
	}

	records := make([]telemetry.HistoryRecord, 0)
	for _, r := range s.readings[energyID] {
		if r.flag != telemetry.QualityOK || r.value == nil || r.ts.After(anchor) {
			continue
		}
		rec := telemetry.HistoryRecord{At: r.ts, EnergyKWh: *r.value}
		if occ, ok := occByTime[r.ts]; ok {
			rec.Occupancy = floatPtr(occ)
		}
		if w, ok := s.weather[buildingID][r.ts]; ok {
			rec.TempExternal = floatPtr(w.temp)
			rec.WindSpeedKMH = floatPtr(w.wind)
			rec.CloudCover = floatPtr(w.cloud)
		}
		if area, ok := s.areas[unitID]; ok {
			rec.AreaM2 = floatPtr(area)
		}
		records = append(records, rec)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].At.Before(records[j].At) })
	if len(records) > limit {
		records = records[len(records)-limit:]
	}
	return records, nil
}

func floatPtr(v float64) *float64 {
	return &v
}

func copyFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
