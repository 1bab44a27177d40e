package monitoring

import (
	"testing"
	"time"

	"smartbuilding-advisor/internal/pipeline/config"
	pipeline "smartbuilding-advisor/internal/pipeline/domain"
	"smartbuilding-advisor/internal/telemetry/domain"
)

func reading(unitID string, sensor telemetry.SensorType, at time.Time, value float64) telemetry.Reading {
	v := value
	return telemetry.Reading{UnitID: unitID, SensorType: sensor, Timestamp: at, Value: &v, QualityFlag: telemetry.QualityOK}
}

func TestValidate_DropsNegativeEnergy(t *testing.T) {
	anchor := time.Date(2024, time.March, 6, 12, 0, 0, 0, time.UTC)
	snapshot := make(telemetry.Snapshot)
	snapshot.Put(reading("U1", telemetry.SensorEnergy, anchor, -0.4))
	snapshot.Put(reading("U1", telemetry.SensorHumidity, anchor, 45))

	v := NewValidator(config.Default().Validation)
	validated, events := v.Validate("B001", anchor, snapshot)

	if _, ok := validated.Get("U1", telemetry.SensorEnergy); ok {
		t.Fatalf("negative energy must not be validated")
	}
	if _, ok := validated.Get("U1", telemetry.SensorHumidity); !ok {
		t.Fatalf("humidity should pass")
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	evt := events[0]
	if evt.Kind != pipeline.KindEnergyNegative || evt.Category != pipeline.CategoryDataQuality {
		t.Fatalf("unexpected event: %+v", evt)
	}
	if evt.SensorType != telemetry.SensorEnergy || evt.BuildingID != "B001" {
		t.Fatalf("event missing sensor/building: %+v", evt)
	}
	if !evt.IsBlocking() {
		t.Fatalf("negative energy must block the unit")
	}
}

func TestValidate_EachReadingKeptOrDropped(t *testing.T) {
	anchor := time.Date(2024, time.March, 6, 12, 0, 0, 0, time.UTC)
	snapshot := make(telemetry.Snapshot)
	snapshot.Put(reading("U1", telemetry.SensorEnergy, anchor, 80))
	snapshot.Put(reading("U1", telemetry.SensorHumidity, anchor, 120))
	snapshot.Put(reading("U1", telemetry.SensorOccupancy, anchor, 0.5))
	snapshot.Put(reading("U2", telemetry.SensorTempInternal, anchor, 75))
	snapshot.Put(reading("U2", telemetry.SensorEnergy, anchor, 0.6))
	snapshot.Put(telemetry.Reading{UnitID: "U3", SensorType: telemetry.SensorEnergy})

	v := NewValidator(config.Default().Validation)
	validated, events := v.Validate("B001", anchor, snapshot)

	wantKinds := []pipeline.EventKind{
		pipeline.KindEnergyOverCeiling,
		pipeline.KindHumidityOutOfRange,
		pipeline.KindOccupancyInvalid,
		pipeline.KindTempSensorFault,
		pipeline.KindMissingValue,
	}
	if len(events) != len(wantKinds) {
		t.Fatalf("expected %d events, got %d: %+v", len(wantKinds), len(events), events)
	}
	for i, kind := range wantKinds {
		if events[i].Kind != kind {
			t.Fatalf("event %d: expected %s, got %s", i, kind, events[i].Kind)
		}
	}
	if events[0].Severity != pipeline.SeverityCritical {
		t.Fatalf("over-ceiling energy should be critical")
	}
	missing := events[4]
	if !missing.Timestamp.Equal(anchor) || missing.Details["reason"] != "missing_timestamp" {
		t.Fatalf("missing reading should be stamped with anchor: %+v", missing)
	}
	if len(validated) != 1 {
		t.Fatalf("expected only U2 to survive, got %v", validated.Units())
	}
	if _, ok := validated.Get("U2", telemetry.SensorEnergy); !ok {
		t.Fatalf("U2 energy should be validated")
	}
}

func TestValidate_ComfortKeepsReading(t *testing.T) {
	anchor := time.Date(2024, time.March, 6, 12, 0, 0, 0, time.UTC)
	snapshot := make(telemetry.Snapshot)
	snapshot.Put(reading("U1", telemetry.SensorTempInternal, anchor, 16.5))
	snapshot.Put(reading("U2", telemetry.SensorTempInternal, anchor, 29))

	v := NewValidator(config.Default().Validation)
	validated, events := v.Validate("B001", anchor, snapshot)

	if len(events) != 2 {
		t.Fatalf("expected 2 comfort events, got %d", len(events))
	}
	if events[0].Kind != pipeline.KindTempBelowComfort || events[1].Kind != pipeline.KindTempAboveComfort {
		t.Fatalf("unexpected kinds: %s %s", events[0].Kind, events[1].Kind)
	}
	for _, evt := range events {
		if evt.Category != pipeline.CategoryOperational || evt.Action != pipeline.EventActionAlert {
			t.Fatalf("comfort event should be operational alert: %+v", evt)
		}
		if evt.IsBlocking() {
			t.Fatalf("comfort events must not block")
		}
	}
	if _, ok := validated.Get("U1", telemetry.SensorTempInternal); !ok {
		t.Fatalf("cold reading should be kept")
	}
	if _, ok := validated.Get("U2", telemetry.SensorTempInternal); !ok {
		t.Fatalf("warm reading should be kept")
	}
}
