package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"

	pipeline "smartbuilding-advisor/internal/pipeline/domain"
)

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error { return nil }

func TestPublisher_KeysByBuilding(t *testing.T) {
	writer := &fakeWriter{}
	pub, err := NewPublisher(writer)
	if err != nil {
		t.Fatalf("new publisher: %v", err)
	}
	pub.now = func() time.Time { return time.Date(2024, time.March, 6, 0, 0, 0, 0, time.UTC) }

	anchor := time.Date(2024, time.March, 5, 12, 0, 0, 0, time.UTC)
	temp := 19.0
	rc := pipeline.NewRunContext("run-1", "advisory", "B001", anchor, "2024.1")
	rc = rc.WithDecisions(pipeline.ValidationReport{BuildingID: "B001", Anchor: anchor, Status: pipeline.StatusOK},
		[]pipeline.Decision{{BuildingID: "B001", UnitID: "U1", Action: pipeline.ActionReduceHighTariff, TargetTemp: &temp, Approved: true}})

	if err := pub.Publish(context.Background(), rc); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(writer.msgs) != 1 {
		t.Fatalf("expected one message, got %d", len(writer.msgs))
	}
	msg := writer.msgs[0]
	if string(msg.Key) != "B001" {
		t.Fatalf("expected building key, got %q", msg.Key)
	}
	var got Advisory
	if err := json.Unmarshal(msg.Value, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Report == nil || got.Report.Status != "ok" {
		t.Fatalf("expected ok report, got %+v", got.Report)
	}
	if len(got.Decisions) != 1 || got.Decisions[0].Action != "reduce_heating_high_tariff" {
		t.Fatalf("unexpected decisions: %+v", got.Decisions)
	}
	if got.Anchor != "2024-03-05T12:00:00Z" {
		t.Fatalf("unexpected anchor %s", got.Anchor)
	}
}

func TestPublisher_WriteError(t *testing.T) {
	writer := &fakeWriter{err: errors.New("broker down")}
	pub, _ := NewPublisher(writer)
	rc := pipeline.NewRunContext("run-1", "advisory", "B001", time.Now(), "v")
	if err := pub.Publish(context.Background(), rc); err == nil {
		t.Fatalf("expected write error")
	}
}

func TestNewWriter_Validation(t *testing.T) {
	if _, err := NewWriter(nil, "advisories"); err == nil {
		t.Fatalf("expected brokers error")
	}
	if _, err := NewWriter([]string{"localhost:9092"}, ""); err == nil {
		t.Fatalf("expected topic error")
	}
	w, err := NewWriter([]string{"localhost:9092"}, "advisories")
	if err != nil || w.Topic != "advisories" {
		t.Fatalf("unexpected writer %v %v", w, err)
	}
}
