package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"smartbuilding-advisor/internal/observability/metrics"
	pipeline "smartbuilding-advisor/internal/pipeline/domain"
	"smartbuilding-advisor/internal/pipeline/wire"
)

// MessageWriter is the subset of *kafka.Writer the publisher needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Advisory is one building run as published on the stream.
type Advisory struct {
	RunID         string          `json:"run_id"`
	BuildingID    string          `json:"building_id"`
	Anchor        string          `json:"anchor"`
	ConfigVersion string          `json:"config_version"`
	PublishedAt   string          `json:"published_at"`
	Report        *wire.Report    `json:"validation_report,omitempty"`
	Decisions     []wire.Decision `json:"decisions"`
}

// Publisher writes advisories keyed by building so one building stays ordered
// within a partition.
type Publisher struct {
	writer MessageWriter
	now    func() time.Time
}

// NewWriter builds the kafka writer for the advisory topic.
func NewWriter(brokers []string, topic string) (*kafka.Writer, error) {
	if len(brokers) == 0 {
		return nil, errors.New("advisory stream: brokers required")
	}
	if topic == "" {
		return nil, errors.New("advisory stream: topic required")
	}
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		Async:        false,
		BatchTimeout: 50 * time.Millisecond,
	}, nil
}

// NewPublisher wraps a message writer.
func NewPublisher(writer MessageWriter) (*Publisher, error) {
	if writer == nil {
		return nil, errors.New("advisory stream: nil writer")
	}
	return &Publisher{writer: writer, now: time.Now}, nil
}

// Publish sends the report and decisions of a finished run.
func (p *Publisher) Publish(ctx context.Context, rc pipeline.RunContext) error {
	msg, err := p.message(rc)
	if err != nil {
		metrics.IncStreamPublish(err)
		return err
	}
	err = p.writer.WriteMessages(ctx, msg)
	metrics.IncStreamPublish(err)
	if err != nil {
		return fmt.Errorf("advisory stream: write %s: %w", rc.BuildingID, err)
	}
	return nil
}

// Close flushes and closes the writer.
func (p *Publisher) Close() error {
	return p.writer.Close()
}

func (p *Publisher) message(rc pipeline.RunContext) (kafka.Message, error) {
	advisory := Advisory{
		RunID:         rc.RunID,
		BuildingID:    rc.BuildingID,
		Anchor:        rc.Anchor.UTC().Format(time.RFC3339),
		ConfigVersion: rc.ConfigVersion,
		PublishedAt:   p.now().UTC().Format(time.RFC3339),
		Decisions:     make([]wire.Decision, 0, len(rc.Decisions)),
	}
	if rc.Report != nil {
		report := wire.FromReport(*rc.Report)
		advisory.Report = &report
	}
	for _, d := range rc.Decisions {
		advisory.Decisions = append(advisory.Decisions, wire.FromDecision(d))
	}
	payload, err := json.Marshal(advisory)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("advisory stream: encode: %w", err)
	}
	return kafka.Message{
		Key:   []byte(rc.BuildingID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "run_id", Value: []byte(rc.RunID)},
			{Key: "config_version", Value: []byte(rc.ConfigVersion)},
		},
		Time: p.now().UTC(),
	}, nil
}
