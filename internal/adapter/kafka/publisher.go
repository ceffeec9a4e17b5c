package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/couchcryptid/marine-grid-etl/internal/config"
	"github.com/couchcryptid/marine-grid-etl/internal/domain"
	kafkago "github.com/segmentio/kafka-go"
)

// messageWriter is the subset of *kafkago.Writer the publisher uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Publisher produces the cell records of a sweep to a Kafka topic, one
// message per record keyed by its geohash.
type Publisher struct {
	writer messageWriter
	logger *slog.Logger
}

// NewPublisher creates a Kafka producer for the configured topic.
func NewPublisher(cfg *config.Config, logger *slog.Logger) *Publisher {
	w := &kafkago.Writer{
		Addr:                   kafkago.TCP(cfg.KafkaBrokers...),
		Topic:                  cfg.KafkaTopic,
		Balancer:               &kafkago.Hash{},
		RequiredAcks:           kafkago.RequireAll,
		AllowAutoTopicCreation: true,
	}
	return &Publisher{writer: w, logger: logger}
}

// Publish writes every record of ds in key order in a single WriteMessages
// call. An empty dataset is a no-op.
func (p *Publisher) Publish(ctx context.Context, runID, boxGeohash string, ds domain.Dataset) error {
	if len(ds) == 0 {
		return nil
	}
	keys := ds.Keys()
	msgs := make([]kafkago.Message, len(keys))
	for i, key := range keys {
		msg, err := serializeRecord(ds[key], runID, boxGeohash)
		if err != nil {
			return err
		}
		msgs[i] = msg
	}
	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("publish %d records: %w", len(msgs), err)
	}
	p.logger.Debug("records published", "run_id", runID, "box_geohash", boxGeohash, "count", len(msgs))
	return nil
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}

// serializeRecord marshals a CellRecord into a Kafka message.
func serializeRecord(rec domain.CellRecord, runID, boxGeohash string) (kafkago.Message, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize cell record: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(rec.GeohashCenter),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "grid_id", Value: []byte(rec.GridID)},
			{Key: "box_geohash", Value: []byte(boxGeohash)},
			{Key: "run_id", Value: []byte(runID)},
		},
	}, nil
}
