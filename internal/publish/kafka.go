package publish

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"darms/internal/config"
	"darms/internal/model"
)

type Publisher interface {
	Publish(ctx context.Context, report model.Report) error
	Close() error
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher emits one message per run, keyed by run id.
type KafkaPublisher struct {
	writer messageWriter
	topic  string
	logger *slog.Logger
}

// NewPublisher returns nil when kafka publishing is disabled.
func NewPublisher(cfg config.KafkaConfig, logger *slog.Logger) Publisher {
	if !cfg.Enabled {
		if logger != nil {
			logger.Info("kafka publish disabled")
		}
		return nil
	}
	if logger != nil {
		logger.Info("kafka publish enabled", "brokers", cfg.Brokers, "topic", cfg.Topic)
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 50 * time.Millisecond,
	}
	return &KafkaPublisher{writer: w, topic: cfg.Topic, logger: logger}
}

func (p *KafkaPublisher) Publish(ctx context.Context, report model.Report) error {
	value, err := json.Marshal(report)
	if err != nil {
		return err
	}
	msg := kafka.Message{
		Key:   []byte(report.RunID),
		Value: value,
		Time:  report.CreatedAt,
		Headers: []kafka.Header{
			{Key: "mode", Value: []byte(report.Mode)},
			{Key: "rule", Value: []byte(report.Rule)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		if p.logger != nil {
			p.logger.Warn("kafka publish error", "run_id", report.RunID, "topic", p.topic, "err", err)
		}
		return err
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
