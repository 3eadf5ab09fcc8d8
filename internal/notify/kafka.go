// Package notify publishes per-request pipeline outcomes so downstream
// consumers can react to fresh data without polling storage.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// Outcome is the event published for every request the pipeline
// finished with, successfully or not.
type Outcome struct {
	Source     string    `json:"source"`
	Key        string    `json:"key"`
	Status     string    `json:"status"` // stored, skipped, failed
	Error      string    `json:"error,omitempty"`
	RunTime    time.Time `json:"run_time"`
	FinishedAt time.Time `json:"finished_at"`
}

type kafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaNotifier publishes outcomes to a Kafka topic keyed by request
// key, so all events for one request land on the same partition.
type KafkaNotifier struct {
	writer kafkaWriter
}

func NewKafkaNotifier(brokers []string, topic string) *KafkaNotifier {
	return &KafkaNotifier{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
			BatchTimeout: 100 * time.Millisecond,
		},
	}
}

func (n *KafkaNotifier) Notify(ctx context.Context, out Outcome) error {
	payload, err := json.Marshal(out)
	if err != nil {
		return fmt.Errorf("encoding outcome: %w", err)
	}
	err = n.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(out.Source + "/" + out.Key),
		Value: payload,
	})
	if err != nil {
		return fmt.Errorf("publishing outcome for %s/%s: %w", out.Source, out.Key, err)
	}
	return nil
}

func (n *KafkaNotifier) Close() error {
	return n.writer.Close()
}
