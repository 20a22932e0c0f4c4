// Package outbox mirrors audit entries to Kafka for downstream consumers.
//
// The durable store append in the publisher is the source of truth; this
// worker is a best-effort mirror. Losing a mirror record loses nothing the
// query API cannot still serve.
package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kgo"

	"membergate/internal/audit"
	"membergate/internal/platform/config"
)

// Producer is the slice of kgo.Client the worker uses. Narrow so tests can
// substitute a fake.
type Producer interface {
	ProduceSync(ctx context.Context, records ...*kgo.Record) kgo.ProduceResults
}

// Worker consumes audit entries from a channel and produces them to a topic.
type Worker struct {
	producer Producer
	topic    string
	inbox    <-chan audit.Entry
	logger   *slog.Logger
}

// NewWorker wires a worker over an existing producer.
func NewWorker(producer Producer, topic string, inbox <-chan audit.Entry, logger *slog.Logger) *Worker {
	return &Worker{producer: producer, topic: topic, inbox: inbox, logger: logger}
}

// Connect builds a kgo client for the configured brokers and ensures the
// audit topic exists.
func Connect(ctx context.Context, cfg config.KafkaConfig) (*kgo.Client, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ProducerLinger(50*time.Millisecond),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}

	adm := kadm.NewClient(client)
	if _, err := adm.CreateTopic(ctx, 1, 1, nil, cfg.Topic); err != nil {
		// Already-exists is fine; anything else aborts wiring. kadm surfaces
		// TOPIC_ALREADY_EXISTS in the error string without an exported
		// sentinel for the per-topic response error.
		if !strings.Contains(err.Error(), "TOPIC_ALREADY_EXISTS") {
			client.Close()
			return nil, fmt.Errorf("ensure audit topic %q: %w", cfg.Topic, err)
		}
	}
	return client, nil
}

type record struct {
	ID           uuid.UUID `json:"id"`
	Timestamp    string    `json:"timestamp"`
	ActorID      string    `json:"actor_id"`
	PartyID      string    `json:"party_id,omitempty"`
	Action       string    `json:"action"`
	ResourceType string    `json:"resource_type,omitempty"`
	ResourceID   string    `json:"resource_id,omitempty"`
	Result       string    `json:"result"`
	Reason       string    `json:"reason,omitempty"`
	RequestID    string    `json:"request_id,omitempty"`
}

// Run consumes the inbox until ctx is cancelled. Produce failures are logged
// and skipped; the worker never stops the service.
func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case entry := <-w.inbox:
			if err := w.produce(ctx, entry); err != nil {
				w.logger.ErrorContext(ctx, "audit mirror produce failed",
					"entry_id", entry.ID,
					"error", err,
				)
			}
		}
	}
}

func (w *Worker) produce(ctx context.Context, entry audit.Entry) error {
	rec := record{
		ID:           entry.ID,
		Timestamp:    entry.Timestamp.Format(time.RFC3339Nano),
		ActorID:      entry.ActorID.String(),
		Action:       entry.Action,
		ResourceType: entry.ResourceType,
		ResourceID:   entry.ResourceID,
		Result:       string(entry.Result),
		Reason:       entry.Reason,
		RequestID:    entry.RequestID,
	}
	if !entry.PartyID.IsNil() {
		rec.PartyID = entry.PartyID.String()
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal audit record: %w", err)
	}

	results := w.producer.ProduceSync(ctx, &kgo.Record{
		Topic: w.topic,
		Key:   []byte(entry.ResourceID),
		Value: payload,
	})
	return results.FirstErr()
}
