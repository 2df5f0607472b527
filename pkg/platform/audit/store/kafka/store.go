// Package kafka mirrors audit events onto a Kafka topic for downstream SIEM
// and compliance consumers.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	audit "tipline/pkg/platform/audit"
)

// producer is the subset of *kgo.Client the store needs.
type producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
}

type Store struct {
	client producer
	topic  string
}

func New(client *kgo.Client, topic string) *Store {
	return &Store{client: client, topic: topic}
}

type message struct {
	ID            string            `json:"id"`
	Category      string            `json:"category"`
	Timestamp     string            `json:"timestamp"`
	Action        string            `json:"action"`
	Outcome       string            `json:"outcome"`
	ActorRole     string            `json:"actor_role,omitempty"`
	ActorID       string            `json:"actor_id,omitempty"`
	CorrelationID string            `json:"correlation_id,omitempty"`
	RequestID     string            `json:"request_id,omitempty"`
	Detail        map[string]string `json:"detail,omitempty"`
}

// Append produces the event synchronously. Records are keyed by correlation
// ID so one verification's events stay ordered within a partition.
func (s *Store) Append(ctx context.Context, event audit.Event) error {
	category := event.Category
	if category == "" {
		category = audit.AuditEvent(event.Action).Category()
	}
	payload, err := json.Marshal(message{
		ID:            event.ID,
		Category:      string(category),
		Timestamp:     event.Timestamp.UTC().Format(time.RFC3339Nano),
		Action:        event.Action,
		Outcome:       string(event.Outcome),
		ActorRole:     event.ActorRole,
		ActorID:       event.ActorID,
		CorrelationID: event.CorrelationID,
		RequestID:     event.RequestID,
		Detail:        event.Detail,
	})
	if err != nil {
		return fmt.Errorf("marshal audit message: %w", err)
	}

	record := &kgo.Record{
		Topic: s.topic,
		Key:   []byte(event.CorrelationID),
		Value: payload,
		Headers: []kgo.RecordHeader{
			{Key: "category", Value: []byte(category)},
		},
	}
	if err := s.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("produce audit event: %w", err)
	}
	return nil
}
