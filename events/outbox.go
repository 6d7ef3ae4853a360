/*
Package events relays accrual postings to downstream consumers.

PURPOSE:
  The accrual engine writes a PostedEvent in the same database commit as the
  postings it describes (the outbox). A Sender later reads pending rows and
  hands them to a Publisher, so a broker outage never blocks or undoes a
  payout.

DELIVERY:
  At-least-once. A message is marked SENT only after the publisher accepts
  it; after MaxRetries failures it is parked as FAILED for inspection.

SEE ALSO:
  - sender.go:  Relay loop
  - kafka.go:   Kafka publisher
  - store/sqlite: outbox_messages table
*/
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/teich/bank4/allowance"
)

// TopicAllowancePosted carries one message per paid user.
const TopicAllowancePosted = "allowance.posted"

type Status string

const (
	StatusPending Status = "PENDING"
	StatusSent    Status = "SENT"
	StatusFailed  Status = "FAILED"
)

// OutboxMessage is one row waiting to be relayed.
type OutboxMessage struct {
	ID         string
	Topic      string
	Key        string
	Payload    []byte
	Status     Status
	RetryCount int
	LastError  string
	CreatedAt  time.Time
	SentAt     *time.Time
}

// EncodePosted wraps a PostedEvent as a pending outbox message keyed by user,
// so a partitioned broker keeps each user's events in order.
func EncodePosted(ev allowance.PostedEvent) (OutboxMessage, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return OutboxMessage{}, fmt.Errorf("encode posted event: %w", err)
	}
	return OutboxMessage{
		ID:        uuid.NewString(),
		Topic:     TopicAllowancePosted,
		Key:       string(ev.UserID),
		Payload:   payload,
		Status:    StatusPending,
		CreatedAt: ev.PostedAt,
	}, nil
}

// DecodePosted is the consumer-side inverse of EncodePosted.
func DecodePosted(msg OutboxMessage) (allowance.PostedEvent, error) {
	var ev allowance.PostedEvent
	if err := json.Unmarshal(msg.Payload, &ev); err != nil {
		return ev, fmt.Errorf("decode posted event %s: %w", msg.ID, err)
	}
	return ev, nil
}

// OutboxStore is the persistence the Sender needs.
type OutboxStore interface {
	// PendingMessages returns up to limit PENDING messages, oldest first.
	PendingMessages(ctx context.Context, limit int) ([]OutboxMessage, error)
	MarkSent(ctx context.Context, id string, at time.Time) error
	IncrementRetry(ctx context.Context, id string, lastErr string) error
	MarkFailed(ctx context.Context, id string, lastErr string) error
}

// Publisher delivers a message to a broker.
type Publisher interface {
	Publish(ctx context.Context, msg OutboxMessage) error
	Close() error
}
