package events

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/teich/bank4/metrics"
)

const (
	DefaultInterval   = time.Second
	DefaultBatchSize  = 100
	DefaultMaxRetries = 5
)

// Sender polls the outbox and publishes pending messages.
type Sender struct {
	Store      OutboxStore
	Publisher  Publisher
	Interval   time.Duration
	BatchSize  int
	MaxRetries int
	Clock      func() time.Time

	stop chan struct{}
	wg   sync.WaitGroup
	once sync.Once
}

func NewSender(store OutboxStore, pub Publisher) *Sender {
	return &Sender{
		Store:      store,
		Publisher:  pub,
		Interval:   DefaultInterval,
		BatchSize:  DefaultBatchSize,
		MaxRetries: DefaultMaxRetries,
		Clock:      time.Now,
		stop:       make(chan struct{}),
	}
}

// Start runs the relay loop in the background until ctx ends or Stop.
func (s *Sender) Start(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		log.Printf("[Outbox] Sender started (interval: %v)", s.Interval)

		ticker := time.NewTicker(s.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				log.Println("[Outbox] Context done, sender exiting")
				return
			case <-s.stop:
				log.Println("[Outbox] Sender stopped")
				return
			case <-ticker.C:
				s.ProcessPending(ctx)
			}
		}
	}()
}

// Stop halts the loop and waits for the current batch.
func (s *Sender) Stop() {
	s.once.Do(func() { close(s.stop) })
	s.wg.Wait()
}

// ProcessPending relays one batch and returns how many messages were sent.
func (s *Sender) ProcessPending(ctx context.Context) int {
	msgs, err := s.Store.PendingMessages(ctx, s.BatchSize)
	if err != nil {
		log.Printf("[Outbox] Error loading pending messages: %v", err)
		return 0
	}

	sent := 0
	for _, msg := range msgs {
		if s.send(ctx, msg) {
			sent++
		}
	}
	return sent
}

func (s *Sender) send(ctx context.Context, msg OutboxMessage) bool {
	err := s.Publisher.Publish(ctx, msg)
	if err == nil {
		if err := s.Store.MarkSent(ctx, msg.ID, s.Clock().UTC()); err != nil {
			log.Printf("[Outbox] Error marking %s sent: %v", msg.ID, err)
		}
		metrics.OutboxMessages.WithLabelValues("sent").Inc()
		return true
	}

	log.Printf("[Outbox] Publish failed for %s (attempt %d): %v", msg.ID, msg.RetryCount+1, err)
	metrics.OutboxMessages.WithLabelValues("retry").Inc()

	if msg.RetryCount+1 >= s.MaxRetries {
		if err := s.Store.MarkFailed(ctx, msg.ID, err.Error()); err != nil {
			log.Printf("[Outbox] Error marking %s failed: %v", msg.ID, err)
		}
		metrics.OutboxMessages.WithLabelValues("failed").Inc()
		return false
	}
	if err := s.Store.IncrementRetry(ctx, msg.ID, err.Error()); err != nil {
		log.Printf("[Outbox] Error recording retry for %s: %v", msg.ID, err)
	}
	return false
}
