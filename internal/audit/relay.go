package audit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"
)

// RelayStore is the relay's view of the outbox.
type RelayStore interface {
	ListUnpublished(ctx context.Context, limit int) ([]OutboxRow, error)
	MarkPublished(ctx context.Context, ids []uuid.UUID) error
}

// Relay drains the outbox into Kafka. Delivery is at-least-once: a crash
// between produce and MarkPublished re-sends the rows on the next pass, so
// consumers must treat the event ID as the dedupe key.
type Relay struct {
	store     RelayStore
	client    *kgo.Client
	topic     string
	batchSize int
	logger    *slog.Logger
}

func NewRelay(store RelayStore, brokers []string, topic string, batchSize int, logger *slog.Logger) (*Relay, error) {
	if store == nil {
		return nil, errors.New("outbox store is required")
	}
	if len(brokers) == 0 {
		return nil, errors.New("at least one broker is required")
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Relay{
		store:     store,
		client:    client,
		topic:     topic,
		batchSize: batchSize,
		logger:    logger,
	}, nil
}

func (r *Relay) Close() {
	r.client.Close()
}

// EnsureTopic creates the audit topic if the broker does not know it yet.
func (r *Relay) EnsureTopic(ctx context.Context, partitions int32, replication int16) error {
	adm := kadm.NewClient(r.client)
	resps, err := adm.CreateTopics(ctx, partitions, replication, nil, r.topic)
	if err != nil {
		return fmt.Errorf("create topic %s: %w", r.topic, err)
	}
	for _, resp := range resps {
		if resp.Err != nil && !errors.Is(resp.Err, kerr.TopicAlreadyExists) {
			return fmt.Errorf("create topic %s: %w", resp.Topic, resp.Err)
		}
	}
	return nil
}

// RelayOnce publishes one batch and returns how many rows were relayed.
func (r *Relay) RelayOnce(ctx context.Context) (int, error) {
	rows, err := r.store.ListUnpublished(ctx, r.batchSize)
	if err != nil {
		return 0, fmt.Errorf("list outbox: %w", err)
	}
	if len(rows) == 0 {
		return 0, nil
	}

	records := make([]*kgo.Record, 0, len(rows))
	ids := make([]uuid.UUID, 0, len(rows))
	for _, row := range rows {
		records = append(records, &kgo.Record{
			Topic: r.topic,
			Key:   []byte(row.Key),
			Value: row.Payload,
		})
		ids = append(ids, row.ID)
	}

	if err := r.client.ProduceSync(ctx, records...).FirstErr(); err != nil {
		return 0, fmt.Errorf("produce audit batch: %w", err)
	}
	if err := r.store.MarkPublished(ctx, ids); err != nil {
		return 0, fmt.Errorf("mark published: %w", err)
	}
	return len(rows), nil
}

// Run drains the outbox on the given interval until ctx is done.
func (r *Relay) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			n, err := r.RelayOnce(ctx)
			if err != nil {
				if r.logger != nil {
					r.logger.ErrorContext(ctx, "outbox relay pass failed", "error", err)
				}
				continue
			}
			if n > 0 && r.logger != nil {
				r.logger.InfoContext(ctx, "audit events relayed", "count", n)
			}
		}
	}
}
