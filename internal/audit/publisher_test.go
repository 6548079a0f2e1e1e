package audit_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chronoseal/internal/audit"
	"chronoseal/internal/audit/store"
)

func TestEmitBuffersEvent(t *testing.T) {
	outbox := store.NewMemory()
	publisher := audit.NewPublisher(outbox, nil)
	ctx := context.Background()

	evidenceID := uuid.New().String()
	publisher.Emit(ctx, audit.Event{
		Action:  audit.ActionEvidenceSealed,
		Subject: evidenceID,
		Detail:  "sealed on first attempt",
	})

	rows, err := outbox.ListUnpublished(ctx, 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, evidenceID, rows[0].Key)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(rows[0].Payload, &payload))
	assert.Equal(t, "evidence_sealed", payload["action"])
	assert.Equal(t, evidenceID, payload["subject"])
	assert.NotEmpty(t, payload["id"], "emit must assign an event id")
	assert.NotEmpty(t, payload["timestamp"])
}

func TestNilPublisherIsNoop(t *testing.T) {
	var publisher *audit.Publisher
	publisher.Emit(context.Background(), audit.Event{Action: audit.ActionRetryScheduled})
}

func TestMarkPublishedExcludesRows(t *testing.T) {
	outbox := store.NewMemory()
	publisher := audit.NewPublisher(outbox, nil)
	ctx := context.Background()

	publisher.Emit(ctx, audit.Event{Action: audit.ActionRetryScheduled, Subject: "ev-1"})
	publisher.Emit(ctx, audit.Event{Action: audit.ActionPermanentFailure, Subject: "ev-2"})

	rows, err := outbox.ListUnpublished(ctx, 10)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	require.NoError(t, outbox.MarkPublished(ctx, []uuid.UUID{rows[0].ID}))

	rows, err = outbox.ListUnpublished(ctx, 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "ev-2", rows[0].Key)
}
