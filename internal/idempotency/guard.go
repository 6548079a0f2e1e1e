package idempotency

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"chronoseal/internal/idempotency/metrics"
	"chronoseal/pkg/canonical"
	derrors "chronoseal/pkg/domain-errors"
	"chronoseal/pkg/requestcontext"
	"chronoseal/pkg/sentinel"
)

// Store is the subset of the persistence port the guard needs.
type Store interface {
	Claim(ctx context.Context, record Record) (bool, error)
	Get(ctx context.Context, key, endpoint string) (*Record, error)
	Complete(ctx context.Context, key, endpoint string, status int, body []byte) error
	Release(ctx context.Context, key, endpoint string) error
}

// Result is the outcome of a guarded execution.
type Result struct {
	Status   int
	Body     []byte
	Replayed bool
}

// Handler produces the response for the first execution of a key.
type Handler func(ctx context.Context) (status int, body []byte, err error)

// Guard wraps mutating operations in claim-then-execute dedupe.
type Guard struct {
	store   Store
	ttl     time.Duration
	logger  *slog.Logger
	metrics *metrics.Metrics
}

type Option func(*Guard)

func WithLogger(logger *slog.Logger) Option {
	return func(g *Guard) { g.logger = logger }
}

func WithTTL(ttl time.Duration) Option {
	return func(g *Guard) { g.ttl = ttl }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(g *Guard) { g.metrics = m }
}

func New(store Store, opts ...Option) (*Guard, error) {
	if store == nil {
		return nil, errors.New("idempotency store is required")
	}
	guard := &Guard{store: store, ttl: 24 * time.Hour}
	for _, opt := range opts {
		opt(guard)
	}
	return guard, nil
}

// Execute runs fn at most once per (key, endpoint, payload). A replayed key
// with the same payload returns the stored response byte-identically; the
// same key with a different payload is rejected; a duplicate that arrives
// while the first execution is still in flight is told to retry later.
func (g *Guard) Execute(ctx context.Context, key, endpoint string, payload []byte, fn Handler) (*Result, error) {
	if key == "" {
		return nil, derrors.New(derrors.CodeValidation, "idempotency key is required")
	}

	now := requestcontext.Now(ctx)
	payloadHash := canonical.SHA256Hex(payload)

	claimed, err := g.store.Claim(ctx, Record{
		Key:         key,
		Endpoint:    endpoint,
		PayloadHash: payloadHash,
		CreatedAt:   now,
		ExpiresAt:   now.Add(g.ttl),
	})
	if err != nil {
		return nil, derrors.Wrap(err, derrors.CodeInternal, "idempotency claim failed")
	}

	if !claimed {
		existing, err := g.store.Get(ctx, key, endpoint)
		if err != nil {
			if errors.Is(err, sentinel.ErrNotFound) {
				// Claim lost and record gone: the winner failed and released.
				return nil, derrors.New(derrors.CodeIdempotencyInProgress, "request is being retried, try again")
			}
			return nil, derrors.Wrap(err, derrors.CodeInternal, "idempotency lookup failed")
		}
		if existing.PayloadHash != payloadHash {
			if g.metrics != nil {
				g.metrics.IncrementConflicts()
			}
			return nil, derrors.New(derrors.CodeIdempotencyConflict, "idempotency key reused with a different payload")
		}
		if !existing.Completed() {
			if g.metrics != nil {
				g.metrics.IncrementInFlight()
			}
			return nil, derrors.New(derrors.CodeIdempotencyInProgress, "original request still in progress")
		}
		if g.metrics != nil {
			g.metrics.IncrementReplays()
		}
		if g.logger != nil {
			g.logger.InfoContext(ctx, "idempotent replay",
				"request_id", requestcontext.RequestID(ctx),
				"endpoint", endpoint,
			)
		}
		return &Result{Status: existing.ResponseStatus, Body: existing.ResponseBody, Replayed: true}, nil
	}

	status, body, err := fn(ctx)
	if err != nil {
		// Drop the claim so the client can retry the failed operation with
		// the same key.
		if releaseErr := g.store.Release(ctx, key, endpoint); releaseErr != nil && g.logger != nil {
			g.logger.ErrorContext(ctx, "idempotency release failed",
				"endpoint", endpoint, "error", releaseErr)
		}
		return nil, err
	}

	if err := g.store.Complete(ctx, key, endpoint, status, body); err != nil {
		return nil, derrors.Wrap(err, derrors.CodeInternal, "idempotency complete failed")
	}
	if g.metrics != nil {
		g.metrics.IncrementExecutions()
	}
	return &Result{Status: status, Body: body}, nil
}
