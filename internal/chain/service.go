package chain

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"chronoseal/internal/chain/lease"
	"chronoseal/internal/chain/metrics"
	"chronoseal/pkg/canonical"
	derrors "chronoseal/pkg/domain-errors"
	"chronoseal/pkg/requestcontext"
	"chronoseal/pkg/sentinel"
)

// Store is the subset of the persistence port the service needs. The full
// interface lives in chain/store; declaring the consumer-side copy here keeps
// the service testable with small fakes.
type Store interface {
	Append(ctx context.Context, event ChainedEvent, expectedTail string) error
	Tail(ctx context.Context, subjectID string) (string, error)
	LastEventSince(ctx context.Context, subjectID string, since time.Time) (*ChainedEvent, error)
	FindByOfflineUUID(ctx context.Context, offlineUUID string) (*ChainedEvent, error)
	ListBySubject(ctx context.Context, subjectID string) ([]ChainedEvent, error)
}

// AppendRequest carries one clock event to record.
type AppendRequest struct {
	CompanyID uuid.UUID
	SubjectID string
	// EventType is optional: when empty the recorder toggles entry/exit based
	// on the subject's last event of the day.
	EventType EventType
	Source    string
	// Timestamp defaults to the request-scoped now. Offline syncs pass the
	// terminal's local capture time instead.
	Timestamp time.Time
	Payload   Payload
	// OfflineUUID deduplicates events replayed from an offline terminal queue.
	OfflineUUID string
}

// AppendResult reports the recorded event and whether it was answered from a
// previously synced offline event.
type AppendResult struct {
	Event    ChainedEvent
	Replayed bool
}

// Service is the hash chain recorder. Appends for one subject are serialized
// by the lease; the storage CAS on the tail pointer backs the lease up, so a
// lost race is always a retryable ChainConflict and never a forked chain.
type Service struct {
	store        Store
	locker       lease.Locker
	logger       *slog.Logger
	metrics      *metrics.Metrics
	maxClockSkew time.Duration
	leaseTTL     time.Duration
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithLocker(l lease.Locker) Option {
	return func(s *Service) { s.locker = l }
}

func WithMaxClockSkew(d time.Duration) Option {
	return func(s *Service) { s.maxClockSkew = d }
}

func WithLeaseTTL(d time.Duration) Option {
	return func(s *Service) { s.leaseTTL = d }
}

func New(store Store, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("chain store is required")
	}
	svc := &Service{
		store:        store,
		locker:       lease.NewMemory(),
		maxClockSkew: 2 * time.Minute,
		leaseTTL:     5 * time.Second,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// Append records one clock event at the subject's chain tail.
func (s *Service) Append(ctx context.Context, req AppendRequest) (*AppendResult, error) {
	if req.SubjectID == "" {
		return nil, derrors.New(derrors.CodeValidation, "subject_id is required")
	}
	if req.CompanyID == uuid.Nil {
		return nil, derrors.New(derrors.CodeValidation, "company_id is required")
	}
	if req.EventType != "" && !req.EventType.Valid() {
		return nil, derrors.Newf(derrors.CodeValidation, "unknown event type %q", req.EventType)
	}

	now := requestcontext.Now(ctx)
	timestamp := req.Timestamp
	if timestamp.IsZero() {
		timestamp = now
	}
	if timestamp.After(now.Add(s.maxClockSkew)) {
		return nil, derrors.New(derrors.CodeValidation, "event timestamp is in the future")
	}

	// Replay of an already synced offline event returns the original without
	// touching the chain.
	if req.OfflineUUID != "" {
		existing, err := s.store.FindByOfflineUUID(ctx, req.OfflineUUID)
		if err != nil {
			return nil, derrors.Wrap(err, derrors.CodeInternal, "offline uuid lookup failed")
		}
		if existing != nil {
			if s.metrics != nil {
				s.metrics.IncrementOfflineReplays()
			}
			return &AppendResult{Event: *existing, Replayed: true}, nil
		}
	}

	release, err := s.locker.Acquire(ctx, req.SubjectID, s.leaseTTL)
	if err != nil {
		return nil, derrors.Wrap(err, derrors.CodeUnavailable, "subject lease unavailable")
	}
	defer release(ctx)

	eventType, err := s.resolveEventType(ctx, req, timestamp)
	if err != nil {
		return nil, err
	}

	tail, err := s.store.Tail(ctx, req.SubjectID)
	if err != nil {
		return nil, derrors.Wrap(err, derrors.CodeInternal, "chain tail lookup failed")
	}

	event := ChainedEvent{
		ID:           uuid.New(),
		CompanyID:    req.CompanyID,
		SubjectID:    req.SubjectID,
		EventType:    eventType,
		Source:       req.Source,
		Timestamp:    timestamp,
		Payload:      req.Payload,
		EventHash:    canonical.ChainEventHash(req.SubjectID, string(eventType), timestamp, tail),
		PreviousHash: tail,
		OfflineUUID:  req.OfflineUUID,
		CreatedAt:    now,
	}

	if err := s.store.Append(ctx, event, tail); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			if s.metrics != nil {
				s.metrics.IncrementConflicts()
			}
			return nil, derrors.Wrap(err, derrors.CodeChainConflict, "chain tail advanced concurrently, retry the append")
		}
		return nil, derrors.Wrap(err, derrors.CodeInternal, "chain append failed")
	}

	if s.metrics != nil {
		s.metrics.IncrementAppends(string(eventType))
	}
	if s.logger != nil {
		s.logger.InfoContext(ctx, "chain event appended",
			"request_id", requestcontext.RequestID(ctx),
			"subject_id", req.SubjectID,
			"event_type", eventType,
			"event_hash", event.EventHash[:8],
		)
	}
	return &AppendResult{Event: event}, nil
}

// ListBySubject returns a subject's chain in append order for audit reads.
func (s *Service) ListBySubject(ctx context.Context, subjectID string) ([]ChainedEvent, error) {
	if subjectID == "" {
		return nil, derrors.New(derrors.CodeValidation, "subject_id is required")
	}
	events, err := s.store.ListBySubject(ctx, subjectID)
	if err != nil {
		return nil, derrors.Wrap(err, derrors.CodeInternal, "list subject chain failed")
	}
	return events, nil
}

// resolveEventType applies the entry/exit toggle and rejects a duplicate
// consecutive clock type within the same day.
func (s *Service) resolveEventType(ctx context.Context, req AppendRequest, timestamp time.Time) (EventType, error) {
	dayStart := time.Date(timestamp.Year(), timestamp.Month(), timestamp.Day(), 0, 0, 0, 0, timestamp.Location())
	last, err := s.store.LastEventSince(ctx, req.SubjectID, dayStart)
	if err != nil {
		return "", derrors.Wrap(err, derrors.CodeInternal, "last event lookup failed")
	}

	eventType := req.EventType
	if eventType == "" {
		eventType = EventEntry
		if last != nil {
			eventType = last.EventType.Toggle()
		}
		return eventType, nil
	}

	if last != nil && last.EventType == eventType && (eventType == EventEntry || eventType == EventExit) {
		return "", derrors.Newf(derrors.CodeConflict,
			"last event today was already %s at %s", last.EventType, last.Timestamp.Format(time.RFC3339))
	}
	return eventType, nil
}
