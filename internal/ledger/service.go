package ledger

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"chronoseal/internal/chain/lease"
	"chronoseal/internal/ledger/metrics"
	"chronoseal/pkg/canonical"
	derrors "chronoseal/pkg/domain-errors"
	"chronoseal/pkg/requestcontext"
	"chronoseal/pkg/sentinel"
)

// Store is the subset of the persistence port the service needs.
type Store interface {
	Append(ctx context.Context, entry Entry, expectedTail string) error
	Tail(ctx context.Context, threadID uuid.UUID) (string, error)
	GetByID(ctx context.Context, id uuid.UUID) (*Entry, error)
	ListByThread(ctx context.Context, threadID uuid.UUID) ([]Entry, error)
}

// RecordRequest carries one message event to append to a thread's chain.
type RecordRequest struct {
	CompanyID   uuid.UUID
	ThreadID    uuid.UUID
	RecipientID string
	EventType   EventType
	// EventTimestamp defaults to the request-scoped now.
	EventTimestamp time.Time
	EventData      EventData
}

// ChainIssue pinpoints one divergence found while validating a thread.
type ChainIssue struct {
	Index   int       `json:"index"`
	EntryID uuid.UUID `json:"entry_id"`
	// Kind is "hash_mismatch" when the recomputed content hash differs from
	// the stored one, "link_broken" when previous_hash does not point at the
	// previous entry.
	Kind     string `json:"kind"`
	Expected string `json:"expected"`
	Actual   string `json:"actual"`
}

// ChainReport is the result of validating one thread's chain.
type ChainReport struct {
	ThreadID uuid.UUID    `json:"thread_id"`
	Valid    bool         `json:"valid"`
	Entries  int          `json:"entries"`
	Issues   []ChainIssue `json:"issues,omitempty"`
}

// Service is the evidence ledger. Appends for one thread are serialized by
// the lease; the storage CAS on the tail pointer backs the lease up, so a
// lost race is a retryable ChainConflict and never a forked thread.
type Service struct {
	store    Store
	locker   lease.Locker
	logger   *slog.Logger
	metrics  *metrics.Metrics
	leaseTTL time.Duration
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

func WithLeaseTTL(d time.Duration) Option {
	return func(s *Service) { s.leaseTTL = d }
}

func New(store Store, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("ledger store is required")
	}
	svc := &Service{
		store:    store,
		locker:   lease.NewMemory(),
		leaseTTL: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// RecordEvidence appends one message event at the thread's chain tail.
func (s *Service) RecordEvidence(ctx context.Context, req RecordRequest) (*Entry, error) {
	if req.ThreadID == uuid.Nil {
		return nil, derrors.New(derrors.CodeValidation, "thread_id is required")
	}
	if req.CompanyID == uuid.Nil {
		return nil, derrors.New(derrors.CodeValidation, "company_id is required")
	}
	if !req.EventType.Valid() {
		return nil, derrors.Newf(derrors.CodeValidation, "unknown event type %q", req.EventType)
	}
	if err := req.EventData.Validate(req.EventType); err != nil {
		return nil, err
	}

	now := requestcontext.Now(ctx)
	timestamp := req.EventTimestamp
	if timestamp.IsZero() {
		timestamp = now
	}

	release, err := s.locker.Acquire(ctx, "ledger:"+req.ThreadID.String(), s.leaseTTL)
	if err != nil {
		return nil, derrors.Wrap(err, derrors.CodeUnavailable, "thread lease unavailable")
	}
	defer release(ctx)

	tail, err := s.store.Tail(ctx, req.ThreadID)
	if err != nil {
		return nil, derrors.Wrap(err, derrors.CodeInternal, "thread tail lookup failed")
	}

	contentHash, err := canonical.LedgerContentHash(
		string(req.EventType), req.ThreadID.String(), req.RecipientID,
		timestamp, req.EventData, tail,
	)
	if err != nil {
		return nil, derrors.Wrap(err, derrors.CodeInternal, "content hash failed")
	}

	entry := Entry{
		ID:             uuid.New(),
		CompanyID:      req.CompanyID,
		ThreadID:       req.ThreadID,
		RecipientID:    req.RecipientID,
		EventType:      req.EventType,
		EventTimestamp: timestamp,
		EventData:      req.EventData,
		ContentHash:    contentHash,
		PreviousHash:   tail,
		CreatedAt:      now,
	}

	if err := s.store.Append(ctx, entry, tail); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			if s.metrics != nil {
				s.metrics.IncrementConflicts()
			}
			return nil, derrors.Wrap(err, derrors.CodeChainConflict, "thread tail advanced concurrently, retry the append")
		}
		return nil, derrors.Wrap(err, derrors.CodeInternal, "ledger append failed")
	}

	if s.metrics != nil {
		s.metrics.IncrementEntries(string(req.EventType))
	}
	if s.logger != nil {
		s.logger.InfoContext(ctx, "ledger entry recorded",
			"request_id", requestcontext.RequestID(ctx),
			"thread_id", req.ThreadID,
			"event_type", req.EventType,
			"content_hash", entry.ContentHash[:8],
		)
	}
	return &entry, nil
}

// GetEntry returns one ledger entry.
func (s *Service) GetEntry(ctx context.Context, id uuid.UUID) (*Entry, error) {
	entry, err := s.store.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, derrors.New(derrors.CodeNotFound, "ledger entry not found")
		}
		return nil, derrors.Wrap(err, derrors.CodeInternal, "get ledger entry failed")
	}
	return entry, nil
}

// ListThread returns a thread's entries in append order.
func (s *Service) ListThread(ctx context.Context, threadID uuid.UUID) ([]Entry, error) {
	if threadID == uuid.Nil {
		return nil, derrors.New(derrors.CodeValidation, "thread_id is required")
	}
	entries, err := s.store.ListByThread(ctx, threadID)
	if err != nil {
		return nil, derrors.Wrap(err, derrors.CodeInternal, "list thread failed")
	}
	return entries, nil
}

// ValidateChain recomputes every content hash in the thread and checks each
// link against its predecessor. Read-only: divergences are reported, never
// repaired.
func (s *Service) ValidateChain(ctx context.Context, threadID uuid.UUID) (*ChainReport, error) {
	entries, err := s.ListThread(ctx, threadID)
	if err != nil {
		return nil, err
	}

	report := &ChainReport{ThreadID: threadID, Valid: true, Entries: len(entries)}
	prevHash := ""
	for i, entry := range entries {
		if entry.PreviousHash != prevHash {
			report.Issues = append(report.Issues, ChainIssue{
				Index:    i,
				EntryID:  entry.ID,
				Kind:     "link_broken",
				Expected: prevHash,
				Actual:   entry.PreviousHash,
			})
		}

		recomputed, err := canonical.LedgerContentHash(
			string(entry.EventType), entry.ThreadID.String(), entry.RecipientID,
			entry.EventTimestamp, entry.EventData, entry.PreviousHash,
		)
		if err != nil {
			return nil, derrors.Wrap(err, derrors.CodeInternal, "recompute content hash failed")
		}
		if recomputed != entry.ContentHash {
			report.Issues = append(report.Issues, ChainIssue{
				Index:    i,
				EntryID:  entry.ID,
				Kind:     "hash_mismatch",
				Expected: recomputed,
				Actual:   entry.ContentHash,
			})
		}
		prevHash = entry.ContentHash
	}

	if len(report.Issues) > 0 {
		report.Valid = false
		if s.metrics != nil {
			s.metrics.IncrementInvalidChains()
		}
		if s.logger != nil {
			s.logger.ErrorContext(ctx, "thread chain diverged",
				"thread_id", threadID,
				"issues", len(report.Issues),
			)
		}
	}
	return report, nil
}
