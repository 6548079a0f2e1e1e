package notary

import (
	"context"
	"encoding/hex"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"chronoseal/internal/audit"
	"chronoseal/internal/ledger"
	"chronoseal/internal/merkle"
	"chronoseal/internal/notary/metrics"
	"chronoseal/internal/notary/qtsp"
	derrors "chronoseal/pkg/domain-errors"
	"chronoseal/pkg/requestcontext"
	"chronoseal/pkg/sentinel"
)

// Store is the subset of the persistence port the service needs.
type Store interface {
	Create(ctx context.Context, evidence Evidence) error
	GetByID(ctx context.Context, id uuid.UUID) (*Evidence, error)
	ClaimProcessing(ctx context.Context, id uuid.UUID, now time.Time) error
	MarkCompleted(ctx context.Context, id uuid.UUID, sealedAt time.Time, token, serialNumber string, now time.Time) error
	ScheduleRetry(ctx context.Context, id uuid.UUID, retryCount int, nextRetryAt time.Time, errMessage string, now time.Time) error
	MarkFailed(ctx context.Context, id uuid.UUID, errMessage string, now time.Time) error
	Requeue(ctx context.Context, id uuid.UUID, now time.Time) error
	ListDue(ctx context.Context, now time.Time, limit int) ([]Evidence, error)
	EnsureGroup(ctx context.Context, companyID uuid.UUID, period string, now time.Time) (Group, error)
	ListByGroup(ctx context.Context, groupID uuid.UUID) ([]Evidence, error)
}

// RootSource resolves daily roots for daily_timestamp evidence.
type RootSource interface {
	GetByID(ctx context.Context, id uuid.UUID) (*merkle.DailyRoot, error)
}

// LedgerSource resolves ledger entries for message_evidence and receives the
// proof back after a successful seal.
type LedgerSource interface {
	GetByID(ctx context.Context, id uuid.UUID) (*ledger.Entry, error)
	ListUnsealed(ctx context.Context, limit int) ([]ledger.Entry, error)
	AttachSeal(ctx context.Context, id uuid.UUID, sealedAt time.Time, token string) error
}

// RootChecker verifies a day's chain integrity before its root is notarized.
// A CodeIntegrityViolation error halts the seal permanently.
type RootChecker interface {
	CheckRoot(ctx context.Context, companyID uuid.UUID, date time.Time) error
}

// CreateRequest raises one sealing request.
type CreateRequest struct {
	CompanyID      uuid.UUID
	Type           EvidenceType
	DailyRootID    *uuid.UUID
	LedgerEntryID  *uuid.UUID
	ArtifactPath   string
	ArtifactSHA256 string
}

// Service is the notarization client.
type Service struct {
	store   Store
	sealer  qtsp.Sealer
	roots   RootSource
	ledger  LedgerSource
	checker RootChecker
	auditor *audit.Publisher
	policy  BackoffPolicy
	logger  *slog.Logger
	metrics *metrics.Metrics

	sweepBatch    int
	sweepParallel int
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithRoots(roots RootSource) Option {
	return func(s *Service) { s.roots = roots }
}

func WithLedger(entries LedgerSource) Option {
	return func(s *Service) { s.ledger = entries }
}

func WithRootChecker(checker RootChecker) Option {
	return func(s *Service) { s.checker = checker }
}

func WithAudit(publisher *audit.Publisher) Option {
	return func(s *Service) { s.auditor = publisher }
}

func WithBackoff(policy BackoffPolicy) Option {
	return func(s *Service) { s.policy = policy }
}

func WithSweep(batch, parallel int) Option {
	return func(s *Service) {
		if batch > 0 {
			s.sweepBatch = batch
		}
		if parallel > 0 {
			s.sweepParallel = parallel
		}
	}
}

func New(store Store, sealer qtsp.Sealer, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("evidence store is required")
	}
	if sealer == nil {
		return nil, errors.New("qtsp sealer is required")
	}
	svc := &Service{
		store:         store,
		sealer:        sealer,
		policy:        DefaultBackoff(),
		sweepBatch:    50,
		sweepParallel: 4,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// Create raises a pending sealing request, bucketing it into the company's
// group for the current calendar month.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*Evidence, error) {
	if req.CompanyID == uuid.Nil {
		return nil, derrors.New(derrors.CodeValidation, "company_id is required")
	}
	if !req.Type.Valid() {
		return nil, derrors.Newf(derrors.CodeValidation, "unknown evidence type %q", req.Type)
	}
	switch req.Type {
	case TypeDailyTimestamp:
		if req.DailyRootID == nil {
			return nil, derrors.New(derrors.CodeValidation, "daily_root_id is required for daily_timestamp evidence")
		}
	case TypeMessageEvidence:
		if req.LedgerEntryID == nil {
			return nil, derrors.New(derrors.CodeValidation, "ledger_entry_id is required for message_evidence")
		}
	case TypeMonthlyReport:
		if req.ArtifactPath == "" || !validDigest(req.ArtifactSHA256) {
			return nil, derrors.New(derrors.CodeValidation, "artifact_path and a hex sha-256 are required for monthly_report evidence")
		}
	}

	now := requestcontext.Now(ctx)
	group, err := s.store.EnsureGroup(ctx, req.CompanyID, PeriodOf(now), now)
	if err != nil {
		return nil, derrors.Wrap(err, derrors.CodeInternal, "ensure evidence group failed")
	}

	evidence := Evidence{
		ID:             uuid.New(),
		CompanyID:      req.CompanyID,
		GroupID:        group.ID,
		Type:           req.Type,
		Status:         StatusPending,
		DailyRootID:    req.DailyRootID,
		LedgerEntryID:  req.LedgerEntryID,
		ArtifactPath:   req.ArtifactPath,
		ArtifactSHA256: req.ArtifactSHA256,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.store.Create(ctx, evidence); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return nil, derrors.New(derrors.CodeConflict, "evidence already exists for that source")
		}
		return nil, derrors.Wrap(err, derrors.CodeInternal, "create evidence failed")
	}
	return &evidence, nil
}

// Get returns one evidence record.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Evidence, error) {
	evidence, err := s.store.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, derrors.New(derrors.CodeNotFound, "evidence not found")
		}
		return nil, derrors.Wrap(err, derrors.CodeInternal, "get evidence failed")
	}
	return evidence, nil
}

// ListGroup returns a group's evidence in creation order.
func (s *Service) ListGroup(ctx context.Context, groupID uuid.UUID) ([]Evidence, error) {
	evidences, err := s.store.ListByGroup(ctx, groupID)
	if err != nil {
		return nil, derrors.Wrap(err, derrors.CodeInternal, "list group evidence failed")
	}
	return evidences, nil
}

// Seal drives one evidence through a sealing attempt. The processing claim
// is committed before the external call and no lock is held across it, so a
// crash mid-call leaves the row claimable again only through the sweep after
// an operator requeue or retry schedule. Completed evidence is terminal: a
// second Seal returns the stored proof without contacting the QTSP.
func (s *Service) Seal(ctx context.Context, id uuid.UUID) (*Evidence, error) {
	evidence, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	switch evidence.Status {
	case StatusCompleted:
		return evidence, nil
	case StatusProcessing:
		return nil, derrors.New(derrors.CodeConflict, "evidence is already being sealed")
	case StatusFailed:
		return nil, derrors.New(derrors.CodeConflict, "evidence failed permanently, requeue it first")
	}

	now := requestcontext.Now(ctx)
	if err := s.store.ClaimProcessing(ctx, id, now); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return nil, derrors.New(derrors.CodeConflict, "evidence claimed by another worker")
		}
		return nil, derrors.Wrap(err, derrors.CodeInternal, "claim evidence failed")
	}

	digest, err := s.digest(ctx, evidence)
	if err != nil {
		return nil, s.recordFailure(ctx, evidence, err, now)
	}

	result, err := s.sealer.Seal(ctx, digest)
	if err != nil {
		return nil, s.recordFailure(ctx, evidence, err, now)
	}

	if err := s.store.MarkCompleted(ctx, id, result.Timestamp, result.Token, result.SerialNumber, now); err != nil {
		return nil, derrors.Wrap(err, derrors.CodeInternal, "mark completed failed")
	}
	if evidence.Type == TypeMessageEvidence && s.ledger != nil {
		if err := s.ledger.AttachSeal(ctx, *evidence.LedgerEntryID, result.Timestamp, result.Token); err != nil && s.logger != nil {
			s.logger.ErrorContext(ctx, "attach seal to ledger entry failed",
				"evidence_id", id, "entry_id", *evidence.LedgerEntryID, "error", err)
		}
	}

	if s.metrics != nil {
		s.metrics.IncrementSeals("completed")
	}
	s.auditor.Emit(ctx, audit.Event{
		Action:    audit.ActionEvidenceSealed,
		CompanyID: evidence.CompanyID,
		Subject:   id.String(),
		Detail:    string(evidence.Type),
		RequestID: requestcontext.RequestID(ctx),
	})
	if s.logger != nil {
		s.logger.InfoContext(ctx, "evidence sealed",
			"evidence_id", id,
			"evidence_type", evidence.Type,
			"serial_number", result.SerialNumber,
		)
	}
	return s.Get(ctx, id)
}

// Requeue resets a permanently failed evidence to pending. Operator action.
func (s *Service) Requeue(ctx context.Context, id uuid.UUID, actorID string) (*Evidence, error) {
	now := requestcontext.Now(ctx)
	if err := s.store.Requeue(ctx, id, now); err != nil {
		switch {
		case errors.Is(err, sentinel.ErrNotFound):
			return nil, derrors.New(derrors.CodeNotFound, "evidence not found")
		case errors.Is(err, sentinel.ErrConflict):
			return nil, derrors.New(derrors.CodeConflict, "only failed evidence can be requeued")
		}
		return nil, derrors.Wrap(err, derrors.CodeInternal, "requeue evidence failed")
	}

	evidence, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	s.auditor.Emit(ctx, audit.Event{
		Action:    audit.ActionEvidenceRequeued,
		CompanyID: evidence.CompanyID,
		Subject:   id.String(),
		ActorID:   actorID,
		RequestID: requestcontext.RequestID(ctx),
	})
	return evidence, nil
}

// CertifyPending raises message_evidence for ledger entries that have no
// proof yet, in creation order. Entries that already have evidence are
// skipped via the store's uniqueness on ledger_entry_id.
func (s *Service) CertifyPending(ctx context.Context, limit int) (int, error) {
	if s.ledger == nil {
		return 0, derrors.New(derrors.CodeInternal, "ledger source not configured")
	}
	entries, err := s.ledger.ListUnsealed(ctx, limit)
	if err != nil {
		return 0, derrors.Wrap(err, derrors.CodeInternal, "list unsealed entries failed")
	}

	created := 0
	for _, entry := range entries {
		entryID := entry.ID
		_, err := s.Create(ctx, CreateRequest{
			CompanyID:     entry.CompanyID,
			Type:          TypeMessageEvidence,
			LedgerEntryID: &entryID,
		})
		if err != nil {
			if derrors.HasCode(err, derrors.CodeConflict) {
				continue
			}
			return created, err
		}
		created++
	}
	return created, nil
}

// digest builds the hash submitted to the QTSP for the evidence type.
func (s *Service) digest(ctx context.Context, evidence *Evidence) (string, error) {
	switch evidence.Type {
	case TypeDailyTimestamp:
		if s.roots == nil {
			return "", derrors.New(derrors.CodeInternal, "root source not configured")
		}
		root, err := s.roots.GetByID(ctx, *evidence.DailyRootID)
		if err != nil {
			return "", derrors.Wrap(err, derrors.CodeNotarizationPermanent, "daily root not found")
		}
		if root.Provisional {
			return "", derrors.New(derrors.CodeNotarizationPermanent, "refusing to notarize a provisional root")
		}
		if s.checker != nil {
			if err := s.checker.CheckRoot(ctx, root.CompanyID, root.Date); err != nil {
				return "", err
			}
		}
		return root.RootHash, nil

	case TypeMessageEvidence:
		if s.ledger == nil {
			return "", derrors.New(derrors.CodeInternal, "ledger source not configured")
		}
		entry, err := s.ledger.GetByID(ctx, *evidence.LedgerEntryID)
		if err != nil {
			return "", derrors.Wrap(err, derrors.CodeNotarizationPermanent, "ledger entry not found")
		}
		return entry.ContentHash, nil

	case TypeMonthlyReport:
		if !validDigest(evidence.ArtifactSHA256) {
			return "", derrors.New(derrors.CodeNotarizationPermanent, "malformed artifact digest")
		}
		return evidence.ArtifactSHA256, nil
	}
	return "", derrors.Newf(derrors.CodeNotarizationPermanent, "unknown evidence type %q", evidence.Type)
}

// recordFailure routes a sealing failure to the retry schedule or the failed
// terminal state and returns the original error wrapped for the caller.
func (s *Service) recordFailure(ctx context.Context, evidence *Evidence, cause error, now time.Time) error {
	transient := derrors.HasCode(cause, derrors.CodeNotarizationTransient) ||
		errors.Is(cause, context.DeadlineExceeded)

	if transient {
		nextCount := evidence.RetryCount + 1
		if !s.policy.Exhausted(nextCount) {
			nextAt := now.Add(s.policy.NextDelay(evidence.RetryCount))
			if err := s.store.ScheduleRetry(ctx, evidence.ID, nextCount, nextAt, cause.Error(), now); err != nil {
				return derrors.Wrap(err, derrors.CodeInternal, "schedule retry failed")
			}
			if s.metrics != nil {
				s.metrics.IncrementSeals("transient")
				s.metrics.IncrementRetries()
			}
			s.auditor.Emit(ctx, audit.Event{
				Action:    audit.ActionRetryScheduled,
				CompanyID: evidence.CompanyID,
				Subject:   evidence.ID.String(),
				Detail:    cause.Error(),
				RequestID: requestcontext.RequestID(ctx),
			})
			return cause
		}
		cause = derrors.Wrap(cause, derrors.CodeNotarizationPermanent, "retries exhausted")
	}

	if err := s.store.MarkFailed(ctx, evidence.ID, cause.Error(), now); err != nil {
		return derrors.Wrap(err, derrors.CodeInternal, "mark failed failed")
	}
	if s.metrics != nil {
		s.metrics.IncrementSeals("permanent")
	}
	action := audit.ActionPermanentFailure
	if derrors.HasCode(cause, derrors.CodeIntegrityViolation) {
		action = audit.ActionIntegrityViolation
	}
	s.auditor.Emit(ctx, audit.Event{
		Action:    action,
		CompanyID: evidence.CompanyID,
		Subject:   evidence.ID.String(),
		Detail:    cause.Error(),
		RequestID: requestcontext.RequestID(ctx),
	})
	if s.logger != nil {
		s.logger.ErrorContext(ctx, "evidence sealing failed",
			"evidence_id", evidence.ID,
			"evidence_type", evidence.Type,
			"retry_count", evidence.RetryCount,
			"error", cause,
		)
	}
	return cause
}

func validDigest(s string) bool {
	if len(s) != 64 {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}
