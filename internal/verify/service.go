// Package verify recomputes hashes and roots from raw stored data and
// compares them against the persisted values. It only ever reads: a detected
// divergence is reported and audited, never repaired.
package verify

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"chronoseal/internal/audit"
	"chronoseal/internal/chain"
	"chronoseal/internal/merkle"
	"chronoseal/internal/verify/metrics"
	"chronoseal/pkg/canonical"
	derrors "chronoseal/pkg/domain-errors"
	"chronoseal/pkg/requestcontext"
	"chronoseal/pkg/sentinel"
)

// EventSource reads the day's chain events. Satisfied by the chain store.
type EventSource interface {
	ListByCompanyDay(ctx context.Context, companyID uuid.UUID, dayStart, dayEnd time.Time) ([]chain.ChainedEvent, error)
}

// RootSource reads stored daily roots. Satisfied by the merkle store.
type RootSource interface {
	Get(ctx context.Context, companyID uuid.UUID, date time.Time) (*merkle.DailyRoot, error)
}

// Report is the verification result for one company-day.
type Report struct {
	Valid             bool        `json:"valid"`
	CompanyID         uuid.UUID   `json:"company_id"`
	Date              string      `json:"date"`
	EventCount        int         `json:"event_count"`
	DivergentEventIDs []uuid.UUID `json:"divergent_event_ids"`
	ExpectedRoot      string      `json:"expected_root"`
	ActualRoot        string      `json:"actual_root"`
}

// Service is the integrity verifier.
type Service struct {
	events  EventSource
	roots   RootSource
	auditor *audit.Publisher
	logger  *slog.Logger
	metrics *metrics.Metrics
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithAudit(publisher *audit.Publisher) Option {
	return func(s *Service) { s.auditor = publisher }
}

func New(events EventSource, roots RootSource, opts ...Option) (*Service, error) {
	if events == nil || roots == nil {
		return nil, errors.New("event source and root store are required")
	}
	svc := &Service{events: events, roots: roots}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// VerifyDaily recomputes every event hash for the company-day from the
// stored raw fields, rebuilds the Merkle root over the recomputed list, and
// compares it to the stored root.
func (s *Service) VerifyDaily(ctx context.Context, companyID uuid.UUID, date time.Time) (*Report, error) {
	if companyID == uuid.Nil {
		return nil, derrors.New(derrors.CodeValidation, "company_id is required")
	}

	dayStart, dayEnd := merkle.DayWindow(date)

	var events []chain.ChainedEvent
	var storedRoot *merkle.DailyRoot
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		events, err = s.events.ListByCompanyDay(gctx, companyID, dayStart, dayEnd)
		if err != nil {
			return derrors.Wrap(err, derrors.CodeInternal, "list day events failed")
		}
		return nil
	})
	g.Go(func() error {
		var err error
		storedRoot, err = s.roots.Get(gctx, companyID, dayStart)
		if err != nil {
			if errors.Is(err, sentinel.ErrNotFound) {
				return derrors.New(derrors.CodeNotFound, "no root for that company and date")
			}
			return derrors.Wrap(err, derrors.CodeInternal, "get daily root failed")
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	report := &Report{
		CompanyID:  companyID,
		Date:       dayStart.Format("2006-01-02"),
		EventCount: len(events),
		ActualRoot: storedRoot.RootHash,
	}

	recomputed := make([]string, 0, len(events))
	for _, event := range events {
		hash := canonical.ChainEventHash(event.SubjectID, string(event.EventType), event.Timestamp, event.PreviousHash)
		if hash != event.EventHash {
			report.DivergentEventIDs = append(report.DivergentEventIDs, event.ID)
		}
		recomputed = append(recomputed, hash)
	}
	report.ExpectedRoot = merkle.Root(recomputed)
	report.Valid = len(report.DivergentEventIDs) == 0 && report.ExpectedRoot == report.ActualRoot

	if report.Valid {
		if s.metrics != nil {
			s.metrics.IncrementVerifications("valid")
		}
		return report, nil
	}

	if s.metrics != nil {
		s.metrics.IncrementVerifications("diverged")
	}
	s.auditor.Emit(ctx, audit.Event{
		Action:    audit.ActionIntegrityViolation,
		CompanyID: companyID,
		Subject:   report.Date,
		Detail:    "recomputed state diverges from stored hashes",
		RequestID: requestcontext.RequestID(ctx),
	})
	if s.logger != nil {
		s.logger.ErrorContext(ctx, "integrity violation detected",
			"company_id", companyID,
			"date", report.Date,
			"divergent_events", len(report.DivergentEventIDs),
			"expected_root", report.ExpectedRoot,
			"actual_root", report.ActualRoot,
		)
	}
	return report, nil
}

// CheckRoot adapts VerifyDaily for callers that only need a pass/fail gate,
// such as the notarization client before sealing a day.
func (s *Service) CheckRoot(ctx context.Context, companyID uuid.UUID, date time.Time) error {
	report, err := s.VerifyDaily(ctx, companyID, date)
	if err != nil {
		return err
	}
	if !report.Valid {
		return derrors.Newf(derrors.CodeIntegrityViolation,
			"day %s diverges from its stored root", report.Date)
	}
	return nil
}
