package verify_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"chronoseal/internal/audit"
	auditstore "chronoseal/internal/audit/store"
	"chronoseal/internal/chain"
	chainstore "chronoseal/internal/chain/store"
	"chronoseal/internal/merkle"
	merklestore "chronoseal/internal/merkle/store"
	"chronoseal/internal/verify"
	"chronoseal/pkg/canonical"
	derrors "chronoseal/pkg/domain-errors"
	"chronoseal/pkg/requestcontext"
)

// tamperingSource rewrites one event's payload after storage, simulating a
// direct database edit that bypasses the recorder.
type tamperingSource struct {
	inner    *chainstore.MemoryStore
	victimID uuid.UUID
	mutate   func(*chain.ChainedEvent)
}

func (t *tamperingSource) ListByCompanyDay(ctx context.Context, companyID uuid.UUID, dayStart, dayEnd time.Time) ([]chain.ChainedEvent, error) {
	events, err := t.inner.ListByCompanyDay(ctx, companyID, dayStart, dayEnd)
	if err != nil {
		return nil, err
	}
	for i := range events {
		if events[i].ID == t.victimID {
			t.mutate(&events[i])
		}
	}
	return events, nil
}

type VerifySuite struct {
	suite.Suite
	events  *chainstore.MemoryStore
	roots   *merklestore.MemoryStore
	outbox  *auditstore.MemoryStore
	company uuid.UUID
	day     time.Time
	stored  []chain.ChainedEvent
}

func TestVerifySuite(t *testing.T) {
	suite.Run(t, new(VerifySuite))
}

func (s *VerifySuite) SetupTest() {
	s.events = chainstore.NewMemory()
	s.roots = merklestore.NewMemory()
	s.outbox = auditstore.NewMemory()
	s.company = uuid.New()
	s.day = time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	s.stored = nil

	prev := ""
	for i, subject := range []string{"emp-1", "emp-1", "emp-2"} {
		ts := s.day.Add(time.Duration(8+i) * time.Hour)
		subjectPrev := ""
		if subject == "emp-1" && i == 1 {
			subjectPrev = prev
		}
		event := chain.ChainedEvent{
			ID:           uuid.New(),
			CompanyID:    s.company,
			SubjectID:    subject,
			EventType:    chain.EventEntry,
			Timestamp:    ts,
			EventHash:    canonical.ChainEventHash(subject, "entry", ts, subjectPrev),
			PreviousHash: subjectPrev,
			CreatedAt:    ts,
		}
		s.Require().NoError(s.events.Append(context.Background(), event, subjectPrev))
		if subject == "emp-1" {
			prev = event.EventHash
		}
		s.stored = append(s.stored, event)
	}

	hashes := make([]string, len(s.stored))
	for i, event := range s.stored {
		hashes[i] = event.EventHash
	}
	_, err := s.roots.Upsert(context.Background(), merkle.DailyRoot{
		CompanyID:  s.company,
		Date:       s.day,
		RootHash:   merkle.Root(hashes),
		EventCount: len(hashes),
		BuiltAt:    s.day.Add(25 * time.Hour),
	})
	s.Require().NoError(err)
}

func (s *VerifySuite) TestCleanDayIsValid() {
	svc, err := verify.New(s.events, s.roots)
	s.Require().NoError(err)

	report, err := svc.VerifyDaily(context.Background(), s.company, s.day)
	s.Require().NoError(err)

	s.True(report.Valid)
	s.Equal(3, report.EventCount)
	s.Empty(report.DivergentEventIDs)
	s.Equal(report.ActualRoot, report.ExpectedRoot)
}

func (s *VerifySuite) TestTamperedEventIsReported() {
	victim := s.stored[1]
	source := &tamperingSource{
		inner:    s.events,
		victimID: victim.ID,
		mutate: func(event *chain.ChainedEvent) {
			event.Timestamp = event.Timestamp.Add(-2 * time.Hour)
		},
	}
	svc, err := verify.New(source, s.roots,
		verify.WithAudit(audit.NewPublisher(s.outbox, nil)))
	s.Require().NoError(err)

	ctx := requestcontext.WithTime(context.Background(), s.day.Add(30*time.Hour))
	report, err := svc.VerifyDaily(ctx, s.company, s.day)
	s.Require().NoError(err)

	s.False(report.Valid)
	s.Equal([]uuid.UUID{victim.ID}, report.DivergentEventIDs)
	s.NotEqual(report.ActualRoot, report.ExpectedRoot)

	rows, err := s.outbox.ListUnpublished(context.Background(), 10)
	s.Require().NoError(err)
	s.Len(rows, 1, "a divergence must reach the audit trail")
}

func (s *VerifySuite) TestTamperedRootIsReportedWithoutEventDivergence() {
	_, err := s.roots.Upsert(context.Background(), merkle.DailyRoot{
		CompanyID:  s.company,
		Date:       s.day,
		RootHash:   canonical.SHA256HexString("forged"),
		EventCount: 3,
		BuiltAt:    s.day.Add(25 * time.Hour),
	})
	s.Require().NoError(err)

	svc, err := verify.New(s.events, s.roots)
	s.Require().NoError(err)

	report, err := svc.VerifyDaily(context.Background(), s.company, s.day)
	s.Require().NoError(err)

	s.False(report.Valid)
	s.Empty(report.DivergentEventIDs, "events are intact, only the root was swapped")
	s.NotEqual(report.ActualRoot, report.ExpectedRoot)
}

func (s *VerifySuite) TestMissingRoot() {
	svc, err := verify.New(s.events, s.roots)
	s.Require().NoError(err)

	_, err = svc.VerifyDaily(context.Background(), uuid.New(), s.day)
	s.True(derrors.HasCode(err, derrors.CodeNotFound))
}

func (s *VerifySuite) TestCheckRootGate() {
	svc, err := verify.New(s.events, s.roots)
	s.Require().NoError(err)
	s.NoError(svc.CheckRoot(context.Background(), s.company, s.day))

	source := &tamperingSource{
		inner:    s.events,
		victimID: s.stored[0].ID,
		mutate: func(event *chain.ChainedEvent) {
			event.SubjectID = "emp-999"
		},
	}
	tampered, err := verify.New(source, s.roots)
	s.Require().NoError(err)

	err = tampered.CheckRoot(context.Background(), s.company, s.day)
	s.True(derrors.HasCode(err, derrors.CodeIntegrityViolation))
}
