package notary_test

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"chronoseal/internal/audit"
	auditstore "chronoseal/internal/audit/store"
	"chronoseal/internal/ledger"
	ledgerstore "chronoseal/internal/ledger/store"
	"chronoseal/internal/merkle"
	merklestore "chronoseal/internal/merkle/store"
	"chronoseal/internal/notary"
	"chronoseal/internal/notary/qtsp"
	notarystore "chronoseal/internal/notary/store"
	derrors "chronoseal/pkg/domain-errors"
	"chronoseal/pkg/requestcontext"
)

// fakeSealer scripts the QTSP responses and counts calls.
type fakeSealer struct {
	calls atomic.Int32
	fn    func(digest string) (*qtsp.SealResult, error)
}

func (f *fakeSealer) Seal(_ context.Context, digest string) (*qtsp.SealResult, error) {
	f.calls.Add(1)
	return f.fn(digest)
}

func sealOK(digest string) (*qtsp.SealResult, error) {
	return &qtsp.SealResult{
		Timestamp:    time.Date(2025, 3, 11, 1, 0, 0, 0, time.UTC),
		Token:        "tok-" + digest[:8],
		SerialNumber: "SN-1",
	}, nil
}

type NotarySuite struct {
	suite.Suite
	store   *notarystore.MemoryStore
	roots   *merklestore.MemoryStore
	entries *ledgerstore.MemoryStore
	outbox  *auditstore.MemoryStore
	sealer  *fakeSealer
	company uuid.UUID
	now     time.Time
	ctx     context.Context
}

func TestNotarySuite(t *testing.T) {
	suite.Run(t, new(NotarySuite))
}

func (s *NotarySuite) SetupTest() {
	s.store = notarystore.NewMemory()
	s.roots = merklestore.NewMemory()
	s.entries = ledgerstore.NewMemory()
	s.outbox = auditstore.NewMemory()
	s.sealer = &fakeSealer{fn: sealOK}
	s.company = uuid.New()
	s.now = time.Date(2025, 3, 11, 1, 0, 0, 0, time.UTC)
	s.ctx = requestcontext.WithTime(context.Background(), s.now)
}

func (s *NotarySuite) service(opts ...notary.Option) *notary.Service {
	base := []notary.Option{
		notary.WithRoots(s.roots),
		notary.WithLedger(s.entries),
		notary.WithAudit(audit.NewPublisher(s.outbox, nil)),
	}
	svc, err := notary.New(s.store, s.sealer, append(base, opts...)...)
	s.Require().NoError(err)
	return svc
}

func (s *NotarySuite) storedRoot(provisional bool) merkle.DailyRoot {
	root, err := s.roots.Upsert(context.Background(), merkle.DailyRoot{
		CompanyID:   s.company,
		Date:        time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC),
		RootHash:    "a3f2b1c4d5e6a3f2b1c4d5e6a3f2b1c4d5e6a3f2b1c4d5e6a3f2b1c4d5e6a3f2",
		EventCount:  4,
		BuiltAt:     s.now,
		Provisional: provisional,
	})
	s.Require().NoError(err)
	return root
}

func (s *NotarySuite) rootEvidence(svc *notary.Service, provisional bool) *notary.Evidence {
	root := s.storedRoot(provisional)
	evidence, err := svc.Create(s.ctx, notary.CreateRequest{
		CompanyID:   s.company,
		Type:        notary.TypeDailyTimestamp,
		DailyRootID: &root.ID,
	})
	s.Require().NoError(err)
	return evidence
}

func (s *NotarySuite) auditActions() []string {
	rows, err := s.outbox.ListUnpublished(context.Background(), 100)
	s.Require().NoError(err)
	var actions []string
	for _, row := range rows {
		var payload map[string]any
		s.Require().NoError(json.Unmarshal(row.Payload, &payload))
		actions = append(actions, payload["action"].(string))
	}
	return actions
}

func (s *NotarySuite) TestSealDailyRoot() {
	svc := s.service()
	evidence := s.rootEvidence(svc, false)

	sealed, err := svc.Seal(s.ctx, evidence.ID)
	s.Require().NoError(err)

	s.Equal(notary.StatusCompleted, sealed.Status)
	s.Equal("tok-a3f2b1c4", sealed.TSPToken)
	s.Equal("SN-1", sealed.SerialNumber)
	s.Require().NotNil(sealed.SealedAt)
	s.Contains(s.auditActions(), "evidence_sealed")
}

func (s *NotarySuite) TestCompletedIsTerminal() {
	svc := s.service()
	evidence := s.rootEvidence(svc, false)

	_, err := svc.Seal(s.ctx, evidence.ID)
	s.Require().NoError(err)
	again, err := svc.Seal(s.ctx, evidence.ID)
	s.Require().NoError(err)

	s.Equal(notary.StatusCompleted, again.Status)
	s.Equal(int32(1), s.sealer.calls.Load(), "completed evidence must never be resubmitted")
}

func (s *NotarySuite) TestProvisionalRootRefused() {
	svc := s.service()
	evidence := s.rootEvidence(svc, true)

	_, err := svc.Seal(s.ctx, evidence.ID)
	s.True(derrors.HasCode(err, derrors.CodeNotarizationPermanent))
	s.Zero(s.sealer.calls.Load(), "provisional roots must not reach the QTSP")

	stored, err := svc.Get(s.ctx, evidence.ID)
	s.Require().NoError(err)
	s.Equal(notary.StatusFailed, stored.Status)
}

func (s *NotarySuite) TestIntegrityViolationHaltsSealing() {
	svc := s.service(notary.WithRootChecker(violatingChecker{}))
	evidence := s.rootEvidence(svc, false)

	_, err := svc.Seal(s.ctx, evidence.ID)
	s.True(derrors.HasCode(err, derrors.CodeIntegrityViolation))
	s.Zero(s.sealer.calls.Load())

	stored, err := svc.Get(s.ctx, evidence.ID)
	s.Require().NoError(err)
	s.Equal(notary.StatusFailed, stored.Status)
	s.Contains(s.auditActions(), "integrity_violation")
}

func (s *NotarySuite) TestTransientFailureSchedulesRetry() {
	s.sealer.fn = func(string) (*qtsp.SealResult, error) {
		return nil, derrors.New(derrors.CodeNotarizationTransient, "qtsp returned 503")
	}
	svc := s.service()
	evidence := s.rootEvidence(svc, false)

	_, err := svc.Seal(s.ctx, evidence.ID)
	s.True(derrors.HasCode(err, derrors.CodeNotarizationTransient))

	stored, err := svc.Get(s.ctx, evidence.ID)
	s.Require().NoError(err)
	s.Equal(notary.StatusPending, stored.Status)
	s.Equal(1, stored.RetryCount)
	s.Require().NotNil(stored.NextRetryAt)
	s.True(stored.NextRetryAt.After(s.now), "retry must be scheduled in the future")
	s.Contains(s.auditActions(), "retry_scheduled")
}

func (s *NotarySuite) TestRetriesExhaustedGoFailed() {
	s.sealer.fn = func(string) (*qtsp.SealResult, error) {
		return nil, derrors.New(derrors.CodeNotarizationTransient, "qtsp returned 503")
	}
	svc := s.service(notary.WithBackoff(notary.BackoffPolicy{
		Base: time.Millisecond, Cap: time.Millisecond, MaxRetries: 2,
	}))
	evidence := s.rootEvidence(svc, false)

	// First attempt schedules the single allowed retry.
	_, err := svc.Seal(s.ctx, evidence.ID)
	s.Require().Error(err)

	// Second attempt uses up the last allowed retry.
	later := requestcontext.WithTime(context.Background(), s.now.Add(time.Minute))
	_, err = svc.Seal(later, evidence.ID)
	s.True(derrors.HasCode(err, derrors.CodeNotarizationPermanent))

	stored, err := svc.Get(s.ctx, evidence.ID)
	s.Require().NoError(err)
	s.Equal(notary.StatusFailed, stored.Status)
	s.Contains(stored.ErrorMessage, "retries exhausted")
}

func (s *NotarySuite) TestPermanentFailureAndRequeue() {
	s.sealer.fn = func(string) (*qtsp.SealResult, error) {
		return nil, derrors.New(derrors.CodeNotarizationPermanent, "qtsp rejected the digest: 422")
	}
	svc := s.service()
	evidence := s.rootEvidence(svc, false)

	_, err := svc.Seal(s.ctx, evidence.ID)
	s.True(derrors.HasCode(err, derrors.CodeNotarizationPermanent))

	stored, err := svc.Get(s.ctx, evidence.ID)
	s.Require().NoError(err)
	s.Equal(notary.StatusFailed, stored.Status)
	s.Contains(s.auditActions(), "permanent_failure")

	// A failed evidence cannot be sealed directly.
	_, err = svc.Seal(s.ctx, evidence.ID)
	s.True(derrors.HasCode(err, derrors.CodeConflict))

	requeued, err := svc.Requeue(s.ctx, evidence.ID, "operator-7")
	s.Require().NoError(err)
	s.Equal(notary.StatusPending, requeued.Status)
	s.Zero(requeued.RetryCount)
	s.Empty(requeued.ErrorMessage)
	s.Contains(s.auditActions(), "evidence_requeued")

	// Requeue of a non-failed evidence is rejected.
	_, err = svc.Requeue(s.ctx, evidence.ID, "operator-7")
	s.True(derrors.HasCode(err, derrors.CodeConflict))
}

func (s *NotarySuite) TestSealMessageEvidenceAttachesProof() {
	entry := s.ledgerEntry()
	svc := s.service()

	evidence, err := svc.Create(s.ctx, notary.CreateRequest{
		CompanyID:     s.company,
		Type:          notary.TypeMessageEvidence,
		LedgerEntryID: &entry.ID,
	})
	s.Require().NoError(err)

	sealed, err := svc.Seal(s.ctx, evidence.ID)
	s.Require().NoError(err)
	s.Equal(notary.StatusCompleted, sealed.Status)

	stored, err := s.entries.GetByID(context.Background(), entry.ID)
	s.Require().NoError(err)
	s.NotEmpty(stored.QTSPToken)
	s.NotNil(stored.QTSPTimestamp)
}

func (s *NotarySuite) TestCertifyPendingCreatesOncePerEntry() {
	s.ledgerEntry()
	svc := s.service()

	created, err := svc.CertifyPending(s.ctx, 10)
	s.Require().NoError(err)
	s.Equal(1, created)

	created, err = svc.CertifyPending(s.ctx, 10)
	s.Require().NoError(err)
	s.Zero(created, "a second pass must not duplicate evidence")
}

func (s *NotarySuite) TestSweepSealsDueEvidence() {
	svc := s.service()
	first := s.rootEvidence(svc, false)

	// A second evidence scheduled for later must be skipped.
	second := s.rootEvidenceForDate(svc, time.Date(2025, 3, 9, 0, 0, 0, 0, time.UTC))
	s.Require().NoError(s.store.ClaimProcessing(context.Background(), second.ID, s.now))
	s.Require().NoError(s.store.ScheduleRetry(context.Background(), second.ID, 1, s.now.Add(time.Hour), "qtsp returned 503", s.now))

	sealed, err := svc.SweepOnce(s.ctx, s.now)
	s.Require().NoError(err)
	s.Equal(1, sealed)

	got, err := svc.Get(s.ctx, first.ID)
	s.Require().NoError(err)
	s.Equal(notary.StatusCompleted, got.Status)

	skipped, err := svc.Get(s.ctx, second.ID)
	s.Require().NoError(err)
	s.Equal(notary.StatusPending, skipped.Status)
}

func (s *NotarySuite) TestCreateValidation() {
	svc := s.service()
	rootID := uuid.New()

	cases := []struct {
		name string
		req  notary.CreateRequest
	}{
		{"missing company", notary.CreateRequest{Type: notary.TypeDailyTimestamp, DailyRootID: &rootID}},
		{"unknown type", notary.CreateRequest{CompanyID: s.company, Type: "affidavit"}},
		{"daily without root", notary.CreateRequest{CompanyID: s.company, Type: notary.TypeDailyTimestamp}},
		{"message without entry", notary.CreateRequest{CompanyID: s.company, Type: notary.TypeMessageEvidence}},
		{"report without digest", notary.CreateRequest{CompanyID: s.company, Type: notary.TypeMonthlyReport, ArtifactPath: "reports/2025-03.pdf"}},
		{"report with short digest", notary.CreateRequest{
			CompanyID: s.company, Type: notary.TypeMonthlyReport,
			ArtifactPath: "reports/2025-03.pdf", ArtifactSHA256: "abc123",
		}},
	}
	for _, tc := range cases {
		s.Run(tc.name, func() {
			_, err := svc.Create(s.ctx, tc.req)
			s.True(derrors.HasCode(err, derrors.CodeValidation))
		})
	}
}

func (s *NotarySuite) TestGroupBucketsByMonth() {
	svc := s.service()
	evidence := s.rootEvidence(svc, false)

	group, err := svc.ListGroup(s.ctx, evidence.GroupID)
	s.Require().NoError(err)
	s.Require().Len(group, 1)
	s.Equal(evidence.ID, group[0].ID)

	// Same company, same month: same group.
	other := s.rootEvidenceForDate(svc, time.Date(2025, 3, 9, 0, 0, 0, 0, time.UTC))
	s.Equal(evidence.GroupID, other.GroupID)
}

func (s *NotarySuite) ledgerEntry() *ledger.Entry {
	svc, err := ledger.New(s.entries)
	s.Require().NoError(err)
	entry, err := svc.RecordEvidence(s.ctx, ledger.RecordRequest{
		CompanyID: s.company,
		ThreadID:  uuid.New(),
		EventType: ledger.EventSent,
		EventData: ledger.EventData{MessageID: "msg-1", Channel: "app"},
	})
	s.Require().NoError(err)
	return entry
}

func (s *NotarySuite) rootEvidenceForDate(svc *notary.Service, date time.Time) *notary.Evidence {
	root, err := s.roots.Upsert(context.Background(), merkle.DailyRoot{
		CompanyID:   s.company,
		Date:        date,
		RootHash:    "b4c5d6e7f8a9b4c5d6e7f8a9b4c5d6e7f8a9b4c5d6e7f8a9b4c5d6e7f8a9b4c5",
		EventCount:  2,
		BuiltAt:     s.now,
		Provisional: false,
	})
	s.Require().NoError(err)
	evidence, err := svc.Create(s.ctx, notary.CreateRequest{
		CompanyID:   s.company,
		Type:        notary.TypeDailyTimestamp,
		DailyRootID: &root.ID,
	})
	s.Require().NoError(err)
	return evidence
}

// violatingChecker reports every day as tampered.
type violatingChecker struct{}

func (violatingChecker) CheckRoot(context.Context, uuid.UUID, time.Time) error {
	return derrors.New(derrors.CodeIntegrityViolation, "recomputed root diverges from stored root")
}
