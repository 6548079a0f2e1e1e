package chain_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"chronoseal/internal/chain"
	"chronoseal/internal/chain/store"
	"chronoseal/pkg/canonical"
	derrors "chronoseal/pkg/domain-errors"
	"chronoseal/pkg/requestcontext"
	"chronoseal/pkg/sentinel"
)

type RecorderSuite struct {
	suite.Suite
	store   *store.MemoryStore
	service *chain.Service
	company uuid.UUID
}

func TestRecorderSuite(t *testing.T) {
	suite.Run(t, new(RecorderSuite))
}

func (s *RecorderSuite) SetupTest() {
	s.store = store.NewMemory()
	svc, err := chain.New(s.store)
	s.Require().NoError(err)
	s.service = svc
	s.company = uuid.New()
}

func (s *RecorderSuite) ctxAt(t time.Time) context.Context {
	return requestcontext.WithTime(context.Background(), t)
}

func (s *RecorderSuite) TestFirstAppendStartsChainAtGenesis() {
	now := time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)

	result, err := s.service.Append(s.ctxAt(now), chain.AppendRequest{
		CompanyID: s.company,
		SubjectID: "emp-1",
		EventType: chain.EventEntry,
		Source:    "pin",
	})
	s.Require().NoError(err)

	event := result.Event
	s.Empty(event.PreviousHash)
	s.Equal(canonical.ChainEventHash("emp-1", "entry", now, ""), event.EventHash)
	s.Equal(now, event.Timestamp)
	s.False(result.Replayed)
}

func (s *RecorderSuite) TestChainInvariantOverManyAppends() {
	base := time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)

	for i := 0; i < 6; i++ {
		_, err := s.service.Append(s.ctxAt(base.Add(time.Duration(i)*time.Hour)), chain.AppendRequest{
			CompanyID: s.company,
			SubjectID: "emp-1",
			Source:    "pin",
		})
		s.Require().NoError(err)
	}

	events, err := s.service.ListBySubject(context.Background(), "emp-1")
	s.Require().NoError(err)
	s.Require().Len(events, 6)

	s.Empty(events[0].PreviousHash)
	for i := 1; i < len(events); i++ {
		s.Equal(events[i-1].EventHash, events[i].PreviousHash, "link %d", i)
	}
}

func (s *RecorderSuite) TestToggleAlternatesEntryExit() {
	base := time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)

	first, err := s.service.Append(s.ctxAt(base), chain.AppendRequest{
		CompanyID: s.company, SubjectID: "emp-1", Source: "pin",
	})
	s.Require().NoError(err)
	s.Equal(chain.EventEntry, first.Event.EventType)

	second, err := s.service.Append(s.ctxAt(base.Add(8*time.Hour)), chain.AppendRequest{
		CompanyID: s.company, SubjectID: "emp-1", Source: "pin",
	})
	s.Require().NoError(err)
	s.Equal(chain.EventExit, second.Event.EventType)

	// Next day starts over at entry.
	third, err := s.service.Append(s.ctxAt(base.Add(25*time.Hour)), chain.AppendRequest{
		CompanyID: s.company, SubjectID: "emp-1", Source: "pin",
	})
	s.Require().NoError(err)
	s.Equal(chain.EventEntry, third.Event.EventType)
}

func (s *RecorderSuite) TestDuplicateConsecutiveTypeRejected() {
	base := time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)

	_, err := s.service.Append(s.ctxAt(base), chain.AppendRequest{
		CompanyID: s.company, SubjectID: "emp-1", EventType: chain.EventEntry, Source: "pin",
	})
	s.Require().NoError(err)

	_, err = s.service.Append(s.ctxAt(base.Add(time.Hour)), chain.AppendRequest{
		CompanyID: s.company, SubjectID: "emp-1", EventType: chain.EventEntry, Source: "pin",
	})
	s.True(derrors.HasCode(err, derrors.CodeConflict), "got %v", err)
}

func (s *RecorderSuite) TestFutureTimestampRejected() {
	now := time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)

	_, err := s.service.Append(s.ctxAt(now), chain.AppendRequest{
		CompanyID: s.company,
		SubjectID: "emp-1",
		EventType: chain.EventEntry,
		Source:    "pin",
		Timestamp: now.Add(10 * time.Minute),
	})
	s.True(derrors.HasCode(err, derrors.CodeValidation), "got %v", err)
}

func (s *RecorderSuite) TestSmallSkewTolerated() {
	now := time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)

	_, err := s.service.Append(s.ctxAt(now), chain.AppendRequest{
		CompanyID: s.company,
		SubjectID: "emp-1",
		EventType: chain.EventEntry,
		Source:    "pin",
		Timestamp: now.Add(30 * time.Second),
	})
	s.NoError(err)
}

func (s *RecorderSuite) TestOfflineReplayReturnsOriginal() {
	base := time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)
	req := chain.AppendRequest{
		CompanyID:   s.company,
		SubjectID:   "emp-1",
		EventType:   chain.EventEntry,
		Source:      "pin",
		Timestamp:   base.Add(-time.Hour),
		Payload:     chain.Payload{OfflineSync: true},
		OfflineUUID: "offline-123",
	}

	first, err := s.service.Append(s.ctxAt(base), req)
	s.Require().NoError(err)
	s.False(first.Replayed)

	second, err := s.service.Append(s.ctxAt(base.Add(time.Minute)), req)
	s.Require().NoError(err)
	s.True(second.Replayed)
	s.Equal(first.Event.ID, second.Event.ID)

	events, err := s.service.ListBySubject(context.Background(), "emp-1")
	s.Require().NoError(err)
	s.Len(events, 1)
}

func (s *RecorderSuite) TestValidationErrors() {
	ctx := context.Background()

	_, err := s.service.Append(ctx, chain.AppendRequest{CompanyID: s.company})
	s.True(derrors.HasCode(err, derrors.CodeValidation))

	_, err = s.service.Append(ctx, chain.AppendRequest{SubjectID: "emp-1"})
	s.True(derrors.HasCode(err, derrors.CodeValidation))

	_, err = s.service.Append(ctx, chain.AppendRequest{
		CompanyID: s.company, SubjectID: "emp-1", EventType: chain.EventType("lunch"),
	})
	s.True(derrors.HasCode(err, derrors.CodeValidation))
}

// conflictingStore loses every CAS to simulate a concurrent append.
type conflictingStore struct {
	*store.MemoryStore
}

func (c *conflictingStore) Append(context.Context, chain.ChainedEvent, string) error {
	return sentinel.ErrConflict
}

func (s *RecorderSuite) TestLostRaceSurfacesChainConflict() {
	svc, err := chain.New(&conflictingStore{MemoryStore: store.NewMemory()})
	s.Require().NoError(err)

	_, err = svc.Append(context.Background(), chain.AppendRequest{
		CompanyID: s.company, SubjectID: "emp-1", EventType: chain.EventEntry,
	})
	s.True(derrors.HasCode(err, derrors.CodeChainConflict), "got %v", err)
}
