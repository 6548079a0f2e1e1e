//go:build integration

package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"chronoseal/internal/chain"
	"chronoseal/internal/chain/store"
	"chronoseal/pkg/canonical"
	"chronoseal/pkg/sentinel"
	"chronoseal/pkg/testutil/containers"
)

type PostgresChainSuite struct {
	suite.Suite
	pg    *containers.PostgresContainer
	store *store.PostgresStore
}

func TestPostgresChainSuite(t *testing.T) {
	suite.Run(t, new(PostgresChainSuite))
}

func (s *PostgresChainSuite) SetupSuite() {
	s.pg = containers.NewPostgresContainer(s.T())
	s.store = store.NewPostgres(s.pg.DB)
}

func (s *PostgresChainSuite) TearDownSuite() {
	_ = s.pg.DB.Close()
	_ = s.pg.Container.Terminate(context.Background())
}

func (s *PostgresChainSuite) SetupTest() {
	s.Require().NoError(s.pg.TruncateAll(context.Background()))
}

func (s *PostgresChainSuite) event(subjectID string, ts time.Time, prev string) chain.ChainedEvent {
	return chain.ChainedEvent{
		ID:           uuid.New(),
		CompanyID:    uuid.New(),
		SubjectID:    subjectID,
		EventType:    chain.EventEntry,
		Source:       "terminal-1",
		Timestamp:    ts,
		EventHash:    canonical.ChainEventHash(subjectID, "entry", ts, prev),
		PreviousHash: prev,
		CreatedAt:    ts,
	}
}

func (s *PostgresChainSuite) TestAppendAdvancesTail() {
	ctx := context.Background()
	ts := time.Now().UTC().Truncate(time.Microsecond)

	first := s.event("emp-1", ts, "")
	s.Require().NoError(s.store.Append(ctx, first, ""))

	tail, err := s.store.Tail(ctx, "emp-1")
	s.Require().NoError(err)
	s.Equal(first.EventHash, tail)

	second := s.event("emp-1", ts.Add(time.Hour), first.EventHash)
	s.Require().NoError(s.store.Append(ctx, second, first.EventHash))

	tail, err = s.store.Tail(ctx, "emp-1")
	s.Require().NoError(err)
	s.Equal(second.EventHash, tail)
}

func (s *PostgresChainSuite) TestStaleTailRejected() {
	ctx := context.Background()
	ts := time.Now().UTC().Truncate(time.Microsecond)

	first := s.event("emp-1", ts, "")
	s.Require().NoError(s.store.Append(ctx, first, ""))

	stale := s.event("emp-1", ts.Add(time.Hour), "")
	err := s.store.Append(ctx, stale, "")
	s.Require().ErrorIs(err, sentinel.ErrConflict)

	events, err := s.store.ListBySubject(ctx, "emp-1")
	s.Require().NoError(err)
	s.Len(events, 1, "losing append must not write an event")
}

func (s *PostgresChainSuite) TestOfflineUUIDUnique() {
	ctx := context.Background()
	ts := time.Now().UTC().Truncate(time.Microsecond)

	first := s.event("emp-1", ts, "")
	first.OfflineUUID = "offline-1"
	s.Require().NoError(s.store.Append(ctx, first, ""))

	dup := s.event("emp-2", ts, "")
	dup.OfflineUUID = "offline-1"
	err := s.store.Append(ctx, dup, "")
	s.Require().ErrorIs(err, sentinel.ErrConflict)

	found, err := s.store.FindByOfflineUUID(ctx, "offline-1")
	s.Require().NoError(err)
	s.Equal(first.ID, found.ID)
}

func (s *PostgresChainSuite) TestListByCompanyDay() {
	ctx := context.Background()
	day := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)

	inside := s.event("emp-1", day.Add(9*time.Hour), "")
	s.Require().NoError(s.store.Append(ctx, inside, ""))
	outside := s.event("emp-2", day.Add(26*time.Hour), "")
	s.Require().NoError(s.store.Append(ctx, outside, ""))

	events, err := s.store.ListByCompanyDay(ctx, inside.CompanyID, day, day.Add(24*time.Hour))
	s.Require().NoError(err)
	s.Require().Len(events, 1)
	s.Equal(inside.ID, events[0].ID)

	companies, err := s.store.CompaniesWithEvents(ctx, day, day.Add(24*time.Hour))
	s.Require().NoError(err)
	s.Equal([]uuid.UUID{inside.CompanyID}, companies)
}
