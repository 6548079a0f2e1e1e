package idempotency_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"chronoseal/internal/idempotency"
	"chronoseal/internal/idempotency/store"
	derrors "chronoseal/pkg/domain-errors"
	"chronoseal/pkg/requestcontext"
)

type GuardSuite struct {
	suite.Suite
	store *store.MemoryStore
	guard *idempotency.Guard
	now   time.Time
	ctx   context.Context
}

func TestGuardSuite(t *testing.T) {
	suite.Run(t, new(GuardSuite))
}

func (s *GuardSuite) SetupTest() {
	s.store = store.NewMemory()
	guard, err := idempotency.New(s.store, idempotency.WithTTL(time.Hour))
	s.Require().NoError(err)
	s.guard = guard
	s.now = time.Date(2025, 3, 11, 9, 0, 0, 0, time.UTC)
	s.ctx = requestcontext.WithTime(context.Background(), s.now)
}

func respond(status int, body string) idempotency.Handler {
	return func(context.Context) (int, []byte, error) {
		return status, []byte(body), nil
	}
}

func (s *GuardSuite) TestFirstExecutionRuns() {
	var runs atomic.Int32
	result, err := s.guard.Execute(s.ctx, "key-1", "POST /clock/events", []byte(`{"a":1}`),
		func(context.Context) (int, []byte, error) {
			runs.Add(1)
			return 201, []byte(`{"id":"e-1"}`), nil
		})
	s.Require().NoError(err)
	s.Equal(int32(1), runs.Load())
	s.Equal(201, result.Status)
	s.False(result.Replayed)
}

func (s *GuardSuite) TestReplayIsByteIdentical() {
	payload := []byte(`{"a":1}`)
	first, err := s.guard.Execute(s.ctx, "key-1", "POST /clock/events", payload, respond(201, `{"id":"e-1"}`))
	s.Require().NoError(err)

	var runs atomic.Int32
	second, err := s.guard.Execute(s.ctx, "key-1", "POST /clock/events", payload,
		func(context.Context) (int, []byte, error) {
			runs.Add(1)
			return 500, nil, nil
		})
	s.Require().NoError(err)

	s.Zero(runs.Load(), "replay must not re-execute the handler")
	s.True(second.Replayed)
	s.Equal(first.Status, second.Status)
	s.Equal(first.Body, second.Body)
}

func (s *GuardSuite) TestDifferentPayloadSameKeyRejected() {
	_, err := s.guard.Execute(s.ctx, "key-1", "POST /clock/events", []byte(`{"a":1}`), respond(201, `{}`))
	s.Require().NoError(err)

	_, err = s.guard.Execute(s.ctx, "key-1", "POST /clock/events", []byte(`{"a":2}`), respond(201, `{}`))
	s.True(derrors.HasCode(err, derrors.CodeIdempotencyConflict))
}

func (s *GuardSuite) TestSameKeyDifferentEndpointIsIndependent() {
	payload := []byte(`{"a":1}`)
	_, err := s.guard.Execute(s.ctx, "key-1", "POST /clock/events", payload, respond(201, `{}`))
	s.Require().NoError(err)

	result, err := s.guard.Execute(s.ctx, "key-1", "POST /ledger/entries", payload, respond(201, `{}`))
	s.Require().NoError(err)
	s.False(result.Replayed)
}

func (s *GuardSuite) TestInFlightDuplicateRejected() {
	payload := []byte(`{"a":1}`)
	started := make(chan struct{})
	finish := make(chan struct{})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := s.guard.Execute(s.ctx, "key-1", "POST /clock/events", payload,
			func(context.Context) (int, []byte, error) {
				close(started)
				<-finish
				return 201, []byte(`{}`), nil
			})
		s.NoError(err)
	}()

	<-started
	_, err := s.guard.Execute(s.ctx, "key-1", "POST /clock/events", payload, respond(201, `{}`))
	s.True(derrors.HasCode(err, derrors.CodeIdempotencyInProgress))

	close(finish)
	wg.Wait()
}

func (s *GuardSuite) TestConcurrentIdenticalRequestsExecuteOnce() {
	payload := []byte(`{"a":1}`)
	var runs atomic.Int32

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = s.guard.Execute(s.ctx, "key-1", "POST /clock/events", payload,
				func(context.Context) (int, []byte, error) {
					runs.Add(1)
					return 201, []byte(`{}`), nil
				})
		}()
	}
	wg.Wait()
	s.Equal(int32(1), runs.Load(), "the side effect must run at most once")
}

func (s *GuardSuite) TestHandlerFailureReleasesClaim() {
	payload := []byte(`{"a":1}`)
	boom := errors.New("store unavailable")

	_, err := s.guard.Execute(s.ctx, "key-1", "POST /clock/events", payload,
		func(context.Context) (int, []byte, error) { return 0, nil, boom })
	s.ErrorIs(err, boom)

	// Same key retries cleanly after the failure.
	result, err := s.guard.Execute(s.ctx, "key-1", "POST /clock/events", payload, respond(201, `{}`))
	s.Require().NoError(err)
	s.False(result.Replayed)
}

func (s *GuardSuite) TestExpiredRecordIsReclaimed() {
	payload := []byte(`{"a":1}`)
	_, err := s.guard.Execute(s.ctx, "key-1", "POST /clock/events", payload, respond(201, `{"v":1}`))
	s.Require().NoError(err)

	later := requestcontext.WithTime(context.Background(), s.now.Add(2*time.Hour))
	result, err := s.guard.Execute(later, "key-1", "POST /clock/events", payload, respond(201, `{"v":2}`))
	s.Require().NoError(err)
	s.False(result.Replayed, "an expired record must not replay")
	s.JSONEq(`{"v":2}`, string(result.Body))
}

func (s *GuardSuite) TestMissingKeyRejected() {
	_, err := s.guard.Execute(s.ctx, "", "POST /clock/events", nil, respond(201, `{}`))
	s.True(derrors.HasCode(err, derrors.CodeValidation))
}

func (s *GuardSuite) TestDeleteExpired() {
	for i := 0; i < 3; i++ {
		_, err := s.guard.Execute(s.ctx, fmt.Sprintf("key-%d", i), "POST /clock/events", []byte(`{}`), respond(201, `{}`))
		s.Require().NoError(err)
	}

	deleted, err := s.store.DeleteExpired(context.Background(), s.now.Add(2*time.Hour))
	s.Require().NoError(err)
	s.Equal(3, deleted)
}
