//go:build integration

package lease_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"chronoseal/internal/chain/lease"
	"chronoseal/pkg/testutil/containers"
)

func TestRedisLockerExclusion(t *testing.T) {
	rc := containers.NewRedisContainer(t)
	defer func() { _ = rc.Container.Terminate(context.Background()) }()

	locker := lease.NewRedis(rc.Client)
	ctx := context.Background()

	release, err := locker.Acquire(ctx, "subject:emp-1", 5*time.Second)
	require.NoError(t, err)

	// The same key is held; a second acquire blocks until its context expires.
	shortCtx, cancel := context.WithTimeout(ctx, 300*time.Millisecond)
	defer cancel()
	_, err = locker.Acquire(shortCtx, "subject:emp-1", 5*time.Second)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	// Other keys are unaffected.
	otherRelease, err := locker.Acquire(ctx, "subject:emp-2", 5*time.Second)
	require.NoError(t, err)
	otherRelease(ctx)

	release(ctx)
	release2, err := locker.Acquire(ctx, "subject:emp-1", 5*time.Second)
	require.NoError(t, err, "released lease must be acquirable again")
	release2(ctx)
}

func TestRedisLockerExpiry(t *testing.T) {
	rc := containers.NewRedisContainer(t)
	defer func() { _ = rc.Container.Terminate(context.Background()) }()

	locker := lease.NewRedis(rc.Client)
	ctx := context.Background()

	_, err := locker.Acquire(ctx, "subject:emp-1", 200*time.Millisecond)
	require.NoError(t, err)

	// The holder never releases; the TTL frees the lease for the next waiter.
	waitCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	release, err := locker.Acquire(waitCtx, "subject:emp-1", time.Second)
	require.NoError(t, err)
	release(ctx)
}
