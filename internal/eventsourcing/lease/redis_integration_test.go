//go:build integration

package lease_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"accounts/internal/eventsourcing/lease"
	"accounts/pkg/testutil/containers"
)

type RedisLeaseSuite struct {
	suite.Suite
	redis *containers.RedisContainer
}

func TestRedisLeaseSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RedisLeaseSuite))
}

func (s *RedisLeaseSuite) SetupSuite() {
	s.redis = containers.GetManager().GetRedis(s.T())
}

func (s *RedisLeaseSuite) SetupTest() {
	s.Require().NoError(s.redis.FlushAll(context.Background()))
}

func (s *RedisLeaseSuite) TestSingleOwnerAcrossInstances() {
	ctx := context.Background()
	nodeA := lease.NewRedis(s.redis.Client, lease.WithInstanceID("node-a"))
	nodeB := lease.NewRedis(s.redis.Client, lease.WithInstanceID("node-b"))

	held, err := nodeA.Acquire(ctx, "UserAggregate|ana1", time.Minute)
	s.Require().NoError(err)

	_, err = nodeB.Acquire(ctx, "UserAggregate|ana1", time.Minute)
	s.Require().ErrorIs(err, lease.ErrHeld)

	s.Require().NoError(held.Renew(ctx))
	s.Require().NoError(held.Release(ctx))

	taken, err := nodeB.Acquire(ctx, "UserAggregate|ana1", time.Minute)
	s.Require().NoError(err)
	s.Greater(taken.Token(), held.Token())
}

func (s *RedisLeaseSuite) TestExpiredLeaseCannotRenew() {
	ctx := context.Background()
	nodeA := lease.NewRedis(s.redis.Client, lease.WithInstanceID("node-a"))
	nodeB := lease.NewRedis(s.redis.Client, lease.WithInstanceID("node-b"))

	stale, err := nodeA.Acquire(ctx, "k", 100*time.Millisecond)
	s.Require().NoError(err)

	s.Eventually(func() bool {
		_, err := nodeB.Acquire(ctx, "k", time.Minute)
		return err == nil
	}, 5*time.Second, 50*time.Millisecond)

	s.Require().ErrorIs(stale.Renew(ctx), lease.ErrLost)
	s.Require().NoError(stale.Release(ctx))

	_, err = nodeA.Acquire(ctx, "k", time.Minute)
	s.Require().ErrorIs(err, lease.ErrHeld, "stale release must not free the new owner's key")
}
