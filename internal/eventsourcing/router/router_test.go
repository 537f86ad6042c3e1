package router

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"

	"accounts/internal/eventsourcing/entity"
	"accounts/internal/eventsourcing/journal"
	"accounts/internal/eventsourcing/lease"
	"accounts/internal/eventsourcing/snapshot"
	dErrors "accounts/pkg/domain-errors"
)

type RouterSuite struct {
	suite.Suite
	ctx      context.Context
	behavior *tally
	journal  *flakyJournal
	metrics  *Metrics
}

func TestRouterSuite(t *testing.T) {
	suite.Run(t, new(RouterSuite))
}

func (s *RouterSuite) SetupTest() {
	s.ctx = context.Background()
	s.behavior = newTally()
	s.journal = &flakyJournal{Journal: journal.NewMemory()}
	s.metrics = NewMetrics(prometheus.NewRegistry())
}

func (s *RouterSuite) newRouter(opts ...Option) *Router[int, tallyCmd, bumped] {
	rt := entity.NewRuntime[int, tallyCmd, bumped](s.behavior, tallyCodec{}, tallyCodec{}, s.journal, snapshot.NewMemory())
	r := New(rt, append([]Option{WithMetrics(s.metrics)}, opts...)...)
	s.T().Cleanup(func() { _ = r.Stop(context.Background()) })
	return r
}

func (s *RouterSuite) TestAskReturnsPersistedEvent() {
	r := s.newRouter()

	evt, err := r.Ask(s.ctx, "t1", inc{})
	s.Require().NoError(err)
	s.Equal(bumped{Total: 1}, evt)

	evt, err = r.Ask(s.ctx, "t1", inc{})
	s.Require().NoError(err)
	s.Equal(bumped{Total: 2}, evt)
	s.Equal(1, r.Active())
}

func (s *RouterSuite) TestBusinessRejectionPassesThrough() {
	r := s.newRouter()
	_, err := r.Ask(s.ctx, "t1", deny{})
	s.Require().ErrorIs(err, errDenied)
}

func (s *RouterSuite) TestEmptyEntityIDRejected() {
	r := s.newRouter()
	_, err := r.Ask(s.ctx, "", inc{})
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	s.Equal(0, r.Active())
}

// TestCommandsForOneEntityAreSerialized verifies that concurrent commands for a
// single id never race: every increment observes the previous one.
func (s *RouterSuite) TestCommandsForOneEntityAreSerialized() {
	r := s.newRouter()
	const callers = 50

	var wg sync.WaitGroup
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := r.Ask(s.ctx, "shared", inc{})
			s.NoError(err)
		}()
	}
	wg.Wait()

	evt, err := r.Ask(s.ctx, "shared", inc{})
	s.Require().NoError(err)
	s.Equal(callers+1, evt.Total)
	s.Equal(callers+1, s.journal.Journal.(*journal.Memory).Len(journal.PersistenceID{EntityType: "Tally", EntityID: "shared"}))
}

func (s *RouterSuite) TestEntitiesRunInParallel() {
	r := s.newRouter()

	blocked := r.Dispatch(s.ctx, "slow", hold{})
	s.Equal("slow", <-s.behavior.entered)

	evt, err := r.Ask(s.ctx, "fast", inc{})
	s.Require().NoError(err)
	s.Equal(1, evt.Total)

	close(s.behavior.release)
	reply := <-blocked
	s.Require().NoError(reply.Err)
}

func (s *RouterSuite) TestUnhandledCommandTimesOut() {
	r := s.newRouter(WithAskTimeout(50 * time.Millisecond))

	_, err := r.Ask(s.ctx, "t1", noop{})
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeTimeout))
	s.Equal(float64(1), testutil.ToFloat64(s.metrics.Timeouts.WithLabelValues("Tally")))

	evt, err := r.Ask(s.ctx, "t1", inc{})
	s.Require().NoError(err, "instance keeps serving after an ignored command")
	s.Equal(1, evt.Total)
}

func (s *RouterSuite) TestCallerCancellationIsNotTimeout() {
	r := s.newRouter()
	ctx, cancel := context.WithCancel(s.ctx)
	cancel()

	_, err := r.Ask(ctx, "t1", noop{})
	s.Require().ErrorIs(err, context.Canceled)
	s.False(dErrors.HasCode(err, dErrors.CodeTimeout))
}

func (s *RouterSuite) TestIdleInstancePassivatesAndReactivates() {
	r := s.newRouter(WithPassivateAfter(20 * time.Millisecond))

	_, err := r.Ask(s.ctx, "t1", inc{})
	s.Require().NoError(err)

	s.Eventually(func() bool { return r.Active() == 0 }, time.Second, 5*time.Millisecond)
	s.Equal(float64(1), testutil.ToFloat64(s.metrics.Passivations.WithLabelValues("Tally")))

	evt, err := r.Ask(s.ctx, "t1", inc{})
	s.Require().NoError(err)
	s.Equal(2, evt.Total, "reactivated instance recovers prior state")
	s.Equal(float64(2), testutil.ToFloat64(s.metrics.Activations.WithLabelValues("Tally")))
}

// TestCrashFailsInFlightAndRequeuesTheRest verifies that a persistence failure
// fails only the command being processed; queued commands run on a fresh instance.
func (s *RouterSuite) TestCrashFailsInFlightAndRequeuesTheRest() {
	r := s.newRouter()
	_, err := r.Ask(s.ctx, "t1", inc{})
	s.Require().NoError(err)

	s.journal.gate = make(chan struct{})
	s.journal.failAppends.Store(1)

	inFlight := r.Dispatch(s.ctx, "t1", inc{})
	s.Eventually(func() bool { return s.journal.failAppends.Load() < 1 }, time.Second, time.Millisecond)
	queuedA := r.Dispatch(s.ctx, "t1", inc{})
	queuedB := r.Dispatch(s.ctx, "t1", inc{})
	close(s.journal.gate)

	failed := <-inFlight
	s.Require().Error(failed.Err)
	s.True(dErrors.HasCode(failed.Err, dErrors.CodePersistenceFailure))
	s.ErrorIs(failed.Err, errDiskFull)

	a := <-queuedA
	s.Require().NoError(a.Err)
	s.Equal(2, a.Event.Total)
	b := <-queuedB
	s.Require().NoError(b.Err)
	s.Equal(3, b.Event.Total)

	s.Equal(float64(1), testutil.ToFloat64(s.metrics.Crashes.WithLabelValues("Tally", "command")))
	s.Equal(float64(2), testutil.ToFloat64(s.metrics.Activations.WithLabelValues("Tally")))
}

func (s *RouterSuite) TestPanicFailsCommandAndRecovers() {
	r := s.newRouter()
	_, err := r.Ask(s.ctx, "t1", inc{})
	s.Require().NoError(err)

	_, err = r.Ask(s.ctx, "t1", explode{})
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeInternal))

	evt, err := r.Ask(s.ctx, "t1", inc{})
	s.Require().NoError(err)
	s.Equal(2, evt.Total)
}

func (s *RouterSuite) TestRecoveryFailureFailsQueuedCommands() {
	r := s.newRouter()
	s.journal.failReads.Store(1)

	_, err := r.Ask(s.ctx, "t1", inc{})
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodePersistenceFailure))
	s.Eventually(func() bool { return r.Active() == 0 }, time.Second, 5*time.Millisecond)

	evt, err := r.Ask(s.ctx, "t1", inc{})
	s.Require().NoError(err, "next dispatch reactivates")
	s.Equal(1, evt.Total)
}

func (s *RouterSuite) TestLeaseHeldElsewhere() {
	leaser := lease.NewMemory()
	_, err := leaser.Acquire(s.ctx, "Tally|t1", time.Minute)
	s.Require().NoError(err)

	r := s.newRouter(WithLeaser(leaser, time.Minute, 30*time.Millisecond))
	_, err = r.Ask(s.ctx, "t1", inc{})
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeUnavailable))

	_, err = r.Ask(s.ctx, "t2", inc{})
	s.Require().NoError(err, "other entities are unaffected")
}

func (s *RouterSuite) TestLeaseHeldWhileActive() {
	leaser := lease.NewMemory()
	r := s.newRouter(WithLeaser(leaser, time.Minute, time.Second))

	_, err := r.Ask(s.ctx, "t1", inc{})
	s.Require().NoError(err)
	_, held := leaser.Holder("Tally|t1")
	s.True(held)

	s.Require().NoError(r.Stop(s.ctx))
	_, held = leaser.Holder("Tally|t1")
	s.False(held, "stop releases the lease")
}

// manualClock drives lease expiry independently of wall time.
type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (s *RouterSuite) TestExpiredOwnerIsFencedBeforeRetry() {
	clock := &manualClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	leaser := lease.NewMemory(lease.WithClock(clock.Now))
	r := s.newRouter(WithLeaser(leaser, time.Minute, time.Second))

	_, err := r.Ask(s.ctx, "t1", inc{})
	s.Require().NoError(err)

	pending := r.Dispatch(s.ctx, "t1", hold{})
	<-s.behavior.entered

	// the lease lapses mid-command and another node takes over and writes
	clock.Advance(2 * time.Minute)
	_, err = leaser.Acquire(s.ctx, "Tally|t1", time.Minute)
	s.Require().NoError(err)
	pid := journal.PersistenceID{EntityType: "Tally", EntityID: "t1"}
	_, err = s.journal.Journal.Append(s.ctx, pid, 1,
		journal.Event{Manifest: "bumped", Payload: []byte(`{"total":7}`), Tags: []string{"tallies"}})
	s.Require().NoError(err)

	close(s.behavior.release)
	reply := <-pending
	s.Require().Error(reply.Err)
	s.True(dErrors.HasCode(reply.Err, dErrors.CodeUnavailable))
	s.ErrorIs(reply.Err, lease.ErrLost)

	recs, err := s.journal.ReadFrom(s.ctx, pid, 0)
	s.Require().NoError(err)
	s.Require().Len(recs, 2, "the stale owner appends nothing")
	s.JSONEq(`{"total":7}`, string(recs[1].Payload))
}

func (s *RouterSuite) TestMailboxFull() {
	r := s.newRouter(WithMailboxSize(1))

	first := r.Dispatch(s.ctx, "t1", hold{})
	<-s.behavior.entered
	second := r.Dispatch(s.ctx, "t1", inc{})
	third := r.Dispatch(s.ctx, "t1", inc{})

	rejected := <-third
	s.True(dErrors.HasCode(rejected.Err, dErrors.CodeUnavailable))

	close(s.behavior.release)
	s.NoError((<-first).Err)
	s.NoError((<-second).Err)
}

func (s *RouterSuite) TestStopRefusesNewCommands() {
	r := s.newRouter()
	_, err := r.Ask(s.ctx, "t1", inc{})
	s.Require().NoError(err)

	s.Require().NoError(r.Stop(s.ctx))
	s.Equal(0, r.Active())

	_, err = r.Ask(s.ctx, "t1", inc{})
	s.True(dErrors.HasCode(err, dErrors.CodeUnavailable))
	s.Require().NoError(r.Stop(s.ctx), "stop is idempotent")
}
