package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xela07ax/trustmesh/internal/classifier"
	"github.com/xela07ax/trustmesh/internal/domain"
	"github.com/xela07ax/trustmesh/internal/fraud"
	"go.uber.org/zap"
)

// stepClock — часы, сдвигающиеся на step при каждом вызове.
type stepClock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

func newStepClock(step time.Duration) *stepClock {
	return &stepClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC), step: step}
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(c.step)
	return c.now
}

// quietDetector никогда не поднимает флаги.
type quietDetector struct{}

func (quietDetector) Evaluate(string, []domain.Event) fraud.Verdict { return fraud.Verdict{} }

type recordingObserver struct {
	mu     sync.Mutex
	frozen map[string]string
}

func (o *recordingObserver) PrincipalFrozen(_ context.Context, principalID, reason string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.frozen == nil {
		o.frozen = make(map[string]string)
	}
	o.frozen[principalID] = reason
	return nil
}

func newTestLedger(t *testing.T, cfg Config, detector FraudEvaluator, step time.Duration) (*Ledger, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	l, err := New(store, classifier.Default(), detector, cfg, zap.NewNop())
	require.NoError(t, err)
	l.WithClock(newStepClock(step).Now)
	return l, store
}

func realDetector() *fraud.Detector {
	return fraud.NewDetector(fraud.DefaultConfig(), zap.NewNop())
}

func TestApplyEvent_ScenarioA_ThreeGigs(t *testing.T) {
	l, _ := newTestLedger(t, DefaultConfig(), realDetector(), time.Minute)
	ctx := context.Background()

	var last *domain.ApplyResult
	for i := 0; i < 3; i++ {
		res, err := l.ApplyEvent(ctx, "alice", "complete_gig", "gigs", nil)
		require.NoError(t, err)
		last = res
	}

	assert.Equal(t, int64(120), last.NewScore)
	assert.Equal(t, 2, last.NewLevel)
	assert.False(t, last.Frozen)

	snap, err := l.Snapshot(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(120), snap.TotalScore)
	assert.Equal(t, 2, snap.Level)
	assert.Equal(t, int64(3), snap.EventCounts["complete_gig"])
	assert.Contains(t, snap.Badges, "first_gig")
	assert.Contains(t, snap.Badges, "newcomer")
}

func TestApplyEvent_ScenarioB_RepetitionFreezes(t *testing.T) {
	obs := &recordingObserver{}
	l, _ := newTestLedger(t, DefaultConfig(), realDetector(), 20*time.Second)
	l.SetFreezeObserver(obs)
	ctx := context.Background()

	var frozeAt int
	for i := 1; i <= 25; i++ {
		res, err := l.ApplyEvent(ctx, "bob", "dao_vote", "dao", nil)
		if frozeAt == 0 {
			require.NoError(t, err)
			if res.FrozeNow {
				frozeAt = i
				assert.Contains(t, res.FreezeReason, "dao_vote")
			}
			continue
		}
		assert.ErrorIs(t, err, domain.ErrAccountFrozen)
	}
	assert.Equal(t, 21, frozeAt)

	snap, err := l.Snapshot(ctx, "bob")
	require.NoError(t, err)
	assert.True(t, snap.Frozen)
	assert.Contains(t, snap.FreezeReason, "dao_vote")
	assert.Equal(t, int64(105), snap.TotalScore)
	assert.Contains(t, obs.frozen["bob"], "dao_vote")

	_, err = l.ApplyEvent(ctx, "bob", "complete_gig", "gigs", nil)
	var fe *domain.FrozenError
	require.True(t, errors.As(err, &fe))
	assert.Contains(t, fe.Reason, "dao_vote")

	after, err := l.Snapshot(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, int64(105), after.TotalScore)

	res, err := l.ApplyEvent(ctx, "bob", "harassment_violation", "moderation", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(5), res.NewScore)
	assert.True(t, res.Frozen)
	assert.False(t, res.FrozeNow)
}

func TestApplyEvent_UnknownEventType(t *testing.T) {
	l, store := newTestLedger(t, DefaultConfig(), quietDetector{}, time.Second)

	_, err := l.ApplyEvent(context.Background(), "carol", "teleport", "x", nil)
	assert.ErrorIs(t, err, domain.ErrUnknownEventType)

	rec, err := store.Load(context.Background(), "carol")
	require.NoError(t, err)
	assert.Nil(t, rec, "unknown events must not create a record")
}

func TestApplyEvent_WindowEvictsOldest(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RecentEventWindowSize = 5
	l, _ := newTestLedger(t, cfg, quietDetector{}, time.Minute)
	ctx := context.Background()

	for i := 0; i < 6; i++ {
		_, err := l.ApplyEvent(ctx, "dan", "forum_post", "forum", map[string]any{"n": i})
		require.NoError(t, err)
	}

	snap, err := l.Snapshot(ctx, "dan")
	require.NoError(t, err)
	require.Len(t, snap.RecentEvents, 5)
	assert.Equal(t, 1, snap.RecentEvents[0].Detail["n"])
	assert.Equal(t, 5, snap.RecentEvents[4].Detail["n"])
	assert.Equal(t, int64(6), snap.EventCounts["forum_post"], "lifetime counters survive eviction")
}

func TestApplyEvent_BadgesUseLifetimeCounts(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RecentEventWindowSize = 3
	cfg.Badges = []domain.Badge{{ID: "voter", Kind: domain.BadgeByEventCount, EventType: "dao_vote", Count: 5}}
	l, _ := newTestLedger(t, cfg, quietDetector{}, time.Minute)
	ctx := context.Background()

	earned := 0
	for i := 0; i < 8; i++ {
		res, err := l.ApplyEvent(ctx, "erin", "dao_vote", "dao", nil)
		require.NoError(t, err)
		if i == 4 {
			assert.Equal(t, []string{"voter"}, res.BadgesEarned)
		}
		earned += len(res.BadgesEarned)
	}
	assert.Equal(t, 1, earned, "badge awarded exactly once")

	snap, err := l.Snapshot(ctx, "erin")
	require.NoError(t, err)
	assert.Equal(t, []string{"voter"}, snap.Badges)
}

func TestApplyEvent_BadgesNeverRevoked(t *testing.T) {
	l, _ := newTestLedger(t, DefaultConfig(), quietDetector{}, time.Minute)
	ctx := context.Background()

	_, err := l.ApplyEvent(ctx, "frank", "complete_gig", "gigs", nil)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err = l.ApplyEvent(ctx, "frank", "fraud_violation", "moderation", nil)
		require.NoError(t, err)
	}

	snap, err := l.Snapshot(ctx, "frank")
	require.NoError(t, err)
	assert.Equal(t, int64(40-600), snap.TotalScore, "no floor clamp")
	assert.Equal(t, 1, snap.Level)
	assert.Contains(t, snap.Badges, "newcomer")
	assert.Contains(t, snap.Badges, "first_gig")
}

func TestApplyEvent_LevelUp(t *testing.T) {
	l, _ := newTestLedger(t, DefaultConfig(), quietDetector{}, time.Minute)
	ctx := context.Background()

	res, err := l.ApplyEvent(ctx, "gina", "complete_gig", "gigs", nil)
	require.NoError(t, err)
	assert.False(t, res.LeveledUp)

	res, err = l.ApplyEvent(ctx, "gina", "dao_proposal", "dao", nil)
	require.NoError(t, err)
	assert.False(t, res.LeveledUp)

	res, err = l.ApplyEvent(ctx, "gina", "dao_proposal", "dao", nil)
	require.NoError(t, err)
	assert.True(t, res.LeveledUp)
	assert.Equal(t, 1, res.PreviousLevel)
	assert.Equal(t, 2, res.NewLevel)
}

func TestApplyEvent_DuplicateEventID(t *testing.T) {
	l, _ := newTestLedger(t, DefaultConfig(), quietDetector{}, time.Minute)
	ctx := context.Background()

	first, err := l.ApplyEvent(ctx, "hank", "complete_gig", "gigs", nil, WithEventID("evt-1"))
	require.NoError(t, err)
	assert.False(t, first.Duplicate)

	again, err := l.ApplyEvent(ctx, "hank", "complete_gig", "gigs", nil, WithEventID("evt-1"))
	require.NoError(t, err)
	assert.True(t, again.Duplicate)
	assert.Equal(t, int64(40), again.NewScore)

	snap, err := l.Snapshot(ctx, "hank")
	require.NoError(t, err)
	assert.Len(t, snap.RecentEvents, 1)
}

func TestApplyEvent_DedupHorizonIsBounded(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DedupHorizon = 2
	l, _ := newTestLedger(t, cfg, quietDetector{}, time.Minute)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		_, err := l.ApplyEvent(ctx, "ivy", "forum_post", "forum", nil, WithEventID(id))
		require.NoError(t, err)
	}

	snap, err := l.Snapshot(ctx, "ivy")
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c"}, snap.AppliedIDs)

	res, err := l.ApplyEvent(ctx, "ivy", "forum_post", "forum", nil, WithEventID("a"))
	require.NoError(t, err)
	assert.False(t, res.Duplicate, "ids outside the horizon are applied again")
}

func TestFreezeAndUnfreeze(t *testing.T) {
	obs := &recordingObserver{}
	l, _ := newTestLedger(t, DefaultConfig(), quietDetector{}, time.Minute)
	l.SetFreezeObserver(obs)
	ctx := context.Background()

	froze, err := l.Freeze(ctx, "jay", "manual review")
	require.NoError(t, err)
	assert.True(t, froze)
	assert.Equal(t, "manual review", obs.frozen["jay"])

	froze, err = l.Freeze(ctx, "jay", "again")
	require.NoError(t, err)
	assert.False(t, froze)

	_, err = l.ApplyEvent(ctx, "jay", "forum_post", "forum", nil)
	assert.ErrorIs(t, err, domain.ErrAccountFrozen)

	require.NoError(t, l.Unfreeze(ctx, "jay"))
	res, err := l.ApplyEvent(ctx, "jay", "forum_post", "forum", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(3), res.NewScore)
	assert.False(t, res.Frozen)
}

func TestUnfreeze_ReviewedEventsDoNotRefreeze(t *testing.T) {
	l, _ := newTestLedger(t, DefaultConfig(), realDetector(), 20*time.Second)
	ctx := context.Background()

	for i := 0; i < 21; i++ {
		_, err := l.ApplyEvent(ctx, "bob", "dao_vote", "dao", nil)
		require.NoError(t, err)
	}
	require.NoError(t, l.Unfreeze(ctx, "bob"))

	res, err := l.ApplyEvent(ctx, "bob", "complete_gig", "gigs", nil)
	require.NoError(t, err)
	assert.False(t, res.Frozen)
	assert.Empty(t, res.FraudFlags)
	assert.Equal(t, int64(145), res.NewScore)

	snap, err := l.Snapshot(ctx, "bob")
	require.NoError(t, err)
	assert.Len(t, snap.RecentEvents, 22, "window keeps reviewed events for history")
	assert.Equal(t, int64(21), snap.Reviewed)

	// Повтор после ревью считается с нуля: 20 голосов допустимы, 21-й снова замораживает
	for i := 1; i <= 21; i++ {
		res, err = l.ApplyEvent(ctx, "bob", "dao_vote", "dao", nil)
		require.NoError(t, err)
		if i < 21 {
			assert.False(t, res.Frozen, "vote %d", i)
		}
	}
	assert.True(t, res.FrozeNow)
	assert.Contains(t, res.FreezeReason, "dao_vote (21 times)")
}

func TestSnapshot_UnknownPrincipal(t *testing.T) {
	l, store := newTestLedger(t, DefaultConfig(), quietDetector{}, time.Minute)

	snap, err := l.Snapshot(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Equal(t, int64(0), snap.TotalScore)
	assert.Equal(t, 1, snap.Level)

	rec, err := store.Load(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Nil(t, rec, "reads never create records")
}

func TestApplyEvent_ConcurrentSamePrincipal(t *testing.T) {
	l, _ := newTestLedger(t, DefaultConfig(), quietDetector{}, time.Millisecond)
	ctx := context.Background()

	const workers, perWorker = 8, 25
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				_, err := l.ApplyEvent(ctx, "kim", "forum_post", "forum", nil)
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	snap, err := l.Snapshot(ctx, "kim")
	require.NoError(t, err)
	assert.Equal(t, int64(workers*perWorker*3), snap.TotalScore)
	assert.Equal(t, int64(workers*perWorker), snap.EventCounts["forum_post"])
	assert.Len(t, snap.RecentEvents, 100)
}

type failingStore struct{ *MemoryStore }

func (failingStore) Save(context.Context, *domain.TrustRecord) error { return fmt.Errorf("disk full") }

func TestApplyEvent_SaveFailureLeavesStateUntouched(t *testing.T) {
	store := failingStore{NewMemoryStore()}
	l, err := New(store, classifier.Default(), quietDetector{}, DefaultConfig(), zap.NewNop())
	require.NoError(t, err)

	_, err = l.ApplyEvent(context.Background(), "lee", "complete_gig", "gigs", nil)
	assert.ErrorContains(t, err, "disk full")

	rec, err := store.Load(context.Background(), "lee")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestNew_RejectsBadConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LevelThresholds = []int64{0, 100, 100}
	_, err := New(NewMemoryStore(), classifier.Default(), quietDetector{}, cfg, zap.NewNop())
	assert.Error(t, err)

	cfg = DefaultConfig()
	cfg.Badges = []domain.Badge{{ID: "x", Kind: domain.BadgeByEventCount}}
	_, err = New(NewMemoryStore(), classifier.Default(), quietDetector{}, cfg, zap.NewNop())
	assert.Error(t, err)
}
