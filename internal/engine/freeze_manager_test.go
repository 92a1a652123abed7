package engine

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xela07ax/trustmesh/internal/infra"
)

type fakeUnfreezer struct {
	mu  sync.Mutex
	ids []string
}

func (f *fakeUnfreezer) Unfreeze(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ids = append(f.ids, id)
	return nil
}

func (f *fakeUnfreezer) called(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, got := range f.ids {
		if got == id {
			return true
		}
	}
	return false
}

func cached(m *FreezeManager, id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.frozen[id]
	return ok
}

type staticFrozen []string

func (s staticFrozen) FrozenPrincipals(context.Context) ([]string, error) { return s, nil }

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func TestFreezeManager_PrincipalFrozenPublishes(t *testing.T) {
	mr, rdb := newRedis(t)
	m := NewFreezeManager(rdb, &fakeUnfreezer{}, zap.NewNop())

	require.NoError(t, m.PrincipalFrozen(context.Background(), "bob", "repeated action: dao_vote (21 times)"))

	assert.True(t, cached(m, "bob"))
	ok, err := mr.SIsMember(infra.RedisKeyFrozenPrincipals, "bob")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestFreezeManager_InitAndWarmup(t *testing.T) {
	mr, rdb := newRedis(t)
	ctx := context.Background()

	m := NewFreezeManager(rdb, &fakeUnfreezer{}, zap.NewNop())
	require.NoError(t, m.Warmup(ctx, staticFrozen{"a", "b"}))
	assert.True(t, cached(m, "a"))
	members, err := mr.Members(infra.RedisKeyFrozenPrincipals)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b"}, members)

	// Второй инстанс: лок уже взят, но Init читает заполненный Redis
	other := NewFreezeManager(rdb, &fakeUnfreezer{}, zap.NewNop())
	require.NoError(t, other.Init(ctx))
	assert.Equal(t, 2, other.Count())
}

func TestFreezeManager_ExternalUnfreezeSignal(t *testing.T) {
	_, rdb := newRedis(t)
	ledger := &fakeUnfreezer{}
	m := NewFreezeManager(rdb, ledger, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()

	require.NoError(t, m.PrincipalFrozen(ctx, "actor:review", "manual"))

	// Подписка асинхронная: публикуем, пока сигнал не дойдет
	assert.Eventually(t, func() bool {
		_ = m.Release(context.Background(), "actor:review")
		return ledger.called("actor:review")
	}, 3*time.Second, 20*time.Millisecond)

	assert.Eventually(t, func() bool { return !cached(m, "actor:review") }, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("listener did not stop")
	}
}

func TestFreezeManager_FrozenGaugeFollowsSignals(t *testing.T) {
	_, rdb := newRedis(t)
	ctx := context.Background()
	reg := prometheus.NewRegistry()
	m := NewFreezeManager(rdb, &fakeUnfreezer{}, zap.NewNop())
	NewMetrics(reg).TrackFrozenPrincipals(m.Count)

	require.NoError(t, m.Warmup(ctx, staticFrozen{"a", "b"}))
	require.NoError(t, m.PrincipalFrozen(ctx, "c", "manual"))
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(`
# HELP trustmesh_frozen_principals Principals currently frozen across the cluster.
# TYPE trustmesh_frozen_principals gauge
trustmesh_frozen_principals 3
`), "trustmesh_frozen_principals"))

	m.handleSignal(ctx, "a", false)
	assert.False(t, cached(m, "a"))
	assert.Equal(t, 2.0, gaugeValue(t, reg, "trustmesh_frozen_principals"))
}

func gaugeValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() == name {
			require.Len(t, f.GetMetric(), 1)
			return f.GetMetric()[0].GetGauge().GetValue()
		}
	}
	t.Fatalf("metric %s not gathered", name)
	return 0
}
