package engine

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xela07ax/trustmesh/internal/actor"
	"github.com/xela07ax/trustmesh/internal/audit"
	"github.com/xela07ax/trustmesh/internal/domain"
	"github.com/xela07ax/trustmesh/internal/infra/auth"
	"github.com/xela07ax/trustmesh/internal/policy"
	"github.com/xela07ax/trustmesh/internal/registry"
)

type levels map[string]int

func (l levels) Level(_ context.Context, id string) (int, error) {
	if lvl, ok := l[id]; ok {
		return lvl, nil
	}
	return 1, nil
}

type testActor struct{ *actor.Mux }

func (testActor) Name() string { return "Test" }

func newTestActor() testActor {
	m := actor.NewMux()
	m.Handle(actor.ActionSpec{Name: "open", Requirement: domain.Requirement{Anonymous: true}},
		func(_ context.Context, c actor.Call) (actor.Result, error) {
			return actor.Result{Data: map[string]any{"who": c.Principal()}}, nil
		})
	m.Handle(actor.ActionSpec{Name: "gated"},
		func(_ context.Context, c actor.Call) (actor.Result, error) {
			return actor.Result{Data: map[string]any{"who": c.Principal()}}, nil
		})
	m.Handle(actor.ActionSpec{Name: "elite", Requirement: domain.Requirement{MinTrustLevel: 3}},
		func(context.Context, actor.Call) (actor.Result, error) {
			return actor.Result{Data: map[string]any{"ok": true}}, nil
		})
	m.Handle(actor.ActionSpec{Name: "fail"},
		func(context.Context, actor.Call) (actor.Result, error) {
			return actor.Result{}, errors.New("boom")
		})
	m.Handle(actor.ActionSpec{Name: "panic"},
		func(context.Context, actor.Call) (actor.Result, error) {
			panic("handler bug")
		})
	return testActor{m}
}

type envFixture struct {
	env     *Envelope
	journal *audit.Journal
	metrics *Metrics
}

func newEnvFixture(t *testing.T, rules policy.StaticRules) envFixture {
	t.Helper()
	reg := registry.New()
	reg.MustRegister("test", newTestActor())

	pdp := policy.NewMemoEnforcer(rules, zap.NewNop())
	require.NoError(t, pdp.Refresh(context.Background()))

	j := audit.NewJournal(0)
	m := NewMetrics(prometheus.NewRegistry())
	env := NewEnvelope(reg, levels{"alice": 4, "bob": 1}, pdp, j, nil, m, zap.NewNop())
	return envFixture{env: env, journal: j, metrics: m}
}

func as(principal string) context.Context {
	return auth.WithIdentity(context.Background(), &domain.Identity{PrincipalID: principal})
}

func (f envFixture) records(t *testing.T) []audit.ActionRecord {
	t.Helper()
	recs, err := f.journal.Query(context.Background(), audit.Filter{})
	require.NoError(t, err)
	return recs
}

func TestInvoke_ExactlyOneRecordPerCall(t *testing.T) {
	cases := []struct {
		name    string
		ctx     context.Context
		actorID string
		action  string
		opts    []InvokeOption
		wantErr error
		kind    string
	}{
		{"success", as("alice"), "test", "gated", nil, nil, ""},
		{"anonymous allowed", context.Background(), "test", "open", nil, nil, ""},
		{"unauthenticated", context.Background(), "test", "gated", nil, domain.ErrUnauthenticated, "unauthenticated"},
		{"insufficient trust", as("bob"), "test", "elite", nil, domain.ErrInsufficientTrust, "insufficient_trust"},
		{"explicit min trust", as("bob"), "test", "gated", []InvokeOption{WithMinTrustLevel(2)}, domain.ErrInsufficientTrust, "insufficient_trust"},
		{"unknown action", as("alice"), "test", "nope", nil, domain.ErrUnknownAction, "unknown_action"},
		{"unknown action anonymous", context.Background(), "test", "nope", nil, domain.ErrUnauthenticated, "unauthenticated"},
		{"unknown actor", as("alice"), "ghost", "gated", nil, domain.ErrUnknownTargetActor, "unknown_target_actor"},
		{"unknown actor anonymous", context.Background(), "ghost", "gated", nil, domain.ErrUnknownTargetActor, "unknown_target_actor"},
		{"handler error", as("alice"), "test", "fail", nil, nil, "handler_error"},
		{"handler panic", as("alice"), "test", "panic", nil, nil, "handler_error"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newEnvFixture(t, nil)
			_, err := f.env.Invoke(tc.ctx, tc.actorID, tc.action, map[string]any{"k": "v"}, tc.opts...)

			recs := f.records(t)
			require.Len(t, recs, 1)
			rec := recs[0]
			assert.Equal(t, tc.actorID, rec.ActorID)
			assert.Equal(t, tc.action, rec.Action)
			assert.NotEmpty(t, rec.TraceID)

			if tc.kind == "" {
				require.NoError(t, err)
				assert.True(t, rec.Success)
				assert.Empty(t, rec.Error)
				return
			}
			require.Error(t, err)
			if tc.wantErr != nil {
				assert.ErrorIs(t, err, tc.wantErr)
			}
			assert.False(t, rec.Success)
			assert.Equal(t, tc.kind, rec.ErrorKind)
			assert.Equal(t, err.Error(), rec.Error)
		})
	}
}

func TestInvoke_ScenarioC_UnauthenticatedIsAudited(t *testing.T) {
	f := newEnvFixture(t, nil)

	_, err := f.env.Invoke(context.Background(), "test", "gated", nil)
	require.ErrorIs(t, err, domain.ErrUnauthenticated)

	failed := false
	recs, qerr := f.journal.Query(context.Background(), audit.Filter{ActorID: "test", Success: &failed})
	require.NoError(t, qerr)
	require.Len(t, recs, 1)
	assert.Empty(t, recs[0].PrincipalID)
	assert.Contains(t, recs[0].Error, "unauthenticated")
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.ErrorTotal.WithLabelValues("unauthenticated")))
}

func TestInvoke_TrustErrorCarriesLevels(t *testing.T) {
	f := newEnvFixture(t, nil)
	_, err := f.env.Invoke(as("bob"), "test", "elite", nil)

	var te *domain.TrustError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, 3, te.Required)
	assert.Equal(t, 1, te.Actual)

	_, err = f.env.Invoke(as("alice"), "test", "elite", nil)
	assert.NoError(t, err)
}

func TestInvoke_PolicyRaisesRequirement(t *testing.T) {
	f := newEnvFixture(t, policy.StaticRules{
		{Actor: "test", Action: "open", Anonymous: false, MinTrustLevel: 2},
	})

	_, err := f.env.Invoke(context.Background(), "test", "open", nil)
	assert.ErrorIs(t, err, domain.ErrUnauthenticated, "table revokes anonymous access")

	_, err = f.env.Invoke(as("bob"), "test", "open", nil)
	assert.ErrorIs(t, err, domain.ErrInsufficientTrust)

	res, err := f.env.Invoke(as("alice"), "test", "open", nil)
	require.NoError(t, err)
	assert.Equal(t, "alice", res.Data["who"])
}

func TestInvoke_PolicyCannotLowerRequirement(t *testing.T) {
	f := newEnvFixture(t, policy.StaticRules{
		{Actor: "*", Action: "elite", Anonymous: true, MinTrustLevel: 0},
	})
	_, err := f.env.Invoke(context.Background(), "test", "elite", nil)
	assert.ErrorIs(t, err, domain.ErrUnauthenticated)
}

func TestInvoke_AnonymousWithMinTrust(t *testing.T) {
	f := newEnvFixture(t, nil)
	_, err := f.env.Invoke(context.Background(), "test", "open", nil, WithMinTrustLevel(2))
	assert.ErrorIs(t, err, domain.ErrUnauthenticated)
}

func TestInvoke_ParamsRedacted(t *testing.T) {
	f := newEnvFixture(t, nil)
	_, err := f.env.Invoke(as("alice"), "test", "gated", map[string]any{"password": "s3cret", "q": "x"})
	require.NoError(t, err)

	rec := f.records(t)[0]
	assert.Equal(t, "x", rec.Params["q"])
	assert.True(t, strings.HasPrefix(rec.Params["password"].(string), "redacted:"))
	assert.Equal(t, "alice", rec.PrincipalID)
}

func TestInvoke_TraceIDPropagated(t *testing.T) {
	f := newEnvFixture(t, nil)
	ctx := WithTraceID(as("alice"), "trace-42")
	_, err := f.env.Invoke(ctx, "test", "gated", nil)
	require.NoError(t, err)
	assert.Equal(t, "trace-42", f.records(t)[0].TraceID)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.TotalActions.WithLabelValues("test", "gated")))
}

func TestInvoke_CoordinationFields(t *testing.T) {
	f := newEnvFixture(t, nil)
	ctx := auth.WithIdentity(context.Background(), domain.ServiceIdentity("reputation"))
	_, err := f.env.Invoke(ctx, "test", "gated", nil, WithCoordination("req-1", "reputation", domain.PriorityCritical))
	require.NoError(t, err)

	rec := f.records(t)[0]
	assert.Equal(t, "req-1", rec.RequestID)
	assert.Equal(t, "reputation", rec.Counterpart)
	assert.Equal(t, "critical", rec.Priority)
	assert.Equal(t, "actor:reputation", rec.PrincipalID)
}

func TestRecordCoordination(t *testing.T) {
	f := newEnvFixture(t, nil)
	req := domain.CoordinationRequest{
		RequestID:   "req-9",
		TraceID:     "t-9",
		SourceActor: "reputation",
		TargetActor: "review",
		Type:        "review_freeze",
		Priority:    domain.PriorityLow,
		OnBehalfOf:  "bob",
	}
	f.env.RecordCoordination(context.Background(), req, domain.ErrQueueFull)

	rec := f.records(t)[0]
	assert.Equal(t, "reputation", rec.ActorID)
	assert.Equal(t, "coordinate.review_freeze", rec.Action)
	assert.Equal(t, "review", rec.Counterpart)
	assert.Equal(t, "bob", rec.PrincipalID)
	assert.False(t, rec.Success)
	assert.Equal(t, "queue_full", rec.ErrorKind)
}
