package fraud

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/xela07ax/trustmesh/internal/domain"
	"go.uber.org/zap"
)

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// spread раскладывает n событий равномерно на отрезке span.
func spread(n int, span time.Duration, typeOf func(i int) string) []domain.Event {
	out := make([]domain.Event, n)
	step := time.Duration(0)
	if n > 1 {
		step = span / time.Duration(n-1)
	}
	for i := range out {
		out[i] = domain.Event{Type: typeOf(i), Delta: 1, Timestamp: base.Add(time.Duration(i) * step)}
	}
	return out
}

func distinct(i int) string { return fmt.Sprintf("type_%d", i) }

func TestEvaluate_VelocityFlagged(t *testing.T) {
	d := NewDetector(DefaultConfig(), zap.NewNop())

	v := d.Evaluate("p1", spread(51, 59*time.Minute, distinct))
	assert.True(t, v.Suspicious)
	assert.Equal(t, []string{FlagExcessiveActivity}, v.Flags)
}

func TestEvaluate_VelocityNotFlaggedWhenSpread(t *testing.T) {
	d := NewDetector(DefaultConfig(), zap.NewNop())

	v := d.Evaluate("p1", spread(50, 2*time.Hour, distinct))
	assert.False(t, v.Suspicious)
	assert.Empty(t, v.Flags)
}

func TestEvaluate_VelocitySlowStartThenBurst(t *testing.T) {
	d := NewDetector(DefaultConfig(), zap.NewNop())

	// 20 старых событий за сутки до всплеска, затем 51 событие за 10 минут
	events := spread(20, 20*time.Hour, distinct)
	for i, e := range spread(51, 10*time.Minute, func(i int) string { return distinct(100 + i) }) {
		e.Timestamp = e.Timestamp.Add(24*time.Hour + time.Duration(i))
		events = append(events, e)
	}

	assert.True(t, d.Evaluate("p1", events).Suspicious)
}

func TestEvaluate_RepetitionFlagged(t *testing.T) {
	d := NewDetector(DefaultConfig(), zap.NewNop())

	v := d.Evaluate("p1", spread(21, 10*time.Minute, func(int) string { return "dao_vote" }))
	assert.True(t, v.Suspicious)
	assert.Equal(t, []string{"repeated action: dao_vote (21 times)"}, v.Flags)
	assert.Contains(t, v.Reason(), "dao_vote")
}

func TestEvaluate_RepetitionAtThresholdNotFlagged(t *testing.T) {
	d := NewDetector(DefaultConfig(), zap.NewNop())

	v := d.Evaluate("p1", spread(20, 10*time.Minute, func(int) string { return "dao_vote" }))
	assert.False(t, v.Suspicious)
}

func TestEvaluate_BothHeuristics(t *testing.T) {
	d := NewDetector(Config{VelocityCountThreshold: 5, VelocityTimeWindow: time.Minute, RepetitionCountThreshold: 3}, zap.NewNop())

	v := d.Evaluate("p1", spread(6, 30*time.Second, func(int) string { return "forum_post" }))
	assert.True(t, v.Suspicious)
	assert.Equal(t, []string{FlagExcessiveActivity, "repeated action: forum_post (6 times)"}, v.Flags)
	assert.Equal(t, FlagExcessiveActivity+"; repeated action: forum_post (6 times)", v.Reason())
}

func TestNewDetector_FillsDefaults(t *testing.T) {
	d := NewDetector(Config{}, zap.NewNop())
	assert.Equal(t, DefaultConfig(), d.cfg)
}
