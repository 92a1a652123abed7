package audit

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type memWriter struct {
	mu      sync.Mutex
	batches [][]ActionRecord
}

func (w *memWriter) WriteBatch(_ context.Context, records []ActionRecord) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.batches = append(w.batches, records)
	return nil
}

func (w *memWriter) ids() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	var out []string
	for _, b := range w.batches {
		for _, r := range b {
			out = append(out, r.ID)
		}
	}
	return out
}

func TestRedactor_SecretsAreFingerprinted(t *testing.T) {
	r := NewRedactor(0, nil)
	in := map[string]any{
		"prompt":   "hello",
		"Password": "hunter2",
		"nested":   map[string]any{"token": "abc", "n": 1},
	}

	out := r.Apply(in)

	assert.Equal(t, "hello", out["prompt"])
	pw, ok := out["Password"].(string)
	require.True(t, ok)
	assert.True(t, strings.HasPrefix(pw, redactedPrefix))
	assert.NotContains(t, pw, "hunter2")

	nested := out["nested"].(map[string]any)
	assert.True(t, strings.HasPrefix(nested["token"].(string), redactedPrefix))
	assert.Equal(t, 1, nested["n"])

	assert.Equal(t, "hunter2", in["Password"], "input must not be mutated")
	assert.Equal(t, out["Password"], r.Apply(map[string]any{"password": "hunter2"})["password"], "fingerprint is stable")
}

func TestRedactor_TruncatesLargeParams(t *testing.T) {
	r := NewRedactor(64, []string{})
	out := r.Apply(map[string]any{"body": strings.Repeat("я", 100)})

	assert.Equal(t, true, out["_truncated"])
	preview := out["_preview"].(string)
	assert.LessOrEqual(t, len(preview), 64)
	assert.NotContains(t, preview, "�")
}

func TestRedactor_EmptyParams(t *testing.T) {
	assert.Nil(t, NewRedactor(0, nil).Apply(nil))
}

func TestJournal_QueryNewestFirst(t *testing.T) {
	j := NewJournal(0)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	j.Log(ActionRecord{ID: "1", ActorID: "review", PrincipalID: "alice", Success: true, Timestamp: base})
	j.Log(ActionRecord{ID: "2", ActorID: "reputation", PrincipalID: "alice", Success: false, Timestamp: base.Add(time.Minute)})
	j.Log(ActionRecord{ID: "3", ActorID: "reputation", PrincipalID: "bob", Success: true, Timestamp: base.Add(2 * time.Minute)})

	all, err := j.Query(context.Background(), Filter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "3", all[0].ID)

	failed := false
	got, err := j.Query(context.Background(), Filter{PrincipalID: "alice", Success: &failed})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "2", got[0].ID)

	got, err = j.Query(context.Background(), Filter{Since: base.Add(time.Minute), Limit: 1})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "3", got[0].ID)

	got, err = j.Query(context.Background(), Filter{Until: base.Add(time.Minute)})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "1", got[0].ID)
}

func TestJournal_Capacity(t *testing.T) {
	j := NewJournal(2)
	for _, id := range []string{"a", "b", "c"} {
		j.Log(ActionRecord{ID: id})
	}
	got, err := j.Query(context.Background(), Filter{})
	require.NoError(t, err)
	assert.Equal(t, 2, j.Len())
	assert.Equal(t, "c", got[0].ID)
	assert.Equal(t, "b", got[1].ID)
}

func TestJournal_ZeroCapacityKeepsEverything(t *testing.T) {
	j := NewJournal(0)
	const n = 20000
	for i := 0; i < n; i++ {
		j.Log(ActionRecord{ID: fmt.Sprintf("r-%d", i)})
	}
	assert.Equal(t, n, j.Len())

	got, err := j.Query(context.Background(), Filter{})
	require.NoError(t, err)
	require.Len(t, got, n)
	assert.Equal(t, "r-0", got[n-1].ID, "oldest record survives")
}

func TestAgentFS_FlushOnStop(t *testing.T) {
	w := &memWriter{}
	fs := NewAgentFS(w, Config{BatchSize: 1000, FlushInterval: time.Hour}, zap.NewNop())
	fs.Start()

	for _, id := range []string{"a", "b", "c"} {
		fs.Log(ActionRecord{ID: id})
	}
	fs.Stop()

	assert.Equal(t, []string{"a", "b", "c"}, w.ids())
}

func TestAgentFS_BatchSize(t *testing.T) {
	w := &memWriter{}
	fs := NewAgentFS(w, Config{BatchSize: 2, FlushInterval: time.Hour}, zap.NewNop())
	fs.Start()
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		fs.Log(ActionRecord{ID: id})
	}
	fs.Stop()

	w.mu.Lock()
	defer w.mu.Unlock()
	require.Len(t, w.batches, 3)
	assert.Len(t, w.batches[0], 2)
	assert.Len(t, w.batches[2], 1)
}

func TestAgentFS_OverflowWritesSynchronously(t *testing.T) {
	w := &memWriter{}
	fs := NewAgentFS(w, Config{BufferSize: 1, BatchSize: 10, FlushInterval: time.Hour}, zap.NewNop())
	// Воркер не запущен: буфер заполняется первой записью
	fs.Log(ActionRecord{ID: "queued"})
	fs.Log(ActionRecord{ID: "overflow"})

	assert.Equal(t, []string{"overflow"}, w.ids())
	assert.Equal(t, 1.0, fs.Utilization())

	fs.Start()
	fs.Stop()
	assert.ElementsMatch(t, []string{"overflow", "queued"}, w.ids())
}

func TestAgentFS_LogAfterStop(t *testing.T) {
	w := &memWriter{}
	fs := NewAgentFS(w, DefaultConfig(), zap.NewNop())
	fs.Start()
	fs.Stop()
	fs.Stop()

	fs.Log(ActionRecord{ID: "late"})
	assert.Equal(t, []string{"late"}, w.ids())
}

func TestMulti(t *testing.T) {
	a, b := NewJournal(0), NewJournal(0)
	Multi{a, b}.Log(ActionRecord{ID: "x"})
	assert.Equal(t, 1, a.Len())
	assert.Equal(t, 1, b.Len())
}
