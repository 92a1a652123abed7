package classifier

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xela07ax/trustmesh/internal/domain"
)

func TestClassify_KnownTypes(t *testing.T) {
	c := Default()

	got, err := c.Classify("complete_gig")
	require.NoError(t, err)
	assert.Equal(t, int64(40), got.Delta)
	assert.False(t, got.Violation())
	assert.NotEmpty(t, got.Explanation)

	got, err = c.Classify("harassment_violation")
	require.NoError(t, err)
	assert.True(t, got.Violation())
}

func TestClassify_UnknownType(t *testing.T) {
	_, err := Default().Classify("teleport")
	assert.ErrorIs(t, err, domain.ErrUnknownEventType)
}

func TestNew_CopiesTable(t *testing.T) {
	rules := map[string]Rule{"a": {Delta: 1}}
	c, err := New(rules)
	require.NoError(t, err)

	rules["a"] = Rule{Delta: 100}
	got, err := c.Classify("a")
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Delta)
}

func TestNew_RejectsEmptyTable(t *testing.T) {
	_, err := New(nil)
	assert.Error(t, err)
}

func TestLoad_YAML(t *testing.T) {
	src := `
complete_gig:
  delta: 40
  explanation: Completed a gig
spam_violation:
  delta: -50
  explanation: Posted spam
`
	c, err := Load(strings.NewReader(src))
	require.NoError(t, err)
	assert.Equal(t, []string{"complete_gig", "spam_violation"}, c.Types())

	got, err := c.Classify("spam_violation")
	require.NoError(t, err)
	assert.Equal(t, int64(-50), got.Delta)
}

func TestLoad_BadYAML(t *testing.T) {
	_, err := Load(strings.NewReader("::: not yaml"))
	assert.Error(t, err)
}
