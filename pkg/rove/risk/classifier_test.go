package risk

import (
	"testing"

	"github.com/ovrishq/rove/pkg/rove/model"
	"github.com/stretchr/testify/require"
)

func TestClassify_BaseTiers(t *testing.T) {
	c := NewClassifier()

	tier, err := c.Classify("read_file", nil, model.SourceLocal)
	require.NoError(t, err)
	require.Equal(t, Tier0, tier)

	tier, err = c.Classify("write_file", nil, model.SourceLocal)
	require.NoError(t, err)
	require.Equal(t, Tier1, tier)

	tier, err = c.Classify("delete_file", nil, model.SourceLocal)
	require.NoError(t, err)
	require.Equal(t, Tier2, tier)
}

func TestClassify_UnknownOperationIsError(t *testing.T) {
	c := NewClassifier()
	_, err := c.Classify("nuke_everything", nil, model.SourceLocal)
	require.Error(t, err)
}

func TestClassify_DangerousSubstringEscalatesToTier2(t *testing.T) {
	c := NewClassifier()
	tier, err := c.Classify("write_file", []string{"--force"}, model.SourceLocal)
	require.NoError(t, err)
	require.Equal(t, Tier2, tier)
}

func TestClassify_RemoteEscalatesByOneCappedAtTier2(t *testing.T) {
	c := NewClassifier()

	tier, err := c.Classify("read_file", nil, model.SourceRemote)
	require.NoError(t, err)
	require.Equal(t, Tier1, tier)

	tier, err = c.Classify("write_file", nil, model.SourceRemote)
	require.NoError(t, err)
	require.Equal(t, Tier2, tier)

	tier, err = c.Classify("delete_file", nil, model.SourceRemote)
	require.NoError(t, err)
	require.Equal(t, Tier2, tier)
}

func TestClassify_EscalationRulesCombine(t *testing.T) {
	c := NewClassifier()
	tier, err := c.Classify("read_file", []string{"git reset --hard"}, model.SourceRemote)
	require.NoError(t, err)
	require.Equal(t, Tier2, tier)
}
