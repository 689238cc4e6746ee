package main

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/josh/pkg/josherr"
)

func TestParseDataFlags_VariationGroupsSplitOnSemicolon(t *testing.T) {
	spec, err := parseDataFlags([]string{"road=road1.txt;road2.txt", "rain=rain.csv"})
	require.NoError(t, err)
	require.Len(t, spec, 2)
	assert.Equal(t, "road", spec[0].LogicalName)
	assert.Equal(t, []string{"road1.txt", "road2.txt"}, spec[0].Candidates)
	assert.Equal(t, "rain", spec[1].LogicalName)
	assert.Equal(t, []string{"rain.csv"}, spec[1].Candidates)
}

func TestParseDataFlags_RejectsMissingEquals(t *testing.T) {
	_, err := parseDataFlags([]string{"roadroad1.txt"})
	require.Error(t, err)
	var je *josherr.Error
	require.True(t, errors.As(err, &je))
	assert.Equal(t, josherr.KindInput, je.Kind)
}

func TestParseCustomTagFlags_RejectsReservedName(t *testing.T) {
	_, err := parseCustomTagFlags([]string{"replicate=3"})
	require.Error(t, err)
}

func TestParseCustomTagFlags_AcceptsOrdinaryName(t *testing.T) {
	tags, err := parseCustomTagFlags([]string{"scenario=drought"})
	require.NoError(t, err)
	assert.Equal(t, "drought", tags["scenario"])
}

func TestFormatMap_SortsKeysDeterministically(t *testing.T) {
	got := formatMap(map[string]string{"b": "2", "a": "1"})
	assert.Equal(t, "a=1,b=2", got)
}

func TestExitCodeFor_UnwrapsJosherr(t *testing.T) {
	err := josherr.Transport("boom")
	assert.Equal(t, josherr.ExitNetwork, exitCodeFor(err))
}

func TestExitCodeFor_FallsBackOnPlainError(t *testing.T) {
	assert.Equal(t, josherr.ExitLoad, exitCodeFor(errors.New("boom")))
}
