package result_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/josh/pkg/result"
	"github.com/codeready-toolchain/josh/pkg/wire"
)

func attrs(kv ...string) []wire.Attr {
	out := make([]wire.Attr, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		out = append(out, wire.Attr{Key: kv[i], Raw: kv[i+1]})
	}
	return out
}

func TestBuilder_FoldsDatumsIntoBucketsAndBounds(t *testing.T) {
	b := result.NewBuilder()
	b.Add(result.TargetPatches, attrs("step", "0", "position.x", "0", "position.y", "0", "cover", "0.5"))
	b.Add(result.TargetPatches, attrs("step", "1", "position.x", "0", "position.y", "0", "cover", "0.6"))

	r := b.Build()
	bucket, ok := r.Buckets[result.TargetPatches]
	require.True(t, ok)
	assert.Len(t, bucket.Records, 2)
	assert.True(t, r.Bounds.Set)
	assert.Equal(t, 0.0, r.Bounds.MinX)
	assert.Equal(t, 0.0, r.Bounds.MinY)
	assert.Equal(t, 0.0, r.Bounds.MaxX)
	assert.Equal(t, 0.0, r.Bounds.MaxY)
}

func TestBuilder_UnknownTargetIgnored(t *testing.T) {
	b := result.NewBuilder()
	b.Add("bogus", attrs("a", "1"))
	r := b.Build()
	assert.Empty(t, r.Buckets)
}

func TestBuilder_AttrSetMonotonic(t *testing.T) {
	b := result.NewBuilder()
	b.Add(result.TargetEntities, attrs("name", "Oak"))
	b.Add(result.TargetEntities, attrs("name", "Pine", "age", "3"))

	r := b.Build()
	bucket := r.Buckets[result.TargetEntities]
	assert.Equal(t, []string{"name", "age"}, bucket.AttrNames)
}

func TestBuilder_BoundsGrowOnly(t *testing.T) {
	b := result.NewBuilder()
	b.Add(result.TargetPatches, attrs("position.x", "5", "position.y", "5"))
	b.Add(result.TargetPatches, attrs("position.x", "-2", "position.y", "10"))

	r := b.Build()
	assert.Equal(t, -2.0, r.Bounds.MinX)
	assert.Equal(t, 5.0, r.Bounds.MinY)
	assert.Equal(t, 5.0, r.Bounds.MaxX)
	assert.Equal(t, 10.0, r.Bounds.MaxY)
}

func TestBuilder_NoPositionLeavesBoundsUnset(t *testing.T) {
	b := result.NewBuilder()
	b.Add(result.TargetSimulation, attrs("seed", "42"))
	r := b.Build()
	assert.False(t, r.Bounds.Set)
}

func TestBuilder_NonNumericPositionIgnoredForBounds(t *testing.T) {
	b := result.NewBuilder()
	b.Add(result.TargetPatches, attrs("position.x", "notanumber", "position.y", "1"))
	r := b.Build()
	assert.False(t, r.Bounds.Set)
}

func TestBuilder_PanicsOnAddAfterBuild(t *testing.T) {
	b := result.NewBuilder()
	b.Build()
	assert.Panics(t, func() {
		b.Add(result.TargetPatches, attrs("a", "1"))
	})
}

func TestBuilder_PanicsOnDoubleBuild(t *testing.T) {
	b := result.NewBuilder()
	b.Build()
	assert.Panics(t, func() {
		b.Build()
	})
}
