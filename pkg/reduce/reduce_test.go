package reduce_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/josh/pkg/export"
	"github.com/codeready-toolchain/josh/pkg/josherr"
	"github.com/codeready-toolchain/josh/pkg/progress"
	"github.com/codeready-toolchain/josh/pkg/reduce"
	"github.com/codeready-toolchain/josh/pkg/result"
	"github.com/codeready-toolchain/josh/pkg/wire"
)

func lineChan(lines ...string) <-chan string {
	ch := make(chan string, len(lines))
	for _, l := range lines {
		ch <- l
	}
	close(ch)
	return ch
}

func TestRun_SingleReplicateHappyPath(t *testing.T) {
	lines := lineChan(
		"[progress 0 0]",
		"[0] patches:step=0\tposition.x=0\tposition.y=0\tcover=0.5",
		"[progress 0 1]",
		"[0] patches:step=1\tposition.x=0\tposition.y=0\tcover=0.6",
		"[end 0]",
	)

	var updates []progress.Update
	out, err := reduce.Run(context.Background(), lines, reduce.Options{
		Calculator:      progress.NewCalculator(2, 1),
		TotalReplicates: 1,
		OnProgress:      func(u progress.Update) { updates = append(updates, u) },
	})
	require.NoError(t, err)
	require.Len(t, out.Replicates, 1)

	rr := out.Replicates[0]
	bucket := rr.Buckets[result.TargetPatches]
	assert.Len(t, bucket.Records, 2)
	assert.True(t, rr.Bounds.Set)
	assert.Equal(t, 0.0, rr.Bounds.MinX)

	require.NotEmpty(t, updates)
	last := updates[len(updates)-1]
	assert.Equal(t, 100, last.Percent)
}

type memSink struct {
	started bool
	joined  bool
	rows    [][]wire.Attr
}

func (s *memSink) Start() error { s.started = true; return nil }
func (s *memSink) Write(attrs []wire.Attr, step int64) error {
	s.rows = append(s.rows, attrs)
	return nil
}
func (s *memSink) Join() error { s.joined = true; return nil }

func TestRun_OpensOneSinkPerTargetAndJoinsOnSuccess(t *testing.T) {
	lines := lineChan(
		"[0] patches:step=0\tcover=0.5",
		"[0] simulation:seed=42",
		"[end 0]",
	)

	sinks := map[string]*memSink{}
	out, err := reduce.Run(context.Background(), lines, reduce.Options{
		Calculator:      progress.NewCalculator(1, 1),
		TotalReplicates: 1,
		Sinks: func(target string) (export.Sink, error) {
			s := &memSink{}
			sinks[target] = s
			return s, nil
		},
	})
	require.NoError(t, err)
	require.Len(t, out.Replicates, 1)

	require.Contains(t, sinks, "patches")
	require.Contains(t, sinks, "simulation")
	assert.True(t, sinks["patches"].joined)
	assert.True(t, sinks["simulation"].joined)
}

func TestRun_ErrorMessagePropagatesAndClosesSinks(t *testing.T) {
	lines := lineChan(
		"[0] patches:step=0\tcover=0.5",
		"[error 0 worker crashed]",
	)

	sinks := map[string]*memSink{}
	_, err := reduce.Run(context.Background(), lines, reduce.Options{
		Calculator:      progress.NewCalculator(1, 1),
		TotalReplicates: 1,
		Sinks: func(target string) (export.Sink, error) {
			s := &memSink{}
			sinks[target] = s
			return s, nil
		},
	})
	require.Error(t, err)

	var jerr *josherr.Error
	require.ErrorAs(t, err, &jerr)
	assert.Equal(t, josherr.KindProtocol, jerr.Kind)
	require.NotNil(t, jerr.Replicate)
	assert.Equal(t, uint32(0), *jerr.Replicate)

	require.Contains(t, sinks, "patches")
	assert.True(t, sinks["patches"].joined, "sink must be joined even on a fatal protocol error")
}

func TestRun_CumulativeRewritesProgressThroughSharedCounter(t *testing.T) {
	lines := lineChan(
		"[progress 0 5]",
		"[progress 1 3]",
		"[progress 0 9]",
	)

	counter := wire.NewCumulativeCounter()
	var steps []int64
	_, err := reduce.Run(context.Background(), lines, reduce.Options{
		Calculator: progress.NewCalculator(100, 2),
		Cumulative: counter,
		OnProgress: func(u progress.Update) { steps = append(steps, u.StepsCompleted) },
	})
	require.NoError(t, err)
	require.NotEmpty(t, steps)
	for i := 1; i < len(steps); i++ {
		assert.GreaterOrEqual(t, steps[i], steps[i-1])
	}
}
