package strategy_test

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/josh/pkg/progress"
	"github.com/codeready-toolchain/josh/pkg/strategy"
)

// fakeTransport serves canned responses keyed by the request's
// replicateNumber form field ("" for leader-style requests with no
// such field), mimicking httptest.Server without opening a real
// socket.
type fakeTransport struct {
	mu        sync.Mutex
	responses map[string]string
	status    map[string]int
	calls     int32
}

func (f *fakeTransport) Do(req *http.Request) (*http.Response, error) {
	atomic.AddInt32(&f.calls, 1)
	if err := req.ParseForm(); err != nil {
		return nil, err
	}
	key := req.PostForm.Get("replicateNumber")

	f.mu.Lock()
	defer f.mu.Unlock()
	status := f.status[key]
	if status == 0 {
		status = http.StatusOK
	}
	body := f.responses[key]
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(bytes.NewBufferString(body)),
	}, nil
}

func TestNormalizeLeaderEndpoint(t *testing.T) {
	got, err := strategy.NormalizeLeaderEndpoint("https://example.test/api")
	require.NoError(t, err)
	assert.Equal(t, "https://example.test/api/runReplicates", got)

	got2, err := strategy.NormalizeLeaderEndpoint("https://example.test/api/runReplicates")
	require.NoError(t, err)
	assert.Equal(t, "https://example.test/api/runReplicates", got2)

	_, err = strategy.NormalizeLeaderEndpoint("ftp://example.test")
	assert.Error(t, err)
}

func TestWorkerEndpointFor(t *testing.T) {
	assert.Equal(t, "https://example.test/api/runReplicate",
		strategy.WorkerEndpointFor("https://example.test/api/runReplicates"))
}

func TestOffloadStrategy_HappyPath(t *testing.T) {
	ft := &fakeTransport{responses: map[string]string{
		"": "[progress 0 0]\n[0] patches:step=0\tcover=0.5\n[end 0]\n",
	}}
	s := &strategy.OffloadStrategy{Transport: ft, Endpoint: "https://leader.test/runReplicates"}

	out, err := s.Run(context.Background(), strategy.RequestContext{Code: "x", Name: "sim"}, 1, nil, progress.NewCalculator(1, 1))
	require.NoError(t, err)
	require.Len(t, out.Replicates, 1)
}

func TestOffloadStrategy_Non200(t *testing.T) {
	ft := &fakeTransport{status: map[string]int{"": http.StatusInternalServerError}}
	s := &strategy.OffloadStrategy{Transport: ft, Endpoint: "https://leader.test/runReplicates"}

	_, err := s.Run(context.Background(), strategy.RequestContext{}, 1, nil, progress.NewCalculator(1, 1))
	assert.Error(t, err)
}

func TestLocalLeaderStrategy_TwoReplicatesInterleaved(t *testing.T) {
	ft := &fakeTransport{responses: map[string]string{
		"0": "[progress 0 0]\n[0] patches:step=0\tcover=0.1\n[progress 0 5]\n[end 0]\n",
		"1": "[progress 0 0]\n[0] patches:step=0\tcover=0.2\n[progress 0 5]\n[end 0]\n",
	}}
	s := &strategy.LocalLeaderStrategy{Transport: ft, WorkerEndpoint: "https://worker.test/runReplicate", Concurrency: 2}

	out, err := s.Run(context.Background(), strategy.RequestContext{}, 2, nil, progress.NewCalculator(5, 2))
	require.NoError(t, err)
	require.Len(t, out.Replicates, 2)
	_, ok0 := out.Replicates[0]
	_, ok1 := out.Replicates[1]
	assert.True(t, ok0)
	assert.True(t, ok1)
}

func TestLocalLeaderStrategy_WorkerFailureCancelsPeers(t *testing.T) {
	ft := &fakeTransport{
		status: map[string]int{"1": http.StatusInternalServerError},
		responses: map[string]string{
			"0": "[progress 0 0]\n[0] patches:step=0\tcover=0.1\n[progress 0 5]\n[end 0]\n",
			"2": "[progress 0 0]\n[0] patches:step=0\tcover=0.3\n[progress 0 5]\n[end 0]\n",
		},
	}
	s := &strategy.LocalLeaderStrategy{Transport: ft, WorkerEndpoint: "https://worker.test/runReplicate", Concurrency: 3}

	_, err := s.Run(context.Background(), strategy.RequestContext{}, 3, nil, progress.NewCalculator(5, 3))
	require.Error(t, err)
	assert.Contains(t, fmt.Sprint(err), "replicate 1")
}
