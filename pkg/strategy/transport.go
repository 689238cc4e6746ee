// Package strategy implements the two ways to run a Job: offload it to
// a remote leader (a single POST) or coordinate N worker requests
// locally (bounded fan-out with a shared progress counter).
package strategy

import (
	"bufio"
	"context"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/codeready-toolchain/josh/pkg/josherr"
)

// HTTPTransport is the subset of *http.Client that strategies depend
// on, so tests can substitute a fake round tripper instead of hitting
// the network.
type HTTPTransport interface {
	Do(req *http.Request) (*http.Response, error)
}

// RequestContext carries the fields shared by every form POST to a
// worker or leader endpoint.
type RequestContext struct {
	Code            string
	Name            string
	APIKey          string
	ExternalData    string
	FavorBigDecimal bool
	// CustomTags is opaque to the core — it is threaded through to the
	// out-of-scope simulation engine unchanged, one "name=value" form
	// value per entry, the same shape the --custom-tag flag accepts.
	CustomTags map[string]string
}

func (r RequestContext) baseForm() url.Values {
	v := url.Values{
		"code":            {r.Code},
		"name":            {r.Name},
		"apiKey":          {r.APIKey},
		"externalData":    {r.ExternalData},
		"favorBigDecimal": {strconv.FormatBool(r.FavorBigDecimal)},
	}
	for _, name := range sortedKeys(r.CustomTags) {
		v.Add("customTag", name+"="+r.CustomTags[name])
	}
	return v
}

// sortedKeys returns m's keys in sorted order, so form encoding (and
// therefore what a fake transport in tests observes) is deterministic
// despite Go's randomized map iteration.
func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// NormalizeLeaderEndpoint ensures raw is an http(s) URI whose path ends
// in /runReplicates, appending that suffix if absent.
func NormalizeLeaderEndpoint(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", josherr.Input("invalid endpoint %q: %v", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", josherr.Input("endpoint %q must use http or https", raw)
	}
	if !strings.HasSuffix(u.Path, "/runReplicates") {
		u.Path = strings.TrimSuffix(u.Path, "/") + "/runReplicates"
	}
	return u.String(), nil
}

// WorkerEndpointFor derives the worker endpoint from a normalized
// leader endpoint by replacing the trailing /runReplicates with
// /runReplicate.
func WorkerEndpointFor(leaderEndpoint string) string {
	return strings.TrimSuffix(leaderEndpoint, "/runReplicates") + "/runReplicate"
}

// streamLines POSTs form to endpoint and returns a channel of response
// body lines plus a channel that receives exactly one value — the
// terminal error, or nil on clean EOF — once the body is fully drained
// or the request itself failed. The returned cleanup func closes the
// response body if it is still open; callers should always defer it.
//
// The scanning goroutine only unblocks a full lines channel via
// ctx.Done(), so a caller that may stop reading lines before EOF (a
// reducer returning early on a protocol error, say) must cancel ctx at
// that point itself rather than relying on some outer context to be
// cancelled eventually.
func streamLines(ctx context.Context, transport HTTPTransport, endpoint string, form url.Values) (<-chan string, <-chan error, func()) {
	lines := make(chan string, 64)
	errCh := make(chan error, 1)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		close(lines)
		errCh <- josherr.Input("building request: %v", err)
		return lines, errCh, func() {}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := transport.Do(req)
	if err != nil {
		close(lines)
		errCh <- josherr.Transport("connecting to %s: %v", endpoint, err).WithEndpoint(endpoint)
		return lines, errCh, func() {}
	}

	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		close(lines)
		errCh <- josherr.Transport("non-200 response: %d", resp.StatusCode).WithEndpoint(endpoint)
		return lines, errCh, func() {}
	}

	cleanup := func() { _ = resp.Body.Close() }

	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				errCh <- ctx.Err()
				return
			}
		}
		if err := scanner.Err(); err != nil {
			errCh <- josherr.Transport("reading response from %s: %v", endpoint, err).WithEndpoint(endpoint)
			return
		}
		errCh <- nil
	}()

	return lines, errCh, cleanup
}

