package notify

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dgnsrekt/trafficlab/internal/types"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func respond(status int) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(strings.NewReader("ok")),
		Header:     make(http.Header),
	}
}

var results = []types.CycleResult{
	{CycleIndex: 0, Outcome: types.OutcomeCompleted, PacketsCaptured: 100, ItemsRequested: 3},
	{CycleIndex: 1, Outcome: types.OutcomePartialFailure, PacketsCaptured: 20, ItemsRequested: 3, ItemsFailed: 1},
	{CycleIndex: 2, Outcome: types.OutcomeFailed, ItemsRequested: 3, ItemsFailed: 3},
}

func TestSummary(t *testing.T) {
	msg := Summary("run-9", results)
	assert.Equal(t, "Capture run run-9 finished: 3 cycles (1 completed, 1 partial, 1 failed), 120 packets captured, 4 of 9 items failed.", msg)
}

func TestSendSummaryPostsPlainText(t *testing.T) {
	var method, path, contentType, body string
	client := &http.Client{
		Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
			method = r.Method
			path = r.URL.Path
			contentType = r.Header.Get("Content-Type")
			raw, err := io.ReadAll(r.Body)
			require.NoError(t, err)
			body = string(raw)
			return respond(http.StatusOK), nil
		}),
	}

	require.NoError(t, SendSummary(context.Background(), client, "http://example.com/notifications", "run-9", results))
	assert.Equal(t, http.MethodPost, method)
	assert.Equal(t, "/notifications", path)
	assert.Equal(t, "text/plain", contentType)
	assert.Equal(t, Summary("run-9", results), body)
}

func TestSendReturnsErrorForServerError(t *testing.T) {
	client := &http.Client{
		Transport: roundTripFunc(func(*http.Request) (*http.Response, error) {
			return respond(http.StatusInternalServerError), nil
		}),
	}
	err := Send(context.Background(), client, "http://example.com/notifications", "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status=500")
}

func TestSendDisallowsMissingEndpoint(t *testing.T) {
	assert.Error(t, Send(context.Background(), http.DefaultClient, "", "x"))
}
