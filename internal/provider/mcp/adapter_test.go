package mcp

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"context"

	"github.com/stretchr/testify/require"

	"github.com/wombat2006/techdev-sub004/internal/provider"
)

func TestAdapterSendSuccess(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/rpc", r.URL.Path)
		var req rpcRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "generate", req.Method)

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"result":{"content":"use blue/green deploys","usage":{"input_tokens":10,"output_tokens":4}}}`))
	}))
	defer ts.Close()

	a := New("p1", "vendorA", "tool-model", ts.URL)
	resp, err := a.Send(context.Background(), provider.Request{
		Messages: []provider.Message{{Role: "user", Content: "how should we roll this out"}},
	}, provider.Options{})
	require.NoError(t, err)
	require.Equal(t, "use blue/green deploys", resp.Content)
	require.Equal(t, 10, resp.Tokens.Input)
}

func TestAdapterSendRPCError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"error":{"message":"tool unavailable"}}`))
	}))
	defer ts.Close()

	a := New("p1", "vendorA", "tool-model", ts.URL)
	_, err := a.Send(context.Background(), provider.Request{
		Messages: []provider.Message{{Role: "user", Content: "hi"}},
	}, provider.Options{})
	require.Error(t, err)

	ce := a.ClassifyError(err)
	require.Equal(t, provider.ErrTransient, ce.Class)
}

func TestAdapterRoundRobinEndpoints(t *testing.T) {
	var hits [2]int
	ts1 := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits[0]++
		_, _ = w.Write([]byte(`{"result":{"content":"from ts1"}}`))
	}))
	defer ts1.Close()
	ts2 := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits[1]++
		_, _ = w.Write([]byte(`{"result":{"content":"from ts2"}}`))
	}))
	defer ts2.Close()

	a := New("p1", "vendorA", "tool-model", ts1.URL, WithEndpoints(ts2.URL))
	for i := 0; i < 4; i++ {
		_, err := a.Send(context.Background(), provider.Request{
			Messages: []provider.Message{{Role: "user", Content: "hi"}},
		}, provider.Options{})
		require.NoError(t, err)
	}
	require.Equal(t, 2, hits[0])
	require.Equal(t, 2, hits[1])
}

func TestAdapterClassifyRateLimit(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "3")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer ts.Close()

	a := New("p1", "vendorA", "tool-model", ts.URL)
	_, err := a.Send(context.Background(), provider.Request{
		Messages: []provider.Message{{Role: "user", Content: "hi"}},
	}, provider.Options{})
	require.Error(t, err)

	ce := a.ClassifyError(err)
	require.Equal(t, provider.ErrRateLimited, ce.Class)
	require.Equal(t, 3, ce.RetryAfter)
}
