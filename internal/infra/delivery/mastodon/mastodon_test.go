package mastodon

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/matchpulse/matchpulse/pkg/common/logger"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(
		Config{
			BaseURL:     srv.URL,
			AccessToken: "token-123",
			Timeout:     time.Second,
			MaxRetries:  2,
			InitialWait: time.Millisecond,
			MaxWait:     2 * time.Millisecond,
		},
		noop.NewTracerProvider().Tracer("test"),
		logger.Noop(),
	)
}

func TestDeliver(t *testing.T) {
	var gotAuth, gotIdempotency string
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/api/v1/statuses", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")
		gotIdempotency = r.Header.Get("Idempotency-Key")

		var req statusRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "⚽ Flamengo 1 x 0 Santos", req.Status)
		require.Equal(t, "public", req.Visibility)

		json.NewEncoder(w).Encode(statusResponse{ID: "112233"})
	}))

	id, err := client.Deliver(context.Background(), "⚽ Flamengo 1 x 0 Santos")
	require.NoError(t, err)
	require.Equal(t, "112233", id)
	require.Equal(t, "Bearer token-123", gotAuth)
	require.NotEmpty(t, gotIdempotency)
}

func TestDeliverRetriesKeepTheIdempotencyKey(t *testing.T) {
	var calls atomic.Int32
	keys := make(chan string, 4)
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		keys <- r.Header.Get("Idempotency-Key")
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		json.NewEncoder(w).Encode(statusResponse{ID: "1"})
	}))

	_, err := client.Deliver(context.Background(), "text")
	require.NoError(t, err)
	require.Equal(t, int32(2), calls.Load())

	first, second := <-keys, <-keys
	require.Equal(t, first, second)
}

func TestDeliverDoesNotRetryAuthFailures(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))

	_, err := client.Deliver(context.Background(), "text")
	require.Error(t, err)
	require.Equal(t, int32(1), calls.Load())
}

func TestDeliverDryRun(t *testing.T) {
	client := NewClient(
		Config{BaseURL: "http://unused.invalid", DryRun: true},
		noop.NewTracerProvider().Tracer("test"),
		logger.Noop(),
	)

	id, err := client.Deliver(context.Background(), "text")
	require.NoError(t, err)
	require.Equal(t, "dry-run", id)
}

func TestVerifyCredentials(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v1/accounts/verify_credentials", r.URL.Path)
		require.Equal(t, "Bearer token-123", r.Header.Get("Authorization"))
		w.Write([]byte(`{"username": "matchpulse"}`))
	}))

	require.NoError(t, client.VerifyCredentials(context.Background()))
}

func TestVerifyCredentialsRejected(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))

	require.Error(t, client.VerifyCredentials(context.Background()))
}
