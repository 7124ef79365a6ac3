package api

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"forgeflow/internal/journal"
	"forgeflow/internal/queue"
	"forgeflow/pkg/logger"
)

type stubStatus struct{}

func (stubStatus) InFlight() int64    { return 1 }
func (stubStatus) Triggers() []string { return []string{"poll:Tick"} }

type failingProducer struct{}

func (failingProducer) Publish(context.Context, []byte) error { return errors.New("broker down") }
func (failingProducer) Close() error                          { return nil }

func newTestServer(t *testing.T, opts Options) http.Handler {
	t.Helper()
	opts.Logger = logger.Discard()
	return NewServer(":0", opts).Handler()
}

func serve(h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, target, strings.NewReader(body)))
	return rec
}

func TestHealthReportsInFlight(t *testing.T) {
	h := newTestServer(t, Options{Status: stubStatus{}})

	rec := serve(h, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var got healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "ok", got.Status)
	assert.Equal(t, int64(1), got.InFlight)
	assert.Equal(t, []string{"poll:Tick"}, got.Triggers)

	rec = serve(h, http.MethodPost, "/healthz", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestJournalListsLatest(t *testing.T) {
	repo, err := journal.NewMemoryRepository("", 0)
	require.NoError(t, err)
	start := time.Unix(1700000000, 0)
	for i, name := range []string{"A", "B", "C"} {
		rec := journal.NewRecord(name, "prompt", start.Add(time.Duration(i)*time.Second)).Finish("ok", nil, time.Millisecond)
		require.NoError(t, repo.Save(context.Background(), rec))
	}
	h := newTestServer(t, Options{Status: stubStatus{}, Journal: repo})

	rec := serve(h, http.MethodGet, "/api/v1/journal?limit=2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var records []journal.Record
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &records))
	require.Len(t, records, 2)
	assert.Equal(t, "C", records[0].Event)
	assert.Equal(t, "B", records[1].Event)

	rec = serve(h, http.MethodGet, "/api/v1/journal?limit=abc", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), `"code":"INVALID_ARGUMENT"`)
}

func TestJournalDisabled(t *testing.T) {
	h := newTestServer(t, Options{Status: stubStatus{}})
	rec := serve(h, http.MethodGet, "/api/v1/journal", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestEventsArePublished(t *testing.T) {
	q := queue.NewMemoryQueue(4)
	h := newTestServer(t, Options{Status: stubStatus{}, Producer: q})

	rec := serve(h, http.MethodPost, "/api/v1/events", `{"name":"Deploy","payload":{"env":"prod"}}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, 1, q.Len())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	var body []byte
	_ = q.Consume(ctx, 1, func(_ context.Context, msg []byte) error {
		body = msg
		cancel()
		return nil
	})
	var got eventRequest
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, "Deploy", got.Name)
	assert.JSONEq(t, `{"env":"prod"}`, string(got.Payload))
}

func TestEventsValidation(t *testing.T) {
	h := newTestServer(t, Options{Status: stubStatus{}, Producer: queue.NewMemoryQueue(1)})

	assert.Equal(t, http.StatusBadRequest, serve(h, http.MethodPost, "/api/v1/events", `{`).Code)
	assert.Equal(t, http.StatusBadRequest, serve(h, http.MethodPost, "/api/v1/events", `{"payload":1}`).Code)

	h = newTestServer(t, Options{Status: stubStatus{}})
	assert.Equal(t, http.StatusServiceUnavailable, serve(h, http.MethodPost, "/api/v1/events", `{"name":"x"}`).Code)

	h = newTestServer(t, Options{Status: stubStatus{}, Producer: failingProducer{}})
	rec := serve(h, http.MethodPost, "/api/v1/events", `{"name":"x"}`)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, rec.Body.String(), `"code":"QUEUE_FAILURE"`)
}

func TestEventsRequireToken(t *testing.T) {
	q := queue.NewMemoryQueue(4)
	h := newTestServer(t, Options{Status: stubStatus{}, Producer: q, Token: "s3cret"})

	assert.Equal(t, http.StatusUnauthorized, serve(h, http.MethodPost, "/api/v1/events", `{"name":"x"}`).Code)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/events", strings.NewReader(`{"name":"x"}`))
	req.Header.Set("Authorization", "Bearer wrong")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/api/v1/events", strings.NewReader(`{"name":"x"}`))
	req.Header.Set("Authorization", "Bearer s3cret")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, 1, q.Len())

	assert.Equal(t, http.StatusOK, serve(h, http.MethodGet, "/healthz", "").Code)
}

func TestMetricsEndpointCountsRequests(t *testing.T) {
	h := newTestServer(t, Options{Status: stubStatus{}})
	serve(h, http.MethodGet, "/healthz", "")

	rec := serve(h, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `forgeflow_http_requests_total{handler="/healthz",method="GET",code="200"}`)
}

func TestStartStopsOnContextCancel(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	srv := NewServer(addr, Options{Status: stubStatus{}, Logger: logger.Discard()})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Start(ctx) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr + "/healthz")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(6 * time.Second):
		t.Fatal("server did not stop")
	}
}
