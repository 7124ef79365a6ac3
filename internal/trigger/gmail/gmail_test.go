package gmail

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gmailapi "google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"forgeflow/internal/trigger"
)

var _ trigger.Mailbox = (*Client)(nil)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client, err := New(context.Background(), srv.Client(), option.WithEndpoint(srv.URL+"/"))
	require.NoError(t, err)
	return client
}

func TestListAndGet(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.HasSuffix(r.URL.Path, "/users/me/messages"):
			assert.Equal(t, "is:unread", r.URL.Query().Get("q"))
			_ = json.NewEncoder(w).Encode(map[string]any{
				"messages": []map[string]any{{"id": "m1"}, {"id": "m2"}},
			})
		case strings.HasSuffix(r.URL.Path, "/users/me/messages/m1"):
			_ = json.NewEncoder(w).Encode(map[string]any{"id": "m1", "snippet": "hello"})
		default:
			http.NotFound(w, r)
		}
	})

	ids, err := client.List(context.Background(), "is:unread")
	require.NoError(t, err)
	assert.Equal(t, []string{"m1", "m2"}, ids)

	msg, err := client.Get(context.Background(), "m1")
	require.NoError(t, err)
	assert.Equal(t, "hello", msg.(*gmailapi.Message).Snippet)

	_, err = client.Get(context.Background(), "missing")
	assert.Error(t, err)
}

func TestRemoveLabels(t *testing.T) {
	var body map[string]any
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/users/me/messages/m1/modify"))
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"m1"}`))
	})

	require.NoError(t, client.RemoveLabels(context.Background(), "m1", UnreadLabel))
	assert.Equal(t, []any{"UNREAD"}, body["removeLabelIds"])
}

func TestNewRequiresHTTPClient(t *testing.T) {
	_, err := New(context.Background(), nil)
	assert.Error(t, err)
}
