package trigger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	xerrors "forgeflow/internal/errors"
)

type stubMailbox struct {
	mu      sync.Mutex
	queries []string
	ids     []string
	listErr error
	getErr  map[string]error
}

func (m *stubMailbox) List(_ context.Context, query string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queries = append(m.queries, query)
	if m.listErr != nil {
		return nil, m.listErr
	}
	ids := m.ids
	m.ids = nil
	return ids, nil
}

func (m *stubMailbox) Get(_ context.Context, id string) (any, error) {
	if err := m.getErr[id]; err != nil {
		return nil, err
	}
	return map[string]any{"id": id, "snippet": "hello " + id}, nil
}

func TestMailboxWatchEmitsUnread(t *testing.T) {
	box := &stubMailbox{ids: []string{"a", "bad", "b"}, getErr: map[string]error{"bad": errors.New("gone")}}
	sink := make(chan Event, 10)
	b := NewBroadcast()

	w := NewMailboxWatch(box)
	w.Interval = time.Hour
	h, err := w.Launch(context.Background(), sink, b.Subscribe())
	require.NoError(t, err)

	var got []Event
	for len(got) < 2 {
		select {
		case ev := <-sink:
			got = append(got, ev)
		case <-time.After(time.Second):
			t.Fatalf("expected two events, got %d", len(got))
		}
	}
	assert.Equal(t, NewEmailEvent, got[0].Name)
	assert.Equal(t, "a", got[0].Payload.(map[string]any)["id"])
	assert.Equal(t, "b", got[1].Payload.(map[string]any)["id"])

	b.Close()
	require.NoError(t, h.WaitTimeout(time.Second))

	box.mu.Lock()
	defer box.mu.Unlock()
	assert.Equal(t, DefaultMailboxQuery, box.queries[0])
}

func TestMailboxWatchSurvivesListErrors(t *testing.T) {
	box := &stubMailbox{listErr: errors.New("quota")}
	b := NewBroadcast()
	w := &MailboxWatch{Mailbox: box, Interval: 5 * time.Millisecond}
	h, err := w.Launch(context.Background(), make(chan Event, 1), b.Subscribe())
	require.NoError(t, err)

	time.Sleep(30 * time.Millisecond)
	b.Close()
	require.NoError(t, h.WaitTimeout(time.Second))

	box.mu.Lock()
	defer box.mu.Unlock()
	assert.Greater(t, len(box.queries), 1)
}

func TestMailboxWatchRequiresMailbox(t *testing.T) {
	_, err := (&MailboxWatch{}).Launch(context.Background(), make(chan Event), make(chan struct{}))
	assert.Equal(t, xerrors.CodeActivation, xerrors.CodeOf(err))
	assert.Equal(t, []string{MailboxReadonlyScope}, NewMailboxWatch(nil).RequiredScopes())
}
