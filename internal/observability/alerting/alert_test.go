package alerting

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	xerrors "forgeflow/internal/errors"
)

type sentMessage struct {
	chatID int64
	text   string
}

type stubSender struct {
	sent []sentMessage
	err  error
}

func (s *stubSender) Send(_ context.Context, chatID int64, text string) error {
	s.sent = append(s.sent, sentMessage{chatID: chatID, text: text})
	return s.err
}

var occurred = time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)

func TestFromErrorHonoursAlertAttribute(t *testing.T) {
	_, ok := FromError("Tick", xerrors.New(xerrors.CodePrompt, "boom"), occurred)
	assert.False(t, ok)

	_, ok = FromError("Tick", nil, occurred)
	assert.False(t, ok)

	ev, ok := FromError("Tick", xerrors.New(xerrors.CodeRetriesExhausted, "gave up",
		xerrors.WithMetadata("attempts", "3")), occurred)
	require.True(t, ok)
	assert.Equal(t, xerrors.CodeRetriesExhausted, ev.Code)
	assert.Equal(t, xerrors.SeverityWarning, ev.Severity)
	assert.Equal(t, "3", ev.Metadata["attempts"])
	assert.Contains(t, ev.Text(), "事件: Tick")
	assert.Contains(t, ev.Text(), "- attempts: 3")
}

func TestFanoutDeliversToEveryChannel(t *testing.T) {
	sender := &stubSender{}
	var buf bytes.Buffer
	d := NewFanout(
		&TelegramNotifier{Sender: sender, ChatID: 42},
		&LogNotifier{Logger: slog.New(slog.NewJSONHandler(&buf, nil))},
		nil,
	)
	assert.Equal(t, 2, d.Len())

	ev := Event{Code: xerrors.CodeStorageFailure, Severity: xerrors.SeverityCritical, Trigger: "Mail", OccurredAt: occurred}
	require.NoError(t, d.Notify(context.Background(), ev))

	require.Len(t, sender.sent, 1)
	assert.Equal(t, int64(42), sender.sent[0].chatID)
	assert.Contains(t, sender.sent[0].text, "[critical] STORAGE_FAILURE")
	assert.Contains(t, buf.String(), `"code":"STORAGE_FAILURE"`)
}

func TestFanoutJoinsErrors(t *testing.T) {
	sender := &stubSender{err: errors.New("offline")}
	d := NewFanout(&TelegramNotifier{Sender: sender, ChatID: 1})

	err := d.Notify(context.Background(), Event{Code: xerrors.CodeUnknown})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "channel telegram: offline")
}

func TestUnconfiguredNotifiersSkip(t *testing.T) {
	var d *FanoutDispatcher
	assert.NoError(t, d.Notify(context.Background(), Event{}))
	assert.NoError(t, (&TelegramNotifier{}).Notify(context.Background(), Event{}))
	assert.NoError(t, (&LogNotifier{}).Notify(context.Background(), Event{}))
}
