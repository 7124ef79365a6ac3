package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestMemoryQueuePublishConsume(t *testing.T) {
	q := NewMemoryQueue(4)
	defer q.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := q.Publish(ctx, []byte(`{"name":"a"}`)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := q.Publish(ctx, []byte(`{"name":"b"}`)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var (
		mu  sync.Mutex
		got []string
	)
	done := make(chan error, 1)
	go func() {
		done <- q.Consume(ctx, 1, func(_ context.Context, body []byte) error {
			mu.Lock()
			got = append(got, string(body))
			if len(got) == 2 {
				cancel()
			}
			mu.Unlock()
			return nil
		})
	}()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("unexpected consume error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("consume did not return")
	}
	if len(got) != 2 || got[0] != `{"name":"a"}` || got[1] != `{"name":"b"}` {
		t.Fatalf("unexpected messages: %v", got)
	}
}

func TestMemoryQueueRequeuesOnHandlerError(t *testing.T) {
	q := NewMemoryQueue(2)
	defer q.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := q.Publish(ctx, []byte("x")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	attempts := 0
	_ = q.Consume(ctx, 1, func(context.Context, []byte) error {
		attempts++
		if attempts == 1 {
			return errors.New("not now")
		}
		cancel()
		return nil
	})
	if attempts != 2 {
		t.Fatalf("expected message to be redelivered, attempts=%d", attempts)
	}
}

func TestMemoryQueueClosed(t *testing.T) {
	q := NewMemoryQueue(1)
	_ = q.Close()
	if err := q.Publish(context.Background(), []byte("x")); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if err := q.Consume(context.Background(), 1, func(context.Context, []byte) error { return nil }); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed from consume, got %v", err)
	}
}

func TestNewUnknownDriver(t *testing.T) {
	if _, err := New(context.Background(), Config{Driver: "kafka"}); err == nil {
		t.Fatalf("expected error for unknown driver")
	}
	q, err := New(context.Background(), Config{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := q.(*MemoryQueue); !ok {
		t.Fatalf("expected memory queue by default, got %T", q)
	}
}
