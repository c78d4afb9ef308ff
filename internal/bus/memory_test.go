package bus

import (
	"context"
	"testing"
	"time"
)

func TestPublishSubscribe(t *testing.T) {
	m := NewMemory()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub, err := m.Subscribe(ctx, "alerts")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	if err := m.Publish(ctx, "alerts", []byte("hello")); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case msg := <-sub:
		if string(msg) != "hello" {
			t.Fatalf("got %q, want %q", msg, "hello")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
	}
}

func TestPublishNoSubscribers(t *testing.T) {
	m := NewMemory()
	if err := m.Publish(context.Background(), "empty", []byte("x")); err != nil {
		t.Fatalf("Publish: %v", err)
	}
}

func TestSubscribeCancelClosesChannel(t *testing.T) {
	m := NewMemory()
	ctx, cancel := context.WithCancel(context.Background())

	sub, err := m.Subscribe(ctx, "alerts")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	cancel()

	select {
	case _, ok := <-sub:
		if ok {
			t.Fatal("expected closed channel after cancel")
		}
	case <-time.After(time.Second):
		t.Fatal("channel not closed after cancel")
	}
}

func TestSlowSubscriberDoesNotBlock(t *testing.T) {
	m := NewMemory()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if _, err := m.Subscribe(ctx, "alerts"); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < subscriberBuffer*2; i++ {
			m.Publish(ctx, "alerts", []byte("x"))
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publisher blocked on slow subscriber")
	}
}

func TestStreamAppendRead(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	for _, p := range []string{"a", "b", "c"} {
		if err := m.StreamAppend(ctx, "trades", []byte(p)); err != nil {
			t.Fatalf("StreamAppend: %v", err)
		}
	}

	msgs, err := m.StreamRead(ctx, "trades", "", 2)
	if err != nil {
		t.Fatalf("StreamRead: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
	}
	if string(msgs[0].Payload) != "a" || string(msgs[1].Payload) != "b" {
		t.Fatalf("unexpected payloads: %q %q", msgs[0].Payload, msgs[1].Payload)
	}

	rest, err := m.StreamRead(ctx, "trades", msgs[1].ID, 10)
	if err != nil {
		t.Fatalf("StreamRead: %v", err)
	}
	if len(rest) != 1 || string(rest[0].Payload) != "c" {
		t.Fatalf("expected final message c, got %v", rest)
	}

	empty, err := m.StreamRead(ctx, "trades", rest[0].ID, 10)
	if err != nil {
		t.Fatalf("StreamRead: %v", err)
	}
	if len(empty) != 0 {
		t.Fatalf("expected no messages past end, got %d", len(empty))
	}
}
