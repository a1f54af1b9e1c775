package eventbus

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestPublishSubscribeDelivery(t *testing.T) {
	b := New(10)
	ctx, cancel := context.WithCancel(context.Background())
	go b.Run(ctx)
	defer cancel()

	var mu sync.Mutex
	var got []int

	done := make(chan struct{})
	b.Subscribe("counter", nil, func(ev Event) {
		mu.Lock()
		got = append(got, ev.(int))
		if len(got) == 3 {
			close(done)
		}
		mu.Unlock()
	})

	for i := 1; i <= 3; i++ {
		if err := b.Publish(i); err != nil {
			t.Fatalf("Publish(%d): %v", i, err)
		}
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for delivery")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 3 || got[0] != 1 || got[1] != 2 || got[2] != 3 {
		t.Fatalf("got %v, want [1 2 3] in order", got)
	}
}

func TestPublishBackpressure(t *testing.T) {
	b := New(1)
	// No dispatcher running: ingress fills immediately after one publish.
	if err := b.Publish("a"); err != nil {
		t.Fatalf("first publish should succeed: %v", err)
	}
	if err := b.Publish("b"); err != ErrBackpressure {
		t.Fatalf("expected ErrBackpressure, got %v", err)
	}
}

func TestSubscribeFilter(t *testing.T) {
	b := New(10)
	ctx, cancel := context.WithCancel(context.Background())
	go b.Run(ctx)
	defer cancel()

	var mu sync.Mutex
	var matched []string
	done := make(chan struct{})

	b.Subscribe("strings-only", func(ev Event) bool {
		_, ok := ev.(string)
		return ok
	}, func(ev Event) {
		mu.Lock()
		matched = append(matched, ev.(string))
		mu.Unlock()
		close(done)
	})

	if err := b.Publish(42); err != nil {
		t.Fatalf("Publish(42): %v", err)
	}
	if err := b.Publish("hello"); err != nil {
		t.Fatalf("Publish(hello): %v", err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for filtered delivery")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(matched) != 1 || matched[0] != "hello" {
		t.Fatalf("got %v, want only [hello]", matched)
	}
}
