package eventbus

import (
	"sync"
	"testing"
)

func TestPublishFanout(t *testing.T) {
	t.Parallel()
	b := New[int]()
	a, unsubA := b.Subscribe(4)
	c, unsubC := b.Subscribe(4)
	defer unsubA()
	defer unsubC()

	if n := b.Publish(7); n != 2 {
		t.Fatalf("delivered = %d, want 2", n)
	}
	if v := <-a; v != 7 {
		t.Fatalf("a got %d, want 7", v)
	}
	if v := <-c; v != 7 {
		t.Fatalf("c got %d, want 7", v)
	}
}

func TestPublishDropsWhenSubscriberFull(t *testing.T) {
	t.Parallel()
	b := New[string]()
	ch, unsub := b.Subscribe(1)
	defer unsub()

	if n := b.Publish("first"); n != 1 {
		t.Fatalf("first delivered = %d, want 1", n)
	}
	if n := b.Publish("second"); n != 0 {
		t.Fatalf("second delivered = %d, want 0 (buffer full)", n)
	}
	if v := <-ch; v != "first" {
		t.Fatalf("got %q, want first", v)
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	t.Parallel()
	b := New[int]()
	ch, unsub := b.Subscribe(0)
	if b.Subscribers() != 1 {
		t.Fatalf("Subscribers = %d, want 1", b.Subscribers())
	}
	unsub()
	unsub() // idempotent
	if _, ok := <-ch; ok {
		t.Fatalf("expected closed channel")
	}
	if b.Subscribers() != 0 {
		t.Fatalf("Subscribers = %d, want 0", b.Subscribers())
	}
	if n := b.Publish(1); n != 0 {
		t.Fatalf("delivered = %d after unsubscribe, want 0", n)
	}
}

func TestConcurrentPublishAndUnsubscribe(t *testing.T) {
	b := New[int]()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		_, unsub := b.Subscribe(1)
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				b.Publish(j)
			}
		}()
		go func() {
			defer wg.Done()
			unsub()
		}()
	}
	wg.Wait()
}
