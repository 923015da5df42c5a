package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

func frame(name string) Frame {
	return Frame{Name: name, Payload: []byte(`{"event":"` + name + `"}`)}
}

func TestInMemoryQueue_BasicOperations(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(2))

	if l := q.Len(); l != 0 {
		t.Errorf("expected length 0, got %d", l)
	}
	if !q.Offer(frame("hello")) {
		t.Error("expected offer to succeed")
	}
	if l := q.Len(); l != 1 {
		t.Errorf("expected length 1, got %d", l)
	}

	f := <-q.Dequeue()
	if f.Name != "hello" {
		t.Errorf("expected hello, got %v", f.Name)
	}
	if l := q.Len(); l != 0 {
		t.Errorf("expected length 0, got %d", l)
	}
}

func TestInMemoryQueue_OfferWhenFull(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(2))

	if !q.Offer(frame("a")) || !q.Offer(frame("b")) {
		t.Fatal("expected offers to succeed")
	}
	if q.Offer(frame("c")) {
		t.Error("expected offer to fail when full")
	}
	if l := q.Len(); l != 2 {
		t.Errorf("expected length 2, got %d", l)
	}
}

func TestInMemoryQueue_PutWaitsForRoom(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(1))
	ctx := context.Background()

	if err := q.Put(ctx, frame("a")); err != nil {
		t.Fatalf("put: %v", err)
	}

	go func() {
		time.Sleep(20 * time.Millisecond)
		<-q.Dequeue()
	}()

	if err := q.Put(ctx, frame("b")); err != nil {
		t.Fatalf("expected put to wait for room, got %v", err)
	}
	if f := <-q.Dequeue(); f.Name != "b" {
		t.Errorf("expected b, got %s", f.Name)
	}
}

func TestInMemoryQueue_PutTimesOut(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(1), WithName("conn-1"))
	_ = q.Offer(frame("a"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := q.Put(ctx, frame("b"))
	if !errors.Is(err, ErrFull) {
		t.Fatalf("expected ErrFull, got %v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline in chain, got %v", err)
	}
}

func TestInMemoryQueue_Close(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(1))
	_ = q.Offer(frame("a"))

	blocked := make(chan error, 1)
	go func() { blocked <- q.Put(context.Background(), frame("b")) }()

	time.Sleep(10 * time.Millisecond)
	if err := q.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := <-blocked; !errors.Is(err, ErrClosed) {
		t.Errorf("expected blocked put to fail with ErrClosed, got %v", err)
	}
	if !q.IsClosed() {
		t.Error("expected queue to be closed")
	}
	if q.Offer(frame("c")) {
		t.Error("expected offer after close to fail")
	}
	if err := q.Close(); err != nil {
		t.Errorf("second close: %v", err)
	}
	if f := <-q.Dequeue(); f.Name != "a" {
		t.Errorf("expected queued frame to survive close, got %q", f.Name)
	}
}

func TestInMemoryQueue_ConcurrentAccess(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(100))
	ctx := context.Background()
	numProducers := 10
	numFrames := 100

	var wg sync.WaitGroup
	for i := 0; i < numProducers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < numFrames; j++ {
				if err := q.Put(ctx, frame(fmt.Sprintf("f%d_%d", id, j))); err != nil {
					t.Errorf("put: %v", err)
					return
				}
			}
		}(i)
	}

	received := 0
	done := make(chan struct{})
	go func() {
		for received < numProducers*numFrames {
			<-q.Dequeue()
			received++
		}
		close(done)
	}()

	wg.Wait()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out draining frames")
	}
}
