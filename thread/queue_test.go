// ABOUTME: Tests for the FIFO queue: ordering, blocking pop, drain-then-sentinel.

package thread_test

import (
	"testing"
	"time"

	"github.com/2389-research/chimera/thread"
)

func TestQueueFIFO(t *testing.T) {
	q := thread.NewQueue[int]()
	for i := 0; i < 100; i++ {
		q.Push(i)
	}
	for i := 0; i < 100; i++ {
		got, ok := q.Pop()
		if !ok || got != i {
			t.Fatalf("pop %d = %d ok=%v", i, got, ok)
		}
	}
}

func TestQueueBlockingPop(t *testing.T) {
	q := thread.NewQueue[string]()
	done := make(chan string, 1)
	go func() {
		v, _ := q.Pop()
		done <- v
	}()

	time.Sleep(20 * time.Millisecond)
	q.Push("late")

	select {
	case v := <-done:
		if v != "late" {
			t.Errorf("popped %q", v)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("pop never woke up")
	}
}

func TestQueueCloseDrainsThenEnds(t *testing.T) {
	q := thread.NewQueue[int]()
	q.Push(1)
	q.Push(2)
	q.Close()

	if v, ok := q.Pop(); !ok || v != 1 {
		t.Fatalf("pop = %d ok=%v", v, ok)
	}
	if v, ok := q.Pop(); !ok || v != 2 {
		t.Fatalf("pop = %d ok=%v", v, ok)
	}
	if _, ok := q.Pop(); ok {
		t.Fatal("drained closed queue must report the sentinel")
	}
}

func TestQueuePushAfterCloseDropped(t *testing.T) {
	q := thread.NewQueue[int]()
	q.Close()
	q.Push(9)
	if q.Len() != 0 {
		t.Errorf("len = %d after push to closed queue", q.Len())
	}
}

func TestQueueCloseUnblocksWaiters(t *testing.T) {
	q := thread.NewQueue[int]()
	done := make(chan bool, 1)
	go func() {
		_, ok := q.Pop()
		done <- ok
	}()
	time.Sleep(20 * time.Millisecond)
	q.Close()

	select {
	case ok := <-done:
		if ok {
			t.Error("waiter on empty closed queue must see the sentinel")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("close did not wake the waiter")
	}
}
