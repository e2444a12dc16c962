package sessionlock

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not reached before deadline")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestAcquireRelease(t *testing.T) {
	l := New()
	if err := l.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if !l.Held() {
		t.Fatal("lock should be held after Acquire")
	}
	l.Release()
	if l.Held() {
		t.Fatal("lock should be free after Release")
	}
}

// TestFIFOOrder verifies waiters are granted in arrival order and never
// overlap.
func TestFIFOOrder(t *testing.T) {
	l := New()
	ctx := context.Background()
	if err := l.Acquire(ctx); err != nil {
		t.Fatal(err)
	}

	const n = 8
	var (
		mu     sync.Mutex
		order  []int
		inside int
		wg     sync.WaitGroup
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := l.Acquire(ctx); err != nil {
				t.Errorf("Acquire(%d): %v", i, err)
				return
			}
			mu.Lock()
			inside++
			if inside != 1 {
				t.Errorf("mutual exclusion violated: %d holders", inside)
			}
			order = append(order, i)
			inside--
			mu.Unlock()
			l.Release()
		}(i)
		// Each goroutine must be queued before the next one starts.
		waitFor(t, func() bool { return l.Waiting() == i+1 })
	}

	l.Release()
	wg.Wait()

	for i, got := range order {
		if got != i {
			t.Fatalf("grant order = %v, want ascending", order)
		}
	}
	if l.Held() {
		t.Error("lock should be free after all waiters released")
	}
}

func TestAcquireContextCancelled(t *testing.T) {
	l := New()
	if err := l.Acquire(context.Background()); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- l.Acquire(ctx) }()
	waitFor(t, func() bool { return l.Waiting() == 1 })
	cancel()

	if err := <-errc; !errors.Is(err, context.Canceled) {
		t.Fatalf("Acquire error = %v, want context.Canceled", err)
	}
	if l.Waiting() != 0 {
		t.Errorf("cancelled waiter still queued")
	}

	// The cancelled waiter must not have consumed the next hand-off.
	l.Release()
	if l.Held() {
		t.Error("lock should be free")
	}
}

func TestAcquireTimeoutPassesGrantOn(t *testing.T) {
	l := New()
	ctx := context.Background()
	if err := l.Acquire(ctx); err != nil {
		t.Fatal(err)
	}

	short, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	second := make(chan error, 1)
	go func() { second <- l.Acquire(short) }()
	waitFor(t, func() bool { return l.Waiting() == 1 })

	third := make(chan error, 1)
	go func() { third <- l.Acquire(ctx) }()
	waitFor(t, func() bool { return l.Waiting() == 2 })

	if err := <-second; err == nil {
		t.Fatal("second Acquire should time out")
	}
	l.Release()
	if err := <-third; err != nil {
		t.Fatalf("third Acquire: %v", err)
	}
	l.Release()
	if l.Held() {
		t.Error("lock should be free")
	}
}

func TestReleaseUnheldPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("Release of unheld lock should panic")
		}
	}()
	New().Release()
}
