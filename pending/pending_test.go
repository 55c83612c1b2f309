package pending

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestTable_Resolve(t *testing.T) {
	table := NewTable()
	call, err := table.Register("req-1", time.Second)
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	if !table.Resolve("req-1", "ok") {
		t.Fatal("Resolve() = false, want true")
	}
	got, err := call.Await(context.Background())
	if err != nil || got != "ok" {
		t.Fatalf("Await() = %v, %v; want ok, nil", got, err)
	}
	if table.Len() != 0 {
		t.Errorf("Len() = %d, want 0", table.Len())
	}
}

func TestTable_ResolveAtMostOnce(t *testing.T) {
	table := NewTable()
	call, _ := table.Register("req-1", time.Second)

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if table.Resolve("req-1", i) {
				wins.Add(1)
			}
		}(i)
	}
	wg.Wait()

	if wins.Load() != 1 {
		t.Fatalf("successful resolutions = %d, want 1", wins.Load())
	}
	if _, err := call.Await(context.Background()); err != nil {
		t.Errorf("Await() error = %v", err)
	}
}

func TestTable_Expiry(t *testing.T) {
	table := NewTable()
	call, _ := table.Register("req-1", 20*time.Millisecond)

	start := time.Now()
	_, err := call.Await(context.Background())
	if !errors.Is(err, ErrExpired) {
		t.Fatalf("Await() error = %v, want ErrExpired", err)
	}
	if elapsed := time.Since(start); elapsed < 15*time.Millisecond {
		t.Errorf("expired after %s, want at least the deadline", elapsed)
	}
	if table.Len() != 0 {
		t.Errorf("Len() after expiry = %d, want 0", table.Len())
	}

	// A late response is dropped.
	if table.Resolve("req-1", "late") {
		t.Error("Resolve() after expiry = true, want false")
	}
}

func TestTable_Duplicate(t *testing.T) {
	table := NewTable()
	if _, err := table.Register("req-1", time.Second); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if _, err := table.Register("req-1", time.Second); !errors.Is(err, ErrDuplicate) {
		t.Errorf("Register() duplicate error = %v, want ErrDuplicate", err)
	}
}

func TestTable_Fail(t *testing.T) {
	table := NewTable()
	call, _ := table.Register("req-1", time.Second)
	boom := errors.New("boom")

	table.Fail("req-1", boom)
	if _, err := call.Await(context.Background()); !errors.Is(err, boom) {
		t.Errorf("Await() error = %v, want boom", err)
	}
}

func TestCall_AwaitContextCancel(t *testing.T) {
	table := NewTable()
	call, _ := table.Register("req-1", time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := call.Await(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Await() error = %v, want context.Canceled", err)
	}
	if table.Len() != 0 {
		t.Errorf("Len() after cancel = %d, want 0", table.Len())
	}
}

func TestTable_Close(t *testing.T) {
	table := NewTable()
	a, _ := table.Register("a", time.Minute)
	b, _ := table.Register("b", 0)

	table.Close()

	for _, c := range []*Call{a, b} {
		if _, err := c.Await(context.Background()); !errors.Is(err, ErrClosed) {
			t.Errorf("Await(%s) error = %v, want ErrClosed", c.ID, err)
		}
	}
	if _, err := table.Register("c", time.Second); !errors.Is(err, ErrClosed) {
		t.Errorf("Register() after Close error = %v, want ErrClosed", err)
	}
}
