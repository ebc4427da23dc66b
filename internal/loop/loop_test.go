package loop

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestLoopRunsInOrder(t *testing.T) {
	l := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Run(ctx)

	var order []int
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			i := i
			l.Post(func() { order = append(order, i) })
		}
	}()
	wg.Wait()

	if err := l.Do(ctx, func() {}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(order) != 100 {
		t.Fatalf("expected 100 tasks, got %d", len(order))
	}
	for i, v := range order {
		if v != i {
			t.Fatalf("expected order[%d] = %d, got %d", i, i, v)
		}
	}
}

func TestLoopSurvivesPanic(t *testing.T) {
	l := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Run(ctx)

	l.Post(func() { panic("boom") })
	ran := false
	if err := l.Do(ctx, func() { ran = true }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ran {
		t.Error("loop should keep running after a panic")
	}
}

func TestDoReturnsWhenTaskPanics(t *testing.T) {
	l := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Run(ctx)

	waitCtx, waitCancel := context.WithTimeout(ctx, 2*time.Second)
	defer waitCancel()
	err := l.Do(waitCtx, func() { panic("boom") })
	if !errors.Is(err, ErrPanicked) {
		t.Fatalf("expected ErrPanicked, got %v", err)
	}
	if err := l.Do(waitCtx, func() {}); err != nil {
		t.Errorf("loop should keep running after a panic, got %v", err)
	}
}

func TestLoopStop(t *testing.T) {
	l := New()
	ctx, cancel := context.WithCancel(context.Background())
	go l.Run(ctx)
	cancel()

	select {
	case <-l.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not stop")
	}
	if l.Post(func() {}) {
		t.Error("post after stop should be rejected")
	}
	if err := l.Do(context.Background(), func() {}); err != ErrStopped {
		t.Errorf("expected ErrStopped, got %v", err)
	}
}

func TestInline(t *testing.T) {
	ran := false
	Inline{}.Post(func() { ran = true })
	if !ran {
		t.Error("inline executor should run immediately")
	}
}
