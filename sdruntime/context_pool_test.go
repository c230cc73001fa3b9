package sdruntime

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestNewContextPool(t *testing.T) {
	tests := []struct {
		name    string
		maxSize int
		params  ContextParams
		wantErr error
	}{
		{"valid pool", 3, DefaultContextParams("/models/sd.safetensors"), nil},
		{"single context pool", 1, DefaultContextParams("/models/sd.safetensors"), nil},
		{"zero size", 0, DefaultContextParams("/models/sd.safetensors"), ErrInvalidParams},
		{"negative size", -1, DefaultContextParams("/models/sd.safetensors"), ErrInvalidParams},
		{"no model path", 1, ContextParams{}, ErrInvalidContextParams},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pool, err := NewContextPool(tt.maxSize, tt.params)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("NewContextPool() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("NewContextPool() unexpected error: %v", err)
			}
			defer pool.Close()

			if pool.MaxSize() != tt.maxSize {
				t.Errorf("MaxSize() = %d, want %d", pool.MaxSize(), tt.maxSize)
			}
			if pool.ModelPath() != tt.params.ModelPath {
				t.Errorf("ModelPath() = %s, want %s", pool.ModelPath(), tt.params.ModelPath)
			}
			if pool.Size() != 0 || pool.Created() != 0 {
				t.Errorf("new pool has Size()=%d Created()=%d, want 0/0", pool.Size(), pool.Created())
			}
			if pool.IsClosed() {
				t.Error("IsClosed() = true for new pool")
			}
		})
	}
}

func newTestPool(t *testing.T, size int) *ContextPool {
	t.Helper()
	requireStub(t)
	pool, err := NewContextPool(size, DefaultContextParams(testModel(t)))
	if err != nil {
		t.Fatalf("NewContextPool() failed: %v", err)
	}
	t.Cleanup(func() { pool.Close() })
	return pool
}

func TestContextPoolAcquireRelease(t *testing.T) {
	pool := newTestPool(t, 2)
	ctx := context.Background()

	pc1, err := pool.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire() failed: %v", err)
	}
	if !pc1.inUse || !pc1.IsValid() {
		t.Error("acquired context should be in use and valid")
	}
	if pool.Created() != 1 {
		t.Errorf("Created() = %d, want 1", pool.Created())
	}

	pc2, err := pool.Acquire(ctx)
	if err != nil {
		t.Fatalf("second Acquire() failed: %v", err)
	}
	if pc1.ID() == pc2.ID() {
		t.Error("two live contexts share a pool ID")
	}

	pool.Release(pc1)
	if pool.Size() != 1 {
		t.Errorf("Size() after release = %d, want 1", pool.Size())
	}

	pc3, err := pool.Acquire(ctx)
	if err != nil {
		t.Fatalf("third Acquire() failed: %v", err)
	}
	if pc3 != pc1 {
		t.Error("expected the released context to be reused")
	}
	if pool.Created() != 2 {
		t.Errorf("Created() = %d, want 2 (no new context for reuse)", pool.Created())
	}

	pool.Release(pc2)
	pool.Release(pc3)
	pool.Release(nil)
}

func TestContextPoolAcquireTimeout(t *testing.T) {
	pool := newTestPool(t, 1)

	pc, err := pool.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire() failed: %v", err)
	}
	defer pool.Release(pc)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = pool.Acquire(ctx)
	if !errors.Is(err, ErrAcquireTimeout) {
		t.Errorf("Acquire() on exhausted pool = %v, want ErrAcquireTimeout", err)
	}
}

func TestContextPoolWaitsForRelease(t *testing.T) {
	pool := newTestPool(t, 1)

	pc, err := pool.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire() failed: %v", err)
	}

	go func() {
		time.Sleep(10 * time.Millisecond)
		pool.Release(pc)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	got, err := pool.Acquire(ctx)
	if err != nil {
		t.Fatalf("waiting Acquire() failed: %v", err)
	}
	if got != pc {
		t.Error("waiting Acquire() should receive the released context")
	}
	pool.Release(got)
}

func TestContextPoolCreationFailure(t *testing.T) {
	pool, err := NewContextPool(1, DefaultContextParams("/models/missing.safetensors"))
	if err != nil {
		t.Fatalf("NewContextPool() failed: %v", err)
	}
	defer pool.Close()

	if _, err := pool.Acquire(context.Background()); !errors.Is(err, ErrModelNotFound) {
		t.Errorf("Acquire() error = %v, want ErrModelNotFound", err)
	}
	if pool.Created() != 0 {
		t.Errorf("Created() = %d after failed creation, want 0", pool.Created())
	}
}

func TestContextPoolLazyCreationBounded(t *testing.T) {
	pool := newTestPool(t, 3)

	var calls int32
	create := pool.newContext
	pool.newContext = func(p ContextParams) (*Context, error) {
		atomic.AddInt32(&calls, 1)
		return create(p)
	}

	var wg sync.WaitGroup
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			if _, err := pool.Generate(context.Background(), testParams("bounded", seed)); err != nil {
				t.Errorf("Generate() failed: %v", err)
			}
		}(int64(i))
	}
	wg.Wait()

	if n := atomic.LoadInt32(&calls); n > 3 {
		t.Errorf("created %d contexts, want at most 3", n)
	}
	if pool.Created() > 3 || pool.Size() != pool.Created() {
		t.Errorf("Created()=%d Size()=%d after all releases", pool.Created(), pool.Size())
	}
}

func TestContextPoolClose(t *testing.T) {
	pool := newTestPool(t, 2)
	ctx := context.Background()

	idle, _ := pool.Acquire(ctx)
	busy, _ := pool.Acquire(ctx)
	pool.Release(idle)

	if err := pool.Close(); err != nil {
		t.Fatalf("Close() = %v", err)
	}
	if err := pool.Close(); err != nil {
		t.Errorf("second Close() = %v", err)
	}
	if idle.IsValid() {
		t.Error("idle context should be freed by Close")
	}

	pool.Release(busy)
	if busy.IsValid() {
		t.Error("context released after Close should be freed")
	}
	if pool.Created() != 0 {
		t.Errorf("Created() = %d after close, want 0", pool.Created())
	}

	if _, err := pool.Acquire(ctx); !errors.Is(err, ErrContextPoolClosed) {
		t.Errorf("Acquire() after Close = %v, want ErrContextPoolClosed", err)
	}
	if _, err := pool.Generate(ctx, testParams("closed", 1)); !errors.Is(err, ErrContextPoolClosed) {
		t.Errorf("Generate() after Close = %v, want ErrContextPoolClosed", err)
	}
}

func TestContextPoolGenerateValidatesFirst(t *testing.T) {
	pool := newTestPool(t, 1)

	_, err := pool.Generate(context.Background(), testParams("", 1))
	if !errors.Is(err, ErrInvalidPrompt) {
		t.Errorf("Generate() = %v, want ErrInvalidPrompt", err)
	}
	if pool.Created() != 0 {
		t.Error("invalid params should not load a model")
	}
}
