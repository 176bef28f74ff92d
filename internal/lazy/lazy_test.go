package lazy

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
)

func TestLoader_buildsOnce(t *testing.T) {
	var calls int32
	l := New(func(ctx context.Context) (int, error) {
		return int(atomic.AddInt32(&calls, 1)), nil
	}, nil)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if v, err := l.Get(context.Background()); err != nil || v != 1 {
				t.Errorf("Get = %d, %v", v, err)
			}
		}()
	}
	wg.Wait()
	if atomic.LoadInt32(&calls) != 1 {
		t.Errorf("build called %d times, want 1", calls)
	}
}

func TestLoader_retriesFailedBuild(t *testing.T) {
	fail := true
	l := New(func(ctx context.Context) (string, error) {
		if fail {
			return "", errors.New("model missing")
		}
		return "ok", nil
	}, nil)
	if _, err := l.Get(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if l.Loaded() {
		t.Error("failed build should not be cached")
	}
	fail = false
	if v, err := l.Get(context.Background()); err != nil || v != "ok" {
		t.Errorf("Get = %q, %v", v, err)
	}
}

func TestLoader_reloadAndClose(t *testing.T) {
	var released []int
	n := 0
	l := New(func(ctx context.Context) (int, error) {
		n++
		return n, nil
	}, func(v int) error {
		released = append(released, v)
		return nil
	})
	ctx := context.Background()
	v, _ := l.Get(ctx)
	if v != 1 {
		t.Fatalf("first value = %d", v)
	}
	if err := l.Reload(); err != nil {
		t.Fatal(err)
	}
	v, _ = l.Get(ctx)
	if v != 2 || l.Builds() != 2 {
		t.Errorf("after reload value=%d builds=%d", v, l.Builds())
	}
	if err := l.Close(); err != nil {
		t.Fatal(err)
	}
	if len(released) != 2 || released[0] != 1 || released[1] != 2 {
		t.Errorf("released = %v", released)
	}
	if _, err := l.Get(ctx); !errors.Is(err, ErrClosed) {
		t.Errorf("Get after Close: %v", err)
	}
}

func TestLoader_cancelledContext(t *testing.T) {
	l := New(func(ctx context.Context) (int, error) { return 1, nil }, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := l.Get(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("want context.Canceled, got %v", err)
	}
}
