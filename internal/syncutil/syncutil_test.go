package syncutil

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestTTLCache_ExpiresAfterTTL(t *testing.T) {
	c := NewTTLCache(time.Minute)

	c.Set("k", "v", 30*time.Millisecond)

	if v, ok := c.Get("k"); !ok || v.(string) != "v" {
		t.Fatalf("expected live value, got %v ok=%v", v, ok)
	}

	time.Sleep(50 * time.Millisecond)

	if _, ok := c.Get("k"); ok {
		t.Error("expected entry to read as absent after ttl")
	}
}

func TestTTLCache_SetReplaces(t *testing.T) {
	c := NewTTLCache(time.Minute)

	c.Set("k", 1, time.Minute)
	c.Set("k", 2, time.Minute)

	v, ok := c.Get("k")
	if !ok || v.(int) != 2 {
		t.Errorf("expected last set value 2, got %v ok=%v", v, ok)
	}
}

func TestCooldown_GetSetClear(t *testing.T) {
	cd := NewCooldown()

	if _, ok := cd.Get("peer"); ok {
		t.Fatal("expected no cooldown initially")
	}

	cd.Set("peer", time.Minute, "CONNECT_REFUSED")
	reason, ok := cd.Get("peer")
	if !ok || reason != "CONNECT_REFUSED" {
		t.Fatalf("expected CONNECT_REFUSED, got %q ok=%v", reason, ok)
	}

	cd.Clear("peer")
	if _, ok := cd.Get("peer"); ok {
		t.Error("expected cooldown cleared")
	}
}

func TestCooldown_ExpiresNaturally(t *testing.T) {
	cd := NewCooldown()

	cd.Set("peer", 30*time.Millisecond, "CONNECT_TIMEOUT")
	time.Sleep(50 * time.Millisecond)

	if _, ok := cd.Get("peer"); ok {
		t.Error("expected cooldown to expire")
	}
}

func TestFlight_SharesOneExecution(t *testing.T) {
	f := NewFlight()

	var calls int32
	release := make(chan struct{})

	fn := func() (interface{}, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return "result", nil
	}

	var wg sync.WaitGroup
	results := make([]interface{}, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := f.Do("key", fn)
			if err != nil {
				t.Errorf("caller %d: %v", i, err)
			}
			results[i] = v
		}(i)
	}

	// Let every caller reach Do and join the in-flight execution before it
	// is allowed to finish.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Errorf("expected exactly one execution, got %d", n)
	}
	for i, v := range results {
		if v != "result" {
			t.Errorf("caller %d got %v, want result", i, v)
		}
	}
}

func TestFlight_SharesError(t *testing.T) {
	f := NewFlight()
	boom := errors.New("boom")

	var wg sync.WaitGroup
	release := make(chan struct{})
	errs := make([]error, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.Do("key", func() (interface{}, error) {
				<-release
				return nil, boom
			})
			errs[i] = err
		}(i)
	}

	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	for i, err := range errs {
		if !errors.Is(err, boom) {
			t.Errorf("caller %d got %v, want boom", i, err)
		}
	}
}

func TestFlight_FreshExecutionPerGeneration(t *testing.T) {
	f := NewFlight()

	var calls int32
	for i := 0; i < 3; i++ {
		_, err := f.Do("key", func() (interface{}, error) {
			atomic.AddInt32(&calls, 1)
			return nil, nil
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	if n := atomic.LoadInt32(&calls); n != 3 {
		t.Errorf("expected one execution per sequential call, got %d", n)
	}
}

func TestFlight_GoRunsAtMostOncePerKey(t *testing.T) {
	f := NewFlight()

	var calls int32
	release := make(chan struct{})
	done := make(chan struct{}, 2)

	fn := func() (interface{}, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return nil, nil
	}
	report := func(interface{}, error) { done <- struct{}{} }

	f.Go("refresh", fn, report)
	f.Go("refresh", fn, report)

	time.Sleep(20 * time.Millisecond)
	close(release)
	<-done
	<-done

	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Errorf("expected a single in-flight execution, got %d", n)
	}
}

func TestSemaphore_BoundsConcurrency(t *testing.T) {
	s := NewSemaphore(2)

	var active, peak int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.Use(context.Background(), func() error {
				n := atomic.AddInt32(&active, 1)
				for {
					p := atomic.LoadInt32(&peak)
					if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
						break
					}
				}
				time.Sleep(10 * time.Millisecond)
				atomic.AddInt32(&active, -1)
				return nil
			})
			if err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	if p := atomic.LoadInt32(&peak); p > 2 {
		t.Errorf("expected at most 2 concurrent users, saw %d", p)
	}
}

func TestSemaphore_ContextCancelled(t *testing.T) {
	s := NewSemaphore(1)

	block := make(chan struct{})
	go s.Use(context.Background(), func() error {
		<-block
		return nil
	})
	time.Sleep(10 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := s.Use(ctx, func() error { return nil })
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline error, got %v", err)
	}
	close(block)
}
