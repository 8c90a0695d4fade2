package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"settleup/internal/core"
)

func TestLRUCache_Eviction(t *testing.T) {
	c := NewLRUCache[int](2, time.Minute)
	c.Set("a", 1)
	c.Set("b", 2)
	c.Get("a") // a is now most recent
	c.Set("c", 3)

	if _, ok := c.Get("b"); ok {
		t.Error("b should have been evicted")
	}
	if v, ok := c.Get("a"); !ok || v != 1 {
		t.Errorf("Get(a) = %v, %v", v, ok)
	}
	if c.Size() != 2 {
		t.Errorf("Size() = %d, want 2", c.Size())
	}

	c.Delete("a")
	if _, ok := c.Get("a"); ok {
		t.Error("a should be gone after Delete")
	}
}

func TestLRUCache_TTL(t *testing.T) {
	now := time.Now()
	c := NewLRUCache[string](10, time.Second)
	c.now = func() time.Time { return now }

	c.Set("old", "x")
	now = now.Add(500 * time.Millisecond)
	c.Set("new", "y")
	now = now.Add(700 * time.Millisecond)

	if _, ok := c.Get("old"); ok {
		t.Error("old should have expired")
	}
	if removed := c.CleanExpired(); removed != 0 {
		t.Errorf("CleanExpired() = %d, want 0 (old already dropped by Get)", removed)
	}

	now = now.Add(time.Second)
	if removed := c.CleanExpired(); removed != 1 {
		t.Errorf("CleanExpired() = %d, want 1", removed)
	}
	if c.Size() != 0 {
		t.Errorf("Size() = %d, want 0", c.Size())
	}
}

func TestReportCache_KeyedByVersion(t *testing.T) {
	c := NewReportCache(8, time.Minute)
	var calls int32
	compute := func(_ context.Context, g core.Group) (core.GroupReport, error) {
		atomic.AddInt32(&calls, 1)
		return core.GroupReport{GroupID: g.ID, Version: g.Version}, nil
	}

	g := core.Group{ID: 1, Version: 3}
	for i := 0; i < 3; i++ {
		r, err := c.Get(context.Background(), g, compute)
		if err != nil || r.Version != 3 {
			t.Fatalf("Get() = %+v, %v", r, err)
		}
	}
	if calls != 1 {
		t.Errorf("compute called %d times, want 1", calls)
	}

	g.Version = 4
	r, err := c.Get(context.Background(), g, compute)
	if err != nil || r.Version != 4 {
		t.Fatalf("Get() after bump = %+v, %v", r, err)
	}
	if calls != 2 {
		t.Errorf("compute called %d times, want 2", calls)
	}
}

func TestReportCache_StoresUnderReportedVersion(t *testing.T) {
	c := NewReportCache(8, time.Minute)
	var calls int32
	// A write lands between the caller's read and compute.
	compute := func(_ context.Context, g core.Group) (core.GroupReport, error) {
		atomic.AddInt32(&calls, 1)
		return core.GroupReport{GroupID: g.ID, Version: g.Version + 1}, nil
	}

	r, err := c.Get(context.Background(), core.Group{ID: 1, Version: 3}, compute)
	if err != nil || r.Version != 4 {
		t.Fatalf("Get() = %+v, %v", r, err)
	}
	if _, ok := c.lru.Get(reportKey(1, 3)); ok {
		t.Error("version 4 report must not be cached under version 3")
	}
	if _, ok := c.lru.Get(reportKey(1, 4)); !ok {
		t.Error("report should be cached under version 4")
	}

	r, err = c.Get(context.Background(), core.Group{ID: 1, Version: 4}, compute)
	if err != nil || r.Version != 4 {
		t.Fatalf("Get() at version 4 = %+v, %v", r, err)
	}
	if calls != 1 {
		t.Errorf("compute called %d times, want 1", calls)
	}
}

func TestReportCache_ConcurrentCallersShareCompute(t *testing.T) {
	c := NewReportCache(8, time.Minute)
	var calls int32
	release := make(chan struct{})
	compute := func(_ context.Context, g core.Group) (core.GroupReport, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return core.GroupReport{GroupID: g.ID}, nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.Get(context.Background(), core.Group{ID: 7}, compute); err != nil {
				t.Error(err)
			}
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	if calls != 1 {
		t.Errorf("compute called %d times, want 1", calls)
	}
}

func TestReportCache_ErrorsAreNotCached(t *testing.T) {
	c := NewReportCache(8, time.Minute)
	boom := errors.New("boom")
	_, err := c.Get(context.Background(), core.Group{ID: 1}, func(context.Context, core.Group) (core.GroupReport, error) {
		return core.GroupReport{}, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if c.Size() != 0 {
		t.Errorf("Size() = %d, want 0", c.Size())
	}
}

func TestManager_StopIsIdempotent(t *testing.T) {
	m := NewManager(nil)
	lru := NewLRUCache[int](1, time.Nanosecond)
	m.Register(lru)
	lru.Set("a", 1)
	time.Sleep(time.Millisecond)

	if n := m.CleanAll(); n != 1 {
		t.Errorf("CleanAll() = %d, want 1", n)
	}
	m.StartCleanup(time.Hour)
	m.Stop()
	m.Stop()
}
