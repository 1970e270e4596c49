package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func TestTTL_GetSet(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	c := NewTTL()
	c.SetClock(clock.Now)

	c.Set("zone:1", "snapshot", time.Minute)
	v, ok := c.Get("zone:1")
	if !ok || v != "snapshot" {
		t.Fatalf("Get() = %v, %v; want snapshot, true", v, ok)
	}

	clock.Advance(time.Minute)
	if _, ok := c.Get("zone:1"); ok {
		t.Error("Get() after expiry ok = true, want false")
	}
}

func TestTTL_NonPositiveTTLIgnored(t *testing.T) {
	c := NewTTL()
	c.Set("k", 1, 0)
	if c.Len() != 0 {
		t.Errorf("Len() = %d, want 0", c.Len())
	}
}

func TestTTL_Sweep(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	c := NewTTL()
	c.SetClock(clock.Now)

	c.Set("short", 1, time.Second)
	c.Set("long", 2, time.Hour)
	clock.Advance(2 * time.Second)

	if n := c.Sweep(); n != 1 {
		t.Errorf("Sweep() = %d, want 1", n)
	}
	if c.Len() != 1 {
		t.Errorf("Len() = %d, want 1", c.Len())
	}
}

func TestTTL_Concurrent(t *testing.T) {
	c := NewTTL()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := fmt.Sprintf("k%d", i%5)
			c.Set(key, i, time.Minute)
			c.Get(key)
		}(i)
	}
	wg.Wait()
	if c.Len() != 5 {
		t.Errorf("Len() = %d, want 5", c.Len())
	}
}
