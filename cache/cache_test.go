package cache

import (
	"errors"
	"strconv"
	"sync"
	"testing"
)

// oneShard sends every key to shard 0 so eviction order is exact.
func oneShard(string) uint64 { return 0 }

func TestNewSharded(t *testing.T) {
	tests := []struct {
		capacity int
		want     int
	}{
		{100, 100},
		{0, DefaultCapacity},
		{-3, DefaultCapacity},
	}
	for _, tt := range tests {
		c := NewSharded[string, int](tt.capacity, StringHasher)
		st := c.Stats()
		if st.Capacity != tt.want || st.TotalCapacity != tt.want*DefaultShardCount {
			t.Errorf("NewSharded(%d) capacity = %d/%d, want %d", tt.capacity, st.Capacity, st.TotalCapacity, tt.want)
		}
		if c.Len() != 0 {
			t.Errorf("NewSharded(%d) has %d entries", tt.capacity, c.Len())
		}
	}
}

func TestShardedCacheGetSet(t *testing.T) {
	c := NewSharded[string, int](10, StringHasher)
	c.Set("key1", 42)
	if v, ok := c.Get("key1"); !ok || v != 42 {
		t.Errorf("Get(key1) = %d, %v, want 42, true", v, ok)
	}
	c.Set("key1", 43)
	if v, _ := c.Get("key1"); v != 43 {
		t.Errorf("Get(key1) after overwrite = %d, want 43", v)
	}
	if _, ok := c.Get("missing"); ok {
		t.Error("Get(missing) found an entry")
	}
	if c.Len() != 1 {
		t.Errorf("Len = %d, want 1", c.Len())
	}
}

func TestShardedCacheEvictsLeastRecentlyUsed(t *testing.T) {
	c := NewSharded[string, int](2, oneShard)
	c.Set("a", 1)
	c.Set("b", 2)
	c.Get("a")
	c.Set("c", 3)

	if _, ok := c.Get("b"); ok {
		t.Error("b survived eviction")
	}
	for _, k := range []string{"a", "c"} {
		if _, ok := c.Get(k); !ok {
			t.Errorf("%s was evicted", k)
		}
	}
	if st := c.Stats(); st.Evictions != 1 || st.Len != 2 {
		t.Errorf("stats = %+v, want one eviction and two entries", st)
	}
}

func TestShardedCacheGetOrLoad(t *testing.T) {
	c := NewSharded[string, int](2, oneShard)
	calls := 0
	load := func(v int, err error) func() (int, error) {
		return func() (int, error) {
			calls++
			return v, err
		}
	}

	boom := errors.New("boom")
	if _, err := c.GetOrLoad("x", load(0, boom)); !errors.Is(err, boom) {
		t.Fatalf("GetOrLoad error = %v, want boom", err)
	}
	if c.Len() != 0 {
		t.Fatal("failed load was cached")
	}

	tests := []struct {
		key       string
		want      int
		wantCalls int
	}{
		{"x", 7, 2},
		{"x", 7, 2},
		{"y", 8, 3},
		{"z", 9, 4},
		{"x", 7, 5}, // evicted by z
	}
	for i, tt := range tests {
		v, err := c.GetOrLoad(tt.key, load(tt.want, nil))
		if err != nil || v != tt.want {
			t.Fatalf("step %d: GetOrLoad(%s) = %d, %v", i, tt.key, v, err)
		}
		if calls != tt.wantCalls {
			t.Fatalf("step %d: loads = %d, want %d", i, calls, tt.wantCalls)
		}
	}
	if st := c.Stats(); st.Hits != 1 {
		t.Errorf("hits = %d, want 1", st.Hits)
	}
}

func TestShardedCacheStats(t *testing.T) {
	c := NewSharded[string, int](10, StringHasher)
	if st := c.Stats(); st.HitRate != 0 {
		t.Errorf("hit rate before lookups = %v", st.HitRate)
	}
	c.Set("key1", 1)
	c.Set("key2", 2)
	c.Get("key1")
	c.Get("key1")
	c.Get("missing")

	st := c.Stats()
	if st.Len != 2 || st.Hits != 2 || st.Misses != 1 {
		t.Errorf("stats = %+v, want Len=2 Hits=2 Misses=1", st)
	}
	if st.HitRate < 0.66 || st.HitRate > 0.67 {
		t.Errorf("hit rate = %v, want 2/3", st.HitRate)
	}

	c.Clear()
	if c.Len() != 0 {
		t.Errorf("Len after Clear = %d", c.Len())
	}
	if c.Stats().Hits != 2 {
		t.Error("Clear reset the counters")
	}
}

func TestShardedCacheConcurrent(t *testing.T) {
	c := NewSharded[string, int](100, StringHasher)
	var wg sync.WaitGroup
	for g := range 32 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range 50 {
				key := strconv.Itoa(j)
				v, err := c.GetOrLoad(key, func() (int, error) { return j, nil })
				if err != nil || v != j {
					t.Errorf("goroutine %d: GetOrLoad(%s) = %d, %v", g, key, v, err)
					return
				}
			}
		}()
	}
	wg.Wait()
	if c.Len() != 50 {
		t.Errorf("Len = %d, want 50", c.Len())
	}
}

func TestStringHasher(t *testing.T) {
	if StringHasher("hello") != StringHasher("hello") {
		t.Error("StringHasher is not deterministic")
	}
	if StringHasher("hello") == StringHasher("world") {
		t.Error("StringHasher collides on distinct strings")
	}
}

func TestLRUList(t *testing.T) {
	l := newLRUList[string]()
	a := l.PushFront("a")
	b := l.PushFront("b")
	l.PushFront("c")
	if l.Len() != 3 {
		t.Fatalf("Len = %d, want 3", l.Len())
	}
	if k, ok := l.Oldest(); !ok || k != "a" {
		t.Errorf("Oldest = %q, want a", k)
	}

	l.MoveToFront(a)
	if k, _ := l.Oldest(); k != "b" {
		t.Errorf("Oldest after touching a = %q, want b", k)
	}
	l.Remove(b)
	if k, ok := l.RemoveOldest(); !ok || k != "c" {
		t.Errorf("RemoveOldest = %q, want c", k)
	}
	if l.Len() != 1 || l.head != a || l.tail != a {
		t.Errorf("list after removals: len %d", l.Len())
	}

	l.Clear()
	if _, ok := l.RemoveOldest(); ok {
		t.Error("RemoveOldest on an empty list succeeded")
	}
	if _, ok := l.Oldest(); ok {
		t.Error("Oldest on an empty list succeeded")
	}
	l.Remove(nil)
	l.MoveToFront(nil)
}
