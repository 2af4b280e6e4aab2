package cmap

import (
	"fmt"
	"sync"
	"testing"
)

func TestNew(t *testing.T) {
	tests := []struct {
		input    int
		expected int
	}{
		{0, DefaultShardCount},
		{-1, DefaultShardCount},
		{3, DefaultShardCount},
		{1, 1},
		{8, 8},
		{64, 64},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("shards=%d", tt.input), func(t *testing.T) {
			m := New[int](tt.input)
			if m.ShardCount() != tt.expected {
				t.Errorf("New(%d) shard count = %d, want %d", tt.input, m.ShardCount(), tt.expected)
			}
		})
	}
}

func TestSetGetDelete(t *testing.T) {
	m := New[int](16)

	m.Set("key1", 100)
	m.Set("key2", 200)
	m.Set("key1", 150)

	if val, ok := m.Get("key1"); !ok || val != 150 {
		t.Errorf("Get(key1) = (%d, %v), want (150, true)", val, ok)
	}
	if _, ok := m.Get("nonexistent"); ok {
		t.Error("Get(nonexistent) should report false")
	}
	if !m.Has("key2") {
		t.Error("Has(key2) should return true")
	}

	if !m.Delete("key1") {
		t.Error("Delete(key1) should report true")
	}
	if m.Delete("key1") {
		t.Error("second Delete(key1) should report false")
	}
	if m.Count() != 1 {
		t.Errorf("Count() = %d, want 1", m.Count())
	}
}

func TestClear(t *testing.T) {
	m := New[int](4)
	for i := 0; i < 10; i++ {
		m.Set(fmt.Sprint(i), i)
	}

	if n := m.Clear(); n != 10 {
		t.Errorf("Clear() = %d, want 10", n)
	}
	if m.Count() != 0 {
		t.Errorf("Count() after Clear() = %d, want 0", m.Count())
	}
}

func TestShardIndex_Stable(t *testing.T) {
	m := New[int](64)
	a, b := m.ShardIndex("user:1"), m.ShardIndex("user:1")
	if a != b {
		t.Errorf("ShardIndex not stable: %d != %d", a, b)
	}
	if a < 0 || a >= 64 {
		t.Errorf("ShardIndex = %d, out of range", a)
	}
}

func TestStats(t *testing.T) {
	m := New[int](4)
	for i := 0; i < 100; i++ {
		m.Set(fmt.Sprint(i), i)
	}

	stats := m.Stats()
	if len(stats) != 4 {
		t.Fatalf("Stats() length = %d, want 4", len(stats))
	}
	total := 0
	for _, s := range stats {
		total += s.Count
	}
	if total != 100 {
		t.Errorf("total from stats = %d, want 100", total)
	}
}

func TestConcurrentAccess(t *testing.T) {
	m := New[int](16)
	var wg sync.WaitGroup
	numGoroutines := 50
	numOps := 500

	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func(base int) {
			defer wg.Done()
			for j := 0; j < numOps; j++ {
				key := fmt.Sprint(base*numOps + j)
				m.Set(key, j)
				m.Get(key)
				m.Compute("counter", func(old int, _ bool) (int, bool) { return old + 1, true })
			}
		}(i)
	}
	wg.Wait()

	if got := m.Count(); got != numGoroutines*numOps+1 {
		t.Errorf("Count() = %d, want %d", got, numGoroutines*numOps+1)
	}
	if got, _ := m.Get("counter"); got != numGoroutines*numOps {
		t.Errorf("counter = %d, want %d", got, numGoroutines*numOps)
	}
}
