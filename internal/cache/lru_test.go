// Reelfeed - Social Feed Ranking and Synchronization Cache
// Copyright 2026 Reelfeed Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/reelfeed/reelfeed

package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestLRUCacheBasicOperations(t *testing.T) {
	c := NewLRUCache(10, time.Minute)

	c.Add("item-1", "https://cdn.example.com/item-1?sig=abc")

	if got, ok := c.Get("item-1"); !ok || got != "https://cdn.example.com/item-1?sig=abc" {
		t.Errorf("Get(item-1) = %q, %v; want cached URL, true", got, ok)
	}

	if _, ok := c.Get("item-2"); ok {
		t.Error("Get(item-2) should miss")
	}

	if !c.Contains("item-1") {
		t.Error("Contains(item-1) should be true")
	}

	if !c.Remove("item-1") {
		t.Error("Remove(item-1) should return true")
	}
	if c.Remove("item-1") {
		t.Error("second Remove(item-1) should return false")
	}
	if c.Len() != 0 {
		t.Errorf("Len = %d, want 0", c.Len())
	}
}

func TestLRUCacheUpdateExisting(t *testing.T) {
	c := NewLRUCache(10, time.Minute)

	c.Add("item-1", "url-v1")
	c.Add("item-1", "url-v2")

	if c.Len() != 1 {
		t.Errorf("Len = %d, want 1 after update", c.Len())
	}
	if got, _ := c.Get("item-1"); got != "url-v2" {
		t.Errorf("Get = %q, want url-v2", got)
	}
}

func TestLRUCacheEviction(t *testing.T) {
	c := NewLRUCache(3, time.Minute)

	c.Add("a", "1")
	c.Add("b", "2")
	c.Add("c", "3")

	// Touch "a" so "b" becomes the oldest.
	c.Get("a")

	c.Add("d", "4")

	if c.Len() != 3 {
		t.Errorf("Len = %d, want 3", c.Len())
	}
	if c.Contains("b") {
		t.Error("b should have been evicted as least recently used")
	}
	for _, key := range []string{"a", "c", "d"} {
		if !c.Contains(key) {
			t.Errorf("%s should still be cached", key)
		}
	}
}

func TestLRUCacheTTLExpiration(t *testing.T) {
	c := NewLRUCache(10, 20*time.Millisecond)

	c.Add("item-1", "url")
	if _, ok := c.Get("item-1"); !ok {
		t.Fatal("entry should be present before TTL")
	}

	time.Sleep(40 * time.Millisecond)

	if _, ok := c.Get("item-1"); ok {
		t.Error("entry should have expired")
	}
	if c.Contains("item-1") {
		t.Error("Contains should report expired entry as absent")
	}
}

func TestLRUCacheCleanupExpired(t *testing.T) {
	c := NewLRUCache(10, 20*time.Millisecond)

	c.Add("a", "1")
	c.Add("b", "2")

	time.Sleep(40 * time.Millisecond)
	c.Add("c", "3")

	removed := c.CleanupExpired()
	if removed != 2 {
		t.Errorf("CleanupExpired = %d, want 2", removed)
	}
	if c.Len() != 1 {
		t.Errorf("Len = %d, want 1", c.Len())
	}
}

func TestLRUCacheStats(t *testing.T) {
	c := NewLRUCache(10, time.Minute)

	c.Add("a", "1")
	c.Get("a")
	c.Get("a")
	c.Get("missing")

	hits, misses, size := c.Stats()
	if hits != 2 {
		t.Errorf("hits = %d, want 2", hits)
	}
	if misses != 1 {
		t.Errorf("misses = %d, want 1", misses)
	}
	if size != 1 {
		t.Errorf("size = %d, want 1", size)
	}
}

func TestLRUCacheConcurrentAccess(t *testing.T) {
	c := NewLRUCache(100, time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				key := fmt.Sprintf("item-%d-%d", n, j%20)
				c.Add(key, "url")
				c.Get(key)
				if j%10 == 0 {
					c.Remove(key)
				}
			}
		}(i)
	}
	wg.Wait()

	if c.Len() > 100 {
		t.Errorf("Len = %d exceeds capacity", c.Len())
	}
}
