package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestLookupMiss(t *testing.T) {
	c := New(1024, 4096)
	if _, ok := c.Lookup("/missing"); ok {
		t.Fatal("expected miss on empty cache")
	}
}

func TestInsertThenLookupHit(t *testing.T) {
	c := New(1024, 4096)
	c.Insert("/a", []byte("hello"))

	h, ok := c.Lookup("/a")
	if !ok {
		t.Fatal("expected hit after insert")
	}
	if string(h.Bytes()) != "hello" {
		t.Errorf("expected body %q, got %q", "hello", h.Bytes())
	}
	c.Release(h)
}

func TestInsertIdempotentOnExistingURI(t *testing.T) {
	c := New(1024, 4096)
	c.Insert("/a", []byte("first"))
	c.Insert("/a", []byte("second")) // no-op: existing entry untouched

	h, ok := c.Lookup("/a")
	if !ok {
		t.Fatal("expected hit")
	}
	defer c.Release(h)
	if string(h.Bytes()) != "first" {
		t.Errorf("insert on existing URI must not refresh entry, got %q", h.Bytes())
	}
}

func TestZeroLengthBodyCacheable(t *testing.T) {
	c := New(1024, 4096)
	c.Insert("/empty", []byte{})

	h, ok := c.Lookup("/empty")
	if !ok {
		t.Fatal("expected hit for zero-length body")
	}
	defer c.Release(h)
	if len(h.Bytes()) != 0 {
		t.Errorf("expected empty body, got %d bytes", len(h.Bytes()))
	}
}

func TestLRUOrderNoIntervening(t *testing.T) {
	c := New(1024, 4096)
	c.Insert("A", []byte("a"))
	c.Insert("B", []byte("b"))
	c.Insert("C", []byte("c"))

	got := c.Keys()
	want := []string{"A", "B", "C"}
	if !stringsEqual(got, want) {
		t.Fatalf("expected head order %v, got %v", want, got)
	}

	h, _ := c.Lookup("A")
	c.Release(h)

	got = c.Keys()
	want = []string{"B", "C", "A"}
	if !stringsEqual(got, want) {
		t.Fatalf("expected head order after lookup(A) %v, got %v", want, got)
	}
}

func TestLookupPromotionUnconditionalAtTail(t *testing.T) {
	c := New(1024, 4096)
	c.Insert("A", []byte("a"))
	c.Insert("B", []byte("b"))

	h, _ := c.Lookup("B") // already at tail; promotion is a no-op splice
	c.Release(h)

	got := c.Keys()
	want := []string{"A", "B"}
	if !stringsEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestBoundaryObjectSizeExactCapCacheable(t *testing.T) {
	c := New(10, 1024)
	body := make([]byte, 10)
	c.Insert("/exact", body)

	if _, ok := c.Lookup("/exact"); !ok {
		t.Fatal("object exactly at MaxObjectSize must be cacheable")
	}
}

func TestEvictionOrderFillsCapacity(t *testing.T) {
	const maxCacheSize = 1024 * 1024 // 1 MiB
	const entrySize = 200 * 1024     // 200 KiB
	c := New(entrySize, maxCacheSize)

	for i := 1; i <= 10; i++ {
		c.Insert(fmt.Sprintf("U%d", i), make([]byte, entrySize))
	}

	// At most 5 entries of 200 KiB fit under the 1 MiB cap (5*200KiB =
	// 1000 KiB). Each insert past the fifth evicts exactly one head entry,
	// sliding the window forward one URI at a time: after inserting
	// U1..U10 in order, U1..U5 have been evicted and U6..U10 remain.
	got := c.Keys()
	want := []string{"U6", "U7", "U8", "U9", "U10"}
	if !stringsEqual(got, want) {
		t.Fatalf("expected surviving entries %v, got %v", want, got)
	}

	if c.TotalSize() > maxCacheSize {
		t.Fatalf("total size %d exceeds cap %d", c.TotalSize(), maxCacheSize)
	}

	// A lookup of U6 promotes it; U7 becomes the new head.
	h, ok := c.Lookup("U6")
	if !ok {
		t.Fatal("expected U6 present")
	}
	c.Release(h)

	got = c.Keys()
	if got[0] != "U7" {
		t.Fatalf("expected U7 at head after promoting U6, got head=%s (order %v)", got[0], got)
	}
}

func TestPinSafetyBlocksEvictionUntilReleased(t *testing.T) {
	c := New(200*1024, 1024*1024)

	c.Insert("E", make([]byte, 90*1024))
	h, ok := c.Lookup("E") // pins E
	if !ok {
		t.Fatal("expected hit")
	}

	evicted := make(chan int64, 1)
	go func() {
		// Try to evict everything; E is pinned and must not be freed
		// until released.
		evicted <- c.Evict(90 * 1024)
	}()

	// Give the evictor a chance to observe the pinned head and start
	// waiting.
	time.Sleep(20 * time.Millisecond)

	select {
	case <-evicted:
		t.Fatal("eviction completed while entry was still pinned")
	default:
	}

	// E's bytes remain intact for the duration of the pin.
	if len(h.Bytes()) != 90*1024 {
		t.Fatalf("pinned entry bytes changed size: got %d", len(h.Bytes()))
	}

	c.Release(h)

	select {
	case freed := <-evicted:
		if freed < 90*1024 {
			t.Fatalf("expected eviction to free at least 90KiB after release, freed %d", freed)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("eviction never completed after release")
	}
}

func TestReleaseOfUnpinnedEntryIsFatal(t *testing.T) {
	c := New(1024, 4096)
	c.Insert("/a", []byte("x"))
	h, _ := c.Lookup("/a")
	c.Release(h)

	defer func() {
		if r := recover(); r == nil {
			t.Fatal("expected panic releasing an already-unpinned entry")
		}
	}()
	c.Release(h)
}

func TestConcurrentInsertsOfSameURIProduceOneEntry(t *testing.T) {
	c := New(1024, 1024*1024)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			c.Insert("/race", []byte(fmt.Sprintf("body-%d", n)))
		}(i)
	}
	wg.Wait()

	if c.Len() != 1 {
		t.Fatalf("expected exactly one entry after concurrent inserts, got %d", c.Len())
	}
}

func TestTotalSizeInvariantUnderConcurrentLoad(t *testing.T) {
	c := New(1024, 8192)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			uri := fmt.Sprintf("/item-%d", n)
			c.Insert(uri, make([]byte, 64))
			if h, ok := c.Lookup(uri); ok {
				c.Release(h)
			}
		}(i)
	}
	wg.Wait()

	if c.TotalSize() > 8192 {
		t.Fatalf("total size %d violates cap 8192", c.TotalSize())
	}
}

func TestInsertPreconditionViolationPanics(t *testing.T) {
	c := New(10, 1024)
	defer func() {
		if r := recover(); r == nil {
			t.Fatal("expected panic inserting an oversize body")
		}
	}()
	c.Insert("/too-big", make([]byte, 11))
}

func BenchmarkLookupHit(b *testing.B) {
	c := New(1024, 1024*1024)
	c.Insert("/bench", []byte("payload"))

	b.ResetTimer()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		h, _ := c.Lookup("/bench")
		c.Release(h)
	}
}

func BenchmarkInsertDistinctKeys(b *testing.B) {
	c := New(1024, 64*1024*1024)

	b.ResetTimer()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		c.Insert(fmt.Sprintf("/key-%d", i), []byte("payload"))
	}
}

func stringsEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
