package cache

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dgnsrekt/chaptervoice/internal/ttypes"
)

func newTestStore(t *testing.T, capacity int64) *Store {
	t.Helper()
	s, err := NewStore(Config{
		BasePath:         t.TempDir(),
		Capacity:         capacity,
		CompressionLevel: 3,
	})
	if err != nil {
		t.Fatalf("NewStore() error: %v", err)
	}
	return s
}

// compressibleWAV builds a payload large enough to trigger compression.
func compressibleWAV(size int) []byte {
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i % 7)
	}
	return data
}

func TestStoreAbsenceIsNotReady(t *testing.T) {
	s := newTestStore(t, 1<<20)

	if s.IsReady("v1_missing") {
		t.Error("missing key reported ready")
	}
	if _, ok := s.Path("v1_missing"); ok {
		t.Error("missing key produced a path")
	}
	if _, ok := s.Duration("v1_missing"); ok {
		t.Error("missing key produced a duration")
	}
	if st := s.Stats(); st.Misses == 0 {
		t.Error("miss not counted")
	}
}

func TestStoreIdempotence(t *testing.T) {
	s := newTestStore(t, 1<<20)
	key := ttypes.CacheKey("v1_abc")
	data := compressibleWAV(4096)

	if err := s.Store(key, data, 1500); err != nil {
		t.Fatalf("first Store() error: %v", err)
	}
	if err := s.Store(key, data, 1500); err != nil {
		t.Fatalf("second Store() error: %v", err)
	}

	if !s.IsReady(key) {
		t.Fatal("key not ready after double store")
	}
	if s.Len() != 1 {
		t.Errorf("entry count = %d, want 1 (no duplicates)", s.Len())
	}

	path, ok := s.Path(key)
	if !ok {
		t.Fatal("no path for ready key")
	}
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read materialized file: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Error("materialized content differs from stored content")
	}

	if d, ok := s.Duration(key); !ok || d != 1500 {
		t.Errorf("duration = %d, want 1500", d)
	}
}

func TestStoreSmallEntryUncompressed(t *testing.T) {
	s := newTestStore(t, 1<<20)
	key := ttypes.CacheKey("v1_small")
	data := []byte("tiny wav payload")

	if err := s.Store(key, data, 100); err != nil {
		t.Fatalf("Store() error: %v", err)
	}

	path, ok := s.Path(key)
	if !ok {
		t.Fatal("no path for ready key")
	}
	if filepath.Ext(path) != ".wav" {
		t.Errorf("playable path = %s, want .wav", path)
	}
	got, _ := os.ReadFile(path)
	if !bytes.Equal(got, data) {
		t.Error("small entry content mismatch")
	}
}

// newRawStore disables compression so on-disk sizes match input sizes
// exactly, keeping capacity math deterministic.
func newRawStore(t *testing.T, capacity int64) *Store {
	t.Helper()
	s, err := NewStore(Config{
		BasePath:         t.TempDir(),
		Capacity:         capacity,
		CompressionLevel: 0,
	})
	if err != nil {
		t.Fatalf("NewStore() error: %v", err)
	}
	return s
}

func TestStoreEviction(t *testing.T) {
	s := newRawStore(t, 10_000)

	keys := []ttypes.CacheKey{"v1_a", "v1_b", "v1_c"}
	for _, k := range keys {
		if err := s.Store(k, make([]byte, 4000), 1000); err != nil {
			t.Fatalf("Store(%s) error: %v", k, err)
		}
		time.Sleep(5 * time.Millisecond) // distinct LastUsedAt
	}

	// Capacity fits two entries; the oldest must have been evicted.
	if s.IsReady("v1_a") {
		t.Error("oldest entry survived past capacity")
	}
	if !s.IsReady("v1_b") || !s.IsReady("v1_c") {
		t.Error("newer entries evicted unexpectedly")
	}
	if st := s.Stats(); st.Evictions == 0 {
		t.Error("eviction not counted")
	}
}

func TestStoreMarkUsedProtectsFromEviction(t *testing.T) {
	s := newRawStore(t, 10_000)

	s.Store("v1_a", make([]byte, 4000), 1000)
	time.Sleep(5 * time.Millisecond)
	s.Store("v1_b", make([]byte, 4000), 1000)
	time.Sleep(5 * time.Millisecond)

	// Touch the older entry so the newer one becomes the LRU victim.
	s.MarkUsed("v1_a")
	time.Sleep(5 * time.Millisecond)

	s.Store("v1_c", make([]byte, 4000), 1000)

	if !s.IsReady("v1_a") {
		t.Error("recently used entry was evicted")
	}
	if s.IsReady("v1_b") {
		t.Error("least recently used entry survived")
	}
}

func TestStoreItemTooLarge(t *testing.T) {
	s := newRawStore(t, 100)
	if err := s.Store("v1_big", make([]byte, 4096), 1000); err != ErrItemTooLarge {
		t.Errorf("Store() error = %v, want ErrItemTooLarge", err)
	}
}

func TestStoreClear(t *testing.T) {
	s := newTestStore(t, 1<<20)
	s.Store("v1_a", compressibleWAV(2048), 500)
	s.Store("v1_b", compressibleWAV(2048), 500)

	if err := s.Clear(); err != nil {
		t.Fatalf("Clear() error: %v", err)
	}
	if s.Len() != 0 {
		t.Errorf("entries after clear = %d", s.Len())
	}
	if s.IsReady("v1_a") {
		t.Error("entry ready after clear")
	}
}

func TestStoreTrimToFraction(t *testing.T) {
	s := newRawStore(t, 100_000)
	for i := 0; i < 10; i++ {
		key := ttypes.CacheKey("v1_k" + string(rune('a'+i)))
		if err := s.Store(key, make([]byte, 4000), 1000); err != nil {
			t.Fatalf("Store() error: %v", err)
		}
		time.Sleep(2 * time.Millisecond)
	}

	before := s.Stats().Size
	evicted := s.TrimToFraction(0.2)
	if evicted == 0 {
		t.Fatal("trim evicted nothing")
	}
	after := s.Stats().Size
	if after > 20_000 {
		t.Errorf("size after trim = %d, want <= 20000", after)
	}
	if after >= before {
		t.Errorf("size did not shrink: %d -> %d", before, after)
	}
}

func TestStoreSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{BasePath: dir, Capacity: 1 << 20, CompressionLevel: 3}

	s, err := NewStore(cfg)
	if err != nil {
		t.Fatalf("NewStore() error: %v", err)
	}
	data := compressibleWAV(4096)
	if err := s.Store("v1_persist", data, 2000); err != nil {
		t.Fatalf("Store() error: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}

	s2, err := NewStore(cfg)
	if err != nil {
		t.Fatalf("reopen error: %v", err)
	}
	if !s2.IsReady("v1_persist") {
		t.Fatal("entry lost across reopen")
	}
	path, ok := s2.Path("v1_persist")
	if !ok {
		t.Fatal("no path after reopen")
	}
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read after reopen: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Error("content differs after reopen")
	}
	if d, ok := s2.Duration("v1_persist"); !ok || d != 2000 {
		t.Errorf("duration after reopen = %d, want 2000", d)
	}
}

func TestStoreSelfHealsMissingFile(t *testing.T) {
	s := newTestStore(t, 1<<20)
	s.Store("v1_gone", []byte("short"), 100)

	path, ok := s.Path("v1_gone")
	if !ok {
		t.Fatal("no path for stored key")
	}
	os.Remove(path)

	if _, ok := s.Path("v1_gone"); ok {
		t.Error("path returned for vanished file")
	}
	if s.IsReady("v1_gone") {
		t.Error("entry still ready after self-heal")
	}
}
