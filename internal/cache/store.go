package cache

import (
	"encoding/gob"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/klauspost/compress/zstd"

	"github.com/dgnsrekt/chaptervoice/internal/ttypes"
)

const (
	indexFileName = "cache.index"

	// compressMinSize is the smallest payload worth compressing.
	compressMinSize = 1024

	// indexSaveEvery persists the index after this many stores so a
	// crash loses little.
	indexSaveEvery = 16
)

// ErrItemTooLarge means a single entry exceeds the store's capacity.
var ErrItemTooLarge = errors.New("cache item larger than total capacity")

// Config holds cache store settings.
type Config struct {
	// BasePath is the directory holding audio files and the index.
	BasePath string

	// Capacity is the maximum total size on disk in bytes.
	Capacity int64

	// CompressionLevel is the zstd level (1-22); 0 disables
	// compression at rest.
	CompressionLevel int
}

// DefaultConfig returns the standard store configuration.
func DefaultConfig(basePath string) Config {
	return Config{
		BasePath:         basePath,
		Capacity:         1 << 30, // 1 GiB
		CompressionLevel: 3,
	}
}

// Stats captures store performance counters.
type Stats struct {
	Hits      int64
	Misses    int64
	Evictions int64
	Size      int64
	Capacity  int64
	ItemCount int64
	HitRate   float64
	LastEvict time.Time
}

// entry is one indexed audio file. Fields are exported for gob.
type entry struct {
	Key          ttypes.CacheKey
	FileName     string // stored artifact, relative to BasePath
	Size         int64  // stored artifact bytes on disk
	OriginalSize int64  // uncompressed WAV bytes
	DurationMs   int64
	CreatedAt    time.Time
	LastUsedAt   time.Time
	Hits         int64
	Compressed   bool
	MatSize      int64 // bytes of the materialized playable copy, 0 if none
}

// Store is the on-disk content-addressed audio cache.
type Store struct {
	basePath string
	capacity int64

	enableCompression bool
	encoder           *zstd.Encoder
	decoder           *zstd.Decoder

	mu          sync.RWMutex
	index       map[ttypes.CacheKey]*entry
	size        int64
	stats       Stats
	sinceSave   int
	lastLoadErr error
}

// NewStore opens or creates a cache store at cfg.BasePath.
func NewStore(cfg Config) (*Store, error) {
	if err := os.MkdirAll(cfg.BasePath, 0o755); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}

	s := &Store{
		basePath:          cfg.BasePath,
		capacity:          cfg.Capacity,
		enableCompression: cfg.CompressionLevel > 0,
		index:             make(map[ttypes.CacheKey]*entry),
	}
	s.stats.Capacity = cfg.Capacity

	if s.enableCompression {
		var err error
		s.encoder, err = zstd.NewWriter(nil,
			zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(cfg.CompressionLevel)))
		if err != nil {
			return nil, fmt.Errorf("create zstd encoder: %w", err)
		}
		s.decoder, err = zstd.NewReader(nil)
		if err != nil {
			return nil, fmt.Errorf("create zstd decoder: %w", err)
		}
	}

	if err := s.loadIndex(); err != nil {
		// Non-fatal; start empty and let synthesis repopulate.
		log.Warn("cache index unreadable, starting empty", "err", err)
		s.index = make(map[ttypes.CacheKey]*entry)
		s.lastLoadErr = err
	}
	s.recalcSize()

	return s, nil
}

// IsReady reports whether playable audio exists for the key. Readiness
// is index-driven: files on disk without an index row are never
// treated as ready, which keeps interrupted writes invisible.
func (s *Store) IsReady(key ttypes.CacheKey) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.index[key]; ok {
		return true
	}
	s.stats.Misses++
	return false
}

// Path returns the playable file for a ready key, materializing a
// decompressed copy beside the stored artifact when needed. A missing
// or corrupt file drops the entry and reports not ready.
func (s *Store) Path(key ttypes.CacheKey) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.index[key]
	if !ok {
		return "", false
	}

	stored := filepath.Join(s.basePath, e.FileName)
	if !e.Compressed {
		if _, err := os.Stat(stored); err != nil {
			s.dropLocked(e)
			return "", false
		}
		return stored, true
	}

	playable := materializedName(stored)
	if e.MatSize > 0 {
		if _, err := os.Stat(playable); err == nil {
			return playable, true
		}
		s.size -= e.MatSize
		e.MatSize = 0
	}

	data, err := os.ReadFile(stored)
	if err != nil {
		s.dropLocked(e)
		return "", false
	}
	wavData, err := s.decoder.DecodeAll(data, nil)
	if err != nil {
		log.Warn("cache entry corrupt, dropping", "key", key, "err", err)
		s.dropLocked(e)
		return "", false
	}
	if err := writeFileAtomic(playable, wavData); err != nil {
		log.Warn("cache materialize failed", "key", key, "err", err)
		return "", false
	}

	e.MatSize = int64(len(wavData))
	s.size += e.MatSize
	return playable, true
}

// Store writes synthesized audio under the key. Idempotent: an
// existing entry is replaced in place, so racing duplicate writers
// cannot corrupt or double-count content.
func (s *Store) Store(key ttypes.CacheKey, wavData []byte, durationMs int64) error {
	originalSize := int64(len(wavData))

	toWrite := wavData
	compressed := false
	if s.enableCompression && originalSize > compressMinSize {
		if c := s.encoder.EncodeAll(wavData, nil); len(c) < len(wavData) {
			toWrite = c
			compressed = true
		}
	}
	diskSize := int64(len(toWrite))

	s.mu.Lock()
	defer s.mu.Unlock()

	if diskSize > s.capacity {
		return ErrItemTooLarge
	}

	if existing, ok := s.index[key]; ok {
		s.removeFilesLocked(existing)
	}

	for s.size+diskSize > s.capacity && len(s.index) > 0 {
		s.evictOldestLocked()
	}

	name := fileName(key, compressed)
	if err := writeFileAtomic(filepath.Join(s.basePath, name), toWrite); err != nil {
		return fmt.Errorf("write cache file: %w", err)
	}

	now := time.Now()
	s.index[key] = &entry{
		Key:          key,
		FileName:     name,
		Size:         diskSize,
		OriginalSize: originalSize,
		DurationMs:   durationMs,
		CreatedAt:    now,
		LastUsedAt:   now,
		Compressed:   compressed,
	}
	s.size += diskSize
	s.stats.Size = s.size
	s.stats.ItemCount = int64(len(s.index))

	s.sinceSave++
	if s.sinceSave >= indexSaveEvery {
		if err := s.saveIndexLocked(); err != nil {
			log.Warn("cache index save failed", "err", err)
		}
		s.sinceSave = 0
	}
	return nil
}

// Duration returns the stored audio duration for a ready key.
func (s *Store) Duration(key ttypes.CacheKey) (int64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if e, ok := s.index[key]; ok {
		return e.DurationMs, true
	}
	return 0, false
}

// MarkUsed touches the key's LRU metadata. Called on every cache hit
// including hot-path playback lookups, so it stays a metadata write.
func (s *Store) MarkUsed(key ttypes.CacheKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.index[key]; ok {
		e.LastUsedAt = time.Now()
		e.Hits++
		s.stats.Hits++
	}
}

// Clear removes every entry and persists the empty index.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range s.index {
		s.removeFilesLocked(e)
	}
	s.index = make(map[ttypes.CacheKey]*entry)
	s.size = 0
	s.stats.Size = 0
	s.stats.ItemCount = 0
	return s.saveIndexLocked()
}

// TrimToFraction evicts least-recently-used entries until the store
// fits within frac of its capacity. Returns the number evicted. The
// memory guard calls this under pressure.
func (s *Store) TrimToFraction(frac float64) int {
	if frac < 0 {
		frac = 0
	}
	target := int64(float64(s.capacity) * frac)

	s.mu.Lock()
	defer s.mu.Unlock()

	evicted := 0
	for s.size > target && len(s.index) > 0 {
		s.evictOldestLocked()
		evicted++
	}
	return evicted
}

// RemoveOlderThan evicts entries created before the cutoff. Returns
// the number removed.
func (s *Store) RemoveOlderThan(cutoff time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for _, e := range s.index {
		if e.CreatedAt.Before(cutoff) {
			s.dropLocked(e)
			removed++
		}
	}
	return removed
}

// Stats returns a snapshot of store counters.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := s.stats
	st.Size = s.size
	st.ItemCount = int64(len(s.index))
	if st.Hits+st.Misses > 0 {
		st.HitRate = float64(st.Hits) / float64(st.Hits+st.Misses)
	}
	return st
}

// Len returns the number of indexed entries.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.index)
}

// Close persists the index.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveIndexLocked()
}

// Internal helpers. All assume s.mu is held.

func (s *Store) dropLocked(e *entry) {
	s.removeFilesLocked(e)
	delete(s.index, e.Key)
	s.stats.Size = s.size
	s.stats.ItemCount = int64(len(s.index))
}

func (s *Store) removeFilesLocked(e *entry) {
	stored := filepath.Join(s.basePath, e.FileName)
	os.Remove(stored)
	s.size -= e.Size
	if e.Compressed && e.MatSize > 0 {
		os.Remove(materializedName(stored))
		s.size -= e.MatSize
		e.MatSize = 0
	}
}

func (s *Store) evictOldestLocked() {
	var oldest *entry
	for _, e := range s.index {
		if oldest == nil || e.LastUsedAt.Before(oldest.LastUsedAt) {
			oldest = e
		}
	}
	if oldest == nil {
		return
	}
	s.dropLocked(oldest)
	s.stats.Evictions++
	s.stats.LastEvict = time.Now()
}

func (s *Store) loadIndex() error {
	f, err := os.Open(filepath.Join(s.basePath, indexFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()
	return gob.NewDecoder(f).Decode(&s.index)
}

func (s *Store) saveIndexLocked() error {
	path := filepath.Join(s.basePath, indexFileName)
	tmp := path + ".tmp"

	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	err = gob.NewEncoder(f).Encode(s.index)
	closeErr := f.Close()
	if err != nil {
		os.Remove(tmp)
		return err
	}
	if closeErr != nil {
		os.Remove(tmp)
		return closeErr
	}
	return os.Rename(tmp, path)
}

func (s *Store) recalcSize() {
	s.size = 0
	for _, e := range s.index {
		s.size += e.Size + e.MatSize
	}
	s.stats.Size = s.size
	s.stats.ItemCount = int64(len(s.index))
}

func fileName(key ttypes.CacheKey, compressed bool) string {
	if compressed {
		return string(key) + ".wav.zst"
	}
	return string(key) + ".wav"
}

func materializedName(storedPath string) string {
	const suffix = ".zst"
	return storedPath[:len(storedPath)-len(suffix)]
}

func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"

	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	_, err = f.Write(data)
	closeErr := f.Close()
	if err != nil {
		os.Remove(tmp)
		return err
	}
	if closeErr != nil {
		os.Remove(tmp)
		return closeErr
	}
	return os.Rename(tmp, path)
}

var _ ttypes.AudioCache = (*Store)(nil)
