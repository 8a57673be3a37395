package tune

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// Profile is the persisted calibration outcome for one voice on this
// device. Stale profiles are still usable; recalibration just
// overwrites them.
type Profile struct {
	VoiceID     string    `json:"voice_id"`
	Engine      string    `json:"engine"`
	Concurrency int       `json:"concurrency"`
	Speedup     float64   `json:"speedup"`
	RTF         float64   `json:"rtf"`
	Warning     string    `json:"warning,omitempty"`
	MeasuredAt  time.Time `json:"measured_at"`
}

// ProfileStore persists profiles as a single JSON file keyed by voice
// id. Writes are atomic so a crash never leaves a torn file.
type ProfileStore struct {
	mu   sync.Mutex
	path string
}

// NewProfileStore returns a store backed by the given file path. The
// parent directory is created on first save.
func NewProfileStore(path string) *ProfileStore {
	return &ProfileStore{path: path}
}

func (s *ProfileStore) readAll() (map[string]Profile, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]Profile{}, nil
		}
		return nil, fmt.Errorf("read profiles: %w", err)
	}
	out := map[string]Profile{}
	if err := json.Unmarshal(data, &out); err != nil {
		// A corrupt profile file is not worth failing playback over;
		// recalibration rebuilds it.
		return map[string]Profile{}, nil
	}
	return out, nil
}

// Load returns the stored profile for a voice, with ok=false when none
// exists.
func (s *ProfileStore) Load(voiceID string) (Profile, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all, err := s.readAll()
	if err != nil {
		return Profile{}, false, err
	}
	p, ok := all[voiceID]
	return p, ok, nil
}

// Save upserts a profile.
func (s *ProfileStore) Save(p Profile) error {
	if p.VoiceID == "" {
		return fmt.Errorf("profile missing voice id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	all, err := s.readAll()
	if err != nil {
		return err
	}
	all[p.VoiceID] = p

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create profile directory: %w", err)
	}
	data, err := json.MarshalIndent(all, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write profiles: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp) //nolint:errcheck
		return fmt.Errorf("commit profiles: %w", err)
	}
	return nil
}

// All returns every stored profile sorted by voice id.
func (s *ProfileStore) All() ([]Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all, err := s.readAll()
	if err != nil {
		return nil, err
	}
	out := make([]Profile, 0, len(all))
	for _, p := range all {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].VoiceID < out[j].VoiceID })
	return out, nil
}
