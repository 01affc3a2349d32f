// Package history remembers remote paths recently used per device so the
// interactive menu can offer them again.
package history

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

const HistoryDir = ".devlink"
const HistoryFile = "history.json"

// MaxEntries bounds the paths kept per device.
const MaxEntries = 50

type HistoryEntry struct {
	Device     string    `json:"device"`
	Path       string    `json:"path"`
	LastAccess time.Time `json:"last_access"`
}

type History struct {
	Entries []HistoryEntry `json:"entries"`
}

// Store is a JSON history file. Every call reloads the file so several
// devlink processes can share it.
type Store struct {
	mu   sync.Mutex
	path string
	now  func() time.Time
}

func New(path string) *Store {
	return &Store{path: path, now: time.Now}
}

// Default stores history under the user's home directory.
func Default() *Store {
	home, _ := os.UserHomeDir()
	return New(filepath.Join(home, HistoryDir, HistoryFile))
}

func (s *Store) load() (*History, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return &History{}, nil
	}
	if err != nil {
		return nil, err
	}
	var h History
	if err := json.Unmarshal(data, &h); err != nil {
		return nil, fmt.Errorf("parse %s: %w", s.path, err)
	}
	return &h, nil
}

func (s *Store) save(h *History) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(h, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, data, 0o644)
}

// Add records remote path as just used on device.
func (s *Store) Add(device, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, err := s.load()
	if err != nil {
		return err
	}
	now := s.now()
	found := false
	for i, entry := range h.Entries {
		if entry.Device == device && entry.Path == path {
			h.Entries[i].LastAccess = now
			found = true
			break
		}
	}
	if !found {
		h.Entries = append(h.Entries, HistoryEntry{Device: device, Path: path, LastAccess: now})
	}
	h.Entries = trim(h.Entries, device)
	return s.save(h)
}

// trim keeps the newest MaxEntries paths of device.
func trim(entries []HistoryEntry, device string) []HistoryEntry {
	sortRecent(entries)
	kept := entries[:0]
	n := 0
	for _, e := range entries {
		if e.Device == device {
			if n == MaxEntries {
				continue
			}
			n++
		}
		kept = append(kept, e)
	}
	return kept
}

func (s *Store) Remove(device, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, err := s.load()
	if err != nil {
		return err
	}
	for i, entry := range h.Entries {
		if entry.Device == device && entry.Path == path {
			h.Entries = append(h.Entries[:i], h.Entries[i+1:]...)
			break
		}
	}
	return s.save(h)
}

// Recent returns the device's paths, most recent first.
func (s *Store) Recent(device string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, err := s.load()
	if err != nil {
		return nil
	}
	sortRecent(h.Entries)
	var result []string
	for _, entry := range h.Entries {
		if entry.Device == device {
			result = append(result, entry.Path)
		}
	}
	return result
}

// Search filters the device's paths by a case-insensitive substring.
func (s *Store) Search(device, query string) []string {
	var results []string
	for _, p := range s.Recent(device) {
		if strings.Contains(strings.ToLower(p), strings.ToLower(query)) {
			results = append(results, p)
		}
	}
	sort.Strings(results)
	return results
}

func sortRecent(entries []HistoryEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].LastAccess.After(entries[j].LastAccess)
	})
}
