package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dgnsrekt/trafficlab/internal/types"
)

// Manifest labels one capture file for downstream dataset tooling.
type Manifest struct {
	RunID     string            `json:"run_id"`
	Label     string            `json:"label"`
	Seed      uint64            `json:"seed"`
	Interface string            `json:"interface"`
	Filter    string            `json:"filter"`
	Driver    string            `json:"driver"`
	CreatedAt time.Time         `json:"created_at"`
	Result    types.CycleResult `json:"result"`
}

// ManifestStore writes and reads <capture>.pcap.json sidecars in one output directory.
type ManifestStore struct {
	dir string
	mu  sync.RWMutex
}

// NewManifestStore creates a store and ensures the directory exists.
func NewManifestStore(dir string) (*ManifestStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("manifest store: mkdir %s: %w", dir, err)
	}
	return &ManifestStore{dir: dir}, nil
}

func (s *ManifestStore) checkPath(capturePath string) error {
	if !strings.HasSuffix(capturePath, captureExt) {
		return fmt.Errorf("manifest store: not a capture file: %q", capturePath)
	}
	if filepath.Clean(filepath.Dir(capturePath)) != filepath.Clean(s.dir) {
		return fmt.Errorf("manifest store: %q is outside %s", capturePath, s.dir)
	}
	return nil
}

// Save writes the sidecar for m.Result.OutputPath. The file is replaced atomically.
func (s *ManifestStore) Save(m Manifest) error {
	if err := s.checkPath(m.Result.OutputPath); err != nil {
		return err
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("manifest store: marshal: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	path := ManifestPath(m.Result.OutputPath)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("manifest store: write: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("manifest store: rename: %w", err)
	}
	return nil
}

// Get reads the manifest of one capture file.
func (s *ManifestStore) Get(capturePath string) (Manifest, error) {
	if err := s.checkPath(capturePath); err != nil {
		return Manifest{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(ManifestPath(capturePath))
	if err != nil {
		if os.IsNotExist(err) {
			return Manifest{}, fmt.Errorf("manifest not found: %s: %w", capturePath, err)
		}
		return Manifest{}, fmt.Errorf("manifest store: read: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return Manifest{}, fmt.Errorf("manifest store: unmarshal: %w", err)
	}
	return m, nil
}

// List returns every readable manifest in the directory, oldest cycle first.
func (s *ManifestStore) List() ([]Manifest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matches, err := filepath.Glob(filepath.Join(s.dir, "*"+captureExt+manifestExt))
	if err != nil {
		return nil, fmt.Errorf("manifest store: glob: %w", err)
	}

	out := make([]Manifest, 0, len(matches))
	for _, path := range matches {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var m Manifest
		if err := json.Unmarshal(data, &m); err != nil {
			continue
		}
		out = append(out, m)
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].Result, out[j].Result
		if !a.StartedAt.Equal(b.StartedAt) {
			return a.StartedAt.Before(b.StartedAt)
		}
		return a.CycleIndex < b.CycleIndex
	})
	return out, nil
}
