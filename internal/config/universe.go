package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"causeway/internal/logger"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// TickerMeta describes one universe member.
type TickerMeta struct {
	Name   string   `yaml:"name"`
	Sector string   `yaml:"sector"`
	Peers  []string `yaml:"peers"`
}

// UniverseSnapshot is an immutable view of the universe metadata. Maps are
// rebuilt on every reload; callers must not mutate them.
type UniverseSnapshot struct {
	Version  int64
	LoadedAt time.Time
	Sectors  map[string]string
	Peers    map[string][]string
}

// Universe loads ticker metadata (sector membership, peer lists) from a YAML
// file and reloads it when the file changes. The gate reads it on every
// proposal, so swaps must be atomic.
type Universe struct {
	path string

	mu       sync.RWMutex
	snapshot UniverseSnapshot

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewUniverse reads the metadata file and starts watching it for updates.
// An empty path yields a static empty universe (cross-ticker rules then
// never authorize a pair).
func NewUniverse(path string) (*Universe, error) {
	u := &Universe{path: strings.TrimSpace(path), done: make(chan struct{})}
	if u.path == "" {
		u.snapshot = UniverseSnapshot{LoadedAt: time.Now().UTC(), Sectors: map[string]string{}, Peers: map[string][]string{}}
		return u, nil
	}
	if err := u.reload(); err != nil {
		return nil, err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("universe watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(u.path)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("universe watch %s: %w", u.path, err)
	}
	u.watcher = watcher
	go u.watch()
	return u, nil
}

func (u *Universe) watch() {
	for {
		select {
		case <-u.done:
			return
		case evt, ok := <-u.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(evt.Name) != filepath.Clean(u.path) {
				continue
			}
			if !evt.Has(fsnotify.Write) && !evt.Has(fsnotify.Create) {
				continue
			}
			if err := u.reload(); err != nil {
				logger.Errorf("universe reload failed: %v", err)
				continue
			}
			logger.Infof("universe metadata reloaded (%s)", u.path)
		case err, ok := <-u.watcher.Errors:
			if !ok {
				return
			}
			logger.Warnf("universe watcher error: %v", err)
		}
	}
}

func (u *Universe) reload() error {
	raw, err := os.ReadFile(u.path)
	if err != nil {
		return fmt.Errorf("read universe metadata: %w", err)
	}
	var meta map[string]TickerMeta
	if err := yaml.Unmarshal(raw, &meta); err != nil {
		return fmt.Errorf("parse universe metadata: %w", err)
	}
	sectors := make(map[string]string, len(meta))
	peers := make(map[string][]string, len(meta))
	for ticker, m := range meta {
		ticker = strings.ToUpper(strings.TrimSpace(ticker))
		if ticker == "" {
			continue
		}
		if m.Sector != "" {
			sectors[ticker] = m.Sector
		}
		if len(m.Peers) > 0 {
			ps := make([]string, 0, len(m.Peers))
			for _, p := range m.Peers {
				if p = strings.ToUpper(strings.TrimSpace(p)); p != "" {
					ps = append(ps, p)
				}
			}
			peers[ticker] = ps
		}
	}
	u.mu.Lock()
	u.snapshot = UniverseSnapshot{
		Version:  u.snapshot.Version + 1,
		LoadedAt: time.Now().UTC(),
		Sectors:  sectors,
		Peers:    peers,
	}
	u.mu.Unlock()
	return nil
}

// Snapshot returns the current metadata view.
func (u *Universe) Snapshot() UniverseSnapshot {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.snapshot
}

// Close stops the file watcher.
func (u *Universe) Close() error {
	select {
	case <-u.done:
	default:
		close(u.done)
	}
	if u.watcher != nil {
		return u.watcher.Close()
	}
	return nil
}
