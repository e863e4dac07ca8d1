package config

import (
	"fmt"
	"os"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/omen4impact/noode/pkg/models"
)

// CompatTable maps a requested capability to the set of capabilities that
// may substitute for it. Matching is exact by default; only entries listed
// here permit substitution. The table lives in external YAML so operators
// can adjust it without a rebuild.
type CompatTable struct {
	mu sync.RWMutex
	// substitutes maps requested capability -> allowed substitute tags.
	substitutes map[models.Capability][]models.Capability

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// compatFile is the YAML shape of the compatibility table.
type compatFile struct {
	Substitutions map[string][]string `yaml:"substitutions"`
}

// NewCompatTable returns an empty table that permits no substitution.
func NewCompatTable() *CompatTable {
	return &CompatTable{substitutes: make(map[models.Capability][]models.Capability)}
}

// NewCompatTableFromMap builds a table from an in-memory substitution map.
func NewCompatTableFromMap(subs map[string][]string) *CompatTable {
	t := NewCompatTable()
	for requested, allowed := range subs {
		caps := make([]models.Capability, 0, len(allowed))
		for _, a := range allowed {
			caps = append(caps, models.Capability(a))
		}
		t.substitutes[models.Capability(requested)] = caps
	}
	return t
}

// LoadCompatTable reads the table from a YAML file.
func LoadCompatTable(path string) (*CompatTable, error) {
	t := NewCompatTable()
	if err := t.reload(path); err != nil {
		return nil, err
	}
	return t, nil
}

// reload replaces the table contents from the file at path.
func (t *CompatTable) reload(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read compat table: %w", err)
	}

	var f compatFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("parse compat table: %w", err)
	}

	subs := make(map[models.Capability][]models.Capability, len(f.Substitutions))
	for requested, allowed := range f.Substitutions {
		caps := make([]models.Capability, 0, len(allowed))
		for _, a := range allowed {
			caps = append(caps, models.Capability(a))
		}
		subs[models.Capability(requested)] = caps
	}

	t.mu.Lock()
	t.substitutes = subs
	t.mu.Unlock()
	return nil
}

// Watch reloads the table whenever the file changes. A malformed edit keeps
// the previous table. Call Close to stop watching.
func (t *CompatTable) Watch(path string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", path, err)
	}

	t.watcher = watcher
	t.done = make(chan struct{})

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
					_ = t.reload(path)
				}
			case _, ok := <-watcher.Errors:
				if !ok {
					return
				}
			case <-t.done:
				return
			}
		}
	}()

	return nil
}

// Close stops the file watcher if one is active.
func (t *CompatTable) Close() error {
	if t.watcher == nil {
		return nil
	}
	close(t.done)
	return t.watcher.Close()
}

// Compatible reports whether a worker capability may serve a requested
// capability. An exact match is always compatible.
func (t *CompatTable) Compatible(requested, offered models.Capability) bool {
	if requested == offered {
		return true
	}

	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, sub := range t.substitutes[requested] {
		if sub == offered {
			return true
		}
	}
	return false
}

// Substitutes returns the allowed substitutes for a capability.
func (t *CompatTable) Substitutes(requested models.Capability) []models.Capability {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]models.Capability(nil), t.substitutes[requested]...)
}
