package store

import (
	"fmt"
	"sort"
	"sync"

	"github.com/brianarnold/orcapod/orcaerr"
)

// Config carries backend-specific construction options, decoded from
// orcaconfig.StoreConfig.
type Config struct {
	Path    string
	Options map[string]any
}

// Factory constructs a Store from Config.
type Factory func(cfg Config) (Store, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

// Register adds a named Store backend, so a deployment can select it later
// by name via New. Registering the same name twice overwrites the prior
// entry, matching the teacher's cache.Register.
func Register(name string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = f
}

// New constructs the named backend. Returns orcaerr.MissingField if name
// was never registered.
func New(name string, cfg Config) (Store, error) {
	registryMu.RLock()
	f, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, orcaerr.Missing("store.New", fmt.Sprintf("no store backend registered under name %q", name))
	}
	return f(cfg)
}

// List returns the names of every registered backend, sorted.
func List() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func init() {
	Register("memory", func(cfg Config) (Store, error) {
		return NewMemStore(), nil
	})
	Register("file", func(cfg Config) (Store, error) {
		if cfg.Path == "" {
			return nil, orcaerr.Missing("store.New", `"file" backend requires Config.Path`)
		}
		return NewFileStore(cfg.Path)
	})
}
