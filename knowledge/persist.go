package knowledge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/itsneelabh/betpilot/core"
)

// Persister stores locator mappings between runs.
type Persister interface {
	// Load returns every persisted context mapping.
	Load(ctx context.Context) (map[string]map[string]string, error)
	// Save merges mapping into the persisted entries for context.
	Save(ctx context.Context, context string, mapping map[string]string) error
}

// Hydrate seeds store from persister. It returns the number of entries loaded.
func Hydrate(ctx context.Context, store Store, persister Persister) (int, error) {
	if persister == nil {
		return 0, nil
	}
	all, err := persister.Load(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for contextName, mapping := range all {
		store.PutAll(contextName, mapping)
		n += len(mapping)
	}
	return n, nil
}

// FilePersister keeps mappings in a single JSON document shaped as
// {"context": {"element": "locator"}}. Writes replace the file atomically.
type FilePersister struct {
	Path string

	mu sync.Mutex
}

// NewFilePersister creates a persister for path.
func NewFilePersister(path string) *FilePersister {
	return &FilePersister{Path: path}
}

// Load reads the file. A missing file yields an empty mapping.
func (f *FilePersister) Load(ctx context.Context) (map[string]map[string]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.readLocked()
}

func (f *FilePersister) readLocked() (map[string]map[string]string, error) {
	out := make(map[string]map[string]string)
	data, err := os.ReadFile(filepath.Clean(f.Path))
	if errors.Is(err, os.ErrNotExist) {
		return out, nil
	}
	if err != nil {
		return nil, core.NewFrameworkError("knowledge.FilePersister.Load", "local", fmt.Errorf("%w: %v", core.ErrLocalStore, err))
	}
	if len(data) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, core.NewFrameworkError("knowledge.FilePersister.Load", "local", fmt.Errorf("%w: decode %s: %v", core.ErrLocalStore, f.Path, err))
	}
	return out, nil
}

// Save merges mapping into the file.
func (f *FilePersister) Save(ctx context.Context, contextName string, mapping map[string]string) error {
	if len(mapping) == 0 {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	all, err := f.readLocked()
	if err != nil {
		return err
	}
	elements, ok := all[contextName]
	if !ok {
		elements = make(map[string]string, len(mapping))
		all[contextName] = elements
	}
	for k, v := range mapping {
		if v != "" {
			elements[k] = v
		}
	}

	data, err := json.MarshalIndent(all, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(f.Path, data)
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return core.NewFrameworkError("knowledge.writeFileAtomic", "local", fmt.Errorf("%w: %v", core.ErrLocalStore, err))
	}
	tmp, err := os.CreateTemp(dir, ".knowledge-*.json")
	if err != nil {
		return core.NewFrameworkError("knowledge.writeFileAtomic", "local", fmt.Errorf("%w: %v", core.ErrLocalStore, err))
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return core.NewFrameworkError("knowledge.writeFileAtomic", "local", fmt.Errorf("%w: %v", core.ErrLocalStore, err))
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return core.NewFrameworkError("knowledge.writeFileAtomic", "local", fmt.Errorf("%w: %v", core.ErrLocalStore, err))
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return core.NewFrameworkError("knowledge.writeFileAtomic", "local", fmt.Errorf("%w: %v", core.ErrLocalStore, err))
	}
	return nil
}
