package store

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Pointer records which session id is current across invocations. The disk
// implementation prefers a symlink and falls back to a plain id file where
// symlinks are unavailable; both forms are readable by either implementation.
type Pointer interface {
	Write(id string) error
	Read() (string, error)
}

// diskPointer is the durable Pointer kept at <home>/last_conversation.json.
type diskPointer struct {
	path string
}

func (p *diskPointer) Write(id string) error {
	err := func() error {
		if err := os.Remove(p.path); err != nil && !os.IsNotExist(err) {
			return err
		}
		return os.Symlink(filepath.Join(sessionsDirName, id+".json"), p.path)
	}()
	if err == nil {
		return nil
	}

	// Symlinks unavailable on this platform; keep a plain id file instead.
	return os.WriteFile(p.path, []byte(id+"\n"), 0600)
}

func (p *diskPointer) Read() (string, error) {
	if fi, err := os.Lstat(p.path); err == nil && fi.Mode()&os.ModeSymlink != 0 {
		if target, err := os.Readlink(p.path); err == nil {
			name := filepath.Base(target)
			if strings.HasSuffix(name, ".json") {
				return strings.TrimSuffix(name, ".json"), nil
			}
		}
	}

	data, err := os.ReadFile(p.path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

// MemoryPointer keeps the latest id in memory only. It satisfies Pointer for
// callers that do not want durable pointer state.
type MemoryPointer struct {
	mu sync.Mutex
	id string
}

func (p *MemoryPointer) Write(id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.id = id
	return nil
}

func (p *MemoryPointer) Read() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.id, nil
}
