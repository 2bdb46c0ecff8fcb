package content

import (
	"slices"
	"sync"
	"sync/atomic"
)

// Live holds the current catalog and swaps in a new one on Reload. Readers
// always see a complete catalog.
type Live struct {
	dir     string
	current atomic.Pointer[Catalog]

	mu        sync.Mutex
	listeners []func(*Catalog)
}

// NewLive loads dir (see LoadDir) and returns a Live serving it.
func NewLive(dir string) (*Live, error) {
	c, err := LoadDir(dir)
	if err != nil {
		return nil, err
	}
	l := &Live{dir: dir}
	l.current.Store(c)
	return l, nil
}

// Dir returns the override directory, empty for built-in content.
func (l *Live) Dir() string { return l.dir }

// Catalog returns the current catalog.
func (l *Live) Catalog() *Catalog {
	return l.current.Load()
}

// Reload reads the directory again. On error the previous catalog stays.
func (l *Live) Reload() error {
	c, err := LoadDir(l.dir)
	if err != nil {
		return err
	}
	l.current.Store(c)

	l.mu.Lock()
	listeners := slices.Clone(l.listeners)
	l.mu.Unlock()
	for _, fn := range listeners {
		fn(c)
	}
	return nil
}

// OnReload registers fn to run after each successful reload.
func (l *Live) OnReload(fn func(*Catalog)) {
	l.mu.Lock()
	l.listeners = append(l.listeners, fn)
	l.mu.Unlock()
}
