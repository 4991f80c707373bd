package compressor

import (
	"path/filepath"
	"sync"
)

// pathLocks serializes work on the same file across goroutines.
type pathLocks struct {
	mutex sync.Mutex
	locks map[string]*pathLock
}

type pathLock struct {
	mu   sync.Mutex
	refs int
}

func newPathLocks() *pathLocks {
	return &pathLocks{locks: make(map[string]*pathLock)}
}

// lock blocks until path is free and returns the matching unlock.
func (p *pathLocks) lock(path string) func() {
	key := lockKey(path)

	p.mutex.Lock()
	l, ok := p.locks[key]
	if !ok {
		l = &pathLock{}
		p.locks[key] = l
	}
	l.refs++
	p.mutex.Unlock()

	l.mu.Lock()

	return func() {
		l.mu.Unlock()

		p.mutex.Lock()
		l.refs--
		if l.refs == 0 {
			delete(p.locks, key)
		}
		p.mutex.Unlock()
	}
}

func (p *pathLocks) size() int {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return len(p.locks)
}

func lockKey(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return filepath.Clean(path)
}
