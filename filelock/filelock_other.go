//go:build !unix

package filelock

import (
	"os"
	"path/filepath"
	"sync"
)

// Without flock(2) the lock only serializes callers inside this process.
var (
	mu    sync.Mutex
	locks = make(map[string]*sync.RWMutex)
	held  = make(map[*os.File]Mode)
)

func pathLock(f *os.File) *sync.RWMutex {
	name, err := filepath.Abs(f.Name())
	if err != nil {
		name = f.Name()
	}

	mu.Lock()
	defer mu.Unlock()
	l, ok := locks[name]
	if !ok {
		l = &sync.RWMutex{}
		locks[name] = l
	}
	return l
}

func lock(f *os.File, mode Mode) error {
	l := pathLock(f)
	if mode == Exclusive {
		l.Lock()
	} else {
		l.RLock()
	}

	mu.Lock()
	held[f] = mode
	mu.Unlock()
	return nil
}

func unlock(f *os.File) error {
	mu.Lock()
	mode, ok := held[f]
	delete(held, f)
	mu.Unlock()
	if !ok {
		return nil
	}

	l := pathLock(f)
	if mode == Exclusive {
		l.Unlock()
	} else {
		l.RUnlock()
	}
	return nil
}
