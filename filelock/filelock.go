// Package filelock provides advisory whole-file locks scoped to one open file.
package filelock

import (
	"fmt"
	"os"
)

// Mode selects between a shared (reader) and an exclusive (writer) lock.
type Mode int

const (
	Shared Mode = iota
	Exclusive
)

func (m Mode) String() string {
	if m == Exclusive {
		return "exclusive"
	}
	return "shared"
}

// Lock blocks until the requested lock on f is granted.
func Lock(f *os.File, mode Mode) error {
	if err := lock(f, mode); err != nil {
		return fmt.Errorf("failed to acquire %s lock on %s: %w", mode, f.Name(), err)
	}
	return nil
}

// Unlock releases a lock taken with Lock. Closing the file also releases it.
func Unlock(f *os.File) error {
	if err := unlock(f); err != nil {
		return fmt.Errorf("failed to release lock on %s: %w", f.Name(), err)
	}
	return nil
}
