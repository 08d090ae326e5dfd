// Package filelock provides an advisory lock on a file that
// coordinates access between operating system processes.
//
// A Lock can be held shared by any number of goroutines of
// one process, in which case other processes may also hold
// it shared, or exclusive, in which case nobody else may hold
// it at all. The lock is advisory: it only excludes processes
// that use the same lock file.
package filelock

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"time"
)

var (
	// ErrTimeout is returned when the lock could not be
	// acquired within the configured timeout
	ErrTimeout = errors.New("timed out waiting for file lock")
	// ErrClosed is returned when the lock was closed
	ErrClosed = errors.New("file lock was closed")
)

// pollInterval is how often a bounded wait retries
const pollInterval = 5 * time.Millisecond

// Lock is an advisory lock backed by a lock file
type Lock struct {
	path    string
	timeout time.Duration

	mu      sync.Mutex
	file    *os.File
	readers int
	held    bool
}

// New opens (creating if necessary) the lock file at path.
// timeout bounds each acquisition. Zero waits forever.
func New(path string, timeout time.Duration) (*Lock, error) {
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0600)

	if err != nil {
		return nil, fmt.Errorf("could not open lock file %s: %s", path, err)
	}

	return &Lock{path: path, timeout: timeout, file: file}, nil
}

// Path returns the lock file path
func (lock *Lock) Path() string {
	return lock.path
}

// RLock acquires the lock in shared mode. Goroutines of the same
// process share one OS-level shared lock which is released once
// the last of them calls RUnlock.
func (lock *Lock) RLock() error {
	lock.mu.Lock()
	defer lock.mu.Unlock()

	if lock.file == nil {
		return ErrClosed
	}

	if lock.readers == 0 {
		if err := lock.acquire(false); err != nil {
			return err
		}
	}

	lock.readers++

	return nil
}

// RUnlock releases a shared hold
func (lock *Lock) RUnlock() error {
	lock.mu.Lock()
	defer lock.mu.Unlock()

	if lock.readers == 0 {
		return errors.New("RUnlock of a lock that is not held shared")
	}

	lock.readers--

	if lock.readers == 0 {
		return unlockFile(lock.file)
	}

	return nil
}

// Lock acquires the lock in exclusive mode. The caller must
// serialize exclusive holders within its own process; Lock
// fails if this process currently holds the lock at all.
func (lock *Lock) Lock() error {
	lock.mu.Lock()
	defer lock.mu.Unlock()

	if lock.file == nil {
		return ErrClosed
	}

	if lock.readers > 0 || lock.held {
		return errors.New("exclusive lock requested while the lock is held by this process")
	}

	if err := lock.acquire(true); err != nil {
		return err
	}

	lock.held = true

	return nil
}

// Unlock releases an exclusive hold
func (lock *Lock) Unlock() error {
	lock.mu.Lock()
	defer lock.mu.Unlock()

	if !lock.held {
		return errors.New("Unlock of a lock that is not held exclusively")
	}

	lock.held = false

	return unlockFile(lock.file)
}

// Close releases any hold and closes the lock file
func (lock *Lock) Close() error {
	lock.mu.Lock()
	defer lock.mu.Unlock()

	if lock.file == nil {
		return nil
	}

	err := lock.file.Close()
	lock.file = nil
	lock.readers = 0
	lock.held = false

	return err
}

func (lock *Lock) acquire(exclusive bool) error {
	if lock.timeout <= 0 {
		_, err := lockFile(lock.file, exclusive, false)

		return err
	}

	deadline := time.Now().Add(lock.timeout)

	for {
		acquired, err := lockFile(lock.file, exclusive, true)

		if err != nil {
			return err
		}

		if acquired {
			return nil
		}

		if time.Now().After(deadline) {
			return ErrTimeout
		}

		time.Sleep(pollInterval)
	}
}
