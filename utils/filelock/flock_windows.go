//go:build windows

package filelock

import (
	"fmt"
	"os"

	"golang.org/x/sys/windows"
)

// lockFile locks the first byte of file. With nonBlocking it
// reports false instead of waiting when the lock is held elsewhere.
func lockFile(file *os.File, exclusive bool, nonBlocking bool) (bool, error) {
	var flags uint32

	if exclusive {
		flags |= windows.LOCKFILE_EXCLUSIVE_LOCK
	}

	if nonBlocking {
		flags |= windows.LOCKFILE_FAIL_IMMEDIATELY
	}

	overlapped := new(windows.Overlapped)
	err := windows.LockFileEx(windows.Handle(file.Fd()), flags, 0, 1, 0, overlapped)

	if err == nil {
		return true, nil
	}

	if nonBlocking && err == windows.ERROR_LOCK_VIOLATION {
		return false, nil
	}

	return false, fmt.Errorf("lock %s: %s", file.Name(), err)
}

func unlockFile(file *os.File) error {
	overlapped := new(windows.Overlapped)

	if err := windows.UnlockFileEx(windows.Handle(file.Fd()), 0, 1, 0, overlapped); err != nil {
		return fmt.Errorf("unlock %s: %s", file.Name(), err)
	}

	return nil
}
