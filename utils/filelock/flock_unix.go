//go:build unix

package filelock

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// lockFile places a flock on file. With nonBlocking it reports
// false instead of waiting when the lock is held elsewhere.
func lockFile(file *os.File, exclusive bool, nonBlocking bool) (bool, error) {
	how := unix.LOCK_SH

	if exclusive {
		how = unix.LOCK_EX
	}

	if nonBlocking {
		how |= unix.LOCK_NB
	}

	for {
		err := unix.Flock(int(file.Fd()), how)

		switch err {
		case nil:
			return true, nil
		case unix.EINTR:
			continue
		case unix.EWOULDBLOCK:
			if nonBlocking {
				return false, nil
			}
		}

		return false, fmt.Errorf("flock %s: %s", file.Name(), err)
	}
}

func unlockFile(file *os.File) error {
	if err := unix.Flock(int(file.Fd()), unix.LOCK_UN); err != nil {
		return fmt.Errorf("unlock %s: %s", file.Name(), err)
	}

	return nil
}
