package vault

import (
	"fmt"
	"os"
	"path/filepath"
)

// writeFile replaces the file at path with b. Readers see either the
// old contents or the new ones, never a partial write.
func writeFile(path string, b []byte, mode os.FileMode) error {
	dir := filepath.Dir(path)
	file, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")

	if err != nil {
		return fmt.Errorf("could not create temp file in %s: %s", dir, err)
	}

	staged := file.Name()
	renamed := false

	defer func() {
		if !renamed {
			os.Remove(staged)
		}
	}()

	err = file.Chmod(mode)

	if err == nil {
		_, err = file.Write(b)
	}

	if err == nil {
		err = file.Sync()
	}

	if closeErr := file.Close(); err == nil {
		err = closeErr
	}

	if err != nil {
		return fmt.Errorf("could not write %s: %s", staged, err)
	}

	if err := os.Rename(staged, path); err != nil {
		return fmt.Errorf("could not replace %s: %s", path, err)
	}

	renamed = true

	return nil
}
