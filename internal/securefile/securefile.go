// Package securefile writes secret-bearing files with owner-only permissions.
package securefile

import (
	"os"
	"path/filepath"
	"runtime"
)

// WriteFileAtomic writes data to filename via a temp file + rename, enforcing perm on
// unix. This ensures overwrite also applies the desired file mode (os.WriteFile only
// sets perm on create) and that a crash never leaves a partial file.
func WriteFileAtomic(filename string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(filename)
	base := filepath.Base(filename)

	f, err := os.CreateTemp(dir, "."+base+".tmp.*")
	if err != nil {
		return err
	}
	tmp := f.Name()

	ok := false
	defer func() {
		_ = f.Close()
		if !ok {
			_ = os.Remove(tmp)
		}
	}()

	if runtime.GOOS != "windows" {
		if err := f.Chmod(perm); err != nil {
			return err
		}
	}
	if _, err := f.Write(data); err != nil {
		return err
	}
	if err := f.Sync(); err != nil {
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}

	// On Windows, os.Rename does not overwrite an existing destination.
	if runtime.GOOS == "windows" {
		_ = os.Remove(filename)
	}
	if err := os.Rename(tmp, filename); err != nil {
		return err
	}
	ok = true
	return nil
}
