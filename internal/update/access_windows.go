//go:build windows

package update

import (
	"os"
	"path/filepath"
)

// Ownership is not checked on Windows; ACLs decide whether the update can write.
func checkOwner(string) error { return nil }

func checkWritable(dir string) error {
	f, err := os.CreateTemp(dir, ".measures-probe-*")
	if err != nil {
		return err
	}
	name := f.Name()
	_ = f.Close()
	return os.Remove(filepath.Clean(name))
}
