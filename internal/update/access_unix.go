//go:build unix

package update

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

func checkOwner(dir string) error {
	var st unix.Stat_t
	if err := unix.Stat(dir, &st); err != nil {
		return err
	}
	if uid := os.Getuid(); int(st.Uid) != uid {
		return fmt.Errorf("%s is owned by uid %d, not %d", dir, st.Uid, uid)
	}
	return nil
}

func checkWritable(dir string) error {
	return unix.Access(dir, unix.W_OK|unix.X_OK)
}
