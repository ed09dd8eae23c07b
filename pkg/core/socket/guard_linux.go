//go:build linux

package socket

import (
	"errors"
	"os"

	"golang.org/x/sys/unix"
)

// relocate refuses to overwrite an existing target atomically. Filesystems
// without RENAME_NOREPLACE support fall back to the portable check.
func relocate(from, to string) error {
	err := unix.Renameat2(unix.AT_FDCWD, from, unix.AT_FDCWD, to, unix.RENAME_NOREPLACE)
	if err == nil {
		return nil
	}
	if errors.Is(err, unix.EINVAL) || errors.Is(err, unix.ENOSYS) {
		return relocateChecked(from, to)
	}
	return &os.LinkError{Op: "renameat2", Old: from, New: to, Err: err}
}
