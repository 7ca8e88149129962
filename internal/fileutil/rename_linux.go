//go:build linux

package fileutil

import (
	"errors"
	"os"

	"golang.org/x/sys/unix"
)

func renameNoReplace(src, dst string) error {
	err := unix.Renameat2(unix.AT_FDCWD, src, unix.AT_FDCWD, dst, unix.RENAME_NOREPLACE)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, unix.ENOSYS), errors.Is(err, unix.EINVAL):
		// Kernel or filesystem without RENAME_NOREPLACE.
		return linkAndUnlink(src, dst)
	default:
		return &os.LinkError{Op: "renameat2", Old: src, New: dst, Err: err}
	}
}
