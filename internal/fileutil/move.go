package fileutil

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"golang.org/x/sys/unix"
)

// ErrDestinationExists is returned by MoveNoReplace when dst is already taken.
var ErrDestinationExists = fmt.Errorf("destination exists: %w", fs.ErrExist)

// MoveNoReplace moves src to dst without ever overwriting an existing dst.
// On the same filesystem the move is atomic. Across filesystems the file is
// copied with an exclusive create, verified, and src is removed afterwards.
func MoveNoReplace(src, dst string) error {
	err := renameNoReplace(src, dst)
	if err == nil {
		return nil
	}
	if errors.Is(err, fs.ErrExist) {
		return ErrDestinationExists
	}
	if !errors.Is(err, unix.EXDEV) {
		return err
	}
	if err := CopyFileExclusive(src, dst); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return ErrDestinationExists
		}
		return fmt.Errorf("cross-device copy: %w", err)
	}
	if err := os.Remove(src); err != nil {
		return fmt.Errorf("remove source after cross-device copy: %w", err)
	}
	return nil
}
