package fileutil

import (
	"fmt"
	"os"
)

// linkAndUnlink gives no-replace rename semantics on filesystems that support
// hard links: link(2) fails with EEXIST when dst is taken.
func linkAndUnlink(src, dst string) error {
	if err := os.Link(src, dst); err != nil {
		return err
	}
	if err := os.Remove(src); err != nil {
		_ = os.Remove(dst)
		return fmt.Errorf("remove source after link: %w", err)
	}
	return nil
}
