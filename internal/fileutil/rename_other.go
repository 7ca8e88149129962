//go:build !linux

package fileutil

func renameNoReplace(src, dst string) error {
	return linkAndUnlink(src, dst)
}
