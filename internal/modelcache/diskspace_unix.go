//go:build linux

package modelcache

import "syscall"

// availableBytes reports free disk space at path. Implemented on the
// standard library's syscall.Statfs: no library in the dependency set
// offers cross-platform free-space reporting, and this one call is a
// thin, rarely-changing OS wrapper, not a concern worth a dependency.
func availableBytes(path string) (int64, error) {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(path, &stat); err != nil {
		return 0, err
	}
	return int64(stat.Bavail) * int64(stat.Bsize), nil
}
