//go:build unix

package archive

import (
	"fmt"
	"syscall"
)

// diskFree returns the bytes available to unprivileged writers on the
// filesystem holding path.
func diskFree(path string) (int64, error) {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(path, &stat); err != nil {
		return 0, fmt.Errorf("statfs %s: %w", path, err)
	}
	return int64(stat.Bavail) * int64(stat.Bsize), nil
}
