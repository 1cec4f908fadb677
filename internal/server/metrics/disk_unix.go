//go:build !windows

package metrics

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Usage returns total and free bytes of the volume holding path. Free is
// the space available to unprivileged users (Bavail).
func (StatfsProbe) Usage(path string) (total, free uint64, err error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return 0, 0, fmt.Errorf("statfs %s: %w", path, err)
	}
	bsize := uint64(stat.Bsize) //nolint:unconvert
	return uint64(stat.Blocks) * bsize, uint64(stat.Bavail) * bsize, nil
}
