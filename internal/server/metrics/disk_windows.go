//go:build windows

package metrics

import (
	"fmt"

	"golang.org/x/sys/windows"
)

// Usage returns total and free bytes of the volume holding path.
func (StatfsProbe) Usage(path string) (total, free uint64, err error) {
	pathPtr, err := windows.UTF16PtrFromString(path)
	if err != nil {
		return 0, 0, fmt.Errorf("utf16 path: %w", err)
	}

	var freeAvailable, totalBytes, totalFree uint64
	if err := windows.GetDiskFreeSpaceEx(pathPtr, &freeAvailable, &totalBytes, &totalFree); err != nil {
		return 0, 0, fmt.Errorf("GetDiskFreeSpaceEx %s: %w", path, err)
	}
	return totalBytes, freeAvailable, nil
}
