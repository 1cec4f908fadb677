package metrics

// DiskUsageProbe reports the capacity of the volume backing storage.
type DiskUsageProbe interface {
	Usage(path string) (total, free uint64, err error)
}

// StatfsProbe queries the operating system for volume capacity.
type StatfsProbe struct{}
