package stats

import "syscall"
import "time"

import "github.com/sirgallo/cmdcore/pkg/logger"

var Log = clog.NewCustomLog(NAME)

// CalculateCurrentStats reports disk usage for path, the embedded
// database's data directory, for inclusion in the Status command's
// diagnostic body (SPEC_FULL.md §6).
func CalculateCurrentStats(path string) (*Stats, error) {
	var stat syscall.Statfs_t

	statErr := syscall.Statfs(path, &stat)
	if statErr != nil {
		Log.Error("error getting disk space for", path, ":", statErr.Error())
		return nil, statErr
	}

	blockSize := uint64(stat.Bsize)
	available := int64(stat.Bavail * blockSize)
	total := int64(stat.Blocks * blockSize)
	used := int64((stat.Blocks - stat.Bfree) * blockSize)

	currTime := time.Now()
	formattedTime := currTime.Format(time.RFC3339)

	return &Stats{
		AvailableDiskSpaceInBytes: available,
		TotalDiskSpaceInBytes:     total,
		UsedDiskSpaceInBytes:      used,
		Timestamp:                 formattedTime,
	}, nil
}
