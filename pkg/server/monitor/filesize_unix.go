//go:build !windows

package monitor

import (
	"os"
	"syscall"
)

// getActualFileSize returns actual disk usage in bytes on Unix systems.
// Badger preallocates sparse value log files, so logical size overstates
// real usage; stat blocks give the allocated size.
func getActualFileSize(path string, info os.FileInfo) (int64, error) {
	stat, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return info.Size(), nil
	}

	// Blocks are 512 bytes regardless of filesystem block size.
	return stat.Blocks * 512, nil
}
