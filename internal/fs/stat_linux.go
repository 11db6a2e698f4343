//go:build linux

package fs

import (
	"io/fs"
	"syscall"
	"time"
)

// changeTime returns the inode change time, falling back to the
// modification time when the platform stat is unavailable.
func changeTime(info fs.FileInfo) time.Time {
	stat, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return info.ModTime()
	}
	return time.Unix(stat.Ctim.Sec, stat.Ctim.Nsec)
}
