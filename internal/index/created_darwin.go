//go:build darwin

package index

import (
	"io/fs"
	"syscall"
	"time"
)

// createdTime returns the file birth time.
func createdTime(info fs.FileInfo) time.Time {
	if stat, ok := info.Sys().(*syscall.Stat_t); ok {
		return time.Unix(stat.Birthtimespec.Sec, stat.Birthtimespec.Nsec)
	}
	return info.ModTime()
}
