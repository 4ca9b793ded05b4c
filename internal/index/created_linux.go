//go:build linux

package index

import (
	"io/fs"
	"syscall"
	"time"
)

// createdTime approximates the creation timestamp. Linux does not expose
// birth time through os.FileInfo, so the inode change time stands in.
func createdTime(info fs.FileInfo) time.Time {
	if stat, ok := info.Sys().(*syscall.Stat_t); ok {
		return time.Unix(stat.Ctim.Sec, stat.Ctim.Nsec)
	}
	return info.ModTime()
}
