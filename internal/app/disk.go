package app

import (
	"syscall"

	"github.com/dustin/go-humanize"
)

type diskStats struct {
	Path           string `json:"path"`
	TotalBytes     uint64 `json:"total_bytes"`
	AvailableBytes uint64 `json:"available_bytes"`
	Available      string `json:"available"`
	UsedPercent    int    `json:"used_percent"`
}

// diskUsage reports the filesystem holding dir, or nil when it cannot be
// read. Available counts only blocks usable by an unprivileged writer.
func diskUsage(dir string) *diskStats {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(dir, &stat); err != nil {
		return nil
	}
	total := stat.Blocks * uint64(stat.Bsize)
	avail := stat.Bavail * uint64(stat.Bsize)
	ds := &diskStats{
		Path:           dir,
		TotalBytes:     total,
		AvailableBytes: avail,
		Available:      humanize.IBytes(avail),
	}
	if total > 0 {
		ds.UsedPercent = int((total - stat.Bfree*uint64(stat.Bsize)) * 100 / total)
	}
	return ds
}
