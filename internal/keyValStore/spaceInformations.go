package keyValStore

import (
	"fmt"
	"os"
	"path/filepath"
	"syscall"

	"github.com/google/fscrypt/filesystem"
	"github.com/sirupsen/logrus"
)

const gigabyte = 1 << 30

// diskUsage describes the filesystem a store path lives on. Sizes are bytes.
type diskUsage struct {
	Device     string
	MountPoint string
	Total      uint64
	Free       uint64
	// Available is Free minus blocks reserved for root.
	Available uint64
}

func readDiskUsage(path string) (diskUsage, error) { // A
	var stat syscall.Statfs_t
	if err := syscall.Statfs(path, &stat); err != nil {
		return diskUsage{}, fmt.Errorf("statfs %s: %w", path, err)
	}
	usage := diskUsage{
		Device:     "unknown",
		MountPoint: "unknown",
		Total:      stat.Blocks * uint64(stat.Bsize),
		Free:       stat.Bfree * uint64(stat.Bsize),
		Available:  stat.Bavail * uint64(stat.Bsize),
	}
	if mnt, err := filesystem.FindMount(path); err == nil {
		usage.Device, usage.MountPoint = mnt.Device, mnt.Path
	}
	return usage, nil
}

// directorySize sums the sizes of all regular files below path.
func directorySize(path string) (size int64, err error) {
	err = filepath.Walk(path, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			size += info.Size()
		}
		return nil
	})
	return
}

func gb(bytes uint64) string {
	return fmt.Sprintf("%.2f", float64(bytes)/gigabyte)
}

// displayDiskUsage logs disk usage of every store path. Failures are logged
// and skipped, the numbers are informational only.
func displayDiskUsage(log *logrus.Logger, paths []string) {
	for _, path := range paths {
		entry := log.WithField("path", path)

		usage, err := readDiskUsage(path)
		if err != nil {
			entry.WithError(err).Warn("reading disk usage failed")
			continue
		}
		stored, err := directorySize(path)
		if err != nil {
			entry.WithError(err).Warn("calculating store size failed")
			continue
		}

		entry.WithFields(logrus.Fields{
			"device":     usage.Device,
			"mountPoint": usage.MountPoint,
			"totalGB":    gb(usage.Total),
			"usedGB":     gb(usage.Total - usage.Free),
			"freeGB":     gb(usage.Free),
			"storeGB":    gb(uint64(stored)),
		}).Info("disk usage")
	}
}
