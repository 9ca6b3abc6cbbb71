package keyValStore

import (
	"errors"
	"fmt"
	"os"
)

func (sc *StoreConfig) checkConfig() error {
	if sc.InMemory {
		return nil
	}

	if sc.MinimumFreeSpace < 0 {
		return errors.New("minimum free space must not be negative")
	}
	if len(sc.Paths) == 0 {
		return errors.New("no path provided in configuration")
	}

	path := sc.Paths[0] // Currently only the first path is utilized
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return fmt.Errorf("path %s does not exist", path)
	}
	if err != nil {
		return fmt.Errorf("stat %s: %w", path, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("path %s is not a directory", path)
	}

	usage, err := readDiskUsage(path)
	if err != nil {
		return err
	}
	if availableGB := usage.Available / gigabyte; availableGB < uint64(sc.MinimumFreeSpace) {
		return fmt.Errorf(
			"not enough space available on disk: %d GB free, %d GB required",
			availableGB,
			sc.MinimumFreeSpace,
		)
	}

	return nil
}
