//go:build unix

package local

import (
	"fmt"
	"os"
	"syscall"

	"preserve/pkg/perrors"
)

// checkSameDevice verifies tempPath and destinationDir live on the same
// filesystem device, so the rename in safelyWriteFile is guaranteed to be
// an atomic move rather than a silent copy-and-delete.
func checkSameDevice(tempPath, destinationDir string) error {
	tempInfo, err := os.Stat(tempPath)
	if err != nil {
		return fmt.Errorf("%w: %v", perrors.ErrIO, err)
	}
	destInfo, err := os.Stat(destinationDir)
	if err != nil {
		return fmt.Errorf("%w: %v", perrors.ErrIO, err)
	}

	tempStat, ok1 := tempInfo.Sys().(*syscall.Stat_t)
	destStat, ok2 := destInfo.Sys().(*syscall.Stat_t)
	if !ok1 || !ok2 {
		return nil
	}
	if tempStat.Dev != destStat.Dev {
		return perrors.ErrBackendOnDifferentDevices
	}
	return nil
}
